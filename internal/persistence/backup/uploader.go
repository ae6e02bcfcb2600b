package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	EnqueuedTotal   uint64 `json:"enqueued_total"`
	SkippedTotal    uint64 `json:"skipped_total"`
	DroppedTotal    uint64 `json:"dropped_total"`
	UploadedTotal   uint64 `json:"uploaded_total"`
	FailedTotal     uint64 `json:"failed_total"`
	LastSuccessUnix int64  `json:"last_success_unix"`
	LastErrorUnix   int64  `json:"last_error_unix"`
}

// Uploader copies files under dataDir to the store, keyed by their path
// relative to dataDir. A file is uploaded again only if its size or
// modification time changed since the last successful upload.
type Uploader struct {
	store   ObjectStore
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs     chan string
	wg       sync.WaitGroup
	attempts int
	backoff  time.Duration

	mu   sync.Mutex
	sent map[string]fileStamp

	enqueuedTotal atomic.Uint64
	skippedTotal  atomic.Uint64
	droppedTotal  atomic.Uint64
	uploadedTotal atomic.Uint64
	failedTotal   atomic.Uint64
	lastSuccess   atomic.Int64
	lastError     atomic.Int64
}

type fileStamp struct {
	size  int64
	mtime int64
}

func NewUploader(store ObjectStore, dataDir, prefix string, workers, queueCapacity int, logger *log.Logger) *Uploader {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	u := &Uploader{
		store:    store,
		dataDir:  dataDir,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:   logger,
		jobs:     make(chan string, queueCapacity),
		attempts: 4,
		backoff:  200 * time.Millisecond,
		sent:     map[string]fileStamp{},
	}
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for p := range u.jobs {
				u.uploadOne(p)
			}
		}()
	}
	return u
}

// Enqueue never blocks; a full queue drops the file.
func (u *Uploader) Enqueue(localPath string) {
	if u == nil || u.store == nil {
		return
	}
	u.enqueuedTotal.Add(1)
	select {
	case u.jobs <- localPath:
	default:
		n := u.droppedTotal.Add(1)
		u.printf("backup drop local=%s dropped_total=%d", localPath, n)
	}
}

// EnqueueDir queues every regular file under dir.
func (u *Uploader) EnqueueDir(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			u.Enqueue(p)
		}
		return nil
	})
}

func (u *Uploader) Close() {
	if u == nil {
		return
	}
	close(u.jobs)
	u.wg.Wait()
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(u.jobs),
		QueueCapacity:   cap(u.jobs),
		EnqueuedTotal:   u.enqueuedTotal.Load(),
		SkippedTotal:    u.skippedTotal.Load(),
		DroppedTotal:    u.droppedTotal.Load(),
		UploadedTotal:   u.uploadedTotal.Load(),
		FailedTotal:     u.failedTotal.Load(),
		LastSuccessUnix: u.lastSuccess.Load(),
		LastErrorUnix:   u.lastError.Load(),
	}
}

func (u *Uploader) uploadOne(localPath string) {
	st, err := os.Stat(localPath)
	if err != nil {
		u.printf("backup skip local=%s err=%v", localPath, err)
		return
	}
	key, err := u.objectKey(localPath)
	if err != nil {
		u.printf("backup skip local=%s err=%v", localPath, err)
		return
	}
	stamp := fileStamp{size: st.Size(), mtime: st.ModTime().UnixNano()}
	u.mu.Lock()
	prev, seen := u.sent[key]
	u.mu.Unlock()
	if seen && prev == stamp {
		u.skippedTotal.Add(1)
		return
	}

	if err := u.uploadWithRetry(key, localPath); err != nil {
		u.failedTotal.Add(1)
		u.lastError.Store(time.Now().UTC().Unix())
		u.printf("backup upload failed key=%s err=%v", key, err)
		return
	}
	u.mu.Lock()
	u.sent[key] = stamp
	u.mu.Unlock()
	u.uploadedTotal.Add(1)
	u.lastSuccess.Store(time.Now().UTC().Unix())
}

func (u *Uploader) uploadWithRetry(key, localPath string) error {
	var lastErr error
	for attempt := 1; attempt <= u.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := u.store.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < u.attempts {
			time.Sleep(time.Duration(attempt*attempt) * u.backoff)
		}
	}
	return lastErr
}

func (u *Uploader) objectKey(localPath string) (string, error) {
	absBase, err := filepath.Abs(u.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if u.prefix != "" {
		return path.Join(u.prefix, rel), nil
	}
	return rel, nil
}

func (u *Uploader) printf(format string, args ...any) {
	if u.logger != nil {
		u.logger.Printf(format, args...)
	}
}
