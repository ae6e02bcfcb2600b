package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"postbox.dev/internal/runtime"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	now func() time.Time
	// onClose receives each finished segment after it is flushed and closed.
	onClose func(path string)
	durable bool

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// LoggerOptions tunes the JSONL writers.
type LoggerOptions struct {
	OnClose func(path string)
	// Durable ends a zstd block and fsyncs after every line, so a crash
	// loses at most the line being written.
	Durable bool
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
		onClose: opts.OnClose,
		durable: opts.Durable,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if !w.durable {
		return nil
	}
	if err := w.enc.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	path, err := w.freePath(hour)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

// freePath picks the hour's segment name. A segment left by an earlier
// process is never appended to, since it may end in an unfinished frame;
// later segments for the same hour get a ~NN suffix that sorts after it.
func (w *JSONLZstdWriter) freePath(hour string) (string, error) {
	for n := 0; n < 100; n++ {
		p := w.pathForSegment(hour, n)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("too many %s segments for hour %s", w.prefix, hour)
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	closed := ""
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		closed = w.curPath
	}
	w.w = nil
	w.curHour, w.curPath = "", ""
	if closed != "" && w.onClose != nil {
		w.onClose(closed)
	}
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(hour string, n int) string {
	if n == 0 {
		return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	}
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s~%02d.jsonl.zst", w.prefix, hour, n))
}

// JournalLogger writes one JSONL entry per applied instruction (compressed).
type JournalLogger struct{ w *JSONLZstdWriter }

func NewJournalLogger(dataDir string) *JournalLogger {
	return NewJournalLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewJournalLoggerWithOptions(dataDir string, opts LoggerOptions) *JournalLogger {
	return &JournalLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "events"), "events", opts)}
}

func (l *JournalLogger) WriteJournal(v runtime.JournalEntry) error { return l.w.Write(v) }
func (l *JournalLogger) Close() error                               { return l.w.Close() }

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return NewAuditLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewAuditLoggerWithOptions(dataDir string, opts LoggerOptions) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "audit"), "audit", opts)}
}

func (l *AuditLogger) WriteAudit(v runtime.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                         { return l.w.Close() }
