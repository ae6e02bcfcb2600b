package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"postbox.dev/internal/persistence/archive"
	"postbox.dev/internal/persistence/backup"
	"postbox.dev/internal/persistence/indexdb"
	persistlog "postbox.dev/internal/persistence/log"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
	"postbox.dev/internal/transport/httpapi"
	"postbox.dev/internal/transport/ws"
	"postbox.dev/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (defaults apply when missing)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to seed an empty ledger (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "seed an empty ledger from the latest snapshot in the data dir (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath, true)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("protocol schemas: %v", err)
	}

	store, seed, closeStore, err := openStore(tune.Storage.Ledger, *dataDir, strings.TrimSpace(*snapPath), *loadLatest, logger)
	if err != nil {
		logger.Fatalf("ledger: %v", err)
	}
	defer closeStore()

	cfg := tune.RuntimeConfig()
	if seed != nil && seed.Rent != cfg.Rent {
		logger.Printf("snapshot rent %+v overrides tuning rent %+v", seed.Rent, cfg.Rent)
		cfg.Rent = seed.Rent
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := runtime.New(cfg, store, runtime.NewMetrics(reg))
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}
	if seed != nil {
		rt.Resume(seed.Header.Seq, seed.Header.Cursor)
	}
	if err := catchUp(rt, *dataDir, logger); err != nil {
		logger.Fatalf("journal replay: %v", err)
	}
	logger.Printf("ledger ready seq=%d cursor=%d", rt.Status().Seq, rt.Status().Cursor)

	indexBackend := tune.Storage.Index
	if *disableDB {
		indexBackend = "none"
	}
	idx, err := openIndex(*dataDir, indexBackend)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		registerIndexMetrics(reg, idx)
	}

	uploader, err := buildBackup(tune.Backup, *dataDir, logger)
	if err != nil {
		logger.Fatalf("init backup: %v", err)
	}
	defer uploader.Close()
	registerBackupMetrics(reg, uploader)

	logOpts := persistlog.LoggerOptions{}
	if uploader != nil {
		logOpts.OnClose = uploader.Enqueue
	}
	journalOpts := logOpts
	journalOpts.Durable = true
	journalLog := persistlog.NewJournalLoggerWithOptions(*dataDir, journalOpts)
	auditLog := persistlog.NewAuditLoggerWithOptions(*dataDir, logOpts)
	defer journalLog.Close()
	defer auditLog.Close()

	journals := multiJournalLogger{journalLog}
	audits := multiAuditLogger{auditLog}
	if idx != nil {
		journals = append(journals, idx)
		audits = append(audits, idx)
		rt.AddEventSink(idx)
	}
	rt.SetJournalLogger(journals)
	rt.SetAuditLogger(audits)
	rt.SetLogger(log.New(os.Stdout, "[runtime] ", log.LstdFlags|log.Lmicroseconds))

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	rt.SetSnapshotSink(snapCh)
	go writeSnapshots(ctx, snapCh, *dataDir, tune.Snapshot, idx, uploader, logger)

	if uploader != nil && tune.Backup.IntervalSeconds > 0 {
		go sweepBackups(ctx, uploader, *dataDir, time.Duration(tune.Backup.IntervalSeconds)*time.Second, logger)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	enableAdmin := envBool("POSTBOX_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (POSTBOX_ENABLE_ADMIN_HTTP=false)")
	}
	deps := httpapi.Deps{
		Runtime:  rt,
		WS:       ws.NewServer(rt, validator, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)).Handler(),
		Gatherer: reg,
		Admin:    enableAdmin,
	}
	if idx != nil {
		deps.Index = idx
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-runDone
}

func writeSnapshots(ctx context.Context, ch <-chan snapshot.SnapshotV1, dataDir string, t tuning.SnapshotTuning, idx *indexdb.SQLiteIndex, uploader *backup.Uploader, logger *log.Logger) {
	dir := filepath.Join(dataDir, "snapshots")
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := filepath.Join(dir, snapshot.FileName(snap.Header.Seq))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			logger.Printf("snapshot seq=%d records=%d path=%s", snap.Header.Seq, snap.Header.Records, path)
			uploader.Enqueue(path)
			if idx != nil {
				idx.RecordSnapshot(path, snap.Header)
			}

			if _, archivedPath, ok, err := archive.ArchiveEpochSnapshot(dataDir, path, snap.Header, t.ArchiveEvery); err != nil {
				logger.Printf("archive snapshot: %v", err)
			} else if ok {
				uploader.Enqueue(archivedPath)
				uploader.Enqueue(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
			}

			if t.Keep > 0 {
				if removed, err := archive.PruneSnapshots(dir, t.Keep); err != nil {
					logger.Printf("prune snapshots: %v", err)
				} else if len(removed) > 0 {
					logger.Printf("pruned %d snapshots", len(removed))
				}
			}
		}
	}
}

// sweepBackups re-queues the data dir so files missed while the queue was
// saturated are eventually uploaded. Unchanged files are skipped.
func sweepBackups(ctx context.Context, u *backup.Uploader, dataDir string, every time.Duration, logger *log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, sub := range []string{"snapshots", "archives"} {
				if err := u.EnqueueDir(filepath.Join(dataDir, sub)); err != nil {
					logger.Printf("backup sweep %s: %v", sub, err)
				}
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
