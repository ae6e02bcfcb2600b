package main

import (
	"fmt"
	"log"
	"path/filepath"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/ledgerdb"
	persistlog "postbox.dev/internal/persistence/log"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/runtime"
)

// openStore returns the ledger store and, when it starts empty, the
// snapshot that should seed it.
func openStore(kind, dataDir, snapPath string, loadLatest bool, logger *log.Logger) (ledger.Store, *snapshot.SnapshotV1, func(), error) {
	if snapPath == "" && loadLatest {
		snapPath = snapshot.Latest(filepath.Join(dataDir, "snapshots"))
	}

	var (
		store   ledger.Store
		closeFn = func() {}
		empty   = true
	)
	switch kind {
	case "memory":
		store = ledger.NewMemStore()
	default:
		db, err := ledgerdb.Open(filepath.Join(dataDir, "ledger", "ledger.sqlite"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open ledger db: %w", err)
		}
		closeFn = func() { _ = db.Close() }
		if empty, err = db.Empty(); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		store = db
	}

	if !empty || snapPath == "" {
		return store, nil, closeFn, nil
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	d := snap.Dump()
	switch s := store.(type) {
	case *ledger.MemStore:
		s.Load(d)
	case *ledgerdb.Store:
		if err := s.Restore(d, snap.Header.Seq, snap.Header.Cursor); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("restore snapshot: %w", err)
		}
	}
	logger.Printf("restored snapshot=%s seq=%d records=%d", filepath.Base(snapPath), snap.Header.Seq, len(snap.Records))
	return store, &snap, closeFn, nil
}

// catchUp replays journal entries past the runtime's position.
func catchUp(rt *runtime.Runtime, dataDir string, logger *log.Logger) error {
	start := rt.Status().Seq
	n := 0
	err := persistlog.ReadJournal(dataDir, func(e runtime.JournalEntry) error {
		if e.Seq <= rt.Status().Seq {
			return nil
		}
		n++
		return rt.Replay(e)
	})
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Printf("replayed journal from seq=%d to seq=%d (%d entries)", start, rt.Status().Seq, n)
	}
	return nil
}
