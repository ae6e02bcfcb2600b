package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/indexdb"
	persistlog "postbox.dev/internal/persistence/log"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/runtime"
	"postbox.dev/internal/tuning"
)

var errStop = errors.New("stop")

func main() {
	var (
		dataDir      = flag.String("data", "./data", "runtime data directory (journal under events/, audit under audit/)")
		snapPath     = flag.String("snapshot", "", "start from this .snap.zst (optional; empty ledger otherwise)")
		expectPath   = flag.String("expect", "", "snapshot the replayed ledger must match (optional)")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		toSeq        = flag.Uint64("to_seq", 0, "stop after seq (inclusive, optional)")
		rebuildIndex = flag.String("rebuild_index", "", "rebuild the read index at this sqlite path instead of verifying")
	)
	flag.Parse()

	if *rebuildIndex != "" {
		if err := rebuild(*dataDir, *rebuildIndex, *toSeq); err != nil {
			fmt.Fprintln(os.Stderr, "rebuild:", err)
			os.Exit(1)
		}
		return
	}

	tune, err := tuning.Load(*tuningPath, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	cfg := tune.RuntimeConfig()

	store := ledger.NewMemStore()
	var startSeq, startCursor uint64
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		store.Load(snap.Dump())
		cfg.Rent = snap.Rent
		startSeq, startCursor = snap.Header.Seq, snap.Header.Cursor
		fmt.Printf("snapshot v%d seq=%d cursor=%d records=%d balances=%d\n",
			snap.Header.Version, snap.Header.Seq, snap.Header.Cursor, len(snap.Records), len(snap.Balances))
	}

	rt, err := runtime.New(cfg, store, runtime.NewMetrics(nil))
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime:", err)
		os.Exit(1)
	}
	rt.Resume(startSeq, startCursor)

	var checked uint64
	err = persistlog.ReadJournal(*dataDir, func(e runtime.JournalEntry) error {
		if *toSeq != 0 && e.Seq > *toSeq {
			return errStop
		}
		if e.Seq <= rt.Status().Seq {
			return nil
		}
		if err := rt.Replay(e); err != nil {
			return err
		}
		checked++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	st := rt.Status()
	fmt.Printf("replay ok: checked=%d entries (from seq=%d to seq=%d cursor=%d)\n", checked, startSeq, st.Seq, st.Cursor)

	if *expectPath == "" {
		return
	}
	want, err := snapshot.ReadSnapshot(*expectPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read expected snapshot:", err)
		os.Exit(1)
	}
	if want.Header.Seq != st.Seq {
		fmt.Fprintf(os.Stderr, "expected snapshot is at seq=%d, replay stopped at seq=%d\n", want.Header.Seq, st.Seq)
		os.Exit(1)
	}
	got, err := store.Dump()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
	if diff := compare(want.Dump(), got); diff != "" {
		fmt.Fprintln(os.Stderr, "ledger mismatch:", diff)
		os.Exit(1)
	}
	fmt.Printf("ledger matches %s\n", filepath.Base(*expectPath))
}

// compare reports the first difference between two ledger dumps.
func compare(want, got ledger.Dump) string {
	if len(want.Records) != len(got.Records) {
		return fmt.Sprintf("records want=%d got=%d", len(want.Records), len(got.Records))
	}
	for _, k := range ledger.SortedKeys(want.Records) {
		w := want.Records[k]
		g, ok := got.Records[k]
		if !ok {
			return "missing record " + k.String()
		}
		if w.Owner != g.Owner || w.Payer != g.Payer || w.Funding != g.Funding || string(w.Data) != string(g.Data) {
			return "record differs " + k.String()
		}
	}
	if len(want.Balances) != len(got.Balances) {
		return fmt.Sprintf("balances want=%d got=%d", len(want.Balances), len(got.Balances))
	}
	for k, v := range want.Balances {
		if got.Balances[k] != v {
			return fmt.Sprintf("balance %s want=%d got=%d", k.String(), v, got.Balances[k])
		}
	}
	return ""
}

// rebuild feeds the journal and audit logs into a fresh index.
func rebuild(dataDir, path string, toSeq uint64) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	flush := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return idx.Flush(ctx)
	}

	var n int
	err = persistlog.ReadJournal(dataDir, func(e runtime.JournalEntry) error {
		if toSeq != 0 && e.Seq > toSeq {
			return errStop
		}
		_ = idx.WriteJournal(e)
		if len(e.Events) > 0 {
			idx.WriteEvents(e.Seq, e.Events)
		}
		n++
		if n%1024 == 0 {
			return flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	files, err := persistlog.ListFiles(filepath.Join(dataDir, "audit"), "audit")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	var audits int
	for _, f := range files {
		err := persistlog.ScanJSONL(f, func(line []byte) error {
			var a runtime.AuditEntry
			if err := json.Unmarshal(line, &a); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(f), err)
			}
			if toSeq != 0 && a.Seq > toSeq {
				return nil
			}
			_ = idx.WriteAudit(a)
			audits++
			if audits%4096 == 0 {
				return flush()
			}
			return nil
		})
		if err != nil && !errors.Is(err, persistlog.ErrTruncated) {
			return err
		}
	}
	if err := flush(); err != nil {
		return err
	}
	st := idx.Stats()
	if st.DropJournalTotal+st.DropEventsTotal+st.DropAuditTotal > 0 || st.ApplyErrorsTotal > 0 {
		return fmt.Errorf("index incomplete: %+v", st)
	}
	fmt.Printf("index rebuilt: journal=%d audits=%d path=%s\n", n, audits, path)
	return nil
}
