package main

import (
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	persistlog "postbox.dev/internal/persistence/log"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

var alice = ledger.Named("alice")

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// seedDataDir journals four instructions into dir and snapshots after seq 2.
func seedDataDir(t *testing.T, dir string) (runtime.Status, ledger.Dump, string) {
	t.Helper()
	store := ledger.NewMemStore()
	rt, err := runtime.New(runtime.DefaultConfig(), store, runtime.NewMetrics(nil))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	jl := persistlog.NewJournalLogger(dir)
	rt.SetJournalLogger(jl)

	board := postbox.BoardAddress(rt.Program().ID(), alice, "general")
	ins := []runtime.Instruction{
		{Signer: alice, Op: runtime.OpAirdrop, Args: raw(t, runtime.AirdropArgs{To: alice, Amount: 1e12})},
		{Signer: alice, Op: protocol.OpInitialize, Args: raw(t, postbox.InitializeArgs{Target: alice, Subject: "general", Owners: []ledger.Key{alice}})},
		{Signer: alice, Op: protocol.OpCreatePost, Args: raw(t, postbox.CreatePostArgs{Board: board, PostID: 0, Data: "hello"})},
		{Signer: alice, Op: protocol.OpCreatePost, Args: raw(t, postbox.CreatePostArgs{Board: board, PostID: 1, Data: "again"})},
	}
	var snapPath string
	for i, in := range ins {
		if res := rt.Apply(in); !res.OK {
			t.Fatalf("apply %d: %+v", i, res)
		}
		if i != 1 {
			continue
		}
		d, err := store.Dump()
		if err != nil {
			t.Fatalf("dump: %v", err)
		}
		st := rt.Status()
		snapPath = filepath.Join(dir, "snapshots", snapshot.FileName(st.Seq))
		if err := snapshot.WriteSnapshot(snapPath, snapshot.FromDump(st.Seq, st.Cursor, rt.Config().Rent, d, "2026-01-01T00:00:00Z")); err != nil {
			t.Fatalf("write snapshot: %v", err)
		}
	}
	if err := jl.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	d, _ := store.Dump()
	return rt.Status(), d, snapPath
}

func restore(t *testing.T, kind, dir, snapPath string, loadLatest bool) (*runtime.Runtime, ledger.Store, func()) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store, seed, closeFn, err := openStore(kind, dir, snapPath, loadLatest, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rt, err := runtime.New(runtime.DefaultConfig(), store, runtime.NewMetrics(nil))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if seed != nil {
		rt.Resume(seed.Header.Seq, seed.Header.Cursor)
	}
	if err := catchUp(rt, dir, logger); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	return rt, store, closeFn
}

func TestRestore_JournalOnly(t *testing.T) {
	dir := t.TempDir()
	want, wantDump, _ := seedDataDir(t, dir)

	rt, store, closeFn := restore(t, "memory", dir, "", false)
	defer closeFn()
	if rt.Status().Seq != want.Seq || rt.Status().Cursor != want.Cursor {
		t.Fatalf("status=%+v want=%+v", rt.Status(), want)
	}
	got, _ := store.(*ledger.MemStore).Dump()
	if len(got.Records) != len(wantDump.Records) || len(got.Balances) != len(wantDump.Balances) {
		t.Fatalf("records=%d/%d balances=%d/%d", len(got.Records), len(wantDump.Records), len(got.Balances), len(wantDump.Balances))
	}
}

func TestRestore_LatestSnapshotThenJournalTail(t *testing.T) {
	dir := t.TempDir()
	want, wantDump, _ := seedDataDir(t, dir)

	rt, store, closeFn := restore(t, "sqlite", dir, "", true)
	if st := rt.Status(); st.Seq != want.Seq || st.Cursor != want.Cursor {
		t.Fatalf("status=%+v want=%+v", st, want)
	}
	got, err := store.(ledger.Dumper).Dump()
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	for k, r := range wantDump.Records {
		if g, ok := got.Records[k]; !ok || string(g.Data) != string(r.Data) || g.Funding != r.Funding {
			t.Fatalf("record %s differs", k.Short())
		}
	}
	closeFn()

	// A non-empty ledger ignores snapshots and resumes from its own position.
	rt, _, closeFn = restore(t, "sqlite", dir, "", true)
	defer closeFn()
	if st := rt.Status(); st.Seq != want.Seq || st.Cursor != want.Cursor {
		t.Fatalf("reopened status=%+v want=%+v", st, want)
	}
}
