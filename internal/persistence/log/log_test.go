package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewJSONLZstdWriterWithOptions(dir, "events", LoggerOptions{OnClose: func(p string) { closed = append(closed, filepath.Base(p)) }})
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(closed) != 1 || closed[0] != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("closed after rotation=%v", closed)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 {
		t.Fatalf("closed=%v", closed)
	}

	files, err := ListFiles(dir, "events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" || filepath.Base(files[1]) != "events-2026-03-01-11.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	var n int
	if err := ScanJSONL(files[1], func(line []byte) error {
		var v map[string]int
		if err := json.Unmarshal(line, &v); err != nil {
			return err
		}
		n = v["n"]
		return nil
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d", n)
	}
}

func TestJournalLogger_ReadBack(t *testing.T) {
	dir := t.TempDir()
	jl := NewJournalLogger(dir)
	id := uint32(4)
	for seq := uint64(1); seq <= 3; seq++ {
		err := jl.WriteJournal(runtime.JournalEntry{
			Seq:    seq,
			Signer: ledger.Named("alice"),
			Op:     protocol.OpCreatePost,
			Args:   json.RawMessage(`{"post_id":4}`),
			OK:     true,
			Events: []protocol.EventBatchItem{{Cursor: seq, Event: protocol.Event{Type: protocol.EventPostCreated, PostID: &id}}},
			Digest: "d",
		})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := jl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []runtime.JournalEntry
	if err := ReadJournal(dir, func(e runtime.JournalEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[2].Seq != 3 || got[0].Signer != ledger.Named("alice") || *got[1].Events[0].Event.PostID != 4 {
		t.Fatalf("got=%+v", got)
	}
}

func TestReadJournal_MissingDirIsEmpty(t *testing.T) {
	if err := ReadJournal(t.TempDir(), func(runtime.JournalEntry) error {
		t.Fatalf("unexpected entry")
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestJournalLogger_DurableSurvivesCrash(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// The first process dies without closing its segment.
	crashed := NewJournalLoggerWithOptions(dir, LoggerOptions{Durable: true})
	crashed.w.now = func() time.Time { return clock }
	if err := crashed.WriteJournal(runtime.JournalEntry{Seq: 1, Op: protocol.OpVote, Digest: "a"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	next := NewJournalLoggerWithOptions(dir, LoggerOptions{Durable: true})
	next.w.now = func() time.Time { return clock }
	if err := next.WriteJournal(runtime.JournalEntry{Seq: 2, Op: protocol.OpVote, Digest: "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := next.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, _ := ListFiles(filepath.Join(dir, "events"), "events")
	if len(files) != 2 || filepath.Base(files[1]) != "events-2026-03-01-10~01.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	var seqs []uint64
	if err := ReadJournal(dir, func(e runtime.JournalEntry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("seqs=%v", seqs)
	}
}
