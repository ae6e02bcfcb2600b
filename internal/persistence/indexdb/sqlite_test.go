package indexdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

func u32(v uint32) *uint32 { return &v }

func openTemp(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func flush(t *testing.T, idx *SQLiteIndex) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqJournal}

	_ = s.WriteJournal(runtime.JournalEntry{Seq: 2})
	s.WriteEvents(2, nil)
	_ = s.WriteAudit(runtime.AuditEntry{Seq: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.Header{Seq: 2})

	st := s.Stats()
	if st.DropJournalTotal != 1 || st.DropEventsTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_FoldsEvents(t *testing.T) {
	idx := openTemp(t)
	board := ledger.Named("board").String()
	alice := ledger.Named("alice").String()
	bob := ledger.Named("bob").String()
	p0, p1 := ledger.Named("p0").String(), ledger.Named("p1").String()
	up := true

	items := []protocol.EventBatchItem{
		{Cursor: 1, Event: protocol.Event{Type: protocol.EventBoardInitialized, Board: board, Actor: alice, Target: alice, Subject: "news",
			Owners: []string{alice}, Mint: ledger.Named("mint").String(), Value: json.RawMessage(`{"description":{"title":"t","desc":"d"}}`)}},
		{Cursor: 2, Event: protocol.Event{Type: protocol.EventPostCreated, Board: board, Actor: alice, Post: p0, PostID: u32(0), Data: "hello"}},
		{Cursor: 3, Event: protocol.Event{Type: protocol.EventPostCreated, Board: board, Actor: bob, Post: p1, PostID: u32(1), Data: "re", ReplyTo: p0}},
		{Cursor: 4, Event: protocol.Event{Type: protocol.EventPostVoted, Board: board, Actor: bob, Post: p0, PostID: u32(0), Up: &up, UpVotes: 1}},
		{Cursor: 5, Event: protocol.Event{Type: protocol.EventPostEdited, Board: board, Actor: alice, Post: p0, PostID: u32(0), Data: "hello!"}},
		{Cursor: 6, Event: protocol.Event{Type: protocol.EventSettingUpdated, Board: board, Actor: alice, Setting: "ownerInfo",
			Value: json.RawMessage(`{"ownerInfo":{"owners":["` + alice + `","` + bob + `"]}}`)}},
		{Cursor: 7, Event: protocol.Event{Type: protocol.EventModeratorDesignated, Board: board, Actor: alice, Target: bob}},
		{Cursor: 8, Event: protocol.Event{Type: protocol.EventPostDeleted, Board: board, Actor: bob, Post: p1, PostID: u32(1)}},
	}
	_ = idx.WriteJournal(runtime.JournalEntry{Seq: 1, Signer: ledger.Named("alice"), Op: protocol.OpInitialize, OK: true, Digest: "x"})
	idx.WriteEvents(1, items)
	flush(t, idx)

	ctx := context.Background()
	b, err := idx.GetBoard(ctx, board)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if b.Subject != "news" || b.Posts != 1 || len(b.Owners) != 2 || len(b.Moderators) != 1 || b.Moderators[0] != bob {
		t.Fatalf("board=%+v", b)
	}
	if _, ok := b.Settings["description"]; !ok {
		t.Fatalf("description setting missing: %v", b.Settings)
	}

	posts, err := idx.ListPosts(ctx, PostFilter{Board: board})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 || posts[0].Data != "hello!" || posts[0].UpVotes != 1 {
		t.Fatalf("posts=%+v", posts)
	}
	replies, _ := idx.ListPosts(ctx, PostFilter{Board: board, ReplyTo: p0, IncludeDeleted: true})
	if len(replies) != 1 || !replies[0].Deleted || replies[0].ReplyTo != p0 {
		t.Fatalf("replies=%+v", replies)
	}
	top, _ := idx.ListPosts(ctx, PostFilter{Board: board, TopLevel: true, IncludeDeleted: true})
	if len(top) != 1 || top[0].PostID != 0 {
		t.Fatalf("top=%+v", top)
	}

	if c, _ := idx.LastCursor(ctx); c != 8 {
		t.Fatalf("last cursor=%d", c)
	}
	j, _ := idx.RecentJournal(ctx, 10)
	if len(j) != 1 || j[0].Op != protocol.OpInitialize || !j[0].OK {
		t.Fatalf("journal=%+v", j)
	}
	if _, err := idx.GetBoard(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("missing board err=%v", err)
	}
}

func TestSQLiteIndex_ReplayIsIdempotent(t *testing.T) {
	idx := openTemp(t)
	board := ledger.Named("board").String()
	items := []protocol.EventBatchItem{
		{Cursor: 1, Event: protocol.Event{Type: protocol.EventBoardInitialized, Board: board, Target: "t", Actor: "a", Mint: "m"}},
		{Cursor: 2, Event: protocol.Event{Type: protocol.EventPostCreated, Board: board, Post: "p", PostID: u32(0), Actor: "a"}},
	}
	idx.WriteEvents(1, items)
	idx.WriteEvents(1, items)
	flush(t, idx)
	b, err := idx.GetBoard(context.Background(), board)
	if err != nil || b.Posts != 1 {
		t.Fatalf("board=%+v err=%v", b, err)
	}
}
