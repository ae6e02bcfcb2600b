// Package indexdb maintains a queryable SQLite read model of boards and
// posts, fed from committed events. The JSONL journal stays the source of
// truth: the index may drop writes under pressure and can be rebuilt.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropJournal  atomic.Uint64
	dropEvents   atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	applyErrors  atomic.Uint64
}

type reqKind int

const (
	reqJournal reqKind = iota + 1
	reqEvents
	reqAudit
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	journal  runtime.JournalEntry
	events   []protocol.EventBatchItem
	seq      uint64
	audit    runtime.AuditEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Seq       uint64
	Cursor    uint64
	Path      string
	Records   int
	Balances  int
	CreatedAt string
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropJournalTotal  uint64 `json:"drop_journal_total"`
	DropEventsTotal   uint64 `json:"drop_events_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	ApplyErrorsTotal  uint64 `json:"apply_errors_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 262144)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS journal (
			seq INTEGER PRIMARY KEY,
			time TEXT NOT NULL,
			req_id TEXT,
			signer TEXT NOT NULL,
			op TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT,
			events INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_signer_seq ON journal(signer, seq);`,
		`CREATE TABLE IF NOT EXISTS events (
			cursor INTEGER PRIMARY KEY,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			board TEXT,
			post TEXT,
			actor TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_board_cursor ON events(board, cursor);`,
		`CREATE TABLE IF NOT EXISTS boards (
			address TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			subject TEXT NOT NULL,
			creator TEXT NOT NULL,
			moderator_mint TEXT NOT NULL,
			owners_json TEXT NOT NULL,
			posts INTEGER NOT NULL DEFAULT 0,
			created_cursor INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_boards_target ON boards(target, subject);`,
		`CREATE TABLE IF NOT EXISTS board_settings (
			board TEXT NOT NULL,
			setting TEXT NOT NULL,
			value_json TEXT NOT NULL,
			updated_cursor INTEGER NOT NULL,
			PRIMARY KEY (board, setting)
		);`,
		`CREATE TABLE IF NOT EXISTS moderators (
			board TEXT NOT NULL,
			target TEXT NOT NULL,
			designated_cursor INTEGER NOT NULL,
			PRIMARY KEY (board, target)
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			address TEXT PRIMARY KEY,
			board TEXT NOT NULL,
			post_id INTEGER NOT NULL,
			poster TEXT NOT NULL,
			data TEXT NOT NULL,
			reply_to TEXT,
			up_votes INTEGER NOT NULL DEFAULT 0,
			down_votes INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_cursor INTEGER NOT NULL,
			updated_cursor INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_board_id ON posts(board, post_id);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_reply_to ON posts(reply_to);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER NOT NULL,
			n INTEGER NOT NULL,
			signer TEXT NOT NULL,
			op TEXT NOT NULL,
			action TEXT NOT NULL,
			key TEXT NOT NULL,
			size INTEGER,
			funding INTEGER,
			amount INTEGER,
			PRIMARY KEY (seq, n)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_key_seq ON audits(key, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			cursor INTEGER NOT NULL,
			path TEXT NOT NULL,
			records INTEGER NOT NULL,
			balances INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropJournalTotal:  s.dropJournal.Load(),
		DropEventsTotal:   s.dropEvents.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		ApplyErrorsTotal:  s.applyErrors.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) WriteJournal(e runtime.JournalEntry) error {
	s.enqueue(req{kind: reqJournal, journal: e}, &s.dropJournal)
	return nil
}

func (s *SQLiteIndex) WriteEvents(seq uint64, items []protocol.EventBatchItem) {
	s.enqueue(req{kind: reqEvents, seq: seq, events: items}, &s.dropEvents)
}

func (s *SQLiteIndex) WriteAudit(e runtime.AuditEntry) error {
	s.enqueue(req{kind: reqAudit, audit: e}, &s.dropAudit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, h snapshot.Header) {
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Seq: h.Seq, Cursor: h.Cursor, Path: path, Records: h.Records, Balances: h.Balances, CreatedAt: h.CreatedAt,
	}}, &s.dropSnapshot)
}

// Flush blocks until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditSeq uint64
		auditN       int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.applyErrors.Add(1)
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqJournal:
			e := r.journal
			_, err = tx.Exec(`INSERT OR REPLACE INTO journal(seq,time,req_id,signer,op,ok,code,events,digest) VALUES(?,?,?,?,?,?,?,?,?)`,
				int64(e.Seq), e.Time, e.ReqID, e.Signer.String(), e.Op, boolInt(e.OK), e.Code, len(e.Events), e.Digest)
			opCount++
		case reqEvents:
			for _, it := range r.events {
				if err = applyEvent(tx, r.seq, it); err != nil {
					break
				}
				opCount++
			}
		case reqAudit:
			a := r.audit
			if a.Seq != lastAuditSeq {
				lastAuditSeq = a.Seq
				auditN = 0
			}
			n := auditN
			auditN++
			_, err = tx.Exec(`INSERT OR REPLACE INTO audits(seq,n,signer,op,action,key,size,funding,amount) VALUES(?,?,?,?,?,?,?,?,?)`,
				int64(a.Seq), n, a.Signer.String(), a.Op, a.Action, a.Key.String(), a.Size, int64(a.Funding), int64(a.Amount))
			opCount++
		case reqSnapshot:
			sn := r.snapshot
			_, err = tx.Exec(`INSERT OR REPLACE INTO snapshots(seq,cursor,path,records,balances,created_at) VALUES(?,?,?,?,?,?)`,
				int64(sn.Seq), int64(sn.Cursor), sn.Path, sn.Records, sn.Balances, sn.CreatedAt)
			opCount++
		}
		if err != nil {
			rollback()
			continue
		}
		flushIfNeeded()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// applyEvent folds one event into the read model. Events are idempotent by
// cursor so a replayed log converges on the same rows.
func applyEvent(tx *sql.Tx, seq uint64, it protocol.EventBatchItem) error {
	e := it.Event
	raw, _ := json.Marshal(e)
	if _, err := tx.Exec(`INSERT OR REPLACE INTO events(cursor,seq,type,board,post,actor,raw_json) VALUES(?,?,?,?,?,?,?)`,
		int64(it.Cursor), int64(seq), e.Type, e.Board, e.Post, e.Actor, string(raw)); err != nil {
		return err
	}
	cur := int64(it.Cursor)

	switch e.Type {
	case protocol.EventBoardInitialized:
		owners, _ := json.Marshal(e.Owners)
		if _, err := tx.Exec(`INSERT OR REPLACE INTO boards(address,target,subject,creator,moderator_mint,owners_json,posts,created_cursor) VALUES(?,?,?,?,?,?,0,?)`,
			e.Board, e.Target, e.Subject, e.Actor, e.Mint, string(owners), cur); err != nil {
			return err
		}
		if len(e.Value) > 0 {
			return putSetting(tx, e.Board, settings.KindDescription.String(), e.Value, cur)
		}

	case protocol.EventSettingUpdated:
		if err := putSetting(tx, e.Board, e.Setting, e.Value, cur); err != nil {
			return err
		}
		if e.Setting == settings.KindOwnerInfo.String() {
			var entry settings.Entry
			if err := json.Unmarshal(e.Value, &entry); err != nil {
				return err
			}
			owners := []string{}
			for _, k := range settings.Owners([]settings.Data{entry.Data}) {
				owners = append(owners, k.String())
			}
			b, _ := json.Marshal(owners)
			if _, err := tx.Exec(`UPDATE boards SET owners_json=? WHERE address=?`, string(b), e.Board); err != nil {
				return err
			}
		}

	case protocol.EventModeratorDesignated:
		_, err := tx.Exec(`INSERT OR IGNORE INTO moderators(board,target,designated_cursor) VALUES(?,?,?)`, e.Board, e.Target, cur)
		return err

	case protocol.EventPostCreated:
		var replyTo any
		if e.ReplyTo != "" {
			replyTo = e.ReplyTo
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO posts(address,board,post_id,poster,data,reply_to,up_votes,down_votes,deleted,created_cursor,updated_cursor) VALUES(?,?,?,?,?,?,0,0,0,?,?)`,
			e.Post, e.Board, postID(e), e.Actor, e.Data, replyTo, cur, cur); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE boards SET posts=(SELECT COUNT(*) FROM posts WHERE board=? AND deleted=0) WHERE address=?`, e.Board, e.Board)
		return err

	case protocol.EventPostVoted:
		_, err := tx.Exec(`UPDATE posts SET up_votes=?, down_votes=?, updated_cursor=? WHERE address=?`,
			int(e.UpVotes), int(e.DownVotes), cur, e.Post)
		return err

	case protocol.EventPostEdited:
		_, err := tx.Exec(`UPDATE posts SET data=?, updated_cursor=? WHERE address=?`, e.Data, cur, e.Post)
		return err

	case protocol.EventPostDeleted:
		if _, err := tx.Exec(`UPDATE posts SET deleted=1, updated_cursor=? WHERE address=?`, cur, e.Post); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE boards SET posts=(SELECT COUNT(*) FROM posts WHERE board=? AND deleted=0) WHERE address=?`, e.Board, e.Board)
		return err
	}
	return nil
}

func putSetting(tx *sql.Tx, board, setting string, value json.RawMessage, cur int64) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO board_settings(board,setting,value_json,updated_cursor) VALUES(?,?,?,?)`,
		board, setting, string(value), cur)
	return err
}

func postID(e protocol.Event) int64 {
	if e.PostID == nil {
		return 0
	}
	return int64(*e.PostID)
}
