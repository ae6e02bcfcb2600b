package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("not found")

type BoardRow struct {
	Address       string                     `json:"address"`
	Target        string                     `json:"target"`
	Subject       string                     `json:"subject"`
	Creator       string                     `json:"creator"`
	ModeratorMint string                     `json:"moderator_mint"`
	Owners        []string                   `json:"owners"`
	Posts         int                        `json:"posts"`
	Settings      map[string]json.RawMessage `json:"settings,omitempty"`
	Moderators    []string                   `json:"moderators,omitempty"`
}

type PostRow struct {
	Address   string `json:"address"`
	Board     string `json:"board"`
	PostID    uint32 `json:"post_id"`
	Poster    string `json:"poster"`
	Data      string `json:"data"`
	ReplyTo   string `json:"reply_to,omitempty"`
	UpVotes   int    `json:"up_votes"`
	DownVotes int    `json:"down_votes"`
	Deleted   bool   `json:"deleted,omitempty"`
}

type PostFilter struct {
	Board string
	// ReplyTo restricts to replies of one post; TopLevel to posts with no parent.
	ReplyTo        string
	TopLevel       bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

func (s *SQLiteIndex) GetBoard(ctx context.Context, address string) (BoardRow, error) {
	var b BoardRow
	var owners string
	err := s.db.QueryRowContext(ctx, `SELECT address,target,subject,creator,moderator_mint,owners_json,posts FROM boards WHERE address=?`, address).
		Scan(&b.Address, &b.Target, &b.Subject, &b.Creator, &b.ModeratorMint, &owners, &b.Posts)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	_ = json.Unmarshal([]byte(owners), &b.Owners)

	rows, err := s.db.QueryContext(ctx, `SELECT setting,value_json FROM board_settings WHERE board=? ORDER BY setting`, address)
	if err != nil {
		return b, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return b, err
		}
		if b.Settings == nil {
			b.Settings = map[string]json.RawMessage{}
		}
		b.Settings[k] = json.RawMessage(v)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT target FROM moderators WHERE board=? ORDER BY designated_cursor`, address)
	if err != nil {
		return b, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return b, err
		}
		b.Moderators = append(b.Moderators, t)
	}
	return b, rows.Err()
}

func (s *SQLiteIndex) ListBoards(ctx context.Context, target string, limit int) ([]BoardRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT address,target,subject,creator,moderator_mint,owners_json,posts FROM boards`
	args := []any{}
	if target != "" {
		q += ` WHERE target=?`
		args = append(args, target)
	}
	q += ` ORDER BY created_cursor LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BoardRow
	for rows.Next() {
		var b BoardRow
		var owners string
		if err := rows.Scan(&b.Address, &b.Target, &b.Subject, &b.Creator, &b.ModeratorMint, &owners, &b.Posts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(owners), &b.Owners)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) ListPosts(ctx context.Context, f PostFilter) ([]PostRow, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := `SELECT address,board,post_id,poster,data,COALESCE(reply_to,''),up_votes,down_votes,deleted FROM posts WHERE board=?`
	args := []any{f.Board}
	switch {
	case f.ReplyTo != "":
		q += ` AND reply_to=?`
		args = append(args, f.ReplyTo)
	case f.TopLevel:
		q += ` AND reply_to IS NULL`
	}
	if !f.IncludeDeleted {
		q += ` AND deleted=0`
	}
	q += ` ORDER BY post_id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostRow
	for rows.Next() {
		var p PostRow
		var id int64
		var deleted int
		if err := rows.Scan(&p.Address, &p.Board, &id, &p.Poster, &p.Data, &p.ReplyTo, &p.UpVotes, &p.DownVotes, &deleted); err != nil {
			return nil, err
		}
		p.PostID = uint32(id)
		p.Deleted = deleted != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

type JournalRow struct {
	Seq    uint64 `json:"seq"`
	Time   string `json:"time"`
	Signer string `json:"signer"`
	Op     string `json:"op"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Events int    `json:"events"`
}

// RecentJournal returns the last n journal rows, newest first.
func (s *SQLiteIndex) RecentJournal(ctx context.Context, n int) ([]JournalRow, error) {
	if n <= 0 || n > 1000 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq,time,signer,op,ok,COALESCE(code,''),events FROM journal ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalRow
	for rows.Next() {
		var j JournalRow
		var seq int64
		var ok int
		if err := rows.Scan(&seq, &j.Time, &j.Signer, &j.Op, &ok, &j.Code, &j.Events); err != nil {
			return nil, err
		}
		j.Seq = uint64(seq)
		j.OK = ok != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

// LastCursor is the highest event cursor indexed, used to resume a rebuild.
func (s *SQLiteIndex) LastCursor(ctx context.Context) (uint64, error) {
	var c sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cursor) FROM events`).Scan(&c); err != nil {
		return 0, err
	}
	return uint64(c.Int64), nil
}
