package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"postbox.dev/internal/ledger"
)

// dbCmd runs canned queries against the read index.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	board := fs.String("board", "", "board address (posts, events)")
	key := fs.String("key", "", "key or name filter (audits, journal signer)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "postbox.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(2)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var keyFilter string
	if s := strings.TrimSpace(*key); s != "" {
		keyFilter = ledger.ParseOrNamed(s).String()
	}
	boardFilter := strings.TrimSpace(*board)

	switch q {
	case "snapshots":
		err = queryRows(db, func(r scanner) (any, error) {
			var v struct {
				Seq       int64  `json:"seq"`
				Cursor    int64  `json:"cursor"`
				Path      string `json:"path"`
				Records   int    `json:"records"`
				Balances  int    `json:"balances"`
				CreatedAt string `json:"created_at"`
			}
			err := r.Scan(&v.Seq, &v.Cursor, &v.Path, &v.Records, &v.Balances, &v.CreatedAt)
			return v, err
		}, `SELECT seq,cursor,path,records,balances,created_at FROM snapshots ORDER BY seq DESC LIMIT ?`, *limit)

	case "journal":
		query := `SELECT seq,time,COALESCE(req_id,''),signer,op,ok,COALESCE(code,''),events,digest FROM journal`
		args := []any{}
		if keyFilter != "" {
			query += ` WHERE signer=?`
			args = append(args, keyFilter)
		}
		query += ` ORDER BY seq DESC LIMIT ?`
		args = append(args, *limit)
		err = queryRows(db, func(r scanner) (any, error) {
			var v struct {
				Seq    int64  `json:"seq"`
				Time   string `json:"time"`
				ReqID  string `json:"req_id,omitempty"`
				Signer string `json:"signer"`
				Op     string `json:"op"`
				OK     bool   `json:"ok"`
				Code   string `json:"code,omitempty"`
				Events int    `json:"events"`
				Digest string `json:"digest"`
			}
			err := r.Scan(&v.Seq, &v.Time, &v.ReqID, &v.Signer, &v.Op, &v.OK, &v.Code, &v.Events, &v.Digest)
			return v, err
		}, query, args...)

	case "boards":
		err = queryRows(db, func(r scanner) (any, error) {
			var v struct {
				Address       string `json:"address"`
				Target        string `json:"target"`
				Subject       string `json:"subject"`
				Creator       string `json:"creator"`
				ModeratorMint string `json:"moderator_mint"`
				Owners        string `json:"owners"`
				Posts         int    `json:"posts"`
				CreatedCursor int64  `json:"created_cursor"`
			}
			err := r.Scan(&v.Address, &v.Target, &v.Subject, &v.Creator, &v.ModeratorMint, &v.Owners, &v.Posts, &v.CreatedCursor)
			return v, err
		}, `SELECT address,target,subject,creator,moderator_mint,owners_json,posts,created_cursor FROM boards ORDER BY created_cursor DESC LIMIT ?`, *limit)

	case "posts":
		if boardFilter == "" {
			fmt.Fprintln(os.Stderr, "missing -board")
			os.Exit(2)
		}
		err = queryRows(db, func(r scanner) (any, error) {
			var v struct {
				PostID    int64  `json:"post_id"`
				Address   string `json:"address"`
				Poster    string `json:"poster"`
				Data      string `json:"data"`
				ReplyTo   string `json:"reply_to,omitempty"`
				UpVotes   int64  `json:"up_votes"`
				DownVotes int64  `json:"down_votes"`
				Deleted   bool   `json:"deleted"`
			}
			err := r.Scan(&v.PostID, &v.Address, &v.Poster, &v.Data, &v.ReplyTo, &v.UpVotes, &v.DownVotes, &v.Deleted)
			return v, err
		}, `SELECT post_id,address,poster,data,COALESCE(reply_to,''),up_votes,down_votes,deleted FROM posts WHERE board=? ORDER BY post_id ASC LIMIT ?`, boardFilter, *limit)

	case "events":
		query := `SELECT cursor,seq,type,raw_json FROM events`
		args := []any{}
		if boardFilter != "" {
			query += ` WHERE board=?`
			args = append(args, boardFilter)
		}
		query += ` ORDER BY cursor DESC LIMIT ?`
		args = append(args, *limit)
		err = queryRows(db, func(r scanner) (any, error) {
			var cur, seq int64
			var typ, raw string
			if err := r.Scan(&cur, &seq, &typ, &raw); err != nil {
				return nil, err
			}
			return map[string]any{"cursor": cur, "seq": seq, "type": typ, "event": rawJSON(raw)}, nil
		}, query, args...)

	case "audits":
		if keyFilter == "" {
			fmt.Fprintln(os.Stderr, "missing -key")
			os.Exit(2)
		}
		err = queryRows(db, func(r scanner) (any, error) {
			var v struct {
				Seq     int64  `json:"seq"`
				Signer  string `json:"signer"`
				Op      string `json:"op"`
				Action  string `json:"action"`
				Size    int64  `json:"size,omitempty"`
				Funding uint64 `json:"funding,omitempty"`
				Amount  uint64 `json:"amount,omitempty"`
			}
			// uint64 values are stored bit-cast.
			var funding, amount int64
			err := r.Scan(&v.Seq, &v.Signer, &v.Op, &v.Action, &v.Size, &funding, &amount)
			v.Funding, v.Amount = uint64(funding), uint64(amount)
			return v, err
		}, `SELECT seq,signer,op,action,COALESCE(size,0),COALESCE(funding,0),COALESCE(amount,0) FROM audits WHERE key=? ORDER BY seq DESC, n DESC LIMIT ?`, keyFilter, *limit)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "queries: snapshots | journal | boards | posts | events | audits")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func queryRows(db *sql.DB, scan func(scanner) (any, error), query string, args ...any) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return err
		}
		printJSON(v)
	}
	return rows.Err()
}

type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }
