// Package ledgerdb is a durable ledger.Store backed by SQLite.
package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"postbox.dev/internal/ledger"
)

// Store keeps records, balances and the runtime position in one database.
// u64 values are stored bit-for-bit in INTEGER columns.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
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
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// The ledger is the primary copy of state, so writes are fully synced.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
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
		`CREATE TABLE IF NOT EXISTS records (
			address TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			payer TEXT NOT NULL,
			funding INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner);`,
		`CREATE TABLE IF NOT EXISTS balances (
			key TEXT PRIMARY KEY,
			amount INTEGER NOT NULL
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

func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) Record(addr ledger.Key) (ledger.Record, bool, error) {
	var owner, payer string
	var funding int64
	var data []byte
	err := s.db.QueryRow(`SELECT owner,payer,funding,data FROM records WHERE address=?`, addr.String()).Scan(&owner, &payer, &funding, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, err
	}
	r, err := recordFrom(owner, payer, funding, data)
	return r, err == nil, err
}

func recordFrom(owner, payer string, funding int64, data []byte) (ledger.Record, error) {
	o, err := ledger.ParseKey(owner)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("owner: %w", err)
	}
	p, err := ledger.ParseKey(payer)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("payer: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return ledger.Record{Owner: o, Payer: p, Funding: uint64(funding), Data: data}, nil
}

func (s *Store) PutRecord(addr ledger.Key, r ledger.Record) error { return putRecord(s.db, addr, r) }

func putRecord(db execer, addr ledger.Key, r ledger.Record) error {
	data := r.Data
	if data == nil {
		data = []byte{}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO records(address,owner,payer,funding,data) VALUES(?,?,?,?,?)`,
		addr.String(), r.Owner.String(), r.Payer.String(), int64(r.Funding), data)
	return err
}

func (s *Store) DeleteRecord(addr ledger.Key) error {
	_, err := s.db.Exec(`DELETE FROM records WHERE address=?`, addr.String())
	return err
}

func (s *Store) Balance(k ledger.Key) (uint64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT amount FROM balances WHERE key=?`, k.String()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(v), err
}

func (s *Store) SetBalance(k ledger.Key, v uint64) error { return setBalance(s.db, k, v) }

func setBalance(db execer, k ledger.Key, v uint64) error {
	if v == 0 {
		_, err := db.Exec(`DELETE FROM balances WHERE key=?`, k.String())
		return err
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO balances(key,amount) VALUES(?,?)`, k.String(), int64(v))
	return err
}

// ApplyChangeset writes c in a single transaction.
func (s *Store) ApplyChangeset(c ledger.Changeset) error {
	return s.apply(c, nil)
}

// ApplyChangesetAt writes c and moves the stored position in the same
// transaction, so a crash never leaves data ahead of the position.
func (s *Store) ApplyChangesetAt(c ledger.Changeset, seq, cursor uint64) error {
	return s.apply(c, func(tx *sql.Tx) error { return setPosition(tx, seq, cursor) })
}

func (s *Store) apply(c ledger.Changeset, extra func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range c.Deleted {
		if _, err := tx.Exec(`DELETE FROM records WHERE address=?`, k.String()); err != nil {
			return err
		}
	}
	for _, k := range ledger.SortedKeys(c.Records) {
		if err := putRecord(tx, k, c.Records[k]); err != nil {
			return err
		}
	}
	for _, k := range ledger.SortedKeys(c.Balances) {
		if err := setBalance(tx, k, c.Balances[k]); err != nil {
			return err
		}
	}
	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Dump() (ledger.Dump, error) {
	d := ledger.Dump{Records: map[ledger.Key]ledger.Record{}, Balances: map[ledger.Key]uint64{}}
	rows, err := s.db.Query(`SELECT address,owner,payer,funding,data FROM records`)
	if err != nil {
		return d, err
	}
	for rows.Next() {
		var addr, owner, payer string
		var funding int64
		var data []byte
		if err := rows.Scan(&addr, &owner, &payer, &funding, &data); err != nil {
			rows.Close()
			return d, err
		}
		k, err := ledger.ParseKey(addr)
		if err != nil {
			rows.Close()
			return d, err
		}
		r, err := recordFrom(owner, payer, funding, data)
		if err != nil {
			rows.Close()
			return d, err
		}
		d.Records[k] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return d, err
	}

	rows, err = s.db.Query(`SELECT key,amount FROM balances`)
	if err != nil {
		return d, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var amount int64
		if err := rows.Scan(&key, &amount); err != nil {
			return d, err
		}
		k, err := ledger.ParseKey(key)
		if err != nil {
			return d, err
		}
		d.Balances[k] = uint64(amount)
	}
	return d, rows.Err()
}

// Restore replaces all contents with d and sets the position.
func (s *Store) Restore(d ledger.Dump, seq, cursor uint64) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{`DELETE FROM records`, `DELETE FROM balances`} {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	for _, k := range ledger.SortedKeys(d.Records) {
		if err := putRecord(tx, k, d.Records[k]); err != nil {
			return err
		}
	}
	for _, k := range ledger.SortedKeys(d.Balances) {
		if err := setBalance(tx, k, d.Balances[k]); err != nil {
			return err
		}
	}
	if err := setPosition(tx, seq, cursor); err != nil {
		return err
	}
	return tx.Commit()
}

// Empty reports whether the store has never applied an instruction.
func (s *Store) Empty() (bool, error) {
	seq, _, err := s.Position()
	if err != nil {
		return false, err
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return false, err
	}
	return seq == 0 && n == 0, nil
}

func (s *Store) Position() (seq, cursor uint64, err error) {
	rows, err := s.db.Query(`SELECT key,value FROM meta WHERE key IN ('seq','cursor')`)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return 0, 0, err
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("meta %s: %w", k, err)
		}
		if k == "seq" {
			seq = n
		} else {
			cursor = n
		}
	}
	return seq, cursor, rows.Err()
}

func (s *Store) SetPosition(seq, cursor uint64) error { return setPosition(s.db, seq, cursor) }

func setPosition(db execer, seq, cursor uint64) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('seq',?)`, strconv.FormatUint(seq, 10)); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('cursor',?)`, strconv.FormatUint(cursor, 10))
	return err
}
