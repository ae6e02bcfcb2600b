package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"postbox.dev/internal/ledger"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	Seq       uint64 `json:"seq"`
	Cursor    uint64 `json:"cursor"`
	CreatedAt string `json:"created_at"`
	Records   int    `json:"records"`
	Balances  int    `json:"balances"`
}

// SnapshotV1 is a full copy of the ledger after instruction Seq.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Rent     ledger.Rent `json:"rent"`
	Records  []RecordV1  `json:"records"`
	Balances []BalanceV1 `json:"balances"`
}

type RecordV1 struct {
	Address ledger.Key `json:"address"`
	Owner   ledger.Key `json:"owner"`
	Payer   ledger.Key `json:"payer"`
	Funding uint64     `json:"funding"`
	Data    []byte     `json:"data"`
}

type BalanceV1 struct {
	Key    ledger.Key `json:"key"`
	Amount uint64     `json:"amount"`
}

// FromDump builds a snapshot with records and balances in key order.
func FromDump(seq, cursor uint64, rent ledger.Rent, d ledger.Dump, createdAt string) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{
			Version:   Version,
			Seq:       seq,
			Cursor:    cursor,
			CreatedAt: createdAt,
			Records:   len(d.Records),
			Balances:  len(d.Balances),
		},
		Rent: rent,
	}
	for _, k := range ledger.SortedKeys(d.Records) {
		r := d.Records[k]
		snap.Records = append(snap.Records, RecordV1{Address: k, Owner: r.Owner, Payer: r.Payer, Funding: r.Funding, Data: r.Data})
	}
	for _, k := range ledger.SortedKeys(d.Balances) {
		snap.Balances = append(snap.Balances, BalanceV1{Key: k, Amount: d.Balances[k]})
	}
	return snap
}

func (s SnapshotV1) Dump() ledger.Dump {
	d := ledger.Dump{
		Records:  make(map[ledger.Key]ledger.Record, len(s.Records)),
		Balances: make(map[ledger.Key]uint64, len(s.Balances)),
	}
	for _, r := range s.Records {
		d.Records[r.Address] = ledger.Record{Owner: r.Owner, Payer: r.Payer, Funding: r.Funding, Data: r.Data}
	}
	for _, b := range s.Balances {
		d.Balances[b.Key] = b.Amount
	}
	return d
}

// FileName is the snapshot file name for seq inside a snapshots directory.
func FileName(seq uint64) string { return fmt.Sprintf("%d.snap.zst", seq) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// Latest returns the highest-seq snapshot in dir, or "" when there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestSeq uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			bestSeq = seq
			best = filepath.Join(dir, name)
		}
	}
	return best
}
