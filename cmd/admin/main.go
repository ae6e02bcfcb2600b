package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"postbox.dev/internal/ledger"
	persistlog "postbox.dev/internal/persistence/log"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/runtime"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "airdrop":
			airdropCmd(os.Args[2:])
			return
		case "mint":
			mintCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints snapshot headers, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	type item struct {
		seq  uint64
		path string
	}
	var items []item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		items = append(items, item{seq: seq, path: filepath.Join(dir, name)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq > items[j].seq })
	for _, it := range items {
		h, err := snapshot.ReadHeader(it.path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", it.path, err)
			continue
		}
		printJSON(struct {
			Path string `json:"path"`
			snapshot.Header
		}{Path: it.path, Header: h})
	}
}

// inspectCmd decodes one snapshot and prints its records.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	owner := fs.String("owner", "", "only records owned by this key or name")
	balances := fs.Bool("balances", false, "print balances instead of records")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d seq=%d cursor=%d records=%d balances=%d created_at=%s\n",
		snap.Header.Version, snap.Header.Seq, snap.Header.Cursor, len(snap.Records), len(snap.Balances), snap.Header.CreatedAt)

	if *balances {
		for _, b := range snap.Balances {
			printJSON(map[string]any{"key": b.Key, "amount": b.Amount})
		}
		return
	}
	var filter ledger.Key
	if s := strings.TrimSpace(*owner); s != "" {
		filter = ledger.ParseOrNamed(s)
	}
	for _, r := range snap.Records {
		if !filter.IsZero() && r.Owner != filter {
			continue
		}
		printJSON(map[string]any{
			"address": r.Address,
			"owner":   r.Owner,
			"payer":   r.Payer,
			"funding": r.Funding,
			"size":    len(r.Data),
		})
	}
}

// auditCmd prints audit entries touching a key within a seq range.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	key := fs.String("key", "", "record or balance key (hex or name; optional)")
	sinceSeq := fs.Uint64("since_seq", 0, "first seq (inclusive)")
	toSeq := fs.Uint64("to_seq", 0, "last seq (inclusive, optional)")
	_ = fs.Parse(args)

	var filter ledger.Key
	if s := strings.TrimSpace(*key); s != "" {
		filter = ledger.ParseOrNamed(s)
	}
	files, err := persistlog.ListFiles(filepath.Join(*dataDir, "audit"), "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit:", err)
		os.Exit(1)
	}
	for _, f := range files {
		err := persistlog.ScanJSONL(f, func(line []byte) error {
			var e runtime.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(f), err)
			}
			if e.Seq < *sinceSeq || (*toSeq != 0 && e.Seq > *toSeq) {
				return nil
			}
			if !filter.IsZero() && e.Key != filter && e.Signer != filter {
				return nil
			}
			printJSON(e)
			return nil
		})
		if err != nil && !errors.Is(err, persistlog.ErrTruncated) {
			fmt.Fprintln(os.Stderr, "read audit:", err)
			os.Exit(1)
		}
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
