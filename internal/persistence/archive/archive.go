// Package archive keeps long-lived copies of selected snapshots and prunes
// the rolling snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"postbox.dev/internal/persistence/snapshot"
)

type EpochMeta struct {
	Epoch     uint64 `json:"epoch"`
	Seq       uint64 `json:"seq"`
	Cursor    uint64 `json:"cursor"`
	Records   int    `json:"records"`
	Balances  int    `json:"balances"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveEpochSnapshot copies a snapshot whose seq is a multiple of every
// into dataDir/archives/epoch_<NNNNNN>/. It reports archived=false for
// snapshots that do not close an epoch.
func ArchiveEpochSnapshot(dataDir, snapshotPath string, h snapshot.Header, every uint64) (epoch uint64, archivedPath string, archived bool, err error) {
	if every == 0 || h.Seq == 0 || h.Seq%every != 0 {
		return 0, "", false, nil
	}
	epoch = h.Seq / every

	archiveDir := filepath.Join(dataDir, "archives", fmt.Sprintf("epoch_%06d", epoch))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpochMeta{
		Epoch:     epoch,
		Seq:       h.Seq,
		Cursor:    h.Cursor,
		Records:   h.Records,
		Balances:  h.Balances,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return epoch, dst, true, nil
}

// PruneSnapshots deletes all but the newest keep snapshots in dir and
// returns the removed paths.
func PruneSnapshots(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snap struct {
		seq  uint64
		path string
	}
	var all []snap
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		all = append(all, snap{seq: seq, path: filepath.Join(dir, name)})
	}
	if len(all) <= keep {
		return nil, nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	var removed []string
	for _, s := range all[:len(all)-keep] {
		if err := os.Remove(s.path); err != nil {
			return removed, err
		}
		removed = append(removed, s.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
