package archive

import (
	"os"
	"path/filepath"
	"testing"

	"postbox.dev/internal/persistence/snapshot"
)

func TestArchiveEpochSnapshot_CopiesEpochBoundary(t *testing.T) {
	dataDir := t.TempDir()
	src := filepath.Join(dataDir, "snapshots", snapshot.FileName(2000))
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if _, _, ok, err := ArchiveEpochSnapshot(dataDir, src, snapshot.Header{Seq: 1999}, 1000); err != nil || ok {
		t.Fatalf("non-boundary archived ok=%v err=%v", ok, err)
	}

	epoch, archivedPath, ok, err := ArchiveEpochSnapshot(dataDir, src, snapshot.Header{Version: 1, Seq: 2000}, 1000)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok || epoch != 2 {
		t.Fatalf("epoch=%d ok=%v", epoch, ok)
	}
	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(archivedPath), "meta.json")); err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
}

func TestPruneSnapshots_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, seq := range []uint64{5, 40, 300, 2} {
		if err := os.WriteFile(filepath.Join(dir, snapshot.FileName(seq)), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	removed, err := PruneSnapshots(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed=%v", removed)
	}
	if snapshot.Latest(dir) != filepath.Join(dir, snapshot.FileName(300)) {
		t.Fatalf("latest=%s", snapshot.Latest(dir))
	}
	if _, err := os.Stat(filepath.Join(dir, snapshot.FileName(40))); err != nil {
		t.Fatalf("second newest removed: %v", err)
	}
}
