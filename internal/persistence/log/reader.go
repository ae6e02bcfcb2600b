package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"postbox.dev/internal/runtime"
)

// ListFiles returns <prefix>-*.jsonl.zst files in dir, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ErrTruncated marks a segment whose last zstd frame was never finished,
// as left by a process that died while writing.
var ErrTruncated = errors.New("truncated segment")

// ScanJSONL calls fn for each line of a compressed JSONL file. A partial
// trailing frame ends the scan with ErrTruncated after the complete lines
// have been delivered; errors from fn are returned unchanged.
func ScanJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", filepath.Base(path), ErrTruncated, err)
	}
	return nil
}

// ReadJournal decodes every journal entry under dataDir/events in order.
func ReadJournal(dataDir string, fn func(runtime.JournalEntry) error) error {
	files, err := ListFiles(filepath.Join(dataDir, "events"), "events")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, path := range files {
		err := ScanJSONL(path, func(line []byte) error {
			var e runtime.JournalEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			return fn(e)
		})
		if errors.Is(err, ErrTruncated) {
			// Entries after the last complete block were never acknowledged.
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
