package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

var (
	// ErrCorruptedSnapshot marks a snapshot file that exists but cannot
	// be parsed.
	ErrCorruptedSnapshot = errors.New("cursor snapshot is corrupted")
	// ErrIncompatibleVersion marks a snapshot written by an unknown
	// schema version.
	ErrIncompatibleVersion = errors.New("cursor snapshot version is incompatible")
)

const snapshotVersion = 1

// snapshotFile is the on-disk layout of the cursor store.
type snapshotFile struct {
	Version      int            `json:"version"`
	LastFullScan *time.Time     `json:"last_full_scan"`
	Cursors      []cursorRecord `json:"cursors"`
}

type cursorRecord struct {
	Token         string    `json:"cursor"`
	DiscoveredIDs []string  `json:"discovered_ids"`
	LastUsed      time.Time `json:"last_used"`
	SuccessCount  int       `json:"success_count"`
	ScanCount     int       `json:"scan_count"`
	SuccessRate   float64   `json:"success_rate"`
}

// writeSnapshot writes the file atomically: the payload lands in a temp
// file that replaces the previous snapshot via rename, so a crash
// mid-write leaves the old snapshot intact.
func writeSnapshot(path string, file snapshotFile) error {
	file.Version = snapshotVersion

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor snapshot: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp cursor snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace cursor snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads the file at path. A missing file is a cold start,
// reported as an empty snapshot with no error.
func readSnapshot(path string) (snapshotFile, error) {
	var file snapshotFile

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshotFile{Version: snapshotVersion}, nil
		}
		return file, fmt.Errorf("read cursor snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if file.Version != snapshotVersion {
		return file, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, file.Version, snapshotVersion)
	}
	return file, nil
}

func (s *Store) toSnapshotLocked() snapshotFile {
	file := snapshotFile{}
	if !s.lastFullScan.IsZero() {
		t := s.lastFullScan
		file.LastFullScan = &t
	}

	tokens := make([]string, 0, len(s.cursors))
	for token := range s.cursors {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		c := s.cursors[token]
		ids := make([]string, 0, len(c.discoveredIDs))
		for id := range c.discoveredIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		file.Cursors = append(file.Cursors, cursorRecord{
			Token:         c.Token,
			DiscoveredIDs: ids,
			LastUsed:      c.LastUsed,
			SuccessCount:  c.SuccessCount,
			ScanCount:     c.ScanCount,
			SuccessRate:   c.SuccessRate,
		})
	}
	return file
}
