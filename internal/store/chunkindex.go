package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ChunkStatus is whether a chunk index entry still reflects the chunk
// currently stored for its file.
type ChunkStatus string

const (
	ChunkStatusValid ChunkStatus = "valid"
	ChunkStatusStale ChunkStatus = "stale"
)

// ChunkIndexEntry tracks one chunk's freshness relative to the file it
// came from.
type ChunkIndexEntry struct {
	FileID    string      `json:"file_id"`
	Status    ChunkStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// StalenessSummary reports how much of the chunk index is out of date,
// matching spec.md 4.4's get_staleness_summary contract.
type StalenessSummary struct {
	Total          int     `json:"total"`
	Valid          int     `json:"valid"`
	Stale          int     `json:"stale"`
	Ratio          float64 `json:"ratio"`
	Status         string  `json:"status"`
	Recommendation string  `json:"recommendation"`
}

const (
	stalenessStatusFresh    = "fresh"
	stalenessStatusDrifting = "drifting"
	stalenessStatusStale    = "stale"

	// staleRatioDrifting/staleRatioStale gate StalenessSummary.Status:
	// below drifting the index is "fresh", at or above stale a rebuild is
	// recommended outright.
	staleRatioDrifting = 0.10
	staleRatioStale    = 0.30
)

// ChunkIndex maps every known chunk id to its freshness entry, so staleness
// can be queried without touching the SQLite metadata store (spec.md 4.4).
type ChunkIndex struct {
	mu      sync.RWMutex
	path    string
	Entries map[string]ChunkIndexEntry `json:"entries"`
	Version int                        `json:"version"`
}

const chunkIndexVersion = 1

// NewChunkIndex creates an empty index backed by path.
func NewChunkIndex(path string) *ChunkIndex {
	return &ChunkIndex{
		path:    path,
		Entries: make(map[string]ChunkIndexEntry),
		Version: chunkIndexVersion,
	}
}

// LoadChunkIndex reads a ChunkIndex from path. A missing file yields an
// empty, usable index.
func LoadChunkIndex(path string) (*ChunkIndex, error) {
	ci := NewChunkIndex(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ci, nil
		}
		return nil, fmt.Errorf("read chunk index: %w", err)
	}

	if err := json.Unmarshal(data, ci); err != nil {
		return nil, fmt.Errorf("parse chunk index %s: %w", path, err)
	}
	if ci.Entries == nil {
		ci.Entries = make(map[string]ChunkIndexEntry)
	}
	ci.path = path
	return ci, nil
}

// Save atomically persists the index to its backing path.
func (ci *ChunkIndex) Save() error {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(ci.path), 0755); err != nil {
		return fmt.Errorf("create chunk index directory: %w", err)
	}

	data, err := json.MarshalIndent(ci, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunk index: %w", err)
	}

	tmpPath := ci.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp chunk index: %w", err)
	}
	if err := os.Rename(tmpPath, ci.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename chunk index: %w", err)
	}
	return nil
}

// MarkValid records chunkID as current for fileID.
func (ci *ChunkIndex) MarkValid(chunkID, fileID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.Entries[chunkID] = ChunkIndexEntry{FileID: fileID, Status: ChunkStatusValid, CreatedAt: time.Now()}
}

// MarkStaleForFile flips every chunk currently attributed to fileID to
// stale, without removing them — used before a file is rechunked so old
// chunk ids are not mistaken for current ones until the new set lands.
func (ci *ChunkIndex) MarkStaleForFile(fileID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for id, e := range ci.Entries {
		if e.FileID == fileID && e.Status == ChunkStatusValid {
			e.Status = ChunkStatusStale
			ci.Entries[id] = e
		}
	}
}

// UpdateFile replaces fileID's chunk set: newChunkIDs become valid, any
// previously valid chunk for the file not present in newChunkIDs is
// removed entirely (it no longer exists), matching spec.md 4.4's
// update_file contract.
func (ci *ChunkIndex) UpdateFile(fileID string, newChunkIDs []string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	keep := make(map[string]struct{}, len(newChunkIDs))
	for _, id := range newChunkIDs {
		keep[id] = struct{}{}
		ci.Entries[id] = ChunkIndexEntry{FileID: fileID, Status: ChunkStatusValid, CreatedAt: time.Now()}
	}

	for id, e := range ci.Entries {
		if e.FileID != fileID {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(ci.Entries, id)
		}
	}
}

// CleanupDeletedFiles removes every entry belonging to a file not present
// in seenFileIDs, returning the removed chunk ids.
func (ci *ChunkIndex) CleanupDeletedFiles(seenFileIDs map[string]struct{}) []string {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	var removed []string
	for id, e := range ci.Entries {
		if _, ok := seenFileIDs[e.FileID]; ok {
			continue
		}
		removed = append(removed, id)
		delete(ci.Entries, id)
	}
	return removed
}

// GetValidChunks returns the ids of all chunks currently marked valid.
func (ci *ChunkIndex) GetValidChunks() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	ids := make([]string, 0, len(ci.Entries))
	for id, e := range ci.Entries {
		if e.Status == ChunkStatusValid {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetStaleChunks returns the ids of all chunks currently marked stale.
func (ci *ChunkIndex) GetStaleChunks() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	ids := make([]string, 0)
	for id, e := range ci.Entries {
		if e.Status == ChunkStatusStale {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetStalenessSummary reports the fraction of tracked chunks that are
// stale and a recommendation for what to do about it.
func (ci *ChunkIndex) GetStalenessSummary() StalenessSummary {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var valid, stale int
	for _, e := range ci.Entries {
		switch e.Status {
		case ChunkStatusValid:
			valid++
		case ChunkStatusStale:
			stale++
		}
	}
	total := valid + stale

	summary := StalenessSummary{Total: total, Valid: valid, Stale: stale}
	if total == 0 {
		summary.Ratio = 0
		summary.Status = stalenessStatusFresh
		summary.Recommendation = "no chunks indexed yet"
		return summary
	}

	summary.Ratio = float64(stale) / float64(total)
	switch {
	case summary.Ratio >= staleRatioStale:
		summary.Status = stalenessStatusStale
		summary.Recommendation = "run 'amanmcp index' to refresh stale chunks"
	case summary.Ratio >= staleRatioDrifting:
		summary.Status = stalenessStatusDrifting
		summary.Recommendation = "consider reindexing soon"
	default:
		summary.Status = stalenessStatusFresh
		summary.Recommendation = "index is up to date"
	}
	return summary
}
