package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"
)

// BruteForceStore is a linear-scan VectorStore. It is correct but scales
// O(n) per query; used when the embedded ANN extension is unavailable, or
// as a reference implementation for HNSW result verification.
//
// It shares normalizeVectorInPlace/distanceToScore with HNSWStore so that
// switching between the two never reorders results materially.
type BruteForceStore struct {
	mu     sync.RWMutex
	config VectorStoreConfig
	ids    []string
	vecs   map[string][]float32
	closed bool
}

// NewBruteForceStore creates a linear-scan vector store.
func NewBruteForceStore(cfg VectorStoreConfig) (*BruteForceStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	return &BruteForceStore{
		config: cfg,
		vecs:   make(map[string][]float32),
	}, nil
}

// Add inserts vectors with their IDs. If an ID exists, it is replaced.
func (s *BruteForceStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		if _, exists := s.vecs[id]; !exists {
			s.ids = append(s.ids, id)
		}
		s.vecs[id] = vec
	}

	return nil
}

// Search finds k nearest neighbors to query vector by exhaustive scan,
// using the same distance/scoring formulas as HNSWStore.
func (s *BruteForceStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if len(s.ids) == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	results := make([]*VectorResult, 0, len(s.ids))
	for _, id := range s.ids {
		vec := s.vecs[id]
		distance := vectorDistance(normalizedQuery, vec, s.config.Metric)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *BruteForceStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
		delete(s.vecs, id)
	}

	kept := s.ids[:0]
	for _, id := range s.ids {
		if !idSet[id] {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	return nil
}

// AllIDs returns all vector IDs in the store.
func (s *BruteForceStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Contains checks if ID exists.
func (s *BruteForceStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vecs[id]
	return ok
}

// Count returns number of vectors.
func (s *BruteForceStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// bruteForceSnapshot is the on-disk representation of a BruteForceStore.
type bruteForceSnapshot struct {
	Config VectorStoreConfig
	IDs    []string
	Vecs   map[string][]float32
}

// Save persists the store with encoding/gob, mirroring HNSWStore's approach
// to persistence (a single gob-encoded snapshot file).
func (s *BruteForceStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() { _ = file.Close() }()

	snap := bruteForceSnapshot{Config: s.config, IDs: s.ids, Vecs: s.vecs}
	if err := gob.NewEncoder(file).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Load restores a previously saved store.
func (s *BruteForceStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var snap bruteForceSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	s.config = snap.Config
	s.ids = snap.IDs
	s.vecs = snap.Vecs
	return nil
}

// Close marks the store closed. Idempotent.
func (s *BruteForceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ VectorStore = (*BruteForceStore)(nil)

// vectorDistance computes the same distance used by hnsw.CosineDistance /
// hnsw.EuclideanDistance, without requiring a coder/hnsw graph.
func vectorDistance(a, b []float32, metric string) float32 {
	switch metric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(sum)
	default: // "cos"
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		// a, b are unit-normalized, so cosine similarity is just the dot
		// product; cosine distance is 1 - similarity, scaled to [0, 2]
		// to match hnsw.CosineDistance's range.
		return float32(1 - dot)
	}
}
