// Package cache holds the process-lifetime scan result store.
//
// The store is the only shared mutable state between the stream read
// loop, the polling controller, and UI reads. All mutation goes through
// Merge, a single critical section per call, which guards the
// UI-read/producer-write race; producer/producer races are prevented
// structurally by the liveness flags (TryAcquire before spawn).
package cache

import (
	"sync"

	"github.com/labelsense/scanstream/types"
)

// Store is an in-memory scan cache keyed by barcode or scan id.
// Entries are never deleted during the process lifetime except by an
// explicit Clear on user-triggered retry.
type Store struct {
	mu        sync.Mutex
	scans     map[string]types.Scan
	analyses  map[string]AnalysisEntry
	producers map[string]struct{}
}

// NewStore creates an empty store. One store serves the whole process;
// construct it once and hand it to whichever component needs it.
func NewStore() *Store {
	return &Store{
		scans:     make(map[string]types.Scan),
		analyses:  make(map[string]AnalysisEntry),
		producers: make(map[string]struct{}),
	}
}

// Merge reconciles a candidate snapshot into the entry for key and
// reports whether it was applied. A candidate applies when:
//   - no entry exists for key, or
//   - its lifecycle state strictly supersedes the cached state, or
//   - states are equal and the candidate fills a field the entry lacks
//     (e.g. the analysis_result arriving after done).
//
// An applied candidate replaces the entry wholesale, with fields the
// candidate left empty layered over from the previous entry so a sparse
// update never erases known data. Anything else is discarded: the
// cached state never moves backward.
func (s *Store) Merge(key string, candidate types.Scan) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.scans[key]
	if !exists {
		s.scans[key] = candidate
		return true
	}

	switch {
	case candidate.State.Supersedes(current.State):
	case candidate.State == current.State && fillsMissing(current, candidate):
	default:
		return false
	}

	s.scans[key] = layer(current, candidate)
	return true
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key string) (types.Scan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[key]
	return scan, ok
}

// Clear removes the entry for key. Used only on explicit user-triggered
// retry, to force a clean re-fetch.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scans, key)
}

// SetFavorite flips the client-side favorite flag on the entry for key.
// Returns false when no entry exists.
func (s *Store) SetFavorite(key string, favorited bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[key]
	if !ok {
		return false
	}
	scan.Favorited = favorited
	s.scans[key] = scan
	return true
}

// TryAcquire claims the live-producer slot for key. Exactly one stream
// session or poll loop may hold it at a time; callers must acquire
// before spawning a producer and Release when it exits. Returns false
// when a producer is already live for key.
func (s *Store) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.producers[key]; live {
		return false
	}
	s.producers[key] = struct{}{}
	return true
}

// Release frees the live-producer slot for key.
func (s *Store) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.producers, key)
}

// ProducerLive reports whether a producer currently holds the slot for key.
func (s *Store) ProducerLive(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, live := s.producers[key]
	return live
}

// fillsMissing reports whether the candidate carries data the current
// entry lacks. Only additive fields count; differing values at equal
// state are not grounds for replacement.
func fillsMissing(current, candidate types.Scan) bool {
	switch {
	case current.ProductInfo == nil && candidate.ProductInfo != nil:
		return true
	case current.AnalysisResult == nil && candidate.AnalysisResult != nil:
		return true
	case len(current.Images) == 0 && len(candidate.Images) > 0:
		return true
	case current.LatestGuidance == "" && candidate.LatestGuidance != "":
		return true
	case current.ErrorMessage == "" && candidate.ErrorMessage != "":
		return true
	}
	return false
}

// layer builds the replacement entry: candidate fields win, empty
// candidate fields fall back to the current entry. The client-side
// favorite flag always survives; it never arrives on the wire.
func layer(current, candidate types.Scan) types.Scan {
	merged := candidate
	if merged.ID == "" {
		merged.ID = current.ID
	}
	if merged.ScanType == "" {
		merged.ScanType = current.ScanType
	}
	if merged.Barcode == "" {
		merged.Barcode = current.Barcode
	}
	if merged.ProductInfo == nil {
		merged.ProductInfo = current.ProductInfo
	}
	if merged.ProductInfoSource == "" {
		merged.ProductInfoSource = current.ProductInfoSource
	}
	if merged.AnalysisResult == nil {
		merged.AnalysisResult = current.AnalysisResult
	}
	if len(merged.Images) == 0 {
		merged.Images = current.Images
	}
	if merged.LatestGuidance == "" {
		merged.LatestGuidance = current.LatestGuidance
	}
	if merged.ErrorMessage == "" {
		merged.ErrorMessage = current.ErrorMessage
	}
	if merged.CreatedAt == "" {
		merged.CreatedAt = current.CreatedAt
	}
	if merged.LastActivityAt == "" {
		merged.LastActivityAt = current.LastActivityAt
	}
	merged.Favorited = current.Favorited
	return merged
}
