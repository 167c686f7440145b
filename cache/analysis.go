package cache

import "github.com/labelsense/scanstream/types"

// AnalysisEntry is the legacy barcode-analysis cache record. One entry
// exists per barcode; a re-analysis overwrites it rather than appending.
// Partial stream events update it in place through UpdateAnalysis.
type AnalysisEntry struct {
	Barcode         string
	Product         *types.Product
	Recommendations []types.IngredientRecommendation
	MatchStatus     types.MatchStatus
	NotFound        bool
	ErrorMessage    string
	CorrelationID   string
}

// PutAnalysis overwrites the analysis entry for a barcode. Called when
// an analysis starts, replacing any previous run's result.
func (s *Store) PutAnalysis(barcode string, entry AnalysisEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Barcode = barcode
	s.analyses[barcode] = entry
}

// UpdateAnalysis applies fn to the entry for barcode under the store
// lock, creating an empty entry first if none exists. Partial updates
// from stream callbacks (product arrived, analysis arrived, error
// arrived) all go through here so interleavings from different callback
// sites cannot tear the entry.
func (s *Store) UpdateAnalysis(barcode string, fn func(*AnalysisEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.analyses[barcode]
	if !ok {
		entry = AnalysisEntry{Barcode: barcode}
	}
	fn(&entry)
	s.analyses[barcode] = entry
}

// Analysis returns a copy of the analysis entry for a barcode.
func (s *Store) Analysis(barcode string) (AnalysisEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.analyses[barcode]
	return entry, ok
}

// ClearAnalysis removes the analysis entry for a barcode. Used on
// explicit user-triggered retry.
func (s *Store) ClearAnalysis(barcode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.analyses, barcode)
}
