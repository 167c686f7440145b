package cache

import (
	"sync"
	"testing"

	"github.com/labelsense/scanstream/types"
)

func TestStore_MergeInsert(t *testing.T) {
	s := NewStore()

	applied := s.Merge("0123", types.Scan{ID: "s1", State: types.StateFetchingProductInfo})
	if !applied {
		t.Fatal("first merge should apply")
	}

	scan, ok := s.Get("0123")
	if !ok {
		t.Fatal("Get() after merge should find the entry")
	}
	if scan.State != types.StateFetchingProductInfo {
		t.Errorf("State = %q", scan.State)
	}
}

func TestStore_MergeForwardProgress(t *testing.T) {
	s := NewStore()

	s.Merge("0123", types.Scan{ID: "s1", State: types.StateFetchingProductInfo})
	if !s.Merge("0123", types.Scan{ID: "s1", State: types.StateAnalyzing, ProductInfo: &types.ProductInfo{Name: "Soda"}}) {
		t.Fatal("forward merge should apply")
	}

	scan, _ := s.Get("0123")
	if scan.State != types.StateAnalyzing {
		t.Errorf("State = %q, want analyzing", scan.State)
	}
	if scan.ProductInfo == nil || scan.ProductInfo.Name != "Soda" {
		t.Errorf("ProductInfo = %+v", scan.ProductInfo)
	}
}

func TestStore_MergeLateUpdateDiscarded(t *testing.T) {
	s := NewStore()

	s.Merge("s1", types.Scan{
		ID:             "s1",
		State:          types.StateDone,
		AnalysisResult: &types.AnalysisResult{OverallMatch: "matched"},
	})

	// A late, lesser update must not regress the terminal entry.
	if s.Merge("s1", types.Scan{ID: "s1", State: types.StateAnalyzing}) {
		t.Fatal("late analyzing merge should be discarded")
	}

	scan, _ := s.Get("s1")
	if scan.State != types.StateDone {
		t.Errorf("State = %q, want done", scan.State)
	}
	if scan.AnalysisResult == nil || scan.AnalysisResult.OverallMatch != "matched" {
		t.Errorf("AnalysisResult = %+v, want intact", scan.AnalysisResult)
	}
}

func TestStore_MergeEqualStateFieldFill(t *testing.T) {
	s := NewStore()

	s.Merge("s1", types.Scan{ID: "s1", State: types.StateDone})
	applied := s.Merge("s1", types.Scan{
		ID:             "s1",
		State:          types.StateDone,
		AnalysisResult: &types.AnalysisResult{OverallMatch: "matched"},
	})
	if !applied {
		t.Fatal("equal-state merge filling analysis_result should apply")
	}

	scan, _ := s.Get("s1")
	if scan.AnalysisResult == nil {
		t.Error("AnalysisResult not filled")
	}

	// Equal state with nothing new is discarded.
	if s.Merge("s1", types.Scan{ID: "s1", State: types.StateDone}) {
		t.Error("equal-state merge with no new fields should be discarded")
	}
}

func TestStore_MergeLayersSparseUpdate(t *testing.T) {
	s := NewStore()

	s.Merge("s1", types.Scan{
		ID:          "s1",
		Barcode:     "0123",
		State:       types.StateAnalyzing,
		ProductInfo: &types.ProductInfo{Name: "Soda"},
	})

	// The done snapshot omits product_info; layering keeps it.
	s.Merge("s1", types.Scan{ID: "s1", State: types.StateDone})

	scan, _ := s.Get("s1")
	if scan.State != types.StateDone {
		t.Errorf("State = %q, want done", scan.State)
	}
	if scan.ProductInfo == nil || scan.ProductInfo.Name != "Soda" {
		t.Error("sparse done update erased product_info")
	}
	if scan.Barcode != "0123" {
		t.Error("sparse done update erased barcode")
	}
}

func TestStore_MergeErrorFromNonTerminal(t *testing.T) {
	s := NewStore()

	s.Merge("s1", types.Scan{ID: "s1", State: types.StateAnalyzing})
	if !s.Merge("s1", types.Scan{ID: "s1", State: types.StateError, ErrorMessage: "boom"}) {
		t.Fatal("error merge over non-terminal should apply")
	}

	// Error cannot displace done, and vice versa.
	if s.Merge("s1", types.Scan{ID: "s1", State: types.StateDone}) {
		t.Error("done merge over error should be discarded")
	}

	scan, _ := s.Get("s1")
	if scan.State != types.StateError || scan.ErrorMessage != "boom" {
		t.Errorf("scan = %+v, want error/boom", scan)
	}
}

func TestStore_MergeMonotonicity(t *testing.T) {
	// For any sequence of candidates, the cached state equals the max
	// of all applicable candidates; it never moves backward.
	sequence := []types.LifecycleState{
		types.StateFetchingProductInfo,
		types.StateAnalyzing,
		types.StateProcessingImages, // late
		types.StateDone,
		types.StateAnalyzing, // late
		types.StateError,     // after terminal
	}

	s := NewStore()
	maxSeen := 0
	for _, state := range sequence {
		s.Merge("s1", types.Scan{ID: "s1", State: state})
		if r := state.Rank(); r > maxSeen && !state.IsTerminal() {
			maxSeen = r
		}
		scan, _ := s.Get("s1")
		if scan.State.Rank() < maxSeen {
			t.Fatalf("state regressed to %q after merging %q", scan.State, state)
		}
	}

	scan, _ := s.Get("s1")
	if scan.State != types.StateDone {
		t.Errorf("final state = %q, want done", scan.State)
	}
}

func TestStore_ClearForcesRefetch(t *testing.T) {
	s := NewStore()

	s.Merge("s1", types.Scan{ID: "s1", State: types.StateError, ErrorMessage: "boom"})
	s.Clear("s1")

	if _, ok := s.Get("s1"); ok {
		t.Fatal("entry should be gone after Clear")
	}

	// A fresh run starts over from any state.
	if !s.Merge("s1", types.Scan{ID: "s1", State: types.StateFetchingProductInfo}) {
		t.Error("merge after Clear should apply")
	}
}

func TestStore_SetFavorite(t *testing.T) {
	s := NewStore()

	if s.SetFavorite("s1", true) {
		t.Error("SetFavorite on a missing entry should return false")
	}

	s.Merge("s1", types.Scan{ID: "s1", State: types.StateDone})
	if !s.SetFavorite("s1", true) {
		t.Fatal("SetFavorite should succeed")
	}

	scan, _ := s.Get("s1")
	if !scan.Favorited {
		t.Error("Favorited = false after SetFavorite(true)")
	}

	// The flag survives later merges; it never arrives on the wire.
	s.Merge("s1", types.Scan{
		ID:             "s1",
		State:          types.StateDone,
		AnalysisResult: &types.AnalysisResult{OverallMatch: "matched"},
	})
	scan, _ = s.Get("s1")
	if !scan.Favorited {
		t.Error("merge erased the favorite flag")
	}
}

func TestStore_ProducerGuard(t *testing.T) {
	s := NewStore()

	if !s.TryAcquire("s1") {
		t.Fatal("first TryAcquire should succeed")
	}
	if s.TryAcquire("s1") {
		t.Fatal("second TryAcquire for the same key should fail")
	}
	if !s.TryAcquire("s2") {
		t.Error("TryAcquire for a different key should succeed")
	}
	if !s.ProducerLive("s1") {
		t.Error("ProducerLive(s1) = false while held")
	}

	s.Release("s1")
	if s.ProducerLive("s1") {
		t.Error("ProducerLive(s1) = true after Release")
	}
	if !s.TryAcquire("s1") {
		t.Error("TryAcquire after Release should succeed")
	}
}

func TestStore_ConcurrentMergeAndRead(t *testing.T) {
	s := NewStore()
	states := []types.LifecycleState{
		types.StateFetchingProductInfo,
		types.StateProcessingImages,
		types.StateAnalyzing,
		types.StateDone,
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := range 1000 {
			s.Merge("s1", types.Scan{ID: "s1", State: states[i%3]})
		}
	}()
	go func() {
		defer wg.Done()
		for range 1000 {
			if scan, ok := s.Get("s1"); ok && scan.ID != "s1" {
				t.Error("torn read")
				return
			}
		}
	}()

	wg.Wait()
}

func TestStore_AnalysisEntries(t *testing.T) {
	s := NewStore()

	s.PutAnalysis("0123", AnalysisEntry{CorrelationID: "c1"})

	// Partial updates from separate callback sites land in place.
	s.UpdateAnalysis("0123", func(e *AnalysisEntry) {
		e.Product = &types.Product{Name: "Soda"}
	})
	s.UpdateAnalysis("0123", func(e *AnalysisEntry) {
		e.Recommendations = []types.IngredientRecommendation{
			{IngredientName: "peanut", SafetyRecommendation: types.SafetyDefinitelyUnsafe},
		}
		e.MatchStatus = types.ComputeMatch(e.Recommendations)
	})

	entry, ok := s.Analysis("0123")
	if !ok {
		t.Fatal("Analysis() should find the entry")
	}
	if entry.Barcode != "0123" {
		t.Errorf("Barcode = %q, want 0123", entry.Barcode)
	}
	if entry.Product == nil || entry.Product.Name != "Soda" {
		t.Errorf("Product = %+v", entry.Product)
	}
	if entry.MatchStatus != types.MatchNo {
		t.Errorf("MatchStatus = %q, want not_match", entry.MatchStatus)
	}

	// Re-analysis overwrites, not appends.
	s.PutAnalysis("0123", AnalysisEntry{CorrelationID: "c2"})
	entry, _ = s.Analysis("0123")
	if entry.Product != nil || entry.CorrelationID != "c2" {
		t.Errorf("entry after overwrite = %+v", entry)
	}

	s.ClearAnalysis("0123")
	if _, ok := s.Analysis("0123"); ok {
		t.Error("entry should be gone after ClearAnalysis")
	}
}
