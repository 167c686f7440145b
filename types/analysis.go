package types

import "encoding/json"

// AnalysisResult is the safety analysis portion of a scan snapshot.
type AnalysisResult struct {
	OverallAnalysis    string               `json:"overall_analysis,omitempty"`
	OverallMatch       string               `json:"overall_match,omitempty"`
	IngredientAnalysis []IngredientAnalysis `json:"ingredient_analysis,omitempty"`
}

// analysisWire accepts both key spellings: the REST endpoint serves
// snake_case while streamed events historically used camelCase.
type analysisWire struct {
	OverallAnalysis      string               `json:"overall_analysis"`
	OverallAnalysisCamel string               `json:"overallAnalysis"`
	OverallMatch         string               `json:"overall_match"`
	OverallMatchCamel    string               `json:"overallMatch"`
	IngredientAnalysis   []IngredientAnalysis `json:"ingredient_analysis"`
}

// UnmarshalJSON prefers snake_case keys and falls back to camelCase.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var w analysisWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	analysis := w.OverallAnalysis
	if analysis == "" {
		analysis = w.OverallAnalysisCamel
	}
	match := w.OverallMatch
	if match == "" {
		match = w.OverallMatchCamel
	}
	*r = AnalysisResult{
		OverallAnalysis:    analysis,
		OverallMatch:       match,
		IngredientAnalysis: w.IngredientAnalysis,
	}
	return nil
}

// IngredientAnalysis is the per-ingredient verdict within an
// AnalysisResult.
type IngredientAnalysis struct {
	Ingredient      string   `json:"ingredient"`
	Match           string   `json:"match"` // "matched", "uncertain", "unmatched"
	Reasoning       string   `json:"reasoning,omitempty"`
	MembersAffected []string `json:"members_affected,omitempty"`
}

// SafetyRecommendation classifies one ingredient against the user's
// dietary preferences.
type SafetyRecommendation string

// Safety constants match the server's wire values.
const (
	SafetySafe             SafetyRecommendation = "Safe"
	SafetyMaybeUnsafe      SafetyRecommendation = "MaybeUnsafe"
	SafetyDefinitelyUnsafe SafetyRecommendation = "DefinitelyUnsafe"
	SafetyNone             SafetyRecommendation = "None"
)

// IngredientRecommendation is the legacy per-ingredient analysis shape
// served by the unified-analysis protocol. A fresh list is produced per
// analysis; entries are never mutated after construction.
type IngredientRecommendation struct {
	IngredientName       string               `json:"ingredientName"`
	SafetyRecommendation SafetyRecommendation `json:"safetyRecommendation"`
	Reasoning            string               `json:"reasoning,omitempty"`
	Preference           string               `json:"preference,omitempty"`
	AffectedMemberIDs    []string             `json:"affectedMemberIds,omitempty"`
}

// MatchStatus is the overall product verdict derived from ingredient
// recommendations.
type MatchStatus string

// Match status constants.
const (
	MatchYes         MatchStatus = "match"
	MatchNeedsReview MatchStatus = "needs_review"
	MatchNo          MatchStatus = "not_match"
)

// ComputeMatch folds a recommendation list into an overall verdict: any
// DefinitelyUnsafe ingredient fails the product, any MaybeUnsafe demotes
// a clean product to needs-review.
func ComputeMatch(recs []IngredientRecommendation) MatchStatus {
	result := MatchYes
	for _, rec := range recs {
		switch rec.SafetyRecommendation {
		case SafetyDefinitelyUnsafe:
			result = MatchNo
		case SafetyMaybeUnsafe:
			if result == MatchYes {
				result = MatchNeedsReview
			}
		}
	}
	return result
}

// Product is the legacy product shape served by the unified-analysis
// protocol and the inventory endpoint.
type Product struct {
	Barcode     string       `json:"barcode,omitempty"`
	Brand       string       `json:"brand,omitempty"`
	Name        string       `json:"name,omitempty"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`
	Images      []ScanImage  `json:"images,omitempty"`
}

// LegacyProduct derives the legacy product shape from a scan snapshot,
// for callers still consuming the unified-analysis handler surface.
// Returns nil when the snapshot has no product identity yet.
func (s *Scan) LegacyProduct() *Product {
	if s.ProductInfo == nil {
		return nil
	}
	return &Product{
		Barcode:     s.Barcode,
		Brand:       s.ProductInfo.Brand,
		Name:        s.ProductInfo.Name,
		Ingredients: s.ProductInfo.Ingredients,
		Images:      s.Images,
	}
}

// Recommendations derives legacy ingredient recommendations from a scan
// analysis result. The match vocabulary differs between the two shapes:
// unmatched ingredients are definitely unsafe, uncertain ones maybe.
func (r *AnalysisResult) Recommendations() []IngredientRecommendation {
	if r == nil || len(r.IngredientAnalysis) == 0 {
		return nil
	}
	recs := make([]IngredientRecommendation, 0, len(r.IngredientAnalysis))
	for _, ia := range r.IngredientAnalysis {
		var safety SafetyRecommendation
		switch ia.Match {
		case "unmatched":
			safety = SafetyDefinitelyUnsafe
		case "uncertain":
			safety = SafetyMaybeUnsafe
		default:
			safety = SafetySafe
		}
		recs = append(recs, IngredientRecommendation{
			IngredientName:       ia.Ingredient,
			SafetyRecommendation: safety,
			Reasoning:            ia.Reasoning,
			AffectedMemberIDs:    ia.MembersAffected,
		})
	}
	return recs
}
