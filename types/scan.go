// Package types defines core domain types for the scanstream client.
//
//nolint:revive // types is a common Go package naming convention
package types

import "encoding/json"

// Protocol identifies which event catalogue governs a stream session.
type Protocol string

// Protocol constants. Each protocol has its own event types and payload
// shapes; see the stream package for the per-protocol dispatchers.
const (
	ProtocolUnifiedAnalysis Protocol = "unified_analysis"
	ProtocolBarcodeScan     Protocol = "barcode_scan"
	ProtocolChat            Protocol = "chat"
)

// ScanType classifies how a scan was initiated.
type ScanType string

// Scan type constants.
const (
	ScanTypeBarcode          ScanType = "barcode"
	ScanTypePhoto            ScanType = "photo"
	ScanTypeBarcodePlusPhoto ScanType = "barcode_plus_photo"
)

// LifecycleState is the scan's current phase.
//
// States form a partial order:
//
//	fetching_product_info < processing_images < analyzing < done
//
// with error reachable from any non-terminal state. done and error are
// both terminal. A cached scan's state never moves backward under this
// order; the cache discards lesser updates.
type LifecycleState string

// Lifecycle state constants.
const (
	StateFetchingProductInfo LifecycleState = "fetching_product_info"
	StateProcessingImages    LifecycleState = "processing_images"
	StateAnalyzing           LifecycleState = "analyzing"
	StateDone                LifecycleState = "done"
	StateError               LifecycleState = "error"
)

// rank orders the non-error lifecycle chain. Unknown states rank lowest
// so a malformed update can never displace known progress.
var stateRank = map[LifecycleState]int{
	StateFetchingProductInfo: 1,
	StateProcessingImages:    2,
	StateAnalyzing:           3,
	StateDone:                4,
}

// Rank returns the state's position in the lifecycle chain.
// error has no rank; callers must check IsTerminal first.
func (s LifecycleState) Rank() int {
	return stateRank[s]
}

// IsTerminal returns true if no further updates may replace this state.
func (s LifecycleState) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// Supersedes reports whether an update in state s may replace a cached
// entry in state cur. Equal states do not supersede; the cache handles
// equal-state field fills separately.
func (s LifecycleState) Supersedes(cur LifecycleState) bool {
	if cur.IsTerminal() {
		return false
	}
	if s == StateError {
		return true
	}
	return s.Rank() > cur.Rank()
}

// Scan is the externally visible unit of work: one barcode lookup or
// photo identification, tracked from first observation to terminal state.
// Snapshots arrive over the push stream and from the polling endpoint;
// the cache reconciles both into a single monotonic view.
type Scan struct {
	ID                string          `json:"id"`
	ScanType          ScanType        `json:"scan_type,omitempty"`
	Barcode           string          `json:"barcode,omitempty"`
	State             LifecycleState  `json:"state"`
	ProductInfo       *ProductInfo    `json:"product_info,omitempty"`
	ProductInfoSource string          `json:"product_info_source,omitempty"`
	AnalysisResult    *AnalysisResult `json:"analysis_result,omitempty"`
	Images            []ScanImage     `json:"images,omitempty"`
	LatestGuidance    string          `json:"latest_guidance,omitempty"`
	ErrorMessage      string          `json:"error,omitempty"`
	CreatedAt         string          `json:"created_at,omitempty"`
	LastActivityAt    string          `json:"last_activity_at,omitempty"`

	// Favorited is client-side only; it never arrives on the wire.
	Favorited bool `json:"-"`
}

// scanWire mirrors Scan plus the legacy status fields the v2 REST
// endpoint still serves (status + analysis_status instead of state).
type scanWire struct {
	ID                string          `json:"id"`
	ScanType          ScanType        `json:"scan_type"`
	Barcode           string          `json:"barcode"`
	State             LifecycleState  `json:"state"`
	Status            string          `json:"status"`
	AnalysisStatus    string          `json:"analysis_status"`
	ProductInfo       *ProductInfo    `json:"product_info"`
	ProductInfoSource string          `json:"product_info_source"`
	AnalysisResult    *AnalysisResult `json:"analysis_result"`
	Images            []ScanImage     `json:"images"`
	LatestGuidance    string          `json:"latest_guidance"`
	ErrorMessage      string          `json:"error"`
	CreatedAt         string          `json:"created_at"`
	LastActivityAt    string          `json:"last_activity_at"`
}

// UnmarshalJSON accepts both encodings of a scan snapshot: the streamed
// form carries an explicit state field, while the GET-by-id endpoint
// reports status ("idle"/"processing") plus analysis_status
// ("analyzing"/"complete"/"stale"). The legacy pair is folded into a
// lifecycle state when state is absent.
func (s *Scan) UnmarshalJSON(data []byte) error {
	var w scanWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	state := w.State
	if state == "" {
		state = stateFromLegacy(w.Status, w.AnalysisStatus, w.ProductInfo)
	}
	*s = Scan{
		ID:                w.ID,
		ScanType:          w.ScanType,
		Barcode:           w.Barcode,
		State:             state,
		ProductInfo:       w.ProductInfo,
		ProductInfoSource: w.ProductInfoSource,
		AnalysisResult:    w.AnalysisResult,
		Images:            w.Images,
		LatestGuidance:    w.LatestGuidance,
		ErrorMessage:      w.ErrorMessage,
		CreatedAt:         w.CreatedAt,
		LastActivityAt:    w.LastActivityAt,
	}
	return nil
}

// stateFromLegacy maps the v2 REST status pair onto the lifecycle order.
// idle+complete is the only terminal success combination the endpoint
// reports; errors arrive through the error field, not through status.
func stateFromLegacy(status, analysisStatus string, info *ProductInfo) LifecycleState {
	switch {
	case status == "idle" && analysisStatus == "complete":
		return StateDone
	case analysisStatus == "analyzing":
		return StateAnalyzing
	case info == nil || (info.Name == "" && info.Brand == "" && len(info.Ingredients) == 0):
		return StateFetchingProductInfo
	default:
		return StateProcessingImages
	}
}

// SubmitImageResponse is returned when a photo is queued for a scan.
type SubmitImageResponse struct {
	Queued        bool   `json:"queued"`
	QueuePosition int    `json:"queue_position"`
	ContentHash   string `json:"content_hash"`
}

// ScanHistory is one page of past scans.
type ScanHistory struct {
	Scans   []Scan `json:"scans"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}
