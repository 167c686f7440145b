// Package adapter defines the notification adapter boundary.
//
// Adapters publish terminal-scan notifications to downstream systems
// (household dashboards, audit pipelines). The CLI owns adapter
// lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/labelsense/scanstream/types"
)

// ScanCompletedEvent is the payload published when a scan reaches a
// terminal state.
type ScanCompletedEvent struct {
	EventType    string `json:"event_type"` // always "scan_completed"
	ScanID       string `json:"scan_id"`
	Barcode      string `json:"barcode,omitempty"`
	ScanType     string `json:"scan_type,omitempty"`
	State        string `json:"state"` // done or error
	OverallMatch string `json:"overall_match,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ActivityID   string `json:"client_activity_id,omitempty"`
	Timestamp    string `json:"timestamp"` // ISO 8601
}

// FromScan builds the published payload from a terminal scan snapshot.
func FromScan(scan types.Scan, activityID string) *ScanCompletedEvent {
	ev := &ScanCompletedEvent{
		EventType:    "scan_completed",
		ScanID:       scan.ID,
		Barcode:      scan.Barcode,
		ScanType:     string(scan.ScanType),
		State:        string(scan.State),
		ErrorMessage: scan.ErrorMessage,
		ActivityID:   activityID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if scan.AnalysisResult != nil {
		ev.OverallMatch = scan.AnalysisResult.OverallMatch
	}
	return ev
}

// Adapter publishes terminal-scan events to a downstream system.
// Implementations must be safe for single-use per scan.
type Adapter interface {
	// Publish sends a scan completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ScanCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
