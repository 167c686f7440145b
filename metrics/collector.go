// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single stream or poll
// session. It is a leaf package with no internal dependencies. Read-loop
// counters are recorded live; merge counters come from the cache so the
// two layers never double-count.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64
	SessionsCanceled  int64

	// Read loop
	RecordsFramed  int64
	EventsResolved int64
	EventsDropped  int64
	DroppedByType  map[string]int64
	DecodeErrors   int64

	// Cache reconciliation
	MergesApplied   int64
	MergesDiscarded int64

	// Polling fallback
	PollsIssued int64
	PollsFailed int64

	// Dimensions (informational, set at construction)
	Protocol  string
	Transport string
	Key       string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	// Session lifecycle
	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsCanceled  int64

	// Read loop
	recordsFramed  int64
	eventsResolved int64
	eventsDropped  int64
	droppedByType  map[string]int64
	decodeErrors   int64

	// Cache reconciliation
	mergesApplied   int64
	mergesDiscarded int64

	// Polling fallback
	pollsIssued int64
	pollsFailed int64

	// Dimensions
	protocol  string
	transport string
	key       string
}

// NewCollector creates a Collector with dimension labels. transport is
// "stream" or "poll"; key is the barcode or scan id the session serves.
func NewCollector(protocol, transport, key string) *Collector {
	return &Collector{
		droppedByType: make(map[string]int64),
		protocol:      protocol,
		transport:     transport,
		key:           key,
	}
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncSessionCompleted records a session that reached a terminal done state.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records a session terminated by a transport or
// application error.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.mu.Unlock()
}

// IncSessionCanceled records a session ended by caller cancellation.
func (c *Collector) IncSessionCanceled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCanceled++
	c.mu.Unlock()
}

// --- Read loop ---

// IncRecordFramed records one complete record emitted by the frame reader.
func (c *Collector) IncRecordFramed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsFramed++
	c.mu.Unlock()
}

// IncEventResolved records a record decoded into a typed event.
func (c *Collector) IncEventResolved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsResolved++
	c.mu.Unlock()
}

// IncEventDropped records an event discarded by the dispatcher, keyed by
// the event type string (unknown names, post-terminal arrivals).
func (c *Collector) IncEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped++
	c.droppedByType[eventType]++
	c.mu.Unlock()
}

// IncDecodeError records a record whose payload failed to decode.
func (c *Collector) IncDecodeError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// --- Cache reconciliation ---

// IncMergeApplied records a snapshot merge the cache accepted.
func (c *Collector) IncMergeApplied() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mergesApplied++
	c.mu.Unlock()
}

// IncMergeDiscarded records a snapshot merge rejected as stale.
func (c *Collector) IncMergeDiscarded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.mergesDiscarded++
	c.mu.Unlock()
}

// --- Polling fallback ---

// IncPollIssued records one polling fetch attempt.
func (c *Collector) IncPollIssued() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pollsIssued++
	c.mu.Unlock()
}

// IncPollFailed records a polling fetch that returned an error.
func (c *Collector) IncPollFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.pollsFailed++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByType))
	for k, v := range c.droppedByType {
		dropped[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		SessionsCanceled:  c.sessionsCanceled,

		RecordsFramed:  c.recordsFramed,
		EventsResolved: c.eventsResolved,
		EventsDropped:  c.eventsDropped,
		DroppedByType:  dropped,
		DecodeErrors:   c.decodeErrors,

		MergesApplied:   c.mergesApplied,
		MergesDiscarded: c.mergesDiscarded,

		PollsIssued: c.pollsIssued,
		PollsFailed: c.pollsFailed,

		Protocol:  c.protocol,
		Transport: c.transport,
		Key:       c.key,
	}
}
