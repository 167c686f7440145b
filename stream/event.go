// Package stream decodes event records and drives the per-protocol
// dispatch loop for scan and chat streams.
package stream

import (
	"encoding/json"
	"strings"
)

// ResolvedEvent is one decoded record: the event type and its payload
// text, after unwrapping any envelope encoding. The payload stays
// untyped here; the dispatcher knows the expected schema per
// (protocol, event type).
type ResolvedEvent struct {
	Type    string `json:"type" msgpack:"type"`
	Payload string `json:"payload" msgpack:"payload"`
}

// envelope is the inline form some server versions emit: the whole
// record is one JSON object naming its own event type.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Resolve parses one record's text into a resolved event. Records carry
// an "event:" line and one or more "data:" lines; older servers instead
// push a bare JSON envelope, or that envelope double-encoded as a JSON
// string. Returns nil for records that yield nothing usable — a
// malformed record must not abort the session, so there is no error
// return.
func Resolve(record string) *ResolvedEvent {
	var eventType string
	var fragments []string

	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			fragments = append(fragments, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	payload := strings.TrimSpace(strings.Join(fragments, "\n"))
	if eventType != "" {
		if payload == "" {
			return nil
		}
		return &ResolvedEvent{Type: eventType, Payload: payload}
	}

	// No event: line. The record body itself may be the payload.
	if payload == "" {
		payload = strings.TrimSpace(record)
	}
	if payload == "" {
		return nil
	}
	return unwrap(payload)
}

// unwrap recovers the event type from an envelope-form payload, trying
// the double-encoded form once before giving up.
func unwrap(payload string) *ResolvedEvent {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err == nil && env.Event != "" {
		return &ResolvedEvent{Type: env.Event, Payload: string(env.Data)}
	}

	// Double-encoded form: a JSON string whose contents are the real
	// JSON document. One unwrapping level only.
	var inner string
	if err := json.Unmarshal([]byte(payload), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &env); err == nil && env.Event != "" {
			return &ResolvedEvent{Type: env.Event, Payload: string(env.Data)}
		}
	}
	return nil
}

// unmarshalPayload decodes an event payload into v, retrying once with
// the payload treated as a JSON-encoded string containing the real
// document. The fallback is a server-compatibility affordance: some
// deployments double-encode event payloads.
func unmarshalPayload(payload string, v any) error {
	direct := json.Unmarshal([]byte(payload), v)
	if direct == nil {
		return nil
	}
	var inner string
	if err := json.Unmarshal([]byte(payload), &inner); err != nil {
		return direct
	}
	if err := json.Unmarshal([]byte(inner), v); err != nil {
		return direct
	}
	return nil
}
