// Package replay records resolved stream events to a tape and plays
// them back through a dispatcher, so a session captured in the field
// can be re-run against the state machine without a live connection.
//
// Tape format: a sequence of length-prefixed msgpack frames, 4-byte
// big-endian payload length then the encoded event.
package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/labelsense/scanstream/stream"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Writer appends resolved events to a tape. Implements stream.TapeWriter.
type Writer struct {
	w io.Writer
}

// NewWriter creates a tape writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent appends one event frame.
func (t *Writer) WriteEvent(ev stream.ResolvedEvent) error {
	payload, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("event payload %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := t.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := t.w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Reader reads event frames back from a tape.
type Reader struct {
	r io.Reader
}

// NewReader creates a tape reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadEvent reads the next event frame.
//
// Errors:
//   - io.EOF: tape ended cleanly (no more frames)
//   - anything else: truncated or undecodable frame
func (t *Reader) ReadEvent() (*stream.ResolvedEvent, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(t.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var ev stream.ResolvedEvent
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// Replay feeds every event on the tape through the dispatcher in order,
// stopping early if the dispatcher terminates (a replayed session ends
// exactly where the live one did). Returns the number of events
// dispatched.
func Replay(r io.Reader, dispatcher *stream.Dispatcher) (int, error) {
	tape := NewReader(r)
	count := 0
	for {
		ev, err := tape.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		count++
		if dispatcher.Dispatch(ev) == stream.Terminate {
			return count, nil
		}
	}
}
