package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/sse"
)

// readChunkSize is the read buffer size for one transport read. Chunk
// boundaries carry no semantic meaning; the frame reader reassembles
// records regardless of how the bytes arrive.
const readChunkSize = 4096

// TapeWriter records resolved events for later replay. Implemented by
// the replay package; wired into a session when event capture is on.
type TapeWriter interface {
	WriteEvent(ev ResolvedEvent) error
}

// Session is one open read loop over a streaming response body. It
// frames incoming bytes, resolves records into events, and drives the
// dispatcher until a terminal event, a transport error, or cancellation.
//
// A session is single-use and not safe for concurrent use: bytes are
// processed strictly in arrival order on one goroutine.
type Session struct {
	body       io.Reader
	dispatcher *Dispatcher
	frames     *sse.FrameReader
	logger     *log.Logger
	collector  *metrics.Collector
	tape       TapeWriter
}

// NewSession creates a session over a streaming response body.
func NewSession(body io.Reader, dispatcher *Dispatcher, logger *log.Logger, collector *metrics.Collector) *Session {
	return &Session{
		body:       body,
		dispatcher: dispatcher,
		frames:     sse.NewFrameReader(),
		logger:     logger,
		collector:  collector,
	}
}

// WithTape attaches an event tape. Every resolved event is written to
// the tape before dispatch; tape write failures are logged, never fatal.
func (s *Session) WithTape(w TapeWriter) *Session {
	s.tape = w
	return s
}

// Run consumes the body until a terminal event, transport error, or
// cancellation. Returns:
//   - nil: terminal done event, or clean end of stream
//   - *SessionError with Kind=SessionErrorApplication: server error event
//   - *SessionError with Kind=SessionErrorTransport: mid-stream read failure
//   - *SessionError with Kind=SessionErrorCanceled: context canceled
//
// The protocol's error handler has already fired (exactly once) by the
// time a transport or application error is returned.
func (s *Session) Run(ctx context.Context) error {
	s.collector.IncSessionStarted()
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			s.collector.IncSessionCanceled()
			return &SessionError{Kind: SessionErrorCanceled, Err: ctx.Err()}
		default:
		}

		n, err := s.body.Read(buf)
		if n > 0 {
			for _, record := range s.frames.Feed(buf[:n]) {
				if decision := s.processRecord(record); decision == Terminate {
					return s.terminalResult()
				}
			}
			if s.frames.Overflow() {
				return s.transportFailure(fmt.Errorf("unframed remainder exceeds %d bytes", sse.MaxBufferSize))
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				// Servers routinely omit the final separator.
				if record, ok := s.frames.Flush(); ok {
					if decision := s.processRecord(record); decision == Terminate {
						return s.terminalResult()
					}
				}
				s.collector.IncSessionCompleted()
				return nil
			}
			if ctx.Err() != nil {
				s.collector.IncSessionCanceled()
				return &SessionError{Kind: SessionErrorCanceled, Err: ctx.Err()}
			}
			return s.transportFailure(err)
		}
	}
}

func (s *Session) processRecord(record string) Decision {
	s.collector.IncRecordFramed()

	ev := Resolve(record)
	if ev == nil {
		// Malformed or empty records are skipped, never fatal.
		s.collector.IncDecodeError()
		s.logger.Debug("unresolvable record skipped", map[string]any{
			"record_len": len(record),
		})
		return Continue
	}
	s.collector.IncEventResolved()

	if s.tape != nil {
		if err := s.tape.WriteEvent(*ev); err != nil {
			s.logger.Warn("tape write failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	return s.dispatcher.Dispatch(ev)
}

func (s *Session) terminalResult() error {
	if err := s.dispatcher.DeliveredError(); err != nil {
		s.collector.IncSessionFailed()
		return &SessionError{Kind: SessionErrorApplication, Err: err}
	}
	s.collector.IncSessionCompleted()
	return nil
}

func (s *Session) transportFailure(err error) error {
	s.logger.Error("transport error", map[string]any{
		"error": err.Error(),
	})
	s.dispatcher.DeliverTransportError(fmt.Errorf("stream read: %w", err))
	s.collector.IncSessionFailed()
	return &SessionError{Kind: SessionErrorTransport, Err: err}
}
