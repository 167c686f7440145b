package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

// inflightTable deduplicates concurrent analyze requests per barcode.
// The first caller becomes the leader and owns the network stream;
// followers wait for the leader to finish and read the shared cache.
type inflightTable struct {
	mu    sync.Mutex
	calls map[string]chan struct{}
}

func newInflightTable() inflightTable {
	return inflightTable{calls: make(map[string]chan struct{})}
}

// join returns the in-flight channel for key and whether the caller is
// the leader. The leader must call finish when its stream ends.
func (t *inflightTable) join(key string) (chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if done, ok := t.calls[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	t.calls[key] = done
	return done, true
}

// finish closes the in-flight channel for key, releasing all followers.
func (t *inflightTable) finish(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if done, ok := t.calls[key]; ok {
		close(done)
		delete(t.calls, key)
	}
}

// AnalyzeBarcode runs a unified-analysis stream for a barcode and
// returns the final cached analysis entry. Concurrent calls for the
// same barcode share one underlying stream: only the first caller's
// handlers fire, and every caller observes the same cached result.
//
// The error handler fires at most once, for HTTP, transport, and
// application failures alike.
func (c *Client) AnalyzeBarcode(ctx context.Context, barcode, activityID string, handlers stream.UnifiedHandlers) (cache.AnalysisEntry, error) {
	const op = "analyze_barcode"
	done, leader := c.inflight.join(barcode)
	if !leader {
		select {
		case <-done:
			entry, _ := c.store.Analysis(barcode)
			return entry, nil
		case <-ctx.Done():
			return cache.AnalysisEntry{}, &APIError{Kind: ErrTimeout, Op: op, Err: ctx.Err()}
		}
	}
	defer c.inflight.finish(barcode)

	activityID = activityOrNew(activityID)
	c.store.PutAnalysis(barcode, cache.AnalysisEntry{CorrelationID: activityID})
	wrapped := c.recordingUnifiedHandlers(barcode, handlers)

	form := url.Values{}
	form.Set("barcode", barcode)
	form.Set("clientActivityId", activityID)

	resp, err := c.openStream(ctx, op, http.MethodPost, "/analyze", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		c.failAnalysis(barcode, wrapped, err)
		entry, _ := c.store.Analysis(barcode)
		return entry, err
	}
	defer resp.Body.Close()

	collector := metrics.NewCollector(string(types.ProtocolUnifiedAnalysis), "stream", barcode)
	dispatcher := stream.NewUnifiedDispatcher(wrapped, c.logger.WithSession(types.ProtocolUnifiedAnalysis, barcode), collector)
	runErr := stream.NewSession(resp.Body, dispatcher, c.logger.WithSession(types.ProtocolUnifiedAnalysis, barcode), collector).Run(ctx)

	entry, _ := c.store.Analysis(barcode)
	return entry, runErr
}

// recordingUnifiedHandlers layers cache writes under the caller's
// handlers so the analysis entry is current before any callback runs.
func (c *Client) recordingUnifiedHandlers(barcode string, h stream.UnifiedHandlers) stream.UnifiedHandlers {
	return stream.UnifiedHandlers{
		OnSnapshot: func(scan types.Scan) {
			c.store.Merge(barcode, scan)
			if h.OnSnapshot != nil {
				h.OnSnapshot(scan)
			}
		},
		OnProduct: func(p *types.Product) {
			c.store.UpdateAnalysis(barcode, func(e *cache.AnalysisEntry) {
				e.Product = p
				e.NotFound = false
			})
			if h.OnProduct != nil {
				h.OnProduct(p)
			}
		},
		OnAnalysis: func(recs []types.IngredientRecommendation) {
			c.store.UpdateAnalysis(barcode, func(e *cache.AnalysisEntry) {
				e.Recommendations = recs
				e.MatchStatus = types.ComputeMatch(recs)
			})
			if h.OnAnalysis != nil {
				h.OnAnalysis(recs)
			}
		},
		OnError: func(err error) {
			c.store.UpdateAnalysis(barcode, func(e *cache.AnalysisEntry) {
				e.ErrorMessage = err.Error()
				e.NotFound = errors.Is(err, ErrNotFound)
			})
			if h.OnError != nil {
				h.OnError(err)
			}
		},
	}
}

// failAnalysis surfaces a pre-stream failure (HTTP status, dial error)
// through the same error path events use. No partial state exists yet.
func (c *Client) failAnalysis(barcode string, wrapped stream.UnifiedHandlers, err error) {
	c.logger.Error("analyze stream failed before events", map[string]any{
		"barcode": barcode,
		"error":   err.Error(),
	})
	wrapped.OnError(err)
}

// WatchScan follows a scan's push stream, reconciling every snapshot
// into the store. A no-op when another producer is already live for the
// scan; the caller must not assume the stream ran.
func (c *Client) WatchScan(ctx context.Context, scanID string, handlers stream.BarcodeHandlers) error {
	return c.WatchScanRecorded(ctx, scanID, handlers, nil)
}

// WatchScanRecorded is WatchScan with every resolved event copied to a
// tape for later replay. A nil tape disables recording.
func (c *Client) WatchScanRecorded(ctx context.Context, scanID string, handlers stream.BarcodeHandlers, tape stream.TapeWriter) error {
	const op = "watch_scan"
	if !c.store.TryAcquire(scanID) {
		c.logger.Debug("producer already live, watch skipped", map[string]any{
			"scan_id": scanID,
		})
		return nil
	}
	defer c.store.Release(scanID)

	userSnapshot := handlers.OnSnapshot
	handlers.OnSnapshot = func(scan types.Scan) {
		c.store.Merge(scanID, scan)
		if userSnapshot != nil {
			userSnapshot(scan)
		}
	}

	resp, err := c.openStream(ctx, op, http.MethodGet, "/v2/scan/"+url.PathEscape(scanID)+"/events", "", nil)
	if err != nil {
		if handlers.OnError != nil {
			handlers.OnError(err, scanID)
		}
		return err
	}
	defer resp.Body.Close()

	collector := metrics.NewCollector(string(types.ProtocolBarcodeScan), "stream", scanID)
	dispatcher := stream.NewBarcodeDispatcher(handlers, c.logger.WithSession(types.ProtocolBarcodeScan, scanID), collector)
	session := stream.NewSession(resp.Body, dispatcher, c.logger.WithSession(types.ProtocolBarcodeScan, scanID), collector)
	if tape != nil {
		session = session.WithTape(tape)
	}
	return session.Run(ctx)
}

// chatRequest is the chat endpoint's JSON body.
type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Chat sends one user message and follows the turn stream until the
// connection closes. Turns do not terminate the session server-side;
// the stream ends when the server hangs up or ctx is canceled.
func (c *Client) Chat(ctx context.Context, conversationID, message string, handlers stream.ChatHandlers) error {
	const op = "chat"
	body, err := json.Marshal(chatRequest{ConversationID: conversationID, Message: message})
	if err != nil {
		return wrapDecodeError(op, err)
	}

	resp, err := c.openStream(ctx, op, http.MethodPost, "/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		if handlers.OnError != nil {
			handlers.OnError(err)
		}
		return err
	}
	defer resp.Body.Close()

	collector := metrics.NewCollector(string(types.ProtocolChat), "stream", conversationID)
	dispatcher := stream.NewChatDispatcher(handlers, c.logger.WithSession(types.ProtocolChat, conversationID), collector)
	return stream.NewSession(resp.Body, dispatcher, c.logger.WithSession(types.ProtocolChat, conversationID), collector).Run(ctx)
}

// SubmitImage uploads one captured photo for a scan as multipart form
// data, with any client-side OCR text and detected barcode attached.
func (c *Client) SubmitImage(ctx context.Context, scanID string, image []byte, info types.ImageInfo) (types.SubmitImageResponse, error) {
	const op = "submit_image"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", info.ImageFileHash+".jpg")
	if err != nil {
		return types.SubmitImageResponse{}, wrapDecodeError(op, err)
	}
	if _, err := part.Write(image); err != nil {
		return types.SubmitImageResponse{}, wrapDecodeError(op, err)
	}
	if info.ImageOCRText != "" {
		_ = mw.WriteField("imageOCRText", info.ImageOCRText)
	}
	if info.Barcode != "" {
		_ = mw.WriteField("barcode", info.Barcode)
	}
	if err := mw.Close(); err != nil {
		return types.SubmitImageResponse{}, wrapDecodeError(op, err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/v2/scan/"+url.PathEscape(scanID)+"/image", nil, mw.FormDataContentType(), &buf, c.cfg.RequestTimeout)
	if err != nil {
		return types.SubmitImageResponse{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return types.SubmitImageResponse{}, statusError(op, resp.StatusCode)
	}
	var submitted types.SubmitImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return types.SubmitImageResponse{}, wrapDecodeError(op, err)
	}
	return submitted, nil
}

// openStream issues a streaming request and verifies the status before
// any bytes are framed. The caller owns the body.
func (c *Client) openStream(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	resp, err := c.doAccept(ctx, op, method, path, contentType, body, "text/event-stream", c.cfg.StreamTimeout)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		return nil, statusError(op, resp.StatusCode)
	}
	return resp, nil
}
