package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/types"
)

// Default timeouts. Streams stay open across the whole server-side
// analysis, so their ceiling is much higher than single-shot calls.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultStreamTimeout  = 120 * time.Second
)

// TokenProvider supplies the bearer token for each request. Token
// acquisition and refresh live outside this package.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token. For tests and
// long-lived service keys.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Config holds client construction parameters.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1".
	BaseURL string
	// APIKey is sent on every request in the apikey header.
	APIKey string
	// Tokens supplies per-request bearer tokens.
	Tokens TokenProvider
	// RequestTimeout bounds single-shot calls. Zero uses the default.
	RequestTimeout time.Duration
	// StreamTimeout bounds streaming calls end to end. Zero uses the default.
	StreamTimeout time.Duration
	// HTTPClient overrides the transport. Nil uses a fresh client; the
	// per-call timeouts above still apply via request contexts.
	HTTPClient *http.Client
}

// Client is the backend API client. It owns the in-flight dedup table
// for analyze requests and writes every snapshot it sees into the store.
type Client struct {
	cfg    Config
	http   *http.Client
	store  *cache.Store
	logger *log.Logger

	inflight inflightTable
}

// New creates a client. The store must be the process-wide instance;
// stream and poll results for the same key reconcile through it.
func New(cfg Config, store *cache.Store, logger *log.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		store:    store,
		logger:   logger,
		inflight: newInflightTable(),
	}
}

// Store returns the scan store this client writes into.
func (c *Client) Store() *cache.Store {
	return c.store
}

// NewActivityID mints a client activity id correlating one user action
// across requests.
func NewActivityID() string {
	return uuid.NewString()
}

// GetProduct fetches product identity for a barcode from inventory.
// Returns ErrNotFound when the barcode is unknown.
func (c *Client) GetProduct(ctx context.Context, barcode, activityID string) (*types.Product, error) {
	const op = "get_product"
	q := url.Values{}
	if activityID != "" {
		q.Set("clientActivityId", activityID)
	}

	var product types.Product
	if err := c.getJSON(ctx, op, "/inventory/"+url.PathEscape(barcode), q, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetScan fetches the current snapshot of a scan by id. This is the
// polling fallback's fetch; wire it as a poll.FetchFunc via FetchScan.
func (c *Client) GetScan(ctx context.Context, scanID string) (types.Scan, error) {
	var scan types.Scan
	if err := c.getJSON(ctx, "get_scan", "/v2/scan/"+url.PathEscape(scanID), nil, &scan); err != nil {
		return types.Scan{}, err
	}
	return scan, nil
}

// CreateScan opens a new photo scan on the server and seeds the local
// store with its initial snapshot.
func (c *Client) CreateScan(ctx context.Context, activityID string) (types.Scan, error) {
	const op = "create_scan"
	q := url.Values{}
	q.Set("clientActivityId", activityOrNew(activityID))

	resp, err := c.do(ctx, op, http.MethodPost, "/v2/scan", q, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return types.Scan{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return types.Scan{}, statusError(op, resp.StatusCode)
	}
	var scan types.Scan
	if err := json.NewDecoder(resp.Body).Decode(&scan); err != nil {
		return types.Scan{}, wrapDecodeError(op, err)
	}
	c.store.Merge(scan.ID, scan)
	return scan, nil
}

// FetchScan is GetScan shaped for the polling controller.
func (c *Client) FetchScan(ctx context.Context, scanID string) (types.Scan, error) {
	return c.GetScan(ctx, scanID)
}

// GetScanHistory fetches one page of past scans, newest first.
func (c *Client) GetScanHistory(ctx context.Context, limit, offset int) (types.ScanHistory, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var history types.ScanHistory
	if err := c.getJSON(ctx, "get_scan_history", "/v2/scan/history", q, &history); err != nil {
		return types.ScanHistory{}, err
	}
	return history, nil
}

// SubmitFeedback posts user feedback for an activity. The server
// acknowledges with 201 and an empty body.
func (c *Client) SubmitFeedback(ctx context.Context, activityID string, feedback types.Feedback) error {
	const op = "submit_feedback"
	body, err := json.Marshal(feedback)
	if err != nil {
		return wrapDecodeError(op, err)
	}

	q := url.Values{}
	q.Set("clientActivityId", activityID)
	resp, err := c.do(ctx, op, http.MethodPost, "/feedback", q, "application/json", strings.NewReader(string(body)), c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return statusError(op, resp.StatusCode)
	}
	return nil
}

// SetFavorite flags a past scan on the server and mirrors the flag into
// the local cache.
func (c *Client) SetFavorite(ctx context.Context, scanID string, favorited bool) error {
	const op = "set_favorite"
	method := http.MethodPut
	if !favorited {
		method = http.MethodDelete
	}
	resp, err := c.do(ctx, op, method, "/v2/scan/"+url.PathEscape(scanID)+"/favorite", nil, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode)
	}
	c.store.SetFavorite(scanID, favorited)
	return nil
}

// getJSON issues a GET and decodes a JSON body.
func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, v any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, q, "", nil, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return wrapDecodeError(op, err)
	}
	return nil
}

// do builds and executes one request with auth headers attached. The
// caller owns the response body.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, contentType string, body io.Reader, timeout time.Duration) (*http.Response, error) {
	return c.doAccept(ctx, op, method, pathWithQuery(path, q), contentType, body, "", timeout)
}

// doAccept is do with an explicit Accept header, used by the streaming
// endpoints.
func (c *Client) doAccept(ctx context.Context, op, method, path, contentType string, body io.Reader, accept string, timeout time.Duration) (*http.Response, error) {
	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + path

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, reqURL, body)
	if err != nil {
		cancel()
		return nil, &APIError{Kind: ErrNetwork, Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if err := c.authorize(reqCtx, req); err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, wrapTransportError(op, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return &APIError{Kind: ErrAuth, Op: "token", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// cancelBody ties a request context's cancel to body close, so the
// timeout stays armed while a caller streams the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// pathWithQuery appends an encoded query string when q is non-empty.
func pathWithQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// drainClose consumes and closes a response body so the connection can
// be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// activityOrNew returns id, or a fresh activity id when empty.
func activityOrNew(id string) string {
	if id != "" {
		return id
	}
	return NewActivityID()
}
