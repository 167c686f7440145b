package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Tokens:  StaticToken("test-token"),
	}, cache.NewStore(), log.NewNop())
	return c, server
}

func TestClient_GetProduct(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inventory/0123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("apikey") != "test-key" {
			t.Error("apikey header missing")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("bearer token missing")
		}
		if r.URL.Query().Get("clientActivityId") != "act-1" {
			t.Error("clientActivityId missing")
		}
		w.Write([]byte(`{"barcode":"0123","name":"Soda","brand":"Fizz Co"}`))
	}))

	product, err := c.GetProduct(context.Background(), "0123", "act-1")
	if err != nil {
		t.Fatalf("GetProduct() = %v", err)
	}
	if product.Name != "Soda" || product.Brand != "Fizz Co" {
		t.Errorf("product = %+v", product)
	}
}

func TestClient_GetProductNotFound(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetProduct(context.Background(), "0000", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Errorf("err = %v, want APIError with status 404", err)
	}
}

func TestClient_GetScanLegacyStatus(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/scan/s1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":"s1","status":"idle","analysis_status":"complete","analysis_result":{"overall_match":"matched"}}`))
	}))

	scan, err := c.GetScan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetScan() = %v", err)
	}
	if scan.State != types.StateDone {
		t.Errorf("State = %q, want done (idle+complete)", scan.State)
	}
}

func TestClient_CreateScan(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/scan" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("clientActivityId") == "" {
			t.Error("clientActivityId missing")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"s9","state":"fetching_product_info"}`))
	}))

	scan, err := c.CreateScan(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateScan() = %v", err)
	}
	if scan.ID != "s9" || scan.State != types.StateFetchingProductInfo {
		t.Errorf("scan = %+v", scan)
	}

	// The initial snapshot seeds the store.
	if _, ok := c.Store().Get("s9"); !ok {
		t.Error("created scan not in store")
	}
}

func TestClient_GetScanHistory(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "10" || r.URL.Query().Get("offset") != "20" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"scans":[{"id":"s1","state":"done"}],"total":21,"has_more":false}`))
	}))

	history, err := c.GetScanHistory(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("GetScanHistory() = %v", err)
	}
	if len(history.Scans) != 1 || history.Total != 21 {
		t.Errorf("history = %+v", history)
	}
}

func TestClient_SubmitFeedback(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/feedback" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rating := 1
	err := c.SubmitFeedback(context.Background(), "act-1", types.Feedback{Rating: &rating})
	if err != nil {
		t.Fatalf("SubmitFeedback() = %v", err)
	}
}

func TestClient_SubmitFeedbackRejected(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // anything but 201 is a failure
	}))

	if err := c.SubmitFeedback(context.Background(), "act-1", types.Feedback{}); err == nil {
		t.Fatal("SubmitFeedback should fail on non-201 status")
	}
}

func TestClient_AnalyzeBarcode(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("barcode") != "0123" {
			t.Errorf("barcode = %q", r.PostForm.Get("barcode"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: scan\ndata: {\"id\":\"s1\",\"state\":\"analyzing\",\"barcode\":\"0123\",\"product_info\":{\"name\":\"Soda\"}}\n\n"))
		w.Write([]byte("event: scan\ndata: {\"id\":\"s1\",\"state\":\"done\",\"analysis_result\":{\"overall_match\":\"matched\",\"ingredient_analysis\":[{\"ingredient\":\"water\",\"match\":\"matched\"}]}}\n\n"))
	}))

	var products int32
	entry, err := c.AnalyzeBarcode(context.Background(), "0123", "", stream.UnifiedHandlers{
		OnProduct: func(*types.Product) { atomic.AddInt32(&products, 1) },
	})
	if err != nil {
		t.Fatalf("AnalyzeBarcode() = %v", err)
	}

	if entry.Product == nil || entry.Product.Name != "Soda" {
		t.Errorf("entry.Product = %+v", entry.Product)
	}
	if entry.MatchStatus != types.MatchYes {
		t.Errorf("MatchStatus = %q, want match", entry.MatchStatus)
	}
	if products == 0 {
		t.Error("product handler never fired")
	}

	// The snapshots also landed in the scan store, keyed by barcode.
	scan, ok := c.Store().Get("0123")
	if !ok || scan.State != types.StateDone {
		t.Errorf("cached scan = %+v, want done", scan)
	}
}

func TestClient_AnalyzeBarcodeDedup(t *testing.T) {
	var requests int32
	release := make(chan struct{})

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-release // hold the stream open until both callers have joined
		w.Write([]byte("event: scan\ndata: {\"id\":\"s1\",\"state\":\"done\",\"product_info\":{\"name\":\"Soda\"}}\n\n"))
	}))

	var wg sync.WaitGroup
	entries := make([]cache.AnalysisEntry, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		entries[0], errs[0] = c.AnalyzeBarcode(context.Background(), "0123", "", stream.UnifiedHandlers{})
	}()

	// Give the leader time to register before the follower joins.
	time.Sleep(50 * time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		entries[1], errs[1] = c.AnalyzeBarcode(context.Background(), "0123", "", stream.UnifiedHandlers{})
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("underlying requests = %d, want 1", n)
	}
	for i := range 2 {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if entries[i].Product == nil || entries[i].Product.Name != "Soda" {
			t.Errorf("caller %d entry = %+v", i, entries[i])
		}
	}
}

func TestClient_AnalyzeBarcodeHTTPFailure(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	var handlerErrs []error
	entry, err := c.AnalyzeBarcode(context.Background(), "0000", "", stream.UnifiedHandlers{
		OnError: func(err error) { handlerErrs = append(handlerErrs, err) },
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(handlerErrs) != 1 {
		t.Fatalf("error handler invoked %d times, want 1", len(handlerErrs))
	}
	if !entry.NotFound {
		t.Error("entry.NotFound = false, want true")
	}
	if entry.ErrorMessage == "" {
		t.Error("entry.ErrorMessage not recorded")
	}
}

func TestClient_Chat(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte("event: turn\ndata: {\"conversation_id\":\"c1\",\"turn_id\":\"t1\",\"state\":\"thinking\"}\n\n"))
		w.Write([]byte("event: turn\ndata: {\"conversation_id\":\"c1\",\"turn_id\":\"t1\",\"state\":\"done\",\"response\":\"It contains peanuts.\"}\n\n"))
	}))

	var thinking, responses []types.ChatTurn
	err := c.Chat(context.Background(), "c1", "does this contain peanuts?", stream.ChatHandlers{
		OnThinking: func(turn types.ChatTurn) { thinking = append(thinking, turn) },
		OnResponse: func(turn types.ChatTurn) { responses = append(responses, turn) },
	})
	if err != nil {
		t.Fatalf("Chat() = %v", err)
	}
	if len(thinking) != 1 || len(responses) != 1 {
		t.Fatalf("thinking = %d responses = %d, want 1 and 1", len(thinking), len(responses))
	}
	if responses[0].Response != "It contains peanuts." {
		t.Errorf("response = %q", responses[0].Response)
	}
}

func TestClient_WatchScanMergesSnapshots(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/scan/s1/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte("event: scan\ndata: {\"id\":\"s1\",\"state\":\"analyzing\",\"product_info\":{\"name\":\"Soda\"}}\n\n"))
		w.Write([]byte("event: scan\ndata: {\"id\":\"s1\",\"state\":\"done\"}\n\n"))
	}))

	if err := c.WatchScan(context.Background(), "s1", stream.BarcodeHandlers{}); err != nil {
		t.Fatalf("WatchScan() = %v", err)
	}

	scan, ok := c.Store().Get("s1")
	if !ok || scan.State != types.StateDone {
		t.Fatalf("cached scan = %+v, want done", scan)
	}
	// Layering kept the product info from the earlier snapshot.
	if scan.ProductInfo == nil || scan.ProductInfo.Name != "Soda" {
		t.Errorf("ProductInfo = %+v, want Soda", scan.ProductInfo)
	}
	if c.Store().ProducerLive("s1") {
		t.Error("producer slot still held after stream ended")
	}
}

func TestClient_SubmitImage(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/scan/s1/image" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		if r.MultipartForm.Value["imageOCRText"][0] != "INGREDIENTS: water" {
			t.Error("ocr text missing")
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"queued":true,"queue_position":1,"content_hash":"abc"}`))
	}))

	resp, err := c.SubmitImage(context.Background(), "s1", []byte("jpegbytes"), types.ImageInfo{
		ImageFileHash: "abc",
		ImageOCRText:  "INGREDIENTS: water",
	})
	if err != nil {
		t.Fatalf("SubmitImage() = %v", err)
	}
	if !resp.Queued || resp.QueuePosition != 1 {
		t.Errorf("resp = %+v", resp)
	}
}
