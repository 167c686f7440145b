package stream

import (
	"testing"

	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/types"
)

func TestDispatcher_UnifiedScanRouting(t *testing.T) {
	var products []*types.Product
	var analyses [][]types.IngredientRecommendation
	var errs []error
	var snapshots []types.Scan

	d := NewUnifiedDispatcher(UnifiedHandlers{
		OnSnapshot: func(s types.Scan) { snapshots = append(snapshots, s) },
		OnProduct:  func(p *types.Product) { products = append(products, p) },
		OnAnalysis: func(r []types.IngredientRecommendation) { analyses = append(analyses, r) },
		OnError:    func(err error) { errs = append(errs, err) },
	}, log.NewNop(), metrics.NewCollector("unified_analysis", "stream", "0123"))

	// Early states fire no caller callbacks.
	dec := d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"fetching_product_info"}`})
	if dec != Continue {
		t.Fatal("fetching_product_info should continue")
	}
	if len(products)+len(analyses)+len(errs) != 0 {
		t.Error("early state fired a caller callback")
	}

	// Analyzing delivers the derived product.
	dec = d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"analyzing","barcode":"0123","product_info":{"name":"Soda"}}`})
	if dec != Continue {
		t.Fatal("analyzing should continue")
	}
	if len(products) != 1 || products[0].Name != "Soda" {
		t.Fatalf("products = %+v, want one Soda", products)
	}

	// Done delivers product then analysis and terminates.
	dec = d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"done","barcode":"0123","product_info":{"name":"Soda"},"analysis_result":{"ingredient_analysis":[{"ingredient":"peanut","match":"unmatched"}]}}`})
	if dec != Terminate {
		t.Fatal("done should terminate")
	}
	if len(products) != 2 {
		t.Errorf("len(products) = %d, want 2", len(products))
	}
	if len(analyses) != 1 || len(analyses[0]) != 1 || analyses[0][0].SafetyRecommendation != types.SafetyDefinitelyUnsafe {
		t.Errorf("analyses = %+v, want one unsafe recommendation", analyses)
	}
	if len(errs) != 0 {
		t.Errorf("errs = %v, want none", errs)
	}
	if len(snapshots) != 3 {
		t.Errorf("len(snapshots) = %d, want 3", len(snapshots))
	}
}

func TestDispatcher_UnifiedDoneWithoutProductInfo(t *testing.T) {
	var analyses int
	d := NewUnifiedDispatcher(UnifiedHandlers{
		// Handlers read fields unconditionally; the dispatcher must not
		// hand them a nil derived product.
		OnProduct:  func(p *types.Product) { _ = p.Name },
		OnAnalysis: func([]types.IngredientRecommendation) { analyses++ },
	}, log.NewNop(), metrics.NewCollector("unified_analysis", "stream", "0123"))

	dec := d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"done"}`})
	if dec != Terminate {
		t.Fatal("done should terminate")
	}
	if analyses != 1 {
		t.Errorf("analysis handler invoked %d times, want 1", analyses)
	}
}

func TestDispatcher_UnifiedLegacyEvents(t *testing.T) {
	var products []*types.Product
	var analyses [][]types.IngredientRecommendation

	d := NewUnifiedDispatcher(UnifiedHandlers{
		OnProduct:  func(p *types.Product) { products = append(products, p) },
		OnAnalysis: func(r []types.IngredientRecommendation) { analyses = append(analyses, r) },
	}, log.NewNop(), metrics.NewCollector("unified_analysis", "stream", "0123"))

	if dec := d.Dispatch(&ResolvedEvent{Type: "product", Payload: `{"name":"Soda","brand":"Fizz Co"}`}); dec != Continue {
		t.Fatal("product should continue")
	}
	if len(products) != 1 || products[0].Brand != "Fizz Co" {
		t.Fatalf("products = %+v", products)
	}

	// Legacy analysis keeps the connection open.
	if dec := d.Dispatch(&ResolvedEvent{Type: "analysis", Payload: `[{"ingredientName":"peanut","safetyRecommendation":"DefinitelyUnsafe"}]`}); dec != Continue {
		t.Fatal("legacy analysis should not terminate")
	}
	if len(analyses) != 1 || analyses[0][0].IngredientName != "peanut" {
		t.Fatalf("analyses = %+v", analyses)
	}
}

func TestDispatcher_ErrorHandlerAtMostOnce(t *testing.T) {
	var errs []error
	d := NewUnifiedDispatcher(UnifiedHandlers{
		OnError: func(err error) { errs = append(errs, err) },
	}, log.NewNop(), metrics.NewCollector("unified_analysis", "stream", "0123"))

	if dec := d.Dispatch(&ResolvedEvent{Type: "error", Payload: `{"message":"Service unavailable"}`}); dec != Terminate {
		t.Fatal("error should terminate")
	}
	// Consecutive error records after teardown must not re-invoke.
	d.Dispatch(&ResolvedEvent{Type: "error", Payload: `{"message":"again"}`})
	d.Dispatch(&ResolvedEvent{Type: "error", Payload: `{"message":"and again"}`})

	if len(errs) != 1 {
		t.Fatalf("error handler invoked %d times, want 1", len(errs))
	}
	if errs[0].Error() != "Service unavailable" {
		t.Errorf("error = %q, want Service unavailable", errs[0])
	}
	if !d.ErrorDelivered() {
		t.Error("ErrorDelivered() = false, want true")
	}
}

func TestDispatcher_ErrorPayloadSpellings(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantMsg    string
		wantStatus int
	}{
		{"message and status", `{"message":"boom","status":500}`, "boom", 500},
		{"error and statusCode", `{"error":"boom","statusCode":503}`, "boom", 503},
		{"opaque payload", `total garbage`, "total garbage", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *ApplicationError
			d := NewUnifiedDispatcher(UnifiedHandlers{
				OnError: func(err error) { got, _ = err.(*ApplicationError) },
			}, log.NewNop(), metrics.NewCollector("unified_analysis", "stream", "0123"))

			d.Dispatch(&ResolvedEvent{Type: "error", Payload: tt.payload})
			if got == nil {
				t.Fatal("error handler did not receive an ApplicationError")
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
		})
	}
}

func TestDispatcher_BarcodeRouting(t *testing.T) {
	var infoIDs []string
	var analyses []*types.AnalysisResult
	var errScanIDs []string

	d := NewBarcodeDispatcher(BarcodeHandlers{
		OnProductInfo: func(info *types.ProductInfo, scanID, source string, images []types.ScanImage) {
			infoIDs = append(infoIDs, scanID)
		},
		OnAnalysis: func(r *types.AnalysisResult) { analyses = append(analyses, r) },
		OnError:    func(err error, scanID string) { errScanIDs = append(errScanIDs, scanID) },
	}, log.NewNop(), metrics.NewCollector("barcode_scan", "stream", "0123"))

	d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"analyzing","product_info":{"name":"Soda"}}`})
	if len(infoIDs) != 1 || infoIDs[0] != "s1" {
		t.Fatalf("infoIDs = %v, want [s1]", infoIDs)
	}

	dec := d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s1","state":"done","product_info":{"name":"Soda"},"analysis_result":{"overall_match":"matched"}}`})
	if dec != Terminate {
		t.Fatal("done should terminate")
	}
	if len(analyses) != 1 || analyses[0].OverallMatch != "matched" {
		t.Fatalf("analyses = %+v", analyses)
	}
	if len(errScanIDs) != 0 {
		t.Errorf("errScanIDs = %v, want none", errScanIDs)
	}
}

func TestDispatcher_BarcodeErrorState(t *testing.T) {
	var gotErr error
	var gotID string
	d := NewBarcodeDispatcher(BarcodeHandlers{
		OnError: func(err error, scanID string) { gotErr, gotID = err, scanID },
	}, log.NewNop(), metrics.NewCollector("barcode_scan", "stream", "0123"))

	dec := d.Dispatch(&ResolvedEvent{Type: "scan", Payload: `{"id":"s9","state":"error","error":"lookup failed"}`})
	if dec != Terminate {
		t.Fatal("error state should terminate")
	}
	if gotID != "s9" {
		t.Errorf("scanID = %q, want s9", gotID)
	}
	if gotErr == nil || gotErr.Error() != "lookup failed" {
		t.Errorf("err = %v, want lookup failed", gotErr)
	}
}

func TestDispatcher_ChatRouting(t *testing.T) {
	var thinking, responses []types.ChatTurn
	var errs []error

	d := NewChatDispatcher(ChatHandlers{
		OnThinking: func(turn types.ChatTurn) { thinking = append(thinking, turn) },
		OnResponse: func(turn types.ChatTurn) { responses = append(responses, turn) },
		OnError:    func(err error) { errs = append(errs, err) },
	}, log.NewNop(), metrics.NewCollector("chat", "stream", "conv-1"))

	// Turns never terminate; the connection stays open between them.
	if dec := d.Dispatch(&ResolvedEvent{Type: "turn", Payload: `{"conversation_id":"c1","turn_id":"t1","state":"thinking"}`}); dec != Continue {
		t.Fatal("thinking turn should continue")
	}
	if dec := d.Dispatch(&ResolvedEvent{Type: "turn", Payload: `{"conversation_id":"c1","turn_id":"t1","state":"done","response":"hello"}`}); dec != Continue {
		t.Fatal("done turn should continue")
	}
	if dec := d.Dispatch(&ResolvedEvent{Type: "turn", Payload: `{"conversation_id":"c1","turn_id":"t2","state":"thinking"}`}); dec != Continue {
		t.Fatal("second turn should continue")
	}

	if len(thinking) != 2 {
		t.Errorf("len(thinking) = %d, want 2", len(thinking))
	}
	if len(responses) != 1 || responses[0].Response != "hello" {
		t.Errorf("responses = %+v", responses)
	}

	if dec := d.Dispatch(&ResolvedEvent{Type: "error", Payload: `{"error":"model overloaded"}`}); dec != Terminate {
		t.Fatal("chat error should terminate")
	}
	if len(errs) != 1 {
		t.Errorf("len(errs) = %d, want 1", len(errs))
	}
}

func TestDispatcher_UnknownEventDropped(t *testing.T) {
	c := metrics.NewCollector("unified_analysis", "stream", "0123")
	d := NewUnifiedDispatcher(UnifiedHandlers{}, log.NewNop(), c)

	if dec := d.Dispatch(&ResolvedEvent{Type: "telemetry", Payload: `{}`}); dec != Continue {
		t.Fatal("unknown event should not terminate")
	}

	s := c.Snapshot()
	if s.DroppedByType["telemetry"] != 1 {
		t.Errorf("DroppedByType[telemetry] = %d, want 1", s.DroppedByType["telemetry"])
	}
}

func TestDispatcher_MalformedPayloadContinues(t *testing.T) {
	c := metrics.NewCollector("unified_analysis", "stream", "0123")
	var products []*types.Product
	d := NewUnifiedDispatcher(UnifiedHandlers{
		OnProduct: func(p *types.Product) { products = append(products, p) },
	}, log.NewNop(), c)

	if dec := d.Dispatch(&ResolvedEvent{Type: "product", Payload: `{{{broken`}); dec != Continue {
		t.Fatal("decode failure should not terminate the session")
	}
	if len(products) != 0 {
		t.Error("handler fired for an undecodable payload")
	}
	if c.Snapshot().DecodeErrors != 1 {
		t.Error("decode error not counted")
	}

	// The session still processes later well-formed events.
	d.Dispatch(&ResolvedEvent{Type: "product", Payload: `{"name":"Soda"}`})
	if len(products) != 1 {
		t.Error("well-formed event after a bad one was not processed")
	}
}
