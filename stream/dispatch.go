package stream

import (
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/types"
)

// Decision tells the read loop whether the session continues after an
// event is processed.
type Decision int

const (
	// Continue keeps the session open for further records.
	Continue Decision = iota
	// Terminate ends the session; remaining bytes are not processed.
	Terminate
)

// UnifiedHandlers receive unified-analysis protocol callbacks. Any nil
// handler is skipped. OnError is invoked at most once per session.
type UnifiedHandlers struct {
	OnSnapshot func(types.Scan)
	OnProduct  func(*types.Product)
	OnAnalysis func([]types.IngredientRecommendation)
	OnError    func(error)
}

// BarcodeHandlers receive barcode-scan protocol callbacks.
type BarcodeHandlers struct {
	OnSnapshot    func(types.Scan)
	OnProductInfo func(info *types.ProductInfo, scanID, source string, images []types.ScanImage)
	OnAnalysis    func(*types.AnalysisResult)
	OnError       func(err error, scanID string)
}

// ChatHandlers receive chat protocol callbacks. Turns do not terminate
// the session; a chat connection stays open across turns.
type ChatHandlers struct {
	OnThinking func(types.ChatTurn)
	OnResponse func(types.ChatTurn)
	OnError    func(error)
}

// Dispatcher routes resolved events to caller-supplied handlers and
// decides whether the session terminates. One dispatcher serves one
// session; it is driven from the single read loop and holds the
// at-most-once error delivery state.
type Dispatcher struct {
	protocol  types.Protocol
	unified   UnifiedHandlers
	barcode   BarcodeHandlers
	chat      ChatHandlers
	logger    *log.Logger
	collector *metrics.Collector

	errDelivered bool
	deliveredErr error
	terminated   bool
}

// NewUnifiedDispatcher creates a dispatcher for the unified-analysis protocol.
func NewUnifiedDispatcher(handlers UnifiedHandlers, logger *log.Logger, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		protocol:  types.ProtocolUnifiedAnalysis,
		unified:   handlers,
		logger:    logger,
		collector: collector,
	}
}

// NewBarcodeDispatcher creates a dispatcher for the barcode-scan protocol.
func NewBarcodeDispatcher(handlers BarcodeHandlers, logger *log.Logger, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		protocol:  types.ProtocolBarcodeScan,
		barcode:   handlers,
		logger:    logger,
		collector: collector,
	}
}

// NewChatDispatcher creates a dispatcher for the chat protocol.
func NewChatDispatcher(handlers ChatHandlers, logger *log.Logger, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		protocol:  types.ProtocolChat,
		chat:      handlers,
		logger:    logger,
		collector: collector,
	}
}

// Dispatch routes one resolved event. Payload decode failures are
// logged and swallowed; a single bad event never ends the session.
// Events arriving after termination are dropped.
func (d *Dispatcher) Dispatch(ev *ResolvedEvent) Decision {
	if ev == nil {
		return Continue
	}
	if d.terminated {
		d.collector.IncEventDropped(ev.Type)
		return Terminate
	}

	var decision Decision
	switch d.protocol {
	case types.ProtocolUnifiedAnalysis:
		decision = d.dispatchUnified(ev)
	case types.ProtocolBarcodeScan:
		decision = d.dispatchBarcode(ev)
	case types.ProtocolChat:
		decision = d.dispatchChat(ev)
	default:
		d.dropEvent(ev, "unknown protocol")
		decision = Continue
	}

	if decision == Terminate {
		d.terminated = true
	}
	return decision
}

// ErrorDelivered reports whether the session's error handler has fired.
func (d *Dispatcher) ErrorDelivered() bool {
	return d.errDelivered
}

// DeliveredError returns the terminal failure handed to the error
// handler, or nil if none fired.
func (d *Dispatcher) DeliveredError() error {
	return d.deliveredErr
}

// DeliverTransportError surfaces a mid-stream transport failure through
// the protocol's error handler, subject to the same at-most-once rule
// as server error events. Called by the session, not the read loop.
func (d *Dispatcher) DeliverTransportError(err error) {
	d.deliverError(err, "")
	d.terminated = true
}

func (d *Dispatcher) dispatchUnified(ev *ResolvedEvent) Decision {
	switch ev.Type {
	case "scan":
		var scan types.Scan
		if err := unmarshalPayload(ev.Payload, &scan); err != nil {
			d.decodeFailure(ev, err)
			return Continue
		}
		return d.routeUnifiedScan(scan)

	case "product":
		var product types.Product
		if err := unmarshalPayload(ev.Payload, &product); err != nil {
			d.decodeFailure(ev, err)
			return Continue
		}
		if d.unified.OnProduct != nil {
			d.unified.OnProduct(&product)
		}
		return Continue

	case "analysis":
		// The legacy analysis event does not terminate: the older
		// protocol kept the connection open after delivering it.
		var recs []types.IngredientRecommendation
		if err := unmarshalPayload(ev.Payload, &recs); err != nil {
			d.decodeFailure(ev, err)
			return Continue
		}
		if d.unified.OnAnalysis != nil {
			d.unified.OnAnalysis(recs)
		}
		return Continue

	case "error":
		d.deliverError(d.parseErrorEvent(ev.Payload), "")
		return Terminate

	default:
		d.dropEvent(ev, "unknown event type")
		return Continue
	}
}

// routeUnifiedScan routes a scan snapshot by its own lifecycle state.
// Early states are informational; no caller callback fires until the
// product identity is usable.
func (d *Dispatcher) routeUnifiedScan(scan types.Scan) Decision {
	if d.unified.OnSnapshot != nil {
		d.unified.OnSnapshot(scan)
	}

	switch scan.State {
	case types.StateFetchingProductInfo, types.StateProcessingImages:
		return Continue

	case types.StateAnalyzing:
		if p := scan.LegacyProduct(); p != nil && d.unified.OnProduct != nil {
			d.unified.OnProduct(p)
		}
		return Continue

	case types.StateDone:
		if p := scan.LegacyProduct(); p != nil && d.unified.OnProduct != nil {
			d.unified.OnProduct(p)
		}
		if d.unified.OnAnalysis != nil {
			d.unified.OnAnalysis(scan.AnalysisResult.Recommendations())
		}
		return Terminate

	case types.StateError:
		d.deliverError(&ApplicationError{Message: scan.ErrorMessage}, scan.ID)
		return Terminate

	default:
		d.collector.IncEventDropped("scan")
		d.logger.Warn("scan snapshot with unknown state", map[string]any{
			"scan_id": scan.ID,
			"state":   string(scan.State),
		})
		return Continue
	}
}

func (d *Dispatcher) dispatchBarcode(ev *ResolvedEvent) Decision {
	if ev.Type != "scan" {
		d.dropEvent(ev, "unknown event type")
		return Continue
	}

	var scan types.Scan
	if err := unmarshalPayload(ev.Payload, &scan); err != nil {
		d.decodeFailure(ev, err)
		return Continue
	}
	if d.barcode.OnSnapshot != nil {
		d.barcode.OnSnapshot(scan)
	}

	switch scan.State {
	case types.StateFetchingProductInfo:
		return Continue

	case types.StateProcessingImages, types.StateAnalyzing:
		if scan.ProductInfo != nil && d.barcode.OnProductInfo != nil {
			d.barcode.OnProductInfo(scan.ProductInfo, scan.ID, scan.ProductInfoSource, scan.Images)
		}
		return Continue

	case types.StateDone:
		if scan.ProductInfo != nil && d.barcode.OnProductInfo != nil {
			d.barcode.OnProductInfo(scan.ProductInfo, scan.ID, scan.ProductInfoSource, scan.Images)
		}
		if d.barcode.OnAnalysis != nil {
			d.barcode.OnAnalysis(scan.AnalysisResult)
		}
		return Terminate

	case types.StateError:
		d.deliverError(&ApplicationError{Message: scan.ErrorMessage}, scan.ID)
		return Terminate

	default:
		d.collector.IncEventDropped("scan")
		d.logger.Warn("scan snapshot with unknown state", map[string]any{
			"scan_id": scan.ID,
			"state":   string(scan.State),
		})
		return Continue
	}
}

func (d *Dispatcher) dispatchChat(ev *ResolvedEvent) Decision {
	switch ev.Type {
	case "turn":
		var turn types.ChatTurn
		if err := unmarshalPayload(ev.Payload, &turn); err != nil {
			d.decodeFailure(ev, err)
			return Continue
		}
		switch turn.State {
		case types.TurnThinking:
			if d.chat.OnThinking != nil {
				d.chat.OnThinking(turn)
			}
		case types.TurnDone:
			if d.chat.OnResponse != nil {
				d.chat.OnResponse(turn)
			}
		default:
			d.collector.IncEventDropped("turn")
			d.logger.Warn("turn with unknown state", map[string]any{
				"turn_id": turn.TurnID,
				"state":   string(turn.State),
			})
		}
		return Continue

	case "error":
		d.deliverError(d.parseErrorEvent(ev.Payload), "")
		return Terminate

	default:
		d.dropEvent(ev, "unknown event type")
		return Continue
	}
}

// deliverError invokes the protocol's error handler at most once per
// session. Later terminal failures are logged and dropped.
func (d *Dispatcher) deliverError(err error, scanID string) {
	if d.errDelivered {
		d.logger.Debug("error after error handler fired, dropped", map[string]any{
			"error": err.Error(),
		})
		return
	}
	d.errDelivered = true
	d.deliveredErr = err

	switch d.protocol {
	case types.ProtocolUnifiedAnalysis:
		if d.unified.OnError != nil {
			d.unified.OnError(err)
		}
	case types.ProtocolBarcodeScan:
		if d.barcode.OnError != nil {
			d.barcode.OnError(err, scanID)
		}
	case types.ProtocolChat:
		if d.chat.OnError != nil {
			d.chat.OnError(err)
		}
	}
}

func (d *Dispatcher) parseErrorEvent(payload string) *ApplicationError {
	var wire applicationErrorWire
	if err := unmarshalPayload(payload, &wire); err != nil || wire.toError().Message == "" {
		// Opaque payload; surface it verbatim rather than lose it.
		return &ApplicationError{Message: payload}
	}
	return wire.toError()
}

func (d *Dispatcher) decodeFailure(ev *ResolvedEvent, err error) {
	d.collector.IncDecodeError()
	d.logger.Warn("payload decode failed, event dropped", map[string]any{
		"event_type": ev.Type,
		"error":      err.Error(),
	})
}

func (d *Dispatcher) dropEvent(ev *ResolvedEvent, reason string) {
	d.collector.IncEventDropped(ev.Type)
	d.logger.Debug("event dropped", map[string]any{
		"event_type": ev.Type,
		"reason":     reason,
	})
}
