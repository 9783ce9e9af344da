package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"

	"github.com/quantrail/fixmirror/internal/copyrule"
	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/fix/builder"
	"github.com/quantrail/fixmirror/internal/refdata"
)

// Sender emits outbound messages on the order-entry session.
type Sender interface {
	Send(msg *quickfix.Message) error
}

// Config tunes the locate engine.
type Config struct {
	// Broker restricts locate route selection when a copy rule names no
	// route and no broker of its own.
	Broker string
	// Timeout is how long a request may stay PENDING before expiry.
	Timeout time.Duration
}

// Engine drives the locate state machine. A primary short order stages draft
// shadow orders and raises one LocateRequest per shadow; offers and
// confirmations move the request through its states, and an APPROVED_*
// transition atomically consumes the staged drafts.
type Engine struct {
	cfg     Config
	locates domain.LocateStore
	orders  domain.OrderStore
	events  domain.EventStore
	ref     *refdata.Cache
	mapper  *Mapper
	sender  Sender
	decide  DecisionService
	bus     domain.EventBus
	logger  *slog.Logger
	clock   func() time.Time
}

// NewEngine wires the locate engine.
func NewEngine(
	cfg Config,
	locates domain.LocateStore,
	orders domain.OrderStore,
	events domain.EventStore,
	ref *refdata.Cache,
	mapper *Mapper,
	sender Sender,
	decide DecisionService,
	bus domain.EventBus,
	logger *slog.Logger,
) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &Engine{
		cfg:     cfg,
		locates: locates,
		orders:  orders,
		events:  events,
		ref:     ref,
		mapper:  mapper,
		sender:  sender,
		decide:  decide,
		bus:     bus,
		logger:  logger.With(slog.String("component", "locate_engine")),
		clock:   time.Now,
	}
}

// selectRoute picks the locate route for a copy target: the rule's own
// locate route when set, otherwise the first active locate route by priority
// on the rule's broker (falling back to the configured default broker).
func (e *Engine) selectRoute(target copyrule.Target) (string, error) {
	if target.LocateRoute != "" {
		return target.LocateRoute, nil
	}
	broker := target.CopyBroker
	if broker == "" {
		broker = e.cfg.Broker
	}
	if r, ok := e.ref.FirstLocateRoute(broker); ok {
		return r.Name, nil
	}
	// Broker-agnostic fallback before giving up.
	if r, ok := e.ref.FirstLocateRoute(""); ok {
		return r.Name, nil
	}
	return "", domain.ErrNoLocateRoute
}

// RequestLocate raises the borrow workflow for one shadow copy of a primary
// short order: stage the draft shadow, emit the quote request, persist the
// PENDING LocateRequest.
func (e *Engine) RequestLocate(ctx context.Context, rep fix.ExecReport, target copyrule.Target) error {
	route, err := e.selectRoute(target)
	if err != nil {
		return fmt.Errorf("locate: %s %s: %w", rep.Symbol, target.ShadowAccount, err)
	}

	quoteReqID, err := e.mapper.NewQuoteReqID(ctx, Mapping{
		ShadowAccount:  target.ShadowAccount,
		PrimaryClOrdID: rep.ClOrdID,
		Route:          route,
	})
	if err != nil {
		return err
	}

	if err := e.stageDraft(ctx, rep, target); err != nil {
		return err
	}

	var primaryID uuid.UUID
	if primary, perr := e.orders.GetByClOrdID(ctx, rep.ClOrdID); perr == nil {
		primaryID = primary.ID
	}

	now := e.clock().UTC()
	lr := domain.LocateRequest{
		ID:             uuid.New(),
		OrderID:        primaryID,
		PrimaryClOrdID: rep.ClOrdID,
		AccountNumber:  target.ShadowAccount,
		Symbol:         rep.Symbol,
		Quantity:       target.Qty,
		Status:         domain.LocatePending,
		FixQuoteReqID:  quoteReqID,
		LocateRoute:    route,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.locates.Create(ctx, lr); err != nil {
		return fmt.Errorf("locate: persist request %s: %w", quoteReqID, err)
	}

	msg, err := builder.BuildLocateQuoteRequest(builder.LocateQuoteParams{
		QuoteReqID:  quoteReqID,
		Account:     target.ShadowAccount,
		Symbol:      rep.Symbol,
		Qty:         target.Qty,
		LocateRoute: route,
	})
	if err != nil {
		return err
	}
	if err := e.sender.Send(msg); err != nil {
		e.logger.Error("locate quote request send failed",
			slog.String("quote_req_id", quoteReqID),
			slog.String("symbol", rep.Symbol),
			slog.String("error", err.Error()),
		)
		e.publish(ctx, domain.BusSendFailed, lr, err.Error())
		return err
	}

	e.logger.Info("locate quote requested",
		slog.String("quote_req_id", quoteReqID),
		slog.String("symbol", rep.Symbol),
		slog.String("shadow_account", target.ShadowAccount),
		slog.String("route", route),
		slog.String("qty", target.Qty.String()),
	)
	e.publish(ctx, domain.BusLocateRequested, lr, "")
	return nil
}

// stageDraft records the deferred sell-short shadow as a DRAFT order with a
// staged event. Idempotent on the canonical shadow ClOrdID.
func (e *Engine) stageDraft(ctx context.Context, rep fix.ExecReport, target copyrule.Target) error {
	// Store the wire form so the released order matches the draft row.
	clOrdID := builder.ClampClOrdID(domain.ShadowClOrdID(target.ShadowAccount, rep.ClOrdID))
	if _, err := e.orders.GetByClOrdID(ctx, clOrdID); err == nil {
		return nil // already staged
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("locate: check draft %s: %w", clOrdID, err)
	}

	now := e.clock().UTC()
	draft := domain.Order{
		ID:             uuid.New(),
		AccountNumber:  target.ShadowAccount,
		PrimaryClOrdID: rep.ClOrdID,
		FixClOrdID:     clOrdID,
		Symbol:         rep.Symbol,
		Side:           rep.Side,
		OrdType:        rep.OrdType,
		TimeInForce:    rep.TimeInForce,
		Qty:            target.Qty,
		Price:          rep.Price,
		StopPx:         rep.StopPx,
		ExDestination:  target.ResolveRoute(false, rep.ExDestination),
		Status:         domain.OrderStatusDraft,
		EventTime:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.orders.Create(ctx, draft); err != nil {
		return fmt.Errorf("locate: stage draft %s: %w", clOrdID, err)
	}

	ev := domain.OrderEvent{
		ID:         domain.NewEventID(),
		OrderID:    draft.ID,
		ExecID:     "STG-" + draft.ID.String(),
		ExecType:   domain.ExecTypeStaged,
		FixClOrdID: clOrdID,
		Account:    target.ShadowAccount,
		Symbol:     rep.Symbol,
		Side:       rep.Side,
		OrdType:    rep.OrdType,
		Qty:        target.Qty,
		EventTime:  now,
		SessionID:  rep.SessionID,
	}
	if _, err := e.events.AppendEvent(ctx, ev); err != nil {
		e.logger.Error("staged event append failed",
			slog.String("cl_ord_id", clOrdID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// HandleQuoteResponse processes a TYPE_0/TYPE_2 broker quote (MsgType S):
// record the offer on the request and emit the locate buy order to the
// shadow account. Emission is at-most-once via a synthetic ExecID.
func (e *Engine) HandleQuoteResponse(ctx context.Context, rep fix.ExecReport) error {
	quoteReqID := rep.QuoteReqID
	if quoteReqID == "" {
		quoteReqID = rep.ClOrdID
	}

	mapping, ok := e.mapper.Resolve(ctx, quoteReqID)
	lr, err := e.locates.GetByQuoteReqID(ctx, quoteReqID)
	if err != nil {
		if !ok {
			e.logger.Warn("quote response for unknown request",
				slog.String("quote_req_id", quoteReqID),
				slog.String("symbol", rep.Symbol),
			)
			return nil
		}
		return fmt.Errorf("locate: request %s missing: %w", quoteReqID, err)
	}
	if !ok {
		// Best-effort recovery from the persisted request.
		mapping = Mapping{
			ShadowAccount:  lr.AccountNumber,
			PrimaryClOrdID: lr.PrimaryClOrdID,
			Route:          lr.LocateRoute,
		}
	}
	if lr.Status.Terminal() {
		return nil
	}

	offerPx := rep.OfferPx
	if offerPx.IsZero() {
		offerPx = rep.Price
	}
	offerSize := rep.OfferSize
	if offerSize.IsZero() {
		offerSize = rep.Qty
	}

	lr.OfferPx = offerPx
	lr.OfferSize = offerSize
	lr.ApprovedQty = offerSize
	lr.LocateRoute = mapping.Route
	lr.ResponseMessage = rep.Text
	lr.UpdatedAt = e.clock().UTC()
	if err := e.locates.Update(ctx, lr); err != nil {
		return fmt.Errorf("locate: update request %s: %w", quoteReqID, err)
	}

	buyClOrdID := builder.ClampClOrdID(domain.ShadowClOrdID(mapping.ShadowAccount, mapping.PrimaryClOrdID))

	// The locate buy may only go out once per request.
	inserted, err := e.events.AppendEvent(ctx, domain.OrderEvent{
		ID:         domain.NewEventID(),
		ExecID:     "LOCBUY-" + quoteReqID,
		ExecType:   domain.ExecTypeStaged,
		FixClOrdID: buyClOrdID,
		Account:    mapping.ShadowAccount,
		Symbol:     rep.Symbol,
		Side:       fix.SideBuy,
		OrdType:    fix.OrdTypeMarket,
		Qty:        offerSize,
		EventTime:  e.clock().UTC(),
		SessionID:  rep.SessionID,
	})
	if err != nil {
		return fmt.Errorf("locate: record locate buy %s: %w", quoteReqID, err)
	}
	if !inserted {
		return nil // duplicate quote response
	}

	msg := builder.BuildNewOrderSingle(builder.NewOrderParams{
		Account:       mapping.ShadowAccount,
		ClOrdID:       buyClOrdID,
		Symbol:        rep.Symbol,
		Side:          fix.SideBuy,
		OrdType:       fix.OrdTypeMarket,
		TimeInForce:   fix.TIFDay,
		Qty:           offerSize,
		ExDestination: mapping.Route,
	})
	if err := e.sender.Send(msg); err != nil {
		e.logger.Error("locate buy send failed",
			slog.String("quote_req_id", quoteReqID),
			slog.String("error", err.Error()),
		)
		e.publish(ctx, domain.BusSendFailed, lr, err.Error())
		return err
	}

	e.logger.Info("locate buy emitted",
		slog.String("quote_req_id", quoteReqID),
		slog.String("symbol", rep.Symbol),
		slog.String("shadow_account", mapping.ShadowAccount),
		slog.String("offer_px", offerPx.String()),
		slog.String("offer_size", offerSize.String()),
	)
	return nil
}

// HandleCalculated processes an ExecutionReport with OrdStatus=B. When the
// ClOrdID matches a QuoteReqID we issued, this is the broker confirming our
// locate: approve the request and release the deferred shadows. Anything
// else is an unsolicited TYPE_1 offer for the decision service.
func (e *Engine) HandleCalculated(ctx context.Context, rep fix.ExecReport) error {
	if lr, err := e.locates.GetByQuoteReqID(ctx, rep.ClOrdID); err == nil {
		return e.confirm(ctx, lr, rep)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("locate: lookup %s: %w", rep.ClOrdID, err)
	}
	if rep.QuoteReqID != "" {
		if lr, err := e.locates.GetByQuoteReqID(ctx, rep.QuoteReqID); err == nil {
			return e.confirm(ctx, lr, rep)
		}
	}
	return e.handleOffer(ctx, rep)
}

// confirm moves a request to APPROVED_FULL or APPROVED_PARTIAL and releases
// the deferred shadow orders.
func (e *Engine) confirm(ctx context.Context, lr domain.LocateRequest, rep fix.ExecReport) error {
	if lr.Status.Terminal() || lr.Status.Approved() {
		return nil
	}

	approved := lr.ApprovedQty
	if qty := rep.LastQty; qty.IsPositive() {
		approved = qty
	} else if rep.Qty.IsPositive() {
		approved = rep.Qty
	}
	lr.ApprovedQty = approved
	if approved.GreaterThanOrEqual(lr.Quantity) {
		lr.Status = domain.LocateApprovedFull
	} else {
		lr.Status = domain.LocateApprovedPartial
	}
	lr.ResponseMessage = rep.Text
	lr.UpdatedAt = e.clock().UTC()
	if err := e.locates.Update(ctx, lr); err != nil {
		return fmt.Errorf("locate: approve %s: %w", lr.FixQuoteReqID, err)
	}

	e.logger.Info("locate approved",
		slog.String("quote_req_id", lr.FixQuoteReqID),
		slog.String("symbol", lr.Symbol),
		slog.String("status", string(lr.Status)),
		slog.String("approved_qty", approved.String()),
	)
	e.publish(ctx, domain.BusLocateApproved, lr, "")
	return e.releaseDrafts(ctx, lr)
}

// handleOffer answers an unsolicited TYPE_1 offer: accept it against the
// matching pending request, or reject it and requote on an alternative
// route when one exists.
func (e *Engine) handleOffer(ctx context.Context, rep fix.ExecReport) error {
	lr, found, err := e.pendingForSymbol(ctx, rep.Symbol)
	if err != nil {
		return err
	}
	if !found {
		e.logger.Warn("unsolicited locate offer with no pending request",
			slog.String("symbol", rep.Symbol),
			slog.String("fix_order_id", rep.OrderID),
		)
		return nil
	}

	if e.decide.Accept(rep) {
		msg := builder.BuildLocateAccept(builder.LocateOfferParams{
			OrderID: rep.OrderID,
			Account: lr.AccountNumber,
			Symbol:  rep.Symbol,
			Qty:     lr.Quantity,
		})
		if err := e.sender.Send(msg); err != nil {
			e.publish(ctx, domain.BusSendFailed, lr, err.Error())
			return err
		}
		lr.OfferPx = rep.OfferPx
		lr.OfferSize = rep.OfferSize
		if lr.OfferSize.IsZero() {
			lr.OfferSize = rep.LastQty
		}
		return e.confirm(ctx, lr, rep)
	}

	reject := builder.BuildLocateReject(builder.LocateOfferParams{
		OrderID: rep.OrderID,
		Account: lr.AccountNumber,
		Symbol:  rep.Symbol,
		Text:    "offer declined",
	})
	if err := e.sender.Send(reject); err != nil {
		e.publish(ctx, domain.BusSendFailed, lr, err.Error())
		return err
	}

	next, ok := e.ref.NextLocateRoute(lr.LocateRoute)
	if !ok {
		lr.Status = domain.LocateRejected
		lr.ResponseMessage = "offer declined, no alternative route"
		lr.UpdatedAt = e.clock().UTC()
		if err := e.locates.Update(ctx, lr); err != nil {
			return err
		}
		e.publish(ctx, domain.BusLocateRejected, lr, lr.ResponseMessage)
		return e.cancelDrafts(ctx, lr)
	}

	quoteReqID, err := e.mapper.NewQuoteReqID(ctx, Mapping{
		ShadowAccount:  lr.AccountNumber,
		PrimaryClOrdID: lr.PrimaryClOrdID,
		Route:          next.Name,
	})
	if err != nil {
		return err
	}
	msg, err := builder.BuildLocateQuoteRequest(builder.LocateQuoteParams{
		QuoteReqID:  quoteReqID,
		Account:     lr.AccountNumber,
		Symbol:      lr.Symbol,
		Qty:         lr.Quantity,
		LocateRoute: next.Name,
	})
	if err != nil {
		return err
	}
	if err := e.sender.Send(msg); err != nil {
		e.publish(ctx, domain.BusSendFailed, lr, err.Error())
		return err
	}

	lr.FixQuoteReqID = quoteReqID
	lr.LocateRoute = next.Name
	lr.UpdatedAt = e.clock().UTC()
	if err := e.locates.Update(ctx, lr); err != nil {
		return err
	}
	e.logger.Info("locate requoted on alternative route",
		slog.String("quote_req_id", quoteReqID),
		slog.String("symbol", lr.Symbol),
		slog.String("route", next.Name),
	)
	return nil
}

// HandleLocateRejection fails every outstanding request for the primary
// order. Called when a reject text names the locate; no automatic retry.
func (e *Engine) HandleLocateRejection(ctx context.Context, primaryClOrdID, reason string) error {
	requests, err := e.locates.ListByPrimaryClOrdID(ctx, primaryClOrdID)
	if err != nil {
		return fmt.Errorf("locate: list requests for %s: %w", primaryClOrdID, err)
	}
	for _, lr := range requests {
		if lr.Status.Terminal() || lr.Status.Approved() {
			continue
		}
		lr.Status = domain.LocateRejected
		lr.ResponseMessage = reason
		lr.UpdatedAt = e.clock().UTC()
		if err := e.locates.Update(ctx, lr); err != nil {
			return err
		}
		e.publish(ctx, domain.BusLocateRejected, lr, reason)
		if err := e.cancelDrafts(ctx, lr); err != nil {
			return err
		}
	}
	return nil
}

// CancelPending retires outstanding requests for a primary order whose
// cancel arrived before the locate resolved. Nothing is sent to the broker;
// the quote simply goes unanswered.
func (e *Engine) CancelPending(ctx context.Context, primaryClOrdID string) error {
	requests, err := e.locates.ListByPrimaryClOrdID(ctx, primaryClOrdID)
	if err != nil {
		return fmt.Errorf("locate: list requests for %s: %w", primaryClOrdID, err)
	}
	for _, lr := range requests {
		if lr.Status != domain.LocatePending {
			continue
		}
		lr.Status = domain.LocateCancelled
		lr.ResponseMessage = "primary order cancelled"
		lr.UpdatedAt = e.clock().UTC()
		if err := e.locates.Update(ctx, lr); err != nil {
			return err
		}
		e.logger.Info("locate request cancelled",
			slog.String("quote_req_id", lr.FixQuoteReqID),
			slog.String("symbol", lr.Symbol),
		)
		if err := e.cancelDrafts(ctx, lr); err != nil {
			return err
		}
	}
	return nil
}

// releaseDrafts finalises the staged shadow orders for an approved request:
// emit the sell-short with the full primary attributes and mark it NEW.
func (e *Engine) releaseDrafts(ctx context.Context, lr domain.LocateRequest) error {
	drafts, err := e.orders.ListDrafts(ctx, lr.PrimaryClOrdID)
	if err != nil {
		return fmt.Errorf("locate: list drafts for %s: %w", lr.PrimaryClOrdID, err)
	}
	for _, d := range drafts {
		if d.AccountNumber != lr.AccountNumber {
			continue
		}
		msg := builder.BuildNewOrderSingle(builder.NewOrderParams{
			Account:       d.AccountNumber,
			ClOrdID:       d.FixClOrdID,
			Symbol:        d.Symbol,
			Side:          d.Side,
			OrdType:       d.OrdType,
			TimeInForce:   d.TimeInForce,
			Qty:           d.Qty,
			Price:         d.Price,
			StopPx:        d.StopPx,
			ExDestination: d.ExDestination,
		})
		if err := e.sender.Send(msg); err != nil {
			e.logger.Error("deferred shadow send failed",
				slog.String("cl_ord_id", d.FixClOrdID),
				slog.String("error", err.Error()),
			)
			e.publish(ctx, domain.BusSendFailed, lr, err.Error())
			return err
		}
		if err := e.orders.UpdateStatus(ctx, d.ID, domain.OrderStatusNew); err != nil {
			return fmt.Errorf("locate: finalise draft %s: %w", d.FixClOrdID, err)
		}
		e.logger.Info("deferred shadow released",
			slog.String("cl_ord_id", d.FixClOrdID),
			slog.String("symbol", d.Symbol),
			slog.String("qty", d.Qty.String()),
		)
	}
	return nil
}

// cancelDrafts retires staged shadows for a failed request; nothing is sent.
func (e *Engine) cancelDrafts(ctx context.Context, lr domain.LocateRequest) error {
	drafts, err := e.orders.ListDrafts(ctx, lr.PrimaryClOrdID)
	if err != nil {
		return fmt.Errorf("locate: list drafts for %s: %w", lr.PrimaryClOrdID, err)
	}
	for _, d := range drafts {
		if d.AccountNumber != lr.AccountNumber {
			continue
		}
		if err := e.orders.UpdateStatus(ctx, d.ID, domain.OrderStatusCancelled); err != nil {
			return fmt.Errorf("locate: cancel draft %s: %w", d.FixClOrdID, err)
		}
	}
	return nil
}

// ExpirePending transitions PENDING requests older than the timeout to
// EXPIRED and retires their drafts. Called by the monitor.
func (e *Engine) ExpirePending(ctx context.Context) error {
	cutoff := e.clock().UTC().Add(-e.cfg.Timeout)
	pending, err := e.locates.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("locate: list pending: %w", err)
	}
	for _, lr := range pending {
		lr.Status = domain.LocateExpired
		lr.UpdatedAt = e.clock().UTC()
		if err := e.locates.Update(ctx, lr); err != nil {
			return err
		}
		e.logger.Warn("locate request expired",
			slog.String("quote_req_id", lr.FixQuoteReqID),
			slog.String("symbol", lr.Symbol),
			slog.String("shadow_account", lr.AccountNumber),
		)
		e.publish(ctx, domain.BusLocateExpired, lr, "")
		if err := e.cancelDrafts(ctx, lr); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pendingForSymbol(ctx context.Context, symbol string) (domain.LocateRequest, bool, error) {
	pending, err := e.locates.ListPendingBefore(ctx, e.clock().UTC().Add(time.Second))
	if err != nil {
		return domain.LocateRequest{}, false, fmt.Errorf("locate: list pending: %w", err)
	}
	for _, lr := range pending {
		if lr.Symbol == symbol {
			return lr, true, nil
		}
	}
	return domain.LocateRequest{}, false, nil
}

func (e *Engine) publish(ctx context.Context, kind domain.BusEventKind, lr domain.LocateRequest, detail string) {
	err := e.bus.Publish(ctx, domain.BusEvent{
		Kind:           kind,
		PrimaryClOrdID: lr.PrimaryClOrdID,
		ShadowClOrdID:  domain.ShadowClOrdID(lr.AccountNumber, lr.PrimaryClOrdID),
		Account:        lr.AccountNumber,
		Symbol:         lr.Symbol,
		Detail:         detail,
		At:             e.clock().UTC(),
	})
	if err != nil {
		e.logger.Debug("bus publish failed", slog.String("error", err.Error()))
	}
}
