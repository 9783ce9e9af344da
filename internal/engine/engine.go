// Package engine applies inbound execution reports to the event log and
// fans primary order activity out to the shadow accounts. One dispatcher
// receives every application message; per-order serialisation is provided by
// the keyed executor, state by the stores, and routing by the copy rules.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/quickfixgo/quickfix"

	"github.com/quantrail/fixmirror/internal/copyrule"
	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/refdata"
)

// handlerTimeout bounds one event's processing, stores included.
const handlerTimeout = 15 * time.Second

// Sender emits outbound messages on the order-entry session.
type Sender interface {
	Send(msg *quickfix.Message) error
}

// LocateService is the short-sale workflow consumed by the engine.
// Implemented by locate.Engine.
type LocateService interface {
	RequestLocate(ctx context.Context, rep fix.ExecReport, target copyrule.Target) error
	HandleQuoteResponse(ctx context.Context, rep fix.ExecReport) error
	HandleCalculated(ctx context.Context, rep fix.ExecReport) error
	HandleLocateRejection(ctx context.Context, primaryClOrdID, reason string) error
	CancelPending(ctx context.Context, primaryClOrdID string) error
}

// Config tunes the replication engine.
type Config struct {
	// Workers bounds cross-order parallelism of the executor.
	Workers int
	// RetryRoutes re-emits a shadow order without an explicit destination
	// after a route-unavailable reject. Off by default; the reject text
	// often names an alternative the desk wants to choose manually.
	RetryRoutes bool
}

// Engine is the replication core.
type Engine struct {
	cfg        Config
	events     domain.EventStore
	orders     domain.OrderStore
	ref        *refdata.Cache
	classifier *Classifier
	eval       *copyrule.Evaluator
	sender     Sender
	locates    LocateService
	bus        domain.EventBus
	exec       *KeyedExecutor
	logger     *slog.Logger
	clock      func() time.Time

	replaceSeq atomic.Uint64
}

// New wires the engine.
func New(
	cfg Config,
	events domain.EventStore,
	orders domain.OrderStore,
	ref *refdata.Cache,
	eval *copyrule.Evaluator,
	sender Sender,
	locates LocateService,
	bus domain.EventBus,
	logger *slog.Logger,
) *Engine {
	if bus == nil {
		bus = domain.NopBus{}
	}
	return &Engine{
		cfg:        cfg,
		events:     events,
		orders:     orders,
		ref:        ref,
		classifier: NewClassifier(ref, logger),
		eval:       eval,
		sender:     sender,
		locates:    locates,
		bus:        bus,
		exec:       NewKeyedExecutor(cfg.Workers, logger),
		logger:     logger.With(slog.String("component", "engine")),
		clock:      time.Now,
	}
}

// HandleAppMessage implements fix.AppMessageHandler. The session callback
// must return quickly, so the parsed report is queued on its serial key and
// processed off the session thread.
func (e *Engine) HandleAppMessage(msg *quickfix.Message, sid quickfix.SessionID, role fix.Role) {
	rep := fix.ParseExecReport(msg, sid, role)
	key := rep.SerialKey()
	err := e.exec.Submit(key, func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := e.Process(ctx, rep); err != nil {
			e.logger.Error("event processing failed",
				slog.String("exec_id", rep.ExecID),
				slog.String("cl_ord_id", rep.ClOrdID),
				slog.String("msg_type", rep.MsgType),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		e.logger.Warn("event dropped during shutdown",
			slog.String("exec_id", rep.ExecID),
			slog.String("cl_ord_id", rep.ClOrdID),
		)
	}
}

// Process applies one decoded message. Exposed for the handler tests; the
// session path goes through HandleAppMessage.
func (e *Engine) Process(ctx context.Context, rep fix.ExecReport) error {
	switch rep.MsgType {
	case fix.MsgTypeQuote:
		return e.locates.HandleQuoteResponse(ctx, rep)
	case fix.MsgTypeOrderCancelReject:
		return e.handleCancelReject(ctx, rep)
	case fix.MsgTypeExecutionReport:
		return e.processExecReport(ctx, rep)
	}
	e.logger.Debug("ignoring message type", slog.String("msg_type", rep.MsgType))
	return nil
}

// processExecReport persists the event exactly once and dispatches on the
// (ExecType, OrdStatus) pair. A duplicate ExecID ends processing before any
// side effect.
func (e *Engine) processExecReport(ctx context.Context, rep fix.ExecReport) error {
	inserted, err := e.events.ApplyEvent(ctx, rep.Event())
	if err != nil {
		return err
	}
	if !inserted {
		e.logger.Debug("duplicate event skipped",
			slog.String("exec_id", rep.ExecID),
			slog.String("cl_ord_id", rep.ClOrdID),
		)
		return nil
	}

	cls := e.classifier.Classify(rep)

	// Ordered dispatch; the first matching row wins.
	switch {
	case rep.ExecType == fix.ExecTypeNew && rep.OrdStatus == fix.OrdStatusNew:
		return e.handleNewOrder(ctx, rep, cls)
	case rep.ExecType == fix.ExecTypePartialFill || rep.ExecType == fix.ExecTypeFill:
		return e.handleFill(ctx, rep, cls)
	case rep.ExecType == fix.ExecTypeCanceled && rep.OrdStatus == fix.OrdStatusCanceled:
		return e.handleCancelled(ctx, rep, cls)
	case rep.ExecType == fix.ExecTypeReplaced && rep.OrdStatus == fix.OrdStatusReplaced:
		return e.handleReplaced(ctx, rep, cls)
	case rep.ExecType == fix.ExecTypePendingCancel && rep.OrdStatus == fix.OrdStatusPendingCancel:
		e.logPending(rep, "pending cancel")
		return nil
	case rep.ExecType == fix.ExecTypePendingReplace && rep.OrdStatus == fix.OrdStatusPendingReplace:
		e.logPending(rep, "pending replace")
		return nil
	case rep.OrdStatus == fix.OrdStatusRejected:
		return e.handleRejected(ctx, rep, cls)
	case rep.OrdStatus == fix.OrdStatusCalculated:
		return e.locates.HandleCalculated(ctx, rep)
	}

	e.logger.Debug("unhandled execution report",
		slog.String("exec_type", rep.ExecType),
		slog.String("ord_status", rep.OrdStatus),
		slog.String("cl_ord_id", rep.ClOrdID),
	)
	return nil
}

func (e *Engine) logPending(rep fix.ExecReport, what string) {
	e.logger.Debug(what,
		slog.String("cl_ord_id", rep.ClOrdID),
		slog.String("symbol", rep.Symbol),
	)
}

// handleCancelReject records a broker refusal of one of our cancels or
// replaces. The shadow stays in its previous state; the next drop-copy event
// for the primary drives any further action.
func (e *Engine) handleCancelReject(ctx context.Context, rep fix.ExecReport) error {
	e.logger.Warn("cancel reject",
		slog.String("cl_ord_id", rep.ClOrdID),
		slog.String("orig_cl_ord_id", rep.OrigClOrdID),
		slog.String("text", rep.Text),
	)
	e.publishFor(ctx, domain.BusSendFailed, rep, "cancel rejected: "+rep.Text)
	return nil
}

// nextReplaceID derives a wire ClOrdID for a chained replace. The canonical
// shadow identity stays COPY-<shadow>-<original primary>; the wire ID gains a
// uniquifying suffix whenever the primary kept its ClOrdID, because the bare
// base was already consumed by an earlier send. The stored ID alone cannot
// decide this: after the first suffixed replace it no longer equals the base.
func (e *Engine) nextReplaceID(base, current string, primaryKeptID bool) string {
	if !primaryKeptID && base != current {
		return base
	}
	return base + "-R" + strconv.FormatUint(e.replaceSeq.Add(1), 10)
}

func (e *Engine) publishFor(ctx context.Context, kind domain.BusEventKind, rep fix.ExecReport, detail string) {
	shadowClOrdID := ""
	primary := rep.ClOrdID
	if _, p, ok := domain.ParseShadowClOrdID(rep.ClOrdID); ok {
		shadowClOrdID = rep.ClOrdID
		primary = p
	}
	err := e.bus.Publish(ctx, domain.BusEvent{
		Kind:           kind,
		PrimaryClOrdID: primary,
		ShadowClOrdID:  shadowClOrdID,
		Account:        rep.Account,
		Symbol:         rep.Symbol,
		Detail:         detail,
		At:             e.clock().UTC(),
	})
	if err != nil {
		e.logger.Debug("bus publish failed", slog.String("error", err.Error()))
	}
}

// Close drains the executor.
func (e *Engine) Close(ctx context.Context) error {
	return e.exec.Close(ctx)
}
