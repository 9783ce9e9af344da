package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quantrail/fixmirror/internal/copyrule"
	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/fix/builder"
)

// handleNewOrder fans a freshly acknowledged primary order out to the shadow
// accounts. Shadow and observed events are already recorded; nothing more
// happens for them here.
func (e *Engine) handleNewOrder(ctx context.Context, rep fix.ExecReport, cls Classification) error {
	if !cls.Replicate() {
		e.logger.Debug("new order ack recorded",
			slog.String("origin", string(cls.Origin)),
			slog.String("cl_ord_id", rep.ClOrdID),
		)
		return nil
	}
	if cls.IsLocateOrder {
		// The primary's own locate buy. Shadows run their own locate
		// workflow; copying this order would double-borrow.
		e.logger.Info("primary locate order recorded, not replicated",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("symbol", rep.Symbol),
		)
		return nil
	}
	if rep.OrdType == fix.OrdTypeStopLimit {
		// Stop-limits stay with the primary desk. Recorded for the audit
		// trail only.
		e.logger.Info("stop limit recorded, not replicated",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("symbol", rep.Symbol),
		)
		return nil
	}

	targets := e.eval.Evaluate(rep.Account, rep.OrdType, rep.Qty)
	if len(targets) == 0 {
		e.logger.Warn("no applicable copy rules",
			slog.String("account", rep.Account),
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("ord_type", rep.OrdType),
			slog.String("qty", rep.Qty.String()),
		)
		return nil
	}

	var errs []error
	if fix.IsShortSide(rep.Side) {
		for _, t := range targets {
			if err := e.locates.RequestLocate(ctx, rep, t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, t := range targets {
		if err := e.emitShadow(ctx, rep, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emitShadow sends one shadow copy and records it. Idempotent on the
// canonical shadow ClOrdID so a replayed primary ack cannot double-send.
func (e *Engine) emitShadow(ctx context.Context, rep fix.ExecReport, t copyrule.Target) error {
	clOrdID := builder.ClampClOrdID(domain.ShadowClOrdID(t.ShadowAccount, rep.ClOrdID))
	if _, err := e.orders.GetByClOrdID(ctx, clOrdID); err == nil {
		e.logger.Debug("shadow already replicated", slog.String("cl_ord_id", clOrdID))
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("engine: check shadow %s: %w", clOrdID, err)
	}

	route := t.ResolveRoute(false, rep.ExDestination)
	msg := builder.BuildNewOrderSingle(builder.NewOrderParams{
		Account:       t.ShadowAccount,
		ClOrdID:       clOrdID,
		Symbol:        rep.Symbol,
		Side:          rep.Side,
		OrdType:       rep.OrdType,
		TimeInForce:   rep.TimeInForce,
		Qty:           t.Qty,
		Price:         rep.Price,
		StopPx:        rep.StopPx,
		ExDestination: route,
	})
	if err := e.sender.Send(msg); err != nil {
		e.logger.Error("shadow order send failed",
			slog.String("cl_ord_id", clOrdID),
			slog.String("symbol", rep.Symbol),
			slog.String("error", err.Error()),
		)
		e.publishFor(ctx, domain.BusSendFailed, rep, err.Error())
		return err
	}

	now := e.clock().UTC()
	shadow := domain.Order{
		ID:             uuid.New(),
		AccountNumber:  t.ShadowAccount,
		PrimaryClOrdID: rep.ClOrdID,
		FixClOrdID:     clOrdID,
		Symbol:         rep.Symbol,
		Side:           rep.Side,
		OrdType:        rep.OrdType,
		TimeInForce:    rep.TimeInForce,
		Qty:            t.Qty,
		Price:          rep.Price,
		StopPx:         rep.StopPx,
		ExDestination:  route,
		Status:         domain.OrderStatusNew,
		EventTime:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.orders.Create(ctx, shadow); err != nil {
		return fmt.Errorf("engine: record shadow %s: %w", clOrdID, err)
	}
	if _, err := e.events.AppendEvent(ctx, domain.OrderEvent{
		ID:            domain.NewEventID(),
		OrderID:       shadow.ID,
		ExecID:        "STG-" + shadow.ID.String(),
		ExecType:      domain.ExecTypeStaged,
		FixClOrdID:    shadow.FixClOrdID,
		Account:       t.ShadowAccount,
		Symbol:        rep.Symbol,
		Side:          rep.Side,
		OrdType:       rep.OrdType,
		TimeInForce:   rep.TimeInForce,
		Qty:           t.Qty,
		Price:         rep.Price,
		StopPx:        rep.StopPx,
		ExDestination: route,
		EventTime:     now,
		SessionID:     rep.SessionID,
	}); err != nil {
		e.logger.Error("staged event append failed",
			slog.String("cl_ord_id", clOrdID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("order replicated",
		slog.String("primary_cl_ord_id", rep.ClOrdID),
		slog.String("shadow_cl_ord_id", shadow.FixClOrdID),
		slog.String("shadow_account", t.ShadowAccount),
		slog.String("symbol", rep.Symbol),
		slog.String("qty", t.Qty.String()),
		slog.String("route", route),
	)
	e.publishFor(ctx, domain.BusOrderReplicated, rep, shadow.FixClOrdID)
	return nil
}
