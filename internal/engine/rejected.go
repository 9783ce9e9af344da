package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/fix/builder"
)

// handleRejected processes a broker rejection. A rejected shadow may carry a
// locate failure or a route failure in its text; everything else is recorded
// and surfaced on the bus. A rejected primary withdraws any pending locates
// raised for it.
func (e *Engine) handleRejected(ctx context.Context, rep fix.ExecReport, cls Classification) error {
	text := strings.ToLower(rep.Text)

	if cls.Origin == OriginShadow {
		if ord, err := e.orders.GetByClOrdID(ctx, rep.ClOrdID); err == nil {
			if uerr := e.orders.UpdateStatus(ctx, ord.ID, domain.OrderStatusRejected); uerr != nil {
				return uerr
			}
		}

		if strings.Contains(text, "locate") {
			e.logger.Warn("shadow rejected for missing locate",
				slog.String("cl_ord_id", rep.ClOrdID),
				slog.String("text", rep.Text),
			)
			return e.locates.HandleLocateRejection(ctx, cls.PrimaryClOrdID, rep.Text)
		}

		if strings.Contains(text, "route") {
			e.logger.Warn("shadow rejected for route",
				slog.String("cl_ord_id", rep.ClOrdID),
				slog.String("text", rep.Text),
			)
			e.publishFor(ctx, domain.BusOrderRejected, rep, rep.Text)
			if e.cfg.RetryRoutes {
				return e.retryWithoutRoute(ctx, rep)
			}
			return nil
		}

		e.logger.Warn("shadow rejected",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("text", rep.Text),
		)
		e.publishFor(ctx, domain.BusOrderRejected, rep, rep.Text)
		return nil
	}

	if cls.Replicate() {
		e.logger.Info("primary order rejected",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("text", rep.Text),
		)
		e.publishFor(ctx, domain.BusOrderRejected, rep, rep.Text)
		return e.locates.CancelPending(ctx, rep.ClOrdID)
	}

	e.logger.Debug("observed rejection recorded", slog.String("cl_ord_id", rep.ClOrdID))
	return nil
}

// retryWithoutRoute re-emits a route-rejected shadow with no explicit
// destination, letting the broker pick its default. The reject must carry
// Symbol, Side, Account, and a price (AvgPx or LastPx); anything less stays a
// permanent rejection. One retry per order: a second route reject of the
// re-emitted copy is final. The rejected ClOrdID may not be reused, so the
// retry gets a fresh suffix.
func (e *Engine) retryWithoutRoute(ctx context.Context, rep fix.ExecReport) error {
	if rep.Symbol == "" || rep.Side == "" || rep.Account == "" ||
		(!rep.AvgPx.IsPositive() && !rep.LastPx.IsPositive()) {
		e.logger.Warn("route retry skipped, reject missing required fields",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("error", domain.ErrMissingField.Error()),
		)
		return nil
	}

	ord, err := e.orders.GetByClOrdID(ctx, rep.ClOrdID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("route retry skipped, unknown shadow",
				slog.String("cl_ord_id", rep.ClOrdID),
			)
			return nil
		}
		return fmt.Errorf("engine: load shadow %s: %w", rep.ClOrdID, err)
	}

	inserted, err := e.events.AppendEvent(ctx, domain.OrderEvent{
		ID:         domain.NewEventID(),
		OrderID:    ord.ID,
		ExecID:     "RTRY-" + ord.ID.String(),
		ExecType:   domain.ExecTypeStaged,
		FixClOrdID: ord.FixClOrdID,
		Account:    ord.AccountNumber,
		Symbol:     ord.Symbol,
		Side:       ord.Side,
		OrdType:    ord.OrdType,
		Qty:        ord.Qty,
		EventTime:  e.clock().UTC(),
		SessionID:  rep.SessionID,
	})
	if err != nil {
		return fmt.Errorf("engine: record route retry %s: %w", ord.FixClOrdID, err)
	}
	if !inserted {
		e.logger.Warn("route retry skipped, already retried once",
			slog.String("cl_ord_id", ord.FixClOrdID),
		)
		return nil
	}

	newID := e.nextReplaceID(ord.FixClOrdID, ord.FixClOrdID, false)
	msg := builder.BuildNewOrderSingle(builder.NewOrderParams{
		Account:     ord.AccountNumber,
		ClOrdID:     newID,
		Symbol:      ord.Symbol,
		Side:        ord.Side,
		OrdType:     ord.OrdType,
		TimeInForce: ord.TimeInForce,
		Qty:         ord.Qty,
		Price:       ord.Price,
		StopPx:      ord.StopPx,
	})
	if err := e.sender.Send(msg); err != nil {
		e.publishFor(ctx, domain.BusSendFailed, rep, err.Error())
		return err
	}
	if err := e.orders.UpdateFixClOrdID(ctx, ord.ID, builder.ClampClOrdID(newID)); err != nil {
		return err
	}
	if err := e.orders.UpdateStatus(ctx, ord.ID, domain.OrderStatusNew); err != nil {
		return err
	}
	e.logger.Info("shadow re-emitted without route",
		slog.String("old_cl_ord_id", ord.FixClOrdID),
		slog.String("new_cl_ord_id", builder.ClampClOrdID(newID)),
	)
	return nil
}
