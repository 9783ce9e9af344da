package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/fix/builder"
)

// handleFill records a partial or full fill. Fills never trigger outbound
// traffic: shadow quantities are fixed at placement, and the event upsert
// has already folded the aggregates.
func (e *Engine) handleFill(ctx context.Context, rep fix.ExecReport, cls Classification) error {
	if rep.Symbol == "" || rep.Side == "" || rep.Account == "" ||
		(!rep.AvgPx.IsPositive() && !rep.LastPx.IsPositive()) {
		e.logger.Warn("fill with missing fields",
			slog.String("exec_id", rep.ExecID),
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("error", domain.ErrMissingField.Error()),
		)
		return nil
	}
	e.logger.Debug("fill recorded",
		slog.String("origin", string(cls.Origin)),
		slog.String("cl_ord_id", rep.ClOrdID),
		slog.String("symbol", rep.Symbol),
		slog.String("last_qty", rep.LastQty.String()),
		slog.String("cum_qty", rep.CumQty.String()),
	)
	return nil
}

// shadowsForPrimary resolves the shadow orders mirroring the primary named
// by a lifecycle event. The shadows are keyed by the original primary
// ClOrdID, so after primary-side replaces the OrigClOrdID chain in the event
// log is walked back until shadows are found.
func (e *Engine) shadowsForPrimary(ctx context.Context, rep fix.ExecReport) ([]domain.Order, string, error) {
	for _, key := range []string{rep.OrigClOrdID, rep.ClOrdID} {
		if key == "" {
			continue
		}
		shadows, err := e.orders.ListShadows(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("engine: list shadows for %s: %w", key, err)
		}
		if len(shadows) > 0 {
			return shadows, key, nil
		}
	}

	events, err := e.events.FindEventsForOrder(ctx, rep.ClOrdID, rep.OrderID, false)
	if err != nil {
		return nil, "", fmt.Errorf("engine: walk order chain %s: %w", rep.ClOrdID, err)
	}
	seen := map[string]bool{rep.OrigClOrdID: true, rep.ClOrdID: true}
	for _, ev := range events {
		for _, key := range []string{ev.FixOrigClOrdID, ev.FixClOrdID} {
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			shadows, err := e.orders.ListShadows(ctx, key)
			if err != nil {
				return nil, "", err
			}
			if len(shadows) > 0 {
				return shadows, key, nil
			}
		}
	}
	return nil, rep.ClOrdID, nil
}

// handleCancelled cancels every live shadow of a cancelled primary. Drafts
// are retired locally and their pending locates withdrawn.
func (e *Engine) handleCancelled(ctx context.Context, rep fix.ExecReport, cls Classification) error {
	if !cls.Replicate() {
		e.logger.Debug("cancel ack recorded",
			slog.String("origin", string(cls.Origin)),
			slog.String("cl_ord_id", rep.ClOrdID),
		)
		return nil
	}

	shadows, primaryKey, err := e.shadowsForPrimary(ctx, rep)
	if err != nil {
		return err
	}

	var errs []error
	if err := e.locates.CancelPending(ctx, primaryKey); err != nil {
		errs = append(errs, err)
	}

	for _, s := range shadows {
		switch s.Status {
		case domain.OrderStatusDraft:
			if err := e.orders.UpdateStatus(ctx, s.ID, domain.OrderStatusCancelled); err != nil {
				errs = append(errs, err)
			}
			continue
		case domain.OrderStatusCancelled, domain.OrderStatusFilled, domain.OrderStatusRejected:
			continue
		}

		// Equal ClOrdID and OrigClOrdID is legal on cancels.
		msg := builder.BuildCancel(builder.CancelParams{
			Account:     s.AccountNumber,
			ClOrdID:     s.FixClOrdID,
			OrigClOrdID: s.FixClOrdID,
			Symbol:      s.Symbol,
			Side:        s.Side,
			Qty:         s.Qty,
		})
		if err := e.sender.Send(msg); err != nil {
			e.logger.Error("shadow cancel send failed",
				slog.String("cl_ord_id", s.FixClOrdID),
				slog.String("error", err.Error()),
			)
			e.publishFor(ctx, domain.BusSendFailed, rep, err.Error())
			errs = append(errs, err)
			continue
		}
		e.logger.Info("shadow cancel emitted",
			slog.String("primary_cl_ord_id", primaryKey),
			slog.String("shadow_cl_ord_id", s.FixClOrdID),
			slog.String("symbol", s.Symbol),
		)
		e.publishFor(ctx, domain.BusReplicaCanceled, rep, s.FixClOrdID)
	}
	return errors.Join(errs...)
}

// handleReplaced mirrors a primary replace onto every live shadow. The new
// wire ClOrdID derives from the primary's new ClOrdID and gains a
// uniquifying suffix when the primary kept its ID, since the order-entry
// dialect forbids OrigClOrdID == ClOrdID on replaces.
func (e *Engine) handleReplaced(ctx context.Context, rep fix.ExecReport, cls Classification) error {
	if !cls.Replicate() {
		e.logger.Debug("replace ack recorded",
			slog.String("origin", string(cls.Origin)),
			slog.String("cl_ord_id", rep.ClOrdID),
		)
		return nil
	}

	shadows, primaryKey, err := e.shadowsForPrimary(ctx, rep)
	if err != nil {
		return err
	}
	if len(shadows) == 0 {
		e.logger.Warn("replace for primary with no shadows",
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("orig_cl_ord_id", rep.OrigClOrdID),
		)
		return nil
	}

	// Re-evaluate the rules so the replaced quantity is re-ratioed the same
	// way the original was.
	qtyByAccount := make(map[string]decimal.Decimal)
	for _, t := range e.eval.Evaluate(rep.Account, rep.OrdType, rep.Qty) {
		qtyByAccount[t.ShadowAccount] = t.Qty
	}

	var errs []error
	for _, s := range shadows {
		switch s.Status {
		case domain.OrderStatusDraft, domain.OrderStatusCancelled,
			domain.OrderStatusFilled, domain.OrderStatusRejected:
			continue
		}

		qty, ok := qtyByAccount[s.AccountNumber]
		if !ok {
			e.logger.Warn("no copy rule for shadow on replace, keeping quantity",
				slog.String("shadow_account", s.AccountNumber),
				slog.String("cl_ord_id", s.FixClOrdID),
			)
			qty = s.Qty
		}

		base := builder.ClampClOrdID(domain.ShadowClOrdID(s.AccountNumber, rep.ClOrdID))
		newID := e.nextReplaceID(base, s.FixClOrdID, rep.ClOrdID == rep.OrigClOrdID)
		msg, err := builder.BuildCancelReplace(builder.ReplaceParams{
			Account:       s.AccountNumber,
			ClOrdID:       newID,
			OrigClOrdID:   s.FixClOrdID,
			Symbol:        rep.Symbol,
			Side:          rep.Side,
			OrdType:       rep.OrdType,
			TimeInForce:   rep.TimeInForce,
			Qty:           qty,
			Price:         rep.Price,
			StopPx:        rep.StopPx,
			ExDestination: s.ExDestination,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.sender.Send(msg); err != nil {
			e.logger.Error("shadow replace send failed",
				slog.String("cl_ord_id", newID),
				slog.String("error", err.Error()),
			)
			e.publishFor(ctx, domain.BusSendFailed, rep, err.Error())
			errs = append(errs, err)
			continue
		}
		if err := e.orders.UpdateFixClOrdID(ctx, s.ID, builder.ClampClOrdID(newID)); err != nil {
			errs = append(errs, err)
			continue
		}
		e.logger.Info("shadow replace emitted",
			slog.String("primary_cl_ord_id", primaryKey),
			slog.String("orig_cl_ord_id", s.FixClOrdID),
			slog.String("new_cl_ord_id", builder.ClampClOrdID(newID)),
			slog.String("qty", qty.String()),
		)
		e.publishFor(ctx, domain.BusReplicaReplaced, rep, builder.ClampClOrdID(newID))
	}
	return errors.Join(errs...)
}
