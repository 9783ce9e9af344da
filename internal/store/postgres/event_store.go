package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/fixmirror/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The order_events
// table is append-only and unique on exec_id, which carries the at-most-once
// guarantee for event application.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const insertEventSQL = `
	INSERT INTO order_events (
		id, order_id, exec_id, exec_type, ord_status,
		fix_order_id, fix_cl_ord_id, fix_orig_cl_ord_id,
		account, symbol, side, ord_type, time_in_force,
		qty, price, stop_px, avg_px, last_px, last_qty, cum_qty, leaves_qty,
		ex_destination, text, transact_time, event_time, session_id, raw_message
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20, $21,
		$22, $23, $24, $25, $26, $27
	)
	ON CONFLICT (exec_id) DO NOTHING`

func eventArgs(ev domain.OrderEvent) []any {
	var orderID *uuid.UUID
	if ev.OrderID != uuid.Nil {
		orderID = &ev.OrderID
	}
	var transactTime *time.Time
	if !ev.TransactTime.IsZero() {
		transactTime = &ev.TransactTime
	}
	return []any{
		ev.ID, orderID, ev.ExecID, ev.ExecType, ev.OrdStatus,
		ev.FixOrderID, ev.FixClOrdID, ev.FixOrigClOrdID,
		ev.Account, ev.Symbol, ev.Side, ev.OrdType, ev.TimeInForce,
		ev.Qty, ev.Price, ev.StopPx, ev.AvgPx, ev.LastPx, ev.LastQty, ev.CumQty, ev.LeavesQty,
		ev.ExDestination, ev.Text, transactTime, ev.EventTime, ev.SessionID, ev.RawMessage,
	}
}

// AppendEvent inserts the event; a duplicate ExecID is a no-op success.
func (s *EventStore) AppendEvent(ctx context.Context, ev domain.OrderEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertEventSQL, eventArgs(ev)...)
	if err != nil {
		return false, fmt.Errorf("postgres: append event %s: %w", ev.ExecID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// coarseStatus maps a FIX OrdStatus to the order row's lifecycle state.
// Empty means the event carries no status change for the row.
func coarseStatus(ordStatus string) string {
	switch ordStatus {
	case "0", "1", "5", "6", "A", "E", "B":
		return string(domain.OrderStatusLive)
	case "2":
		return string(domain.OrderStatusFilled)
	case "4", "C":
		return string(domain.OrderStatusCancelled)
	case "8":
		return string(domain.OrderStatusRejected)
	}
	return ""
}

// upsertOrderSQL folds an event into its order row. Aggregates only move
// forward in event time, and a DRAFT row keeps its status: drafts are
// released by the locate workflow, never by event application.
const upsertOrderSQL = `
	INSERT INTO orders (
		id, account_number, primary_cl_ord_id,
		fix_order_id, fix_cl_ord_id, fix_orig_cl_ord_id,
		symbol, side, ord_type, time_in_force,
		qty, price, stop_px, ex_destination, status,
		exec_type, ord_status, cum_qty, leaves_qty, avg_px, last_px, last_qty,
		event_time, created_at, updated_at
	) VALUES (
		$1, $2, $3,
		$4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22,
		$23, NOW(), NOW()
	)
	ON CONFLICT (fix_cl_ord_id) DO UPDATE SET
		fix_order_id = CASE WHEN EXCLUDED.fix_order_id <> '' THEN EXCLUDED.fix_order_id ELSE orders.fix_order_id END,
		fix_orig_cl_ord_id = CASE WHEN EXCLUDED.fix_orig_cl_ord_id <> '' THEN EXCLUDED.fix_orig_cl_ord_id ELSE orders.fix_orig_cl_ord_id END,
		status = CASE
			WHEN orders.status = 'DRAFT' THEN orders.status
			WHEN EXCLUDED.status <> '' THEN EXCLUDED.status
			ELSE orders.status
		END,
		exec_type = EXCLUDED.exec_type,
		ord_status = EXCLUDED.ord_status,
		cum_qty = EXCLUDED.cum_qty,
		leaves_qty = EXCLUDED.leaves_qty,
		avg_px = EXCLUDED.avg_px,
		last_px = EXCLUDED.last_px,
		last_qty = EXCLUDED.last_qty,
		event_time = EXCLUDED.event_time,
		updated_at = NOW()
	WHERE orders.event_time <= EXCLUDED.event_time`

func upsertOrderArgs(ev domain.OrderEvent) []any {
	primaryClOrdID := ""
	if _, primary, ok := domain.ParseShadowClOrdID(ev.FixClOrdID); ok {
		primaryClOrdID = primary
	}
	status := coarseStatus(ev.OrdStatus)
	if status == "" {
		status = string(domain.OrderStatusLive)
	}
	return []any{
		uuid.New(), ev.Account, primaryClOrdID,
		ev.FixOrderID, ev.FixClOrdID, ev.FixOrigClOrdID,
		ev.Symbol, ev.Side, ev.OrdType, ev.TimeInForce,
		ev.Qty, ev.Price, ev.StopPx, ev.ExDestination, status,
		ev.ExecType, ev.OrdStatus, ev.CumQty, ev.LeavesQty, ev.AvgPx, ev.LastPx, ev.LastQty,
		ev.EventTime,
	}
}

// UpsertOrderFromEvent materialises or updates the order row for the event.
func (s *EventStore) UpsertOrderFromEvent(ctx context.Context, ev domain.OrderEvent) error {
	if ev.FixClOrdID == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx, upsertOrderSQL, upsertOrderArgs(ev)...); err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", ev.FixClOrdID, err)
	}
	return nil
}

// ApplyEvent runs AppendEvent and UpsertOrderFromEvent in one transaction. A
// duplicate ExecID rolls up to (false, nil) and leaves the order untouched.
func (s *EventStore) ApplyEvent(ctx context.Context, ev domain.OrderEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin apply event: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, insertEventSQL, eventArgs(ev)...)
	if err != nil {
		return false, fmt.Errorf("postgres: append event %s: %w", ev.ExecID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if ev.FixClOrdID != "" {
		if _, err := tx.Exec(ctx, upsertOrderSQL, upsertOrderArgs(ev)...); err != nil {
			return false, fmt.Errorf("postgres: upsert order %s: %w", ev.FixClOrdID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit apply event: %w", err)
	}
	return true, nil
}

const eventSelectCols = `id, order_id, exec_id, exec_type, ord_status,
	fix_order_id, fix_cl_ord_id, fix_orig_cl_ord_id,
	account, symbol, side, ord_type, time_in_force,
	qty, price, stop_px, avg_px, last_px, last_qty, cum_qty, leaves_qty,
	ex_destination, text, transact_time, event_time, session_id, raw_message`

func scanEventFromRow(scanner interface{ Scan(dest ...any) error }) (domain.OrderEvent, error) {
	var ev domain.OrderEvent
	var orderID *uuid.UUID
	var transactTime *time.Time

	err := scanner.Scan(
		&ev.ID, &orderID, &ev.ExecID, &ev.ExecType, &ev.OrdStatus,
		&ev.FixOrderID, &ev.FixClOrdID, &ev.FixOrigClOrdID,
		&ev.Account, &ev.Symbol, &ev.Side, &ev.OrdType, &ev.TimeInForce,
		&ev.Qty, &ev.Price, &ev.StopPx, &ev.AvgPx, &ev.LastPx, &ev.LastQty, &ev.CumQty, &ev.LeavesQty,
		&ev.ExDestination, &ev.Text, &transactTime, &ev.EventTime, &ev.SessionID, &ev.RawMessage,
	)
	if err != nil {
		return domain.OrderEvent{}, err
	}
	if orderID != nil {
		ev.OrderID = *orderID
	}
	if transactTime != nil {
		ev.TransactTime = *transactTime
	}
	return ev, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.OrderEvent, error) {
	var events []domain.OrderEvent
	for rows.Next() {
		ev, err := scanEventFromRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// orderLinkWhere matches events belonging to one logical order: by ClOrdID,
// by OrigClOrdID, by the broker's OrderID, or by the replace-suffix chain of
// the ClOrdID.
const orderLinkWhere = `
	fix_cl_ord_id = $1
	OR fix_orig_cl_ord_id = $1
	OR ($2 <> '' AND fix_order_id = $2)
	OR fix_cl_ord_id LIKE $1 || '-R%'`

// FindEventsForOrder returns the linked events ordered by event time.
func (s *EventStore) FindEventsForOrder(ctx context.Context, clOrdID, fixOrderID string, desc bool) ([]domain.OrderEvent, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM order_events
		 WHERE `+orderLinkWhere+`
		 ORDER BY event_time `+order,
		clOrdID, fixOrderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: find events for %s: %w", clOrdID, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for %s: %w", clOrdID, err)
	}
	return events, nil
}

// LatestEvent returns the most recent event for the order.
func (s *EventStore) LatestEvent(ctx context.Context, clOrdID, fixOrderID string) (domain.OrderEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventSelectCols+` FROM order_events
		 WHERE `+orderLinkWhere+`
		 ORDER BY event_time DESC LIMIT 1`,
		clOrdID, fixOrderID)

	ev, err := scanEventFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderEvent{}, domain.ErrNotFound
		}
		return domain.OrderEvent{}, fmt.Errorf("postgres: latest event for %s: %w", clOrdID, err)
	}
	return ev, nil
}

// ListBefore returns events older than cutoff, oldest first, for archival.
func (s *EventStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM order_events
		 WHERE event_time < $1
		 ORDER BY event_time ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", cutoff, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events before %s: %w", cutoff, err)
	}
	return events, nil
}

// DeleteBefore prunes events older than cutoff and reports the rows removed.
func (s *EventStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM order_events WHERE event_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
