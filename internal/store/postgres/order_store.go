package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/fixmirror/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
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
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.AccountNumber, o.PrimaryClOrdID,
		o.FixOrderID, o.FixClOrdID, o.FixOrigClOrdID,
		o.Symbol, o.Side, o.OrdType, o.TimeInForce,
		o.Qty, o.Price, o.StopPx, o.ExDestination, string(o.Status),
		o.ExecType, o.OrdStatus, o.CumQty, o.LeavesQty, o.AvgPx, o.LastPx, o.LastQty,
		o.EventTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.FixClOrdID, err)
	}
	return nil
}

const orderSelectCols = `id, account_number, primary_cl_ord_id,
	fix_order_id, fix_cl_ord_id, fix_orig_cl_ord_id,
	symbol, side, ord_type, time_in_force,
	qty, price, stop_px, ex_destination, status,
	exec_type, ord_status, cum_qty, leaves_qty, avg_px, last_px, last_qty,
	event_time, created_at, updated_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var status string

	err := scanner.Scan(
		&o.ID, &o.AccountNumber, &o.PrimaryClOrdID,
		&o.FixOrderID, &o.FixClOrdID, &o.FixOrigClOrdID,
		&o.Symbol, &o.Side, &o.OrdType, &o.TimeInForce,
		&o.Qty, &o.Price, &o.StopPx, &o.ExDestination, &status,
		&o.ExecType, &o.OrdStatus, &o.CumQty, &o.LeavesQty, &o.AvgPx, &o.LastPx, &o.LastQty,
		&o.EventTime, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByClOrdID retrieves a single order by its current wire ClOrdID.
func (s *OrderStore) GetByClOrdID(ctx context.Context, clOrdID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE fix_cl_ord_id = $1`, clOrdID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", clOrdID, err)
	}
	return o, nil
}

// ListShadows returns the shadow orders mirroring the given primary.
func (s *OrderStore) ListShadows(ctx context.Context, primaryClOrdID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE primary_cl_ord_id = $1
		 ORDER BY account_number`, primaryClOrdID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list shadows for %s: %w", primaryClOrdID, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan shadows for %s: %w", primaryClOrdID, err)
	}
	return orders, nil
}

// ListDrafts returns shadow orders still staged as drafts for the primary.
func (s *OrderStore) ListDrafts(ctx context.Context, primaryClOrdID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE primary_cl_ord_id = $1 AND status = $2
		 ORDER BY account_number`, primaryClOrdID, string(domain.OrderStatusDraft))
	if err != nil {
		return nil, fmt.Errorf("postgres: list drafts for %s: %w", primaryClOrdID, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan drafts for %s: %w", primaryClOrdID, err)
	}
	return orders, nil
}

// UpdateStatus changes the lifecycle status of an order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateFixClOrdID records the latest wire ClOrdID after a chained replace.
func (s *OrderStore) UpdateFixClOrdID(ctx context.Context, id uuid.UUID, fixClOrdID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET fix_orig_cl_ord_id = fix_cl_ord_id, fix_cl_ord_id = $1, updated_at = NOW() WHERE id = $2`,
		fixClOrdID, id)
	if err != nil {
		return fmt.Errorf("postgres: update order cl_ord_id %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
