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

// LocateStore implements domain.LocateStore using PostgreSQL.
type LocateStore struct {
	pool *pgxpool.Pool
}

// NewLocateStore creates a LocateStore backed by the given connection pool.
func NewLocateStore(pool *pgxpool.Pool) *LocateStore {
	return &LocateStore{pool: pool}
}

// Create inserts a new locate request.
func (s *LocateStore) Create(ctx context.Context, lr domain.LocateRequest) error {
	const query = `
		INSERT INTO locate_requests (
			id, order_id, primary_cl_ord_id, account_number, symbol,
			quantity, status, fix_quote_req_id, locate_route,
			offer_px, offer_size, approved_qty, response_message,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`

	var orderID *uuid.UUID
	if lr.OrderID != uuid.Nil {
		orderID = &lr.OrderID
	}
	_, err := s.pool.Exec(ctx, query,
		lr.ID, orderID, lr.PrimaryClOrdID, lr.AccountNumber, lr.Symbol,
		lr.Quantity, string(lr.Status), lr.FixQuoteReqID, lr.LocateRoute,
		lr.OfferPx, lr.OfferSize, lr.ApprovedQty, lr.ResponseMessage,
		lr.CreatedAt, lr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create locate request %s: %w", lr.FixQuoteReqID, err)
	}
	return nil
}

const locateSelectCols = `id, order_id, primary_cl_ord_id, account_number, symbol,
	quantity, status, fix_quote_req_id, locate_route,
	offer_px, offer_size, approved_qty, response_message,
	created_at, updated_at`

func scanLocateFromRow(scanner interface{ Scan(dest ...any) error }) (domain.LocateRequest, error) {
	var lr domain.LocateRequest
	var orderID *uuid.UUID
	var status string

	err := scanner.Scan(
		&lr.ID, &orderID, &lr.PrimaryClOrdID, &lr.AccountNumber, &lr.Symbol,
		&lr.Quantity, &status, &lr.FixQuoteReqID, &lr.LocateRoute,
		&lr.OfferPx, &lr.OfferSize, &lr.ApprovedQty, &lr.ResponseMessage,
		&lr.CreatedAt, &lr.UpdatedAt,
	)
	if err != nil {
		return domain.LocateRequest{}, err
	}
	if orderID != nil {
		lr.OrderID = *orderID
	}
	lr.Status = domain.LocateStatus(status)
	return lr, nil
}

func scanLocateRows(rows pgx.Rows) ([]domain.LocateRequest, error) {
	var requests []domain.LocateRequest
	for rows.Next() {
		lr, err := scanLocateFromRow(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, lr)
	}
	return requests, rows.Err()
}

// GetByQuoteReqID retrieves a locate request by its FIX QuoteReqID.
func (s *LocateStore) GetByQuoteReqID(ctx context.Context, quoteReqID string) (domain.LocateRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+locateSelectCols+` FROM locate_requests WHERE fix_quote_req_id = $1`,
		quoteReqID)

	lr, err := scanLocateFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LocateRequest{}, domain.ErrNotFound
		}
		return domain.LocateRequest{}, fmt.Errorf("postgres: get locate request %s: %w", quoteReqID, err)
	}
	return lr, nil
}

// Update persists status, offer fields, approved quantity, route, the
// response message, and the QuoteReqID (which changes on a requote).
func (s *LocateStore) Update(ctx context.Context, lr domain.LocateRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE locate_requests SET
			status = $1, fix_quote_req_id = $2, locate_route = $3,
			offer_px = $4, offer_size = $5, approved_qty = $6,
			response_message = $7, updated_at = $8
		WHERE id = $9`,
		string(lr.Status), lr.FixQuoteReqID, lr.LocateRoute,
		lr.OfferPx, lr.OfferSize, lr.ApprovedQty,
		lr.ResponseMessage, lr.UpdatedAt, lr.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update locate request %s: %w", lr.FixQuoteReqID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByPrimaryClOrdID returns all requests raised for a primary order.
func (s *LocateStore) ListByPrimaryClOrdID(ctx context.Context, primaryClOrdID string) ([]domain.LocateRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locateSelectCols+` FROM locate_requests
		 WHERE primary_cl_ord_id = $1
		 ORDER BY created_at`, primaryClOrdID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list locate requests for %s: %w", primaryClOrdID, err)
	}
	defer rows.Close()

	requests, err := scanLocateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan locate requests for %s: %w", primaryClOrdID, err)
	}
	return requests, nil
}

// ListPendingBefore returns PENDING requests created before cutoff.
func (s *LocateStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.LocateRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locateSelectCols+` FROM locate_requests
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at`, string(domain.LocatePending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending locate requests: %w", err)
	}
	defer rows.Close()

	requests, err := scanLocateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending locate requests: %w", err)
	}
	return requests, nil
}
