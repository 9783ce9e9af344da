package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStore persists the append-only execution log and the orders
// materialised from it.
type EventStore interface {
	// AppendEvent inserts the event. Inserting an ExecID that already
	// exists is a no-op success; the return value reports whether a row
	// was actually written.
	AppendEvent(ctx context.Context, ev OrderEvent) (inserted bool, err error)

	// UpsertOrderFromEvent creates the order row for the event's ClOrdID
	// if absent and folds the event into its aggregate fields when the
	// event time is not older than the order's current event time.
	UpsertOrderFromEvent(ctx context.Context, ev OrderEvent) error

	// ApplyEvent runs AppendEvent and UpsertOrderFromEvent inside one
	// transaction. A duplicate ExecID leaves the order untouched.
	ApplyEvent(ctx context.Context, ev OrderEvent) (inserted bool, err error)

	// FindEventsForOrder returns events linked by ClOrdID, OrigClOrdID,
	// FixOrderID, or the replace-suffix chain of the ClOrdID, ordered by
	// event time ascending (descending when desc is true).
	FindEventsForOrder(ctx context.Context, clOrdID, fixOrderID string, desc bool) ([]OrderEvent, error)

	// LatestEvent returns the most recent event for the order. The
	// order's current status is the OrdStatus of this event.
	LatestEvent(ctx context.Context, clOrdID, fixOrderID string) (OrderEvent, error)

	// ListBefore returns events whose event time precedes cutoff, oldest
	// first, for cold archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]OrderEvent, error)

	// DeleteBefore prunes events whose event time precedes cutoff and
	// returns the number of rows removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrderStore persists order rows directly, for paths that create or mutate
// orders outside of event application (draft shadows, status transitions).
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id uuid.UUID) (Order, error)
	GetByClOrdID(ctx context.Context, clOrdID string) (Order, error)
	// ListShadows returns the shadow orders mirroring the given primary.
	ListShadows(ctx context.Context, primaryClOrdID string) ([]Order, error)
	// ListDrafts returns shadow orders still staged as drafts for the
	// given primary.
	ListDrafts(ctx context.Context, primaryClOrdID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) error
	// UpdateFixClOrdID records the latest wire ClOrdID after a chained
	// replace; the canonical shadow identity is unchanged.
	UpdateFixClOrdID(ctx context.Context, id uuid.UUID, fixClOrdID string) error
}

// LocateStore persists short-locate requests.
type LocateStore interface {
	Create(ctx context.Context, lr LocateRequest) error
	GetByQuoteReqID(ctx context.Context, quoteReqID string) (LocateRequest, error)
	// Update persists status, offer fields, approved quantity, and the
	// response message.
	Update(ctx context.Context, lr LocateRequest) error
	ListByPrimaryClOrdID(ctx context.Context, primaryClOrdID string) ([]LocateRequest, error)
	// ListPendingBefore returns PENDING requests created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]LocateRequest, error)
}

// ReferenceStore loads reference data for the in-memory cache. It is read at
// startup and on explicit refresh, never on the event hot path.
type ReferenceStore interface {
	LoadBrokers(ctx context.Context) ([]Broker, error)
	LoadAccounts(ctx context.Context) ([]Account, error)
	LoadDasLogins(ctx context.Context) ([]DasLogin, error)
	LoadRoutes(ctx context.Context) ([]Route, error)
	LoadCopyRules(ctx context.Context) ([]CopyRule, error)
}
