package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ShadowClOrdIDPrefix marks ClOrdIDs of orders the engine itself emitted.
// An event carrying this prefix is never replicated again.
const ShadowClOrdIDPrefix = "COPY-"

// LegacyLocatePrefix marks primary locate orders in the legacy convention.
// Recognised on inbound events, never emitted.
const LegacyLocatePrefix = "LOC-"

// ShadowClOrdID builds the canonical ClOrdID for the shadow order mirroring
// primaryClOrdID on shadowAccount. It is a pure function of its inputs so a
// given (shadow account, primary order) pair always maps to one identity.
func ShadowClOrdID(shadowAccount, primaryClOrdID string) string {
	return ShadowClOrdIDPrefix + shadowAccount + "-" + primaryClOrdID
}

// IsShadowClOrdID reports whether the ClOrdID follows the shadow convention.
func IsShadowClOrdID(clOrdID string) bool {
	return strings.HasPrefix(clOrdID, ShadowClOrdIDPrefix)
}

// OrderStatus is the coarse lifecycle state of an order row. The
// authoritative current status of an order is the OrdStatus of its latest
// event; this field exists so draft shadows (staged while a locate is
// pending) are distinguishable from live orders.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "DRAFT"
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is the materialised current state of one order, primary or shadow.
// It is created on the first event for its ClOrdID and mutated only by event
// application. Shadow orders point back to their primary via PrimaryClOrdID.
type Order struct {
	ID             uuid.UUID
	AccountNumber  string
	PrimaryClOrdID string // empty on primary orders
	FixOrderID     string
	FixClOrdID     string
	FixOrigClOrdID string
	Symbol         string
	Side           string
	OrdType        string
	TimeInForce    string
	Qty            decimal.Decimal
	Price          decimal.Decimal
	StopPx         decimal.Decimal
	ExDestination  string
	Status         OrderStatus

	// Aggregates reflecting the latest applied event.
	ExecType  string
	OrdStatus string
	CumQty    decimal.Decimal
	LeavesQty decimal.Decimal
	AvgPx     decimal.Decimal
	LastPx    decimal.Decimal
	LastQty   decimal.Decimal

	// EventTime is the receive time of the latest event applied to the
	// aggregates above. Events older than this do not overwrite them.
	EventTime time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsShadow reports whether this order was emitted by the engine.
func (o Order) IsShadow() bool {
	return o.PrimaryClOrdID != "" || IsShadowClOrdID(o.FixClOrdID)
}
