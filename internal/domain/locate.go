package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocateStatus is the state of a short-locate request.
type LocateStatus string

const (
	LocatePending         LocateStatus = "PENDING"
	LocateApprovedFull    LocateStatus = "APPROVED_FULL"
	LocateApprovedPartial LocateStatus = "APPROVED_PARTIAL"
	LocateRejected        LocateStatus = "REJECTED"
	LocateExpired         LocateStatus = "EXPIRED"
	LocateCancelled       LocateStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s LocateStatus) Terminal() bool {
	switch s {
	case LocateRejected, LocateExpired, LocateCancelled:
		return true
	}
	return false
}

// Approved reports whether the broker granted the locate, fully or in part.
func (s LocateStatus) Approved() bool {
	return s == LocateApprovedFull || s == LocateApprovedPartial
}

// LocateRequest tracks one borrow request raised for a primary short order on
// behalf of one shadow account. A request stays PENDING at most the
// configured locate timeout before the monitor expires it.
type LocateRequest struct {
	ID              uuid.UUID
	OrderID         uuid.UUID // primary order
	PrimaryClOrdID  string
	AccountNumber   string // shadow account the locate is for
	Symbol          string
	Quantity        decimal.Decimal
	Status          LocateStatus
	FixQuoteReqID   string
	LocateRoute     string
	OfferPx         decimal.Decimal
	OfferSize       decimal.Decimal
	ApprovedQty     decimal.Decimal
	ResponseMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
