// Package domain defines the entities, enumerations, and store interfaces of
// the order-replication gateway. All persistence and transport adapters
// implement interfaces declared here.
package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType distinguishes the watched primary account from the shadow
// accounts that receive mirrored orders.
type AccountType string

const (
	AccountTypePrimary AccountType = "PRIMARY"
	AccountTypeShadow  AccountType = "SHADOW"
)

// RouteType selects the locate protocol variant spoken on a route.
type RouteType string

const (
	RouteTypeQuote RouteType = "TYPE_0" // quote request/response locate protocol
	RouteTypeOffer RouteType = "TYPE_1" // unsolicited offer locate protocol
	RouteTypeNone  RouteType = ""       // not a locate protocol route
)

// Broker is an execution broker reference row.
type Broker struct {
	ID     uuid.UUID
	Name   string // unique
	Code   string
	Active bool
}

// DasLogin is a terminal login credential associated with a broker. Kept as
// reference data; accounts may be linked to any number of logins.
type DasLogin struct {
	ID       uuid.UUID
	Login    string
	BrokerID uuid.UUID
	Active   bool
}

// Account is a trading account, either the watched primary or a shadow.
type Account struct {
	ID          uuid.UUID
	Number      string // unique, matches FIX tag 1
	Type        AccountType
	BrokerID    uuid.UUID
	StrategyKey string
	Active      bool
}

// Route is a broker-side execution destination (FIX ExDestination).
// IsLocateRoute is the authoritative marker for locate destinations;
// RouteType selects which locate protocol variant the destination speaks.
type Route struct {
	ID            uuid.UUID
	Name          string
	BrokerID      uuid.UUID
	RouteType     RouteType
	IsLocateRoute bool
	Priority      int
}

// RatioType selects how a copy rule scales the primary quantity.
type RatioType string

const (
	RatioPercentage    RatioType = "PERCENTAGE"     // ratio value is a fraction of primary qty
	RatioMultiplier    RatioType = "MULTIPLIER"     // primary qty * ratio value
	RatioFixedQuantity RatioType = "FIXED_QUANTITY" // literal quantity
)

// CopyRule maps a primary account to one shadow account with quantity and
// routing transforms. At most one active rule exists per (primary, shadow)
// pair; copy outputs are a deterministic function of the rule.
type CopyRule struct {
	ID             uuid.UUID
	PrimaryAccount string
	ShadowAccount  string
	RatioType      RatioType
	RatioValue     decimal.Decimal
	OrderTypes     []string // FIX OrdType codes; empty means all
	CopyRoute      string
	LocateRoute    string
	CopyBroker     string
	MinQuantity    decimal.Decimal // zero means unbounded
	MaxQuantity    decimal.Decimal // zero means unbounded
	Priority       int
	Active         bool
}

// AppliesTo reports whether the rule covers the given FIX order type.
func (r CopyRule) AppliesTo(ordType string) bool {
	if len(r.OrderTypes) == 0 {
		return true
	}
	for _, t := range r.OrderTypes {
		if t == ordType {
			return true
		}
	}
	return false
}

// InQuantityBounds reports whether qty falls inside the rule's optional
// [MinQuantity, MaxQuantity] window.
func (r CopyRule) InQuantityBounds(qty decimal.Decimal) bool {
	if !r.MinQuantity.IsZero() && qty.LessThan(r.MinQuantity) {
		return false
	}
	if !r.MaxQuantity.IsZero() && qty.GreaterThan(r.MaxQuantity) {
		return false
	}
	return true
}

// Apply computes the copy quantity for a primary quantity. PERCENTAGE treats
// RatioValue as a fraction, MULTIPLIER multiplies, FIXED_QUANTITY returns the
// literal value. The result is rounded to a whole number of shares.
func (r CopyRule) Apply(primaryQty decimal.Decimal) decimal.Decimal {
	switch r.RatioType {
	case RatioPercentage, RatioMultiplier:
		return primaryQty.Mul(r.RatioValue).Round(0)
	case RatioFixedQuantity:
		return r.RatioValue.Round(0)
	default:
		return decimal.Zero
	}
}
