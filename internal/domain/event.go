package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderEvent is one row of the append-only execution log. Events are
// immutable and unique on ExecID; the Order linkage is best-effort since an
// event may arrive before its order row exists.
type OrderEvent struct {
	ID             uuid.UUID
	OrderID        uuid.UUID // uuid.Nil when not yet linked
	ExecID         string    // unique
	ExecType       string
	OrdStatus      string
	FixOrderID     string
	FixClOrdID     string
	FixOrigClOrdID string
	Account        string
	Symbol         string
	Side           string
	OrdType        string
	TimeInForce    string
	Qty            decimal.Decimal
	Price          decimal.Decimal
	StopPx         decimal.Decimal
	AvgPx          decimal.Decimal
	LastPx         decimal.Decimal
	LastQty        decimal.Decimal
	CumQty         decimal.Decimal
	LeavesQty      decimal.Decimal
	ExDestination  string
	Text           string
	TransactTime   time.Time
	EventTime      time.Time // engine receive time; orders aggregate updates
	SessionID      string
	RawMessage     string
}

// NewEventID allocates an identifier for a synthetic (engine-generated)
// event, such as the Staged event recorded for a draft shadow order.
func NewEventID() uuid.UUID { return uuid.New() }

// ExecTypeStaged is the synthetic ExecType recorded when the engine stages a
// shadow order before any acknowledgement exists for it.
const ExecTypeStaged = "STAGED"
