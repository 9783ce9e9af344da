package fix

import (
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"

	"github.com/quantrail/fixmirror/internal/domain"
)

// ExecReport is the decoded view of an inbound ExecutionReport or locate
// Quote (S) message, carrying every field the engine observes plus the
// session context it arrived on.
type ExecReport struct {
	MsgType     string
	ExecID      string
	ExecType    string
	OrdStatus   string
	ClOrdID     string
	OrigClOrdID string
	OrderID     string

	Account       string
	Symbol        string
	Side          string
	OrdType       string
	TimeInForce   string
	ExDestination string
	Text          string

	Qty       decimal.Decimal
	Price     decimal.Decimal
	StopPx    decimal.Decimal
	AvgPx     decimal.Decimal
	LastPx    decimal.Decimal
	LastQty   decimal.Decimal
	CumQty    decimal.Decimal
	LeavesQty decimal.Decimal

	QuoteReqID string
	OfferPx    decimal.Decimal
	OfferSize  decimal.Decimal

	TransactTime time.Time
	ReceivedAt   time.Time
	SessionID    string
	Role         Role
	Raw          string
}

func getString(msg *quickfix.Message, tag quickfix.Tag) string {
	v, _ := msg.Body.GetString(tag)
	return v
}

func getDecimal(msg *quickfix.Message, tag quickfix.Tag) decimal.Decimal {
	v, err := msg.Body.GetString(tag)
	if err != nil || v == "" {
		return decimal.Zero
	}
	d, perr := decimal.NewFromString(v)
	if perr != nil {
		return decimal.Zero
	}
	return d
}

func getTime(msg *quickfix.Message, tag quickfix.Tag, fallback time.Time) time.Time {
	v, err := msg.Body.GetString(tag)
	if err != nil || v == "" {
		return fallback
	}
	for _, layout := range []string{TimeFormat, "20060102-15:04:05"} {
		if t, perr := time.Parse(layout, v); perr == nil {
			return t
		}
	}
	return fallback
}

// ParseExecReport decodes the message into an ExecReport. Missing fields
// parse to zero values; mandatory-field validation is the handlers' concern.
func ParseExecReport(msg *quickfix.Message, sid quickfix.SessionID, role Role) ExecReport {
	now := time.Now().UTC()
	msgType, _ := msg.Header.GetString(TagMsgType)

	return ExecReport{
		MsgType:       msgType,
		ExecID:        getString(msg, TagExecID),
		ExecType:      getString(msg, TagExecType),
		OrdStatus:     getString(msg, TagOrdStatus),
		ClOrdID:       getString(msg, TagClOrdID),
		OrigClOrdID:   getString(msg, TagOrigClOrdID),
		OrderID:       getString(msg, TagOrderID),
		Account:       getString(msg, TagAccount),
		Symbol:        getString(msg, TagSymbol),
		Side:          getString(msg, TagSide),
		OrdType:       getString(msg, TagOrdType),
		TimeInForce:   getString(msg, TagTimeInForce),
		ExDestination: getString(msg, TagExDestination),
		Text:          getString(msg, TagText),
		Qty:           getDecimal(msg, TagOrderQty),
		Price:         getDecimal(msg, TagPrice),
		StopPx:        getDecimal(msg, TagStopPx),
		AvgPx:         getDecimal(msg, TagAvgPx),
		LastPx:        getDecimal(msg, TagLastPx),
		LastQty:       getDecimal(msg, TagLastQty),
		CumQty:        getDecimal(msg, TagCumQty),
		LeavesQty:     getDecimal(msg, TagLeavesQty),
		QuoteReqID:    getString(msg, TagQuoteReqID),
		OfferPx:       getDecimal(msg, TagOfferPx),
		OfferSize:     getDecimal(msg, TagOfferSize),
		TransactTime:  getTime(msg, TagTransactTime, now),
		ReceivedAt:    now,
		SessionID:     sid.String(),
		Role:          role,
		Raw:           msg.String(),
	}
}

// SerialKey is the per-key serialisation key: FixOrderID when present, the
// primary ClOrdID derived from a shadow convention otherwise, the plain
// ClOrdID as last resort. Events sharing a key are handled in order.
func (e ExecReport) SerialKey() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	if _, primary, ok := domain.ParseShadowClOrdID(e.ClOrdID); ok {
		return primary
	}
	if e.ClOrdID != "" {
		return e.ClOrdID
	}
	return e.QuoteReqID
}

// Event converts the report into an OrderEvent row for the append-only log.
func (e ExecReport) Event() domain.OrderEvent {
	return domain.OrderEvent{
		ID:             domain.NewEventID(),
		ExecID:         e.ExecID,
		ExecType:       e.ExecType,
		OrdStatus:      e.OrdStatus,
		FixOrderID:     e.OrderID,
		FixClOrdID:     e.ClOrdID,
		FixOrigClOrdID: e.OrigClOrdID,
		Account:        e.Account,
		Symbol:         e.Symbol,
		Side:           e.Side,
		OrdType:        e.OrdType,
		TimeInForce:    e.TimeInForce,
		Qty:            e.Qty,
		Price:          e.Price,
		StopPx:         e.StopPx,
		AvgPx:          e.AvgPx,
		LastPx:         e.LastPx,
		LastQty:        e.LastQty,
		CumQty:         e.CumQty,
		LeavesQty:      e.LeavesQty,
		ExDestination:  e.ExDestination,
		Text:           e.Text,
		TransactTime:   e.TransactTime,
		EventTime:      e.ReceivedAt,
		SessionID:      e.SessionID,
		RawMessage:     e.Raw,
	}
}
