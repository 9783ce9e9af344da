// Package builder constructs the outbound FIX 4.2 messages the gateway is
// allowed to emit, enforcing the dialect's field-legality rules: ClOrdID
// length, OrigClOrdID inequality on replaces, and price/stop-price presence
// by order type.
package builder

import (
	"fmt"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"

	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
)

// Custom message types of the broker's short-locate dialect.
const (
	MsgTypeLocateAccept = "U1"
	MsgTypeLocateReject = "U2"
)

type fieldSetter interface {
	SetField(tag quickfix.Tag, field quickfix.FieldValueWriter) *quickfix.FieldMap
}

func setString(fs fieldSetter, tag quickfix.Tag, value string) {
	fs.SetField(tag, quickfix.FIXString(value))
}

func setStringIfNotEmpty(fs fieldSetter, tag quickfix.Tag, value string) {
	if value != "" {
		fs.SetField(tag, quickfix.FIXString(value))
	}
}

func setDecimalIfPositive(fs fieldSetter, tag quickfix.Tag, value decimal.Decimal) {
	if value.IsPositive() {
		fs.SetField(tag, quickfix.FIXString(value.String()))
	}
}

func newMessage(msgType string) *quickfix.Message {
	m := quickfix.NewMessage()
	setString(&m.Header, fix.TagBeginString, fix.BeginStringFIX42)
	setString(&m.Header, fix.TagMsgType, msgType)
	return m
}

func transactTime() string {
	return time.Now().UTC().Format(fix.TimeFormat)
}

// ClampClOrdID enforces the order-entry peer's 19-character ClOrdID limit by
// keeping the rightmost characters of a derived identifier.
func ClampClOrdID(id string) string {
	if len(id) <= fix.MaxClOrdIDLen {
		return id
	}
	return id[len(id)-fix.MaxClOrdIDLen:]
}

// priceLegal reports whether Price(44) may be set for the order type.
func priceLegal(ordType string) bool {
	switch ordType {
	case fix.OrdTypeLimit, fix.OrdTypeStopLimit, fix.OrdTypeLimitOnClose, fix.OrdTypePegged:
		return true
	}
	return false
}

// stopPxLegal reports whether StopPx(99) may be set for the order type.
func stopPxLegal(ordType string) bool {
	switch ordType {
	case fix.OrdTypeStop, fix.OrdTypeStopLimit:
		return true
	}
	return false
}

// NewOrderParams carries the fields of a NewOrderSingle (D). Account is
// always the shadow account being targeted, never the primary's.
type NewOrderParams struct {
	Account       string
	ClOrdID       string
	Symbol        string
	Side          string
	OrdType       string
	TimeInForce   string // defaults to DAY when empty
	Qty           decimal.Decimal
	Price         decimal.Decimal
	StopPx        decimal.Decimal
	ExDestination string
}

// BuildNewOrderSingle creates a NewOrderSingle (D).
func BuildNewOrderSingle(p NewOrderParams) *quickfix.Message {
	m := newMessage(fix.MsgTypeNewOrderSingle)

	tif := p.TimeInForce
	if tif == "" {
		tif = fix.TIFDay
	}

	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagClOrdID, ClampClOrdID(p.ClOrdID))
	setString(&m.Body, fix.TagHandlInst, fix.HandlInstAutomated)
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setString(&m.Body, fix.TagSide, p.Side)
	setString(&m.Body, fix.TagOrdType, p.OrdType)
	setString(&m.Body, fix.TagTimeInForce, tif)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	setDecimalIfPositive(&m.Body, fix.TagOrderQty, p.Qty)
	setStringIfNotEmpty(&m.Body, fix.TagExDestination, p.ExDestination)

	if priceLegal(p.OrdType) {
		setDecimalIfPositive(&m.Body, fix.TagPrice, p.Price)
	}
	if stopPxLegal(p.OrdType) {
		setDecimalIfPositive(&m.Body, fix.TagStopPx, p.StopPx)
	}
	return m
}

// ReplaceParams carries the fields of an OrderCancelReplaceRequest (G).
type ReplaceParams struct {
	Account       string
	ClOrdID       string
	OrigClOrdID   string
	Symbol        string
	Side          string
	OrdType       string
	TimeInForce   string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	StopPx        decimal.Decimal
	ExDestination string
}

// BuildCancelReplace creates an OrderCancelReplaceRequest (G). The dialect
// forbids OrigClOrdID == ClOrdID; callers must derive a distinct new ID
// before building.
func BuildCancelReplace(p ReplaceParams) (*quickfix.Message, error) {
	clOrdID := ClampClOrdID(p.ClOrdID)
	origClOrdID := ClampClOrdID(p.OrigClOrdID)
	if clOrdID == origClOrdID {
		return nil, fmt.Errorf("builder: replace %q: %w", clOrdID, domain.ErrInvalidReplace)
	}

	m := newMessage(fix.MsgTypeOrderCancelReplace)

	tif := p.TimeInForce
	if tif == "" {
		tif = fix.TIFDay
	}

	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagClOrdID, clOrdID)
	setString(&m.Body, fix.TagOrigClOrdID, origClOrdID)
	setString(&m.Body, fix.TagHandlInst, fix.HandlInstAutomated)
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setString(&m.Body, fix.TagSide, p.Side)
	setString(&m.Body, fix.TagOrdType, p.OrdType)
	setString(&m.Body, fix.TagTimeInForce, tif)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	setDecimalIfPositive(&m.Body, fix.TagOrderQty, p.Qty)
	setStringIfNotEmpty(&m.Body, fix.TagExDestination, p.ExDestination)

	if priceLegal(p.OrdType) {
		setDecimalIfPositive(&m.Body, fix.TagPrice, p.Price)
	}
	if stopPxLegal(p.OrdType) {
		setDecimalIfPositive(&m.Body, fix.TagStopPx, p.StopPx)
	}
	return m, nil
}

// CancelParams carries the fields of an OrderCancelRequest (F). Equal
// ClOrdID/OrigClOrdID values are allowed on cancels in this dialect.
type CancelParams struct {
	Account     string
	ClOrdID     string
	OrigClOrdID string
	Symbol      string
	Side        string
	Qty         decimal.Decimal
}

// BuildCancel creates an OrderCancelRequest (F).
func BuildCancel(p CancelParams) *quickfix.Message {
	m := newMessage(fix.MsgTypeOrderCancelRequest)

	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagClOrdID, ClampClOrdID(p.ClOrdID))
	setString(&m.Body, fix.TagOrigClOrdID, ClampClOrdID(p.OrigClOrdID))
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setString(&m.Body, fix.TagSide, p.Side)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	setDecimalIfPositive(&m.Body, fix.TagOrderQty, p.Qty)
	return m
}

// LocateQuoteParams carries the fields of a short-locate QuoteRequest (R).
type LocateQuoteParams struct {
	QuoteReqID  string
	Account     string
	Symbol      string
	Qty         decimal.Decimal
	LocateRoute string
}

// BuildLocateQuoteRequest creates a short-locate QuoteRequest (R). The
// QuoteReqID has its own 39-character limit distinct from ClOrdID's.
func BuildLocateQuoteRequest(p LocateQuoteParams) (*quickfix.Message, error) {
	if len(p.QuoteReqID) > fix.MaxQuoteReqIDLen {
		return nil, fmt.Errorf("builder: quote req id %q exceeds %d chars", p.QuoteReqID, fix.MaxQuoteReqIDLen)
	}

	m := newMessage(fix.MsgTypeQuoteRequest)

	setString(&m.Body, fix.TagQuoteReqID, p.QuoteReqID)
	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setString(&m.Body, fix.TagSide, fix.SideBuy)
	setDecimalIfPositive(&m.Body, fix.TagOrderQty, p.Qty)
	setStringIfNotEmpty(&m.Body, fix.TagExDestination, p.LocateRoute)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	return m, nil
}

// LocateOfferParams identifies an unsolicited locate offer being answered.
type LocateOfferParams struct {
	OrderID string // broker's OrderID from the offer
	Account string
	Symbol  string
	Qty     decimal.Decimal
	Text    string
}

// BuildLocateAccept creates a Short-Locate Accept-Offer message.
func BuildLocateAccept(p LocateOfferParams) *quickfix.Message {
	m := newMessage(MsgTypeLocateAccept)

	setString(&m.Body, fix.TagOrderID, p.OrderID)
	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setDecimalIfPositive(&m.Body, fix.TagOrderQty, p.Qty)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	return m
}

// BuildLocateReject creates a Short-Locate Reject-Offer message.
func BuildLocateReject(p LocateOfferParams) *quickfix.Message {
	m := newMessage(MsgTypeLocateReject)

	setString(&m.Body, fix.TagOrderID, p.OrderID)
	setString(&m.Body, fix.TagAccount, p.Account)
	setString(&m.Body, fix.TagSymbol, p.Symbol)
	setStringIfNotEmpty(&m.Body, fix.TagText, p.Text)
	setString(&m.Body, fix.TagTransactTime, transactTime())
	return m
}
