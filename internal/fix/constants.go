// Package fix integrates the gateway with the quickfix session layer: tag and
// enum constants for the FIX 4.2 dialect, the session registry, the
// application callbacks for both session roles, and the outbound sender.
package fix

import "github.com/quickfixgo/quickfix"

// --- Message types ---
const (
	MsgTypeHeartbeat          = "0"
	MsgTypeTestRequest        = "1"
	MsgTypeResendRequest      = "2"
	MsgTypeReject             = "3"
	MsgTypeSequenceReset      = "4"
	MsgTypeLogout             = "5"
	MsgTypeExecutionReport    = "8"
	MsgTypeOrderCancelReject  = "9"
	MsgTypeLogon              = "A"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeOrderCancelReplace = "G"
	MsgTypeQuoteRequest       = "R"
	MsgTypeQuote              = "S"
)

// --- Tags ---
const (
	TagAccount         quickfix.Tag = 1
	TagAvgPx           quickfix.Tag = 6
	TagBeginString     quickfix.Tag = 8
	TagClOrdID         quickfix.Tag = 11
	TagCumQty          quickfix.Tag = 14
	TagExecID          quickfix.Tag = 17
	TagHandlInst       quickfix.Tag = 21
	TagLastPx          quickfix.Tag = 31
	TagLastQty         quickfix.Tag = 32
	TagMsgSeqNum       quickfix.Tag = 34
	TagMsgType         quickfix.Tag = 35
	TagOrderID         quickfix.Tag = 37
	TagOrderQty        quickfix.Tag = 38
	TagOrdStatus       quickfix.Tag = 39
	TagOrdType         quickfix.Tag = 40
	TagOrigClOrdID     quickfix.Tag = 41
	TagPrice           quickfix.Tag = 44
	TagSenderCompID    quickfix.Tag = 49
	TagSendingTime     quickfix.Tag = 52
	TagSide            quickfix.Tag = 54
	TagSymbol          quickfix.Tag = 55
	TagTargetCompID    quickfix.Tag = 56
	TagText            quickfix.Tag = 58
	TagTimeInForce     quickfix.Tag = 59
	TagTransactTime    quickfix.Tag = 60
	TagStopPx          quickfix.Tag = 99
	TagExDestination   quickfix.Tag = 100
	TagQuoteID         quickfix.Tag = 117
	TagQuoteReqID      quickfix.Tag = 131
	TagOfferPx         quickfix.Tag = 133
	TagOfferSize       quickfix.Tag = 135
	TagLeavesQty       quickfix.Tag = 151
	TagExecType        quickfix.Tag = 150
	TagUsername        quickfix.Tag = 553
	TagPassword        quickfix.Tag = 554
	TagLocateReqd      quickfix.Tag = 114
	TagLocateBrokerLoc quickfix.Tag = 5700 // dialect-specific locate route hint
)

// --- ExecType (150) ---
const (
	ExecTypeNew            = "0"
	ExecTypePartialFill    = "1"
	ExecTypeFill           = "2"
	ExecTypeDoneForDay     = "3"
	ExecTypeCanceled       = "4"
	ExecTypeReplaced       = "5"
	ExecTypePendingCancel  = "6"
	ExecTypeStopped        = "7"
	ExecTypeRejected       = "8"
	ExecTypeSuspended      = "9"
	ExecTypePendingNew     = "A"
	ExecTypeCalculated     = "B"
	ExecTypeExpired        = "C"
	ExecTypePendingReplace = "E"
)

// --- OrdStatus (39) ---
const (
	OrdStatusNew             = "0"
	OrdStatusPartiallyFilled = "1"
	OrdStatusFilled          = "2"
	OrdStatusDoneForDay      = "3"
	OrdStatusCanceled        = "4"
	OrdStatusReplaced        = "5"
	OrdStatusPendingCancel   = "6"
	OrdStatusStopped         = "7"
	OrdStatusRejected        = "8"
	OrdStatusSuspended       = "9"
	OrdStatusPendingNew      = "A"
	OrdStatusCalculated      = "B"
	OrdStatusExpired         = "C"
	OrdStatusPendingReplace  = "E"
)

// --- OrdType (40) ---
const (
	OrdTypeMarket       = "1"
	OrdTypeLimit        = "2"
	OrdTypeStop         = "3"
	OrdTypeStopLimit    = "4"
	OrdTypeLimitOnClose = "B"
	OrdTypePegged       = "P"
)

// --- Side (54) ---
const (
	SideBuy             = "1"
	SideSell            = "2"
	SideSellShort       = "5"
	SideSellShortExempt = "6"
)

// IsShortSide reports whether the side requires a locate before emission.
func IsShortSide(side string) bool {
	return side == SideSellShort || side == SideSellShortExempt
}

// --- TimeInForce (59) ---
const (
	TIFDay = "0"
	TIFGTC = "1"
	TIFIOC = "3"
	TIFFOK = "4"
)

// --- HandlInst (21) ---
const HandlInstAutomated = "1"

// --- Protocol constants ---
const (
	BeginStringFIX42 = "FIX.4.2"
	TimeFormat       = "20060102-15:04:05.000"

	// MaxClOrdIDLen is the order-entry peer's ClOrdID limit. Derived IDs
	// exceeding it keep the rightmost characters.
	MaxClOrdIDLen = 19

	// MaxQuoteReqIDLen is the separate limit for locate QuoteReqIDs.
	MaxQuoteReqIDLen = 39
)
