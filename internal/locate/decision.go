package locate

import (
	"github.com/shopspring/decimal"

	"github.com/quantrail/fixmirror/internal/fix"
)

// DecisionService decides whether to take an unsolicited locate offer pushed
// by the broker on a TYPE_1 route.
type DecisionService interface {
	// Accept reports whether the offer should be taken.
	Accept(offer fix.ExecReport) bool
}

// RateCappedDecision accepts offers whose per-share locate rate does not
// exceed MaxOfferPx and whose size is positive. A zero cap accepts any rate.
type RateCappedDecision struct {
	MaxOfferPx decimal.Decimal
}

// Accept implements DecisionService.
func (d RateCappedDecision) Accept(offer fix.ExecReport) bool {
	size := offer.OfferSize
	if size.IsZero() {
		size = offer.LastQty
	}
	if !size.IsPositive() {
		return false
	}
	px := offer.OfferPx
	if px.IsZero() {
		px = offer.Price
	}
	if d.MaxOfferPx.IsPositive() && px.GreaterThan(d.MaxOfferPx) {
		return false
	}
	return true
}
