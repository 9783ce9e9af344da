package locate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantrail/fixmirror/internal/fix"
)

func TestRateCappedDecision(t *testing.T) {
	tests := []struct {
		name  string
		cap   string
		offer fix.ExecReport
		want  bool
	}{
		{"zero cap accepts any rate", "0",
			fix.ExecReport{OfferSize: dec("100"), OfferPx: dec("9.99")}, true},
		{"under cap", "0.05",
			fix.ExecReport{OfferSize: dec("100"), OfferPx: dec("0.03")}, true},
		{"at cap", "0.05",
			fix.ExecReport{OfferSize: dec("100"), OfferPx: dec("0.05")}, true},
		{"over cap", "0.05",
			fix.ExecReport{OfferSize: dec("100"), OfferPx: dec("0.06")}, false},
		{"zero size rejected", "0",
			fix.ExecReport{OfferPx: dec("0.01")}, false},
		{"size from last qty", "0.05",
			fix.ExecReport{LastQty: dec("100"), OfferPx: dec("0.01")}, true},
		{"rate from price fallback", "0.05",
			fix.ExecReport{OfferSize: dec("100"), Price: dec("0.10")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := RateCappedDecision{MaxOfferPx: dec(tt.cap)}
			assert.Equal(t, tt.want, d.Accept(tt.offer))
		})
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
