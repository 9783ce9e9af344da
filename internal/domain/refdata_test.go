package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCopyRuleApply(t *testing.T) {
	tests := []struct {
		name string
		rule CopyRule
		qty  string
		want string
	}{
		{"percentage", CopyRule{RatioType: RatioPercentage, RatioValue: dec("0.5")}, "1000", "500"},
		{"percentage rounds to whole shares", CopyRule{RatioType: RatioPercentage, RatioValue: dec("0.3")}, "101", "30"},
		{"multiplier", CopyRule{RatioType: RatioMultiplier, RatioValue: dec("2")}, "150", "300"},
		{"fixed quantity ignores input", CopyRule{RatioType: RatioFixedQuantity, RatioValue: dec("300")}, "9999", "300"},
		{"unknown ratio type", CopyRule{RatioType: "BOGUS", RatioValue: dec("1")}, "100", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Apply(dec(tt.qty))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestCopyRuleAppliesTo(t *testing.T) {
	all := CopyRule{}
	assert.True(t, all.AppliesTo("1"))
	assert.True(t, all.AppliesTo("2"))

	limited := CopyRule{OrderTypes: []string{"1", "2"}}
	assert.True(t, limited.AppliesTo("2"))
	assert.False(t, limited.AppliesTo("4"))
}

func TestCopyRuleInQuantityBounds(t *testing.T) {
	r := CopyRule{MinQuantity: dec("100"), MaxQuantity: dec("1000")}
	assert.False(t, r.InQuantityBounds(dec("99")))
	assert.True(t, r.InQuantityBounds(dec("100")))
	assert.True(t, r.InQuantityBounds(dec("1000")))
	assert.False(t, r.InQuantityBounds(dec("1001")))

	unbounded := CopyRule{}
	assert.True(t, unbounded.InQuantityBounds(dec("1")))
	assert.True(t, unbounded.InQuantityBounds(dec("1000000")))
}

func TestLocateStatusPredicates(t *testing.T) {
	assert.False(t, LocatePending.Terminal())
	assert.False(t, LocateApprovedFull.Terminal())
	assert.True(t, LocateRejected.Terminal())
	assert.True(t, LocateExpired.Terminal())
	assert.True(t, LocateCancelled.Terminal())

	assert.True(t, LocateApprovedFull.Approved())
	assert.True(t, LocateApprovedPartial.Approved())
	assert.False(t, LocatePending.Approved())
}
