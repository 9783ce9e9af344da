package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantrail/fixmirror/internal/fix"
)

func TestClassifyShadowByClOrdID(t *testing.T) {
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	cls := c.Classify(fix.ExecReport{
		ClOrdID: "COPY-SHAD1-ABC",
		Account: "SHAD1",
	})
	assert.Equal(t, OriginShadow, cls.Origin)
	assert.Equal(t, "SHAD1", cls.ShadowAccount)
	assert.Equal(t, "ABC", cls.PrimaryClOrdID)
	assert.False(t, cls.Replicate())
}

func TestClassifyShadowEvenWithoutAccountTag(t *testing.T) {
	// Some brokers omit tag 1 on copy-backs; the ClOrdID convention alone
	// decides.
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	cls := c.Classify(fix.ExecReport{ClOrdID: "COPY-SHAD2-ORD-9"})
	assert.Equal(t, OriginShadow, cls.Origin)
	assert.Equal(t, "SHAD2", cls.ShadowAccount)
	assert.Equal(t, "ORD-9", cls.PrimaryClOrdID)
}

func TestClassifyPrimary(t *testing.T) {
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	cls := c.Classify(fix.ExecReport{ClOrdID: "ABC", Account: "PRIM1"})
	assert.Equal(t, OriginPrimary, cls.Origin)
	assert.True(t, cls.AccountKnown)
	assert.True(t, cls.Replicate())
}

func TestClassifyShadowAccountWithoutConvention(t *testing.T) {
	// Manual activity in a shadow account must never be copied back.
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	cls := c.Classify(fix.ExecReport{ClOrdID: "MANUAL-1", Account: "SHAD1"})
	assert.Equal(t, OriginObserved, cls.Origin)
	assert.True(t, cls.AccountKnown)
	assert.False(t, cls.Replicate())
}

func TestClassifyUnknownAccount(t *testing.T) {
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	cls := c.Classify(fix.ExecReport{ClOrdID: "ABC", Account: "NOBODY"})
	assert.Equal(t, OriginObserved, cls.Origin)
	assert.False(t, cls.AccountKnown)
}

func TestClassifyLocateOrder(t *testing.T) {
	cache := newTestCache(t, defaultRefStore())
	c := NewClassifier(cache, testLogger())

	tests := []struct {
		name string
		rep  fix.ExecReport
		want bool
	}{
		{"legacy marker", fix.ExecReport{ClOrdID: "LOC-ABC", Account: "PRIM1"}, true},
		{"buy on locate route", fix.ExecReport{
			ClOrdID: "ABC", Account: "PRIM1", Side: fix.SideBuy, ExDestination: "LOCRT"}, true},
		{"buy on execution route", fix.ExecReport{
			ClOrdID: "ABC", Account: "PRIM1", Side: fix.SideBuy, ExDestination: "NYSE"}, false},
		{"sell on locate route", fix.ExecReport{
			ClOrdID: "ABC", Account: "PRIM1", Side: fix.SideSell, ExDestination: "LOCRT"}, false},
		{"plain order", fix.ExecReport{ClOrdID: "ABC", Account: "PRIM1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.rep).IsLocateOrder)
		})
	}
}
