package locate

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/fixmirror/internal/fix"
)

type memMapStore struct {
	mu sync.Mutex
	m  map[string]Mapping
}

func newMemMapStore() *memMapStore {
	return &memMapStore{m: make(map[string]Mapping)}
}

func (s *memMapStore) Put(_ context.Context, id string, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = m
	return nil
}

func (s *memMapStore) Get(_ context.Context, id string) (Mapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[id]
	return m, ok, nil
}

func TestNewQuoteReqIDShortForm(t *testing.T) {
	ctx := context.Background()
	m := NewMapper(nil)

	id, err := m.NewQuoteReqID(ctx, Mapping{
		ShadowAccount:  "SHAD1",
		PrimaryClOrdID: "ABC",
		Route:          "LOCRT",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "QL"))
	assert.LessOrEqual(t, len(id), fix.MaxQuoteReqIDLen)
	assert.NotContains(t, id, "_", "short form never embeds fields")

	id2, err := m.NewQuoteReqID(ctx, Mapping{ShadowAccount: "SHAD2", PrimaryClOrdID: "ABC", Route: "LOCRT"})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestResolveInProcess(t *testing.T) {
	ctx := context.Background()
	m := NewMapper(nil)
	want := Mapping{ShadowAccount: "SHAD1", PrimaryClOrdID: "ABC", Route: "LOCRT"}

	id, err := m.NewQuoteReqID(ctx, want)
	require.NoError(t, err)

	got, ok := m.Resolve(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = m.Resolve(ctx, "QLUNKNOWN")
	assert.False(t, ok)
}

func TestResolveSurvivesRestartViaStore(t *testing.T) {
	ctx := context.Background()
	store := newMemMapStore()
	want := Mapping{ShadowAccount: "SHAD1", PrimaryClOrdID: "ABC", Route: "LOCRT"}

	first := NewMapper(store)
	id, err := first.NewQuoteReqID(ctx, want)
	require.NoError(t, err)

	// A fresh mapper with the same store stands in for a restarted process.
	second := NewMapper(store)
	got, ok := second.Resolve(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, second.Known(ctx, id))
}

func TestResolveEmbeddedLegacyForm(t *testing.T) {
	m := NewMapper(nil)
	got, ok := m.Resolve(context.Background(), "QL_SHAD1_ORD_42_LOCRT")
	require.True(t, ok)
	assert.Equal(t, Mapping{ShadowAccount: "SHAD1", PrimaryClOrdID: "ORD_42", Route: "LOCRT"}, got)
}

func TestParseEmbedded(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Mapping
		ok   bool
	}{
		{"simple", "QL_SHAD1_ABC_LOCRT", Mapping{"SHAD1", "ABC", "LOCRT"}, true},
		{"underscores in primary", "QL_SHAD1_A_B_C_LOCRT", Mapping{"SHAD1", "A_B_C", "LOCRT"}, true},
		{"too few parts", "QL_SHAD1_ABC", Mapping{}, false},
		{"wrong prefix", "XX_SHAD1_ABC_LOCRT", Mapping{}, false},
		{"empty shadow", "QL__ABC_LOCRT", Mapping{}, false},
		{"empty route", "QL_SHAD1_ABC_", Mapping{}, false},
		{"short form", "QLABC123", Mapping{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseEmbedded(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
