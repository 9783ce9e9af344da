package refdata

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/fixmirror/internal/domain"
)

type staticStore struct {
	brokers  []domain.Broker
	accounts []domain.Account
	logins   []domain.DasLogin
	routes   []domain.Route
	rules    []domain.CopyRule
}

func (s staticStore) LoadBrokers(context.Context) ([]domain.Broker, error)    { return s.brokers, nil }
func (s staticStore) LoadAccounts(context.Context) ([]domain.Account, error)  { return s.accounts, nil }
func (s staticStore) LoadDasLogins(context.Context) ([]domain.DasLogin, error) { return s.logins, nil }
func (s staticStore) LoadRoutes(context.Context) ([]domain.Route, error)      { return s.routes, nil }
func (s staticStore) LoadCopyRules(context.Context) ([]domain.CopyRule, error) { return s.rules, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCache(t *testing.T, store staticStore) *Cache {
	t.Helper()
	c := New(store, testLogger())
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func TestLookupsBeforeRefreshAreEmpty(t *testing.T) {
	c := New(staticStore{}, testLogger())

	_, ok := c.AccountByNumber("PRIM1")
	assert.False(t, ok)
	_, ok = c.FirstLocateRoute("")
	assert.False(t, ok)
	assert.Empty(t, c.RulesForPrimary("PRIM1"))
}

func TestAccountAndBrokerLookups(t *testing.T) {
	brokerID := uuid.New()
	c := newCache(t, staticStore{
		brokers: []domain.Broker{{ID: brokerID, Name: "BRKR", Active: true}},
		accounts: []domain.Account{
			{ID: uuid.New(), Number: "PRIM1", Type: domain.AccountTypePrimary, BrokerID: brokerID, Active: true},
		},
	})

	a, ok := c.AccountByNumber("PRIM1")
	require.True(t, ok)
	assert.Equal(t, domain.AccountTypePrimary, a.Type)

	b, ok := c.BrokerByName("BRKR")
	require.True(t, ok)
	assert.Equal(t, brokerID, b.ID)

	_, ok = c.AccountByNumber("NOBODY")
	assert.False(t, ok)
}

func TestLocateRouteSelection(t *testing.T) {
	active := uuid.New()
	inactive := uuid.New()
	c := newCache(t, staticStore{
		brokers: []domain.Broker{
			{ID: active, Name: "BRKR", Active: true},
			{ID: inactive, Name: "DEAD", Active: false},
		},
		routes: []domain.Route{
			{ID: uuid.New(), Name: "NYSE", BrokerID: active},
			{ID: uuid.New(), Name: "LOC-B", BrokerID: active, IsLocateRoute: true, Priority: 2},
			{ID: uuid.New(), Name: "LOC-A", BrokerID: active, IsLocateRoute: true, Priority: 1},
			{ID: uuid.New(), Name: "LOC-DEAD", BrokerID: inactive, IsLocateRoute: true, Priority: 0},
		},
	})

	// Inactive-broker routes never win, whatever their priority.
	r, ok := c.FirstLocateRoute("")
	require.True(t, ok)
	assert.Equal(t, "LOC-A", r.Name)

	r, ok = c.FirstLocateRoute("BRKR")
	require.True(t, ok)
	assert.Equal(t, "LOC-A", r.Name)

	_, ok = c.FirstLocateRoute("DEAD")
	assert.False(t, ok)

	next, ok := c.NextLocateRoute("LOC-A")
	require.True(t, ok)
	assert.Equal(t, "LOC-B", next.Name)

	_, ok = c.NextLocateRoute("LOC-B")
	assert.False(t, ok, "no route after the last")

	assert.True(t, c.IsLocateRoute("LOC-A"))
	assert.False(t, c.IsLocateRoute("NYSE"))
	assert.False(t, c.IsLocateRoute("UNKNOWN"))
}

func TestRulesForPrimaryOrderingAndFiltering(t *testing.T) {
	c := newCache(t, staticStore{
		rules: []domain.CopyRule{
			{ID: uuid.New(), PrimaryAccount: "PRIM1", ShadowAccount: "SHAD2",
				RatioType: domain.RatioMultiplier, RatioValue: decimal.NewFromInt(1), Priority: 2, Active: true},
			{ID: uuid.New(), PrimaryAccount: "PRIM1", ShadowAccount: "SHAD1",
				RatioType: domain.RatioMultiplier, RatioValue: decimal.NewFromInt(1), Priority: 1, Active: true},
			{ID: uuid.New(), PrimaryAccount: "PRIM1", ShadowAccount: "SHAD3",
				RatioType: domain.RatioMultiplier, RatioValue: decimal.NewFromInt(1), Priority: 0, Active: false},
			{ID: uuid.New(), PrimaryAccount: "OTHER", ShadowAccount: "SHAD9",
				RatioType: domain.RatioMultiplier, RatioValue: decimal.NewFromInt(1), Priority: 0, Active: true},
		},
	})

	rules := c.RulesForPrimary("PRIM1")
	require.Len(t, rules, 2, "inactive rules are dropped at refresh")
	assert.Equal(t, "SHAD1", rules[0].ShadowAccount)
	assert.Equal(t, "SHAD2", rules[1].ShadowAccount)

	assert.Empty(t, c.RulesForPrimary("NOBODY"))
}

func TestRefreshSwapsSnapshot(t *testing.T) {
	store := staticStore{
		accounts: []domain.Account{
			{ID: uuid.New(), Number: "PRIM1", Type: domain.AccountTypePrimary, Active: true},
		},
	}
	c := newCache(t, store)

	_, ok := c.AccountByNumber("PRIM1")
	require.True(t, ok)

	// A second refresh from a store that lost the account must drop it.
	c.store = staticStore{}
	require.NoError(t, c.Refresh(context.Background()))
	_, ok = c.AccountByNumber("PRIM1")
	assert.False(t, ok)
}
