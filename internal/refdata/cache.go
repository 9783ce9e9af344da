// Package refdata keeps reference data (brokers, accounts, routes, copy
// rules) hot in memory. Event handlers read a point-in-time snapshot without
// locking; Refresh rebuilds and atomically swaps the snapshot after
// administrative mutations. Lookups never touch the database.
package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quantrail/fixmirror/internal/domain"
)

type snapshot struct {
	brokersByID      map[uuid.UUID]domain.Broker
	brokersByName    map[string]domain.Broker
	accountsByNumber map[string]domain.Account
	routesByName     map[string]domain.Route
	locateRoutes     []domain.Route // active-broker locate routes, priority asc
	rulesByPrimary   map[string][]domain.CopyRule
	dasLogins        []domain.DasLogin
}

// Cache is the in-memory reference data cache.
type Cache struct {
	store  domain.ReferenceStore
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// New creates an empty cache. Call Refresh before serving lookups.
func New(store domain.ReferenceStore, logger *slog.Logger) *Cache {
	c := &Cache{
		store:  store,
		logger: logger.With(slog.String("component", "refdata")),
	}
	c.snap.Store(&snapshot{
		brokersByID:      map[uuid.UUID]domain.Broker{},
		brokersByName:    map[string]domain.Broker{},
		accountsByNumber: map[string]domain.Account{},
		routesByName:     map[string]domain.Route{},
		rulesByPrimary:   map[string][]domain.CopyRule{},
	})
	return c
}

// Refresh reloads all reference data and swaps the snapshot in one step.
// Concurrent readers keep the old snapshot until the swap.
func (c *Cache) Refresh(ctx context.Context) error {
	brokers, err := c.store.LoadBrokers(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load brokers: %w", err)
	}
	accounts, err := c.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load accounts: %w", err)
	}
	logins, err := c.store.LoadDasLogins(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load das logins: %w", err)
	}
	routes, err := c.store.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load routes: %w", err)
	}
	rules, err := c.store.LoadCopyRules(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load copy rules: %w", err)
	}

	s := &snapshot{
		brokersByID:      make(map[uuid.UUID]domain.Broker, len(brokers)),
		brokersByName:    make(map[string]domain.Broker, len(brokers)),
		accountsByNumber: make(map[string]domain.Account, len(accounts)),
		routesByName:     make(map[string]domain.Route, len(routes)),
		rulesByPrimary:   make(map[string][]domain.CopyRule),
		dasLogins:        logins,
	}
	for _, b := range brokers {
		s.brokersByID[b.ID] = b
		s.brokersByName[b.Name] = b
	}
	for _, a := range accounts {
		s.accountsByNumber[a.Number] = a
	}
	for _, r := range routes {
		s.routesByName[r.Name] = r
		if !r.IsLocateRoute {
			continue
		}
		if b, ok := s.brokersByID[r.BrokerID]; ok && b.Active {
			s.locateRoutes = append(s.locateRoutes, r)
		}
	}
	sort.Slice(s.locateRoutes, func(i, j int) bool {
		if s.locateRoutes[i].Priority != s.locateRoutes[j].Priority {
			return s.locateRoutes[i].Priority < s.locateRoutes[j].Priority
		}
		return s.locateRoutes[i].Name < s.locateRoutes[j].Name
	})
	for _, r := range rules {
		if !r.Active {
			continue
		}
		s.rulesByPrimary[r.PrimaryAccount] = append(s.rulesByPrimary[r.PrimaryAccount], r)
	}
	for k := range s.rulesByPrimary {
		rs := s.rulesByPrimary[k]
		sort.Slice(rs, func(i, j int) bool {
			if rs[i].Priority != rs[j].Priority {
				return rs[i].Priority < rs[j].Priority
			}
			return rs[i].ShadowAccount < rs[j].ShadowAccount
		})
	}

	c.snap.Store(s)
	c.logger.Info("reference data refreshed",
		slog.Int("brokers", len(brokers)),
		slog.Int("accounts", len(accounts)),
		slog.Int("routes", len(routes)),
		slog.Int("copy_rules", len(rules)),
	)
	return nil
}

// AccountByNumber looks up an account by FIX tag 1 value.
func (c *Cache) AccountByNumber(number string) (domain.Account, bool) {
	a, ok := c.snap.Load().accountsByNumber[number]
	return a, ok
}

// BrokerByName looks up a broker by unique name.
func (c *Cache) BrokerByName(name string) (domain.Broker, bool) {
	b, ok := c.snap.Load().brokersByName[name]
	return b, ok
}

// RouteByName looks up a route by name.
func (c *Cache) RouteByName(name string) (domain.Route, bool) {
	r, ok := c.snap.Load().routesByName[name]
	return r, ok
}

// IsLocateRoute reports whether the named destination is a locate route.
// IsLocateRoute is the authoritative marker, not the route type.
func (c *Cache) IsLocateRoute(name string) bool {
	r, ok := c.snap.Load().routesByName[name]
	return ok && r.IsLocateRoute
}

// FirstLocateRoute returns the highest-priority active locate route,
// restricted to the named broker when brokerName is non-empty.
func (c *Cache) FirstLocateRoute(brokerName string) (domain.Route, bool) {
	s := c.snap.Load()
	for _, r := range s.locateRoutes {
		if brokerName == "" {
			return r, true
		}
		if b, ok := s.brokersByID[r.BrokerID]; ok && b.Name == brokerName {
			return r, true
		}
	}
	return domain.Route{}, false
}

// NextLocateRoute returns the first active locate route after the named one,
// used when requoting a rejected offer on an alternative destination.
func (c *Cache) NextLocateRoute(after string) (domain.Route, bool) {
	s := c.snap.Load()
	seen := after == ""
	for _, r := range s.locateRoutes {
		if seen && r.Name != after {
			return r, true
		}
		if r.Name == after {
			seen = true
		}
	}
	return domain.Route{}, false
}

// RulesForPrimary returns the active copy rules for a primary account,
// ordered by priority asc then shadow account. The returned slice is shared;
// callers must not mutate it.
func (c *Cache) RulesForPrimary(account string) []domain.CopyRule {
	return c.snap.Load().rulesByPrimary[account]
}
