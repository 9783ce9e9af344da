package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantrail/fixmirror/internal/domain"
)

// ReferenceStore implements domain.ReferenceStore using PostgreSQL. Read at
// startup and on explicit refresh; the hot path goes through the cache.
type ReferenceStore struct {
	pool *pgxpool.Pool
}

// NewReferenceStore creates a ReferenceStore backed by the connection pool.
func NewReferenceStore(pool *pgxpool.Pool) *ReferenceStore {
	return &ReferenceStore{pool: pool}
}

// LoadBrokers returns all broker rows.
func (s *ReferenceStore) LoadBrokers(ctx context.Context) ([]domain.Broker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, code, active FROM brokers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load brokers: %w", err)
	}
	defer rows.Close()

	var brokers []domain.Broker
	for rows.Next() {
		var b domain.Broker
		if err := rows.Scan(&b.ID, &b.Name, &b.Code, &b.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan broker: %w", err)
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

// LoadAccounts returns all account rows.
func (s *ReferenceStore) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, number, account_type, broker_id, strategy_key, active
		 FROM accounts ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var accountType string
		if err := rows.Scan(&a.ID, &a.Number, &accountType, &a.BrokerID, &a.StrategyKey, &a.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		a.Type = domain.AccountType(accountType)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// LoadDasLogins returns all terminal login rows.
func (s *ReferenceStore) LoadDasLogins(ctx context.Context) ([]domain.DasLogin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, login, broker_id, active FROM das_logins ORDER BY login`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load das logins: %w", err)
	}
	defer rows.Close()

	var logins []domain.DasLogin
	for rows.Next() {
		var l domain.DasLogin
		if err := rows.Scan(&l.ID, &l.Login, &l.BrokerID, &l.Active); err != nil {
			return nil, fmt.Errorf("postgres: scan das login: %w", err)
		}
		logins = append(logins, l)
	}
	return logins, rows.Err()
}

// LoadRoutes returns all route rows.
func (s *ReferenceStore) LoadRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, broker_id, route_type, is_locate_route, priority
		 FROM routes ORDER BY priority, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var r domain.Route
		var routeType string
		if err := rows.Scan(&r.ID, &r.Name, &r.BrokerID, &routeType, &r.IsLocateRoute, &r.Priority); err != nil {
			return nil, fmt.Errorf("postgres: scan route: %w", err)
		}
		r.RouteType = domain.RouteType(routeType)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// LoadCopyRules returns all copy rule rows.
func (s *ReferenceStore) LoadCopyRules(ctx context.Context) ([]domain.CopyRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, primary_account, shadow_account, ratio_type, ratio_value,
		        order_types, copy_route, locate_route, copy_broker,
		        min_quantity, max_quantity, priority, active
		 FROM copy_rules ORDER BY priority, shadow_account`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load copy rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.CopyRule
	for rows.Next() {
		var r domain.CopyRule
		var ratioType string
		if err := rows.Scan(
			&r.ID, &r.PrimaryAccount, &r.ShadowAccount, &ratioType, &r.RatioValue,
			&r.OrderTypes, &r.CopyRoute, &r.LocateRoute, &r.CopyBroker,
			&r.MinQuantity, &r.MaxQuantity, &r.Priority, &r.Active,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan copy rule: %w", err)
		}
		r.RatioType = domain.RatioType(ratioType)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
