// Package copyrule evaluates which shadow orders a primary order must fan
// out to. The evaluation is a pure function of the active rules and the
// primary order's attributes, so a given input always yields the same
// ordered target list.
package copyrule

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantrail/fixmirror/internal/domain"
)

// RuleSource yields the active rules for a primary account. Implemented by
// the reference cache.
type RuleSource interface {
	RulesForPrimary(account string) []domain.CopyRule
}

// Target is one (shadow account, quantity, routing) copy obligation.
type Target struct {
	Rule          domain.CopyRule
	ShadowAccount string
	Qty           decimal.Decimal
	CopyRoute     string
	LocateRoute   string
	CopyBroker    string
}

// ResolveRoute picks the ExDestination for the copied order. Locate orders
// prefer the rule's locate route, then the copy route, then the original
// destination; everything else skips the locate route.
func (t Target) ResolveRoute(isLocate bool, originalRoute string) string {
	if isLocate && t.LocateRoute != "" {
		return t.LocateRoute
	}
	if t.CopyRoute != "" {
		return t.CopyRoute
	}
	return originalRoute
}

// Evaluator computes copy targets from the rule source.
type Evaluator struct {
	rules  RuleSource
	logger *slog.Logger
}

// New creates an Evaluator.
func New(rules RuleSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		rules:  rules,
		logger: logger.With(slog.String("component", "copyrule")),
	}
}

// Evaluate returns the ordered targets for a primary order: active rules for
// the account, filtered by order type and quantity bounds, with the ratio
// applied and non-positive quantities dropped. Ordering is priority asc then
// shadow account lexicographic, so results are deterministic.
func (e *Evaluator) Evaluate(primaryAccount, ordType string, qty decimal.Decimal) []Target {
	rules := e.rules.RulesForPrimary(primaryAccount)
	if len(rules) == 0 {
		return nil
	}

	targets := make([]Target, 0, len(rules))
	for _, r := range rules {
		if !r.AppliesTo(ordType) {
			continue
		}
		if !r.InQuantityBounds(qty) {
			continue
		}
		copyQty := r.Apply(qty)
		if !copyQty.IsPositive() {
			e.logger.Debug("copy rule yields no quantity",
				slog.String("primary_account", primaryAccount),
				slog.String("shadow_account", r.ShadowAccount),
				slog.String("primary_qty", qty.String()),
			)
			continue
		}
		targets = append(targets, Target{
			Rule:          r,
			ShadowAccount: r.ShadowAccount,
			Qty:           copyQty,
			CopyRoute:     r.CopyRoute,
			LocateRoute:   r.LocateRoute,
			CopyBroker:    r.CopyBroker,
		})
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Rule.Priority != targets[j].Rule.Priority {
			return targets[i].Rule.Priority < targets[j].Rule.Priority
		}
		return targets[i].ShadowAccount < targets[j].ShadowAccount
	})
	return targets
}
