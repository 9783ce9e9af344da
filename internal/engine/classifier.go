package engine

import (
	"log/slog"
	"strings"

	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/refdata"
)

// Origin says whose order an event belongs to.
type Origin string

const (
	// OriginPrimary is an event for the watched primary account; the only
	// origin that triggers replication.
	OriginPrimary Origin = "primary"
	// OriginShadow is an event for an order the engine itself emitted.
	// Recorded, never replicated: a copy of a copy would loop forever.
	OriginShadow Origin = "shadow"
	// OriginObserved is everything else: shadow-account activity without
	// the COPY- convention, or an account the cache does not know.
	OriginObserved Origin = "observed"
)

// Classification is the classifier verdict for one event.
type Classification struct {
	Origin         Origin
	Account        domain.Account // zero when unknown
	AccountKnown   bool
	ShadowAccount  string // parsed from a COPY- ClOrdID
	PrimaryClOrdID string // parsed from a COPY- ClOrdID
	IsLocateOrder  bool
}

// Replicate reports whether the replication engine may emit copies for this
// event.
func (c Classification) Replicate() bool { return c.Origin == OriginPrimary }

// Classifier decides primary vs shadow vs observed from the Account tag and
// the ClOrdID conventions.
type Classifier struct {
	ref    *refdata.Cache
	logger *slog.Logger
}

// NewClassifier creates a Classifier over the reference cache.
func NewClassifier(ref *refdata.Cache, logger *slog.Logger) *Classifier {
	return &Classifier{
		ref:    ref,
		logger: logger.With(slog.String("component", "classifier")),
	}
}

// Classify applies the rules in order: a COPY- ClOrdID is always a shadow
// event; otherwise the account type decides; an unknown account is observed
// with a warning. Locate orders are flagged by either legacy marker: the
// LOC- ClOrdID prefix on primaries, or a buy routed to a locate destination.
func (c *Classifier) Classify(rep fix.ExecReport) Classification {
	if shadowAcct, primary, ok := domain.ParseShadowClOrdID(rep.ClOrdID); ok {
		return Classification{
			Origin:         OriginShadow,
			ShadowAccount:  shadowAcct,
			PrimaryClOrdID: primary,
			IsLocateOrder:  c.isLocate(rep),
		}
	}

	cls := Classification{Origin: OriginObserved, IsLocateOrder: c.isLocate(rep)}
	acct, ok := c.ref.AccountByNumber(rep.Account)
	if !ok {
		c.logger.Warn("event for unknown account",
			slog.String("account", rep.Account),
			slog.String("cl_ord_id", rep.ClOrdID),
			slog.String("symbol", rep.Symbol),
		)
		return cls
	}
	cls.Account = acct
	cls.AccountKnown = true
	if acct.Type == domain.AccountTypePrimary {
		cls.Origin = OriginPrimary
	}
	return cls
}

func (c *Classifier) isLocate(rep fix.ExecReport) bool {
	if strings.HasPrefix(rep.ClOrdID, domain.LegacyLocatePrefix) {
		return true
	}
	return rep.Side == fix.SideBuy && rep.ExDestination != "" && c.ref.IsLocateRoute(rep.ExDestination)
}
