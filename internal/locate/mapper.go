// Package locate implements the short-sale locate workflow: quote-request
// emission, offer handling for both protocol variants, deferred shadow
// release, and pending-request expiry.
package locate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantrail/fixmirror/internal/fix"
)

// embeddedPrefix starts the legacy self-describing QuoteReqID form
// QL_<shadowAccount>_<primaryClOrdID>_<route>. Parsed on inbound messages as
// a fallback; the engine only ever emits the short form.
const embeddedPrefix = "QL"

// Mapping ties a short QuoteReqID back to the copy obligation it was raised
// for.
type Mapping struct {
	ShadowAccount  string
	PrimaryClOrdID string
	Route          string
}

// MapStore persists mappings so they survive a restart. Optional; the mapper
// works from its in-process table when no store is configured.
type MapStore interface {
	Put(ctx context.Context, id string, m Mapping) error
	Get(ctx context.Context, id string) (Mapping, bool, error)
}

// Mapper issues short base-36 QuoteReqIDs and resolves them back to their
// mapping. Resolution order: in-process table, backing store, embedded form.
type Mapper struct {
	store MapStore // may be nil
	seq   atomic.Uint64
	clock func() time.Time

	mu   sync.RWMutex
	byID map[string]Mapping
}

// NewMapper creates a Mapper, optionally backed by store.
func NewMapper(store MapStore) *Mapper {
	return &Mapper{
		store: store,
		clock: time.Now,
		byID:  make(map[string]Mapping),
	}
}

// NewQuoteReqID allocates a short QuoteReqID for the mapping and records it.
// The ID is base-36 over (unix-seconds, per-process sequence), comfortably
// inside the 39-character wire limit.
func (m *Mapper) NewQuoteReqID(ctx context.Context, mapping Mapping) (string, error) {
	ts := strconv.FormatInt(m.clock().UTC().Unix(), 36)
	n := strconv.FormatUint(m.seq.Add(1), 36)
	id := embeddedPrefix + strings.ToUpper(ts+"-"+n)
	if len(id) > fix.MaxQuoteReqIDLen {
		return "", fmt.Errorf("locate: quote req id %q exceeds %d chars", id, fix.MaxQuoteReqIDLen)
	}

	m.mu.Lock()
	m.byID[id] = mapping
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Put(ctx, id, mapping); err != nil {
			return "", fmt.Errorf("locate: persist quote req id mapping: %w", err)
		}
	}
	return id, nil
}

// Resolve returns the mapping for a QuoteReqID. Unknown short IDs fall back
// to the backing store and then to parsing the embedded legacy form.
func (m *Mapper) Resolve(ctx context.Context, quoteReqID string) (Mapping, bool) {
	m.mu.RLock()
	mapping, ok := m.byID[quoteReqID]
	m.mu.RUnlock()
	if ok {
		return mapping, true
	}

	if m.store != nil {
		if mapping, found, err := m.store.Get(ctx, quoteReqID); err == nil && found {
			m.mu.Lock()
			m.byID[quoteReqID] = mapping
			m.mu.Unlock()
			return mapping, true
		}
	}

	return ParseEmbedded(quoteReqID)
}

// Known reports whether the QuoteReqID was issued by this engine.
func (m *Mapper) Known(ctx context.Context, quoteReqID string) bool {
	m.mu.RLock()
	_, ok := m.byID[quoteReqID]
	m.mu.RUnlock()
	if ok {
		return true
	}
	if m.store != nil {
		if _, found, err := m.store.Get(ctx, quoteReqID); err == nil && found {
			return true
		}
	}
	return false
}

// ParseEmbedded decodes the legacy QL_<shadow>_<primaryClOrdID>_<route>
// form. The route never contains underscores, the primary ClOrdID may.
func ParseEmbedded(id string) (Mapping, bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 4 || parts[0] != embeddedPrefix {
		return Mapping{}, false
	}
	shadow := parts[1]
	route := parts[len(parts)-1]
	primary := strings.Join(parts[2:len(parts)-1], "_")
	if shadow == "" || primary == "" || route == "" {
		return Mapping{}, false
	}
	return Mapping{ShadowAccount: shadow, PrimaryClOrdID: primary, Route: route}, true
}
