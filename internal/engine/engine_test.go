package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/fixmirror/internal/copyrule"
	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/refdata"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// --- In-memory fakes ---

type memEvents struct {
	mu      sync.Mutex
	events  []domain.OrderEvent
	execIDs map[string]bool
}

func newMemEvents() *memEvents {
	return &memEvents{execIDs: make(map[string]bool)}
}

func (s *memEvents) AppendEvent(_ context.Context, ev domain.OrderEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execIDs[ev.ExecID] {
		return false, nil
	}
	s.execIDs[ev.ExecID] = true
	s.events = append(s.events, ev)
	return true, nil
}

func (s *memEvents) UpsertOrderFromEvent(context.Context, domain.OrderEvent) error { return nil }

func (s *memEvents) ApplyEvent(ctx context.Context, ev domain.OrderEvent) (bool, error) {
	return s.AppendEvent(ctx, ev)
}

func (s *memEvents) FindEventsForOrder(_ context.Context, clOrdID, fixOrderID string, desc bool) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderEvent
	for _, ev := range s.events {
		if ev.FixClOrdID == clOrdID || ev.FixOrigClOrdID == clOrdID ||
			(fixOrderID != "" && ev.FixOrderID == fixOrderID) ||
			strings.HasPrefix(ev.FixClOrdID, clOrdID+"-R") {
			out = append(out, ev)
		}
	}
	if desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *memEvents) LatestEvent(ctx context.Context, clOrdID, fixOrderID string) (domain.OrderEvent, error) {
	evs, err := s.FindEventsForOrder(ctx, clOrdID, fixOrderID, false)
	if err != nil || len(evs) == 0 {
		return domain.OrderEvent{}, domain.ErrNotFound
	}
	return evs[len(evs)-1], nil
}

func (s *memEvents) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderEvent
	for _, ev := range s.events {
		if ev.EventTime.Before(cutoff) {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memEvents) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.OrderEvent
	var deleted int64
	for _, ev := range s.events {
		if ev.EventTime.Before(cutoff) {
			deleted++
			delete(s.execIDs, ev.ExecID)
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

func (s *memEvents) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memOrders struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]domain.Order
	byClOrdID map[string]uuid.UUID
}

func newMemOrders() *memOrders {
	return &memOrders{
		byID:      make(map[uuid.UUID]domain.Order),
		byClOrdID: make(map[string]uuid.UUID),
	}
}

func (s *memOrders) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[o.ID] = o
	s.byClOrdID[o.FixClOrdID] = o.ID
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id uuid.UUID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) GetByClOrdID(_ context.Context, clOrdID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClOrdID[clOrdID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memOrders) ListShadows(_ context.Context, primaryClOrdID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.byID {
		if o.PrimaryClOrdID == primaryClOrdID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (s *memOrders) ListDrafts(ctx context.Context, primaryClOrdID string) ([]domain.Order, error) {
	shadows, _ := s.ListShadows(ctx, primaryClOrdID)
	var out []domain.Order
	for _, o := range shadows {
		if o.Status == domain.OrderStatusDraft {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrders) UpdateStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	s.byID[id] = o
	return nil
}

func (s *memOrders) UpdateFixClOrdID(_ context.Context, id uuid.UUID, fixClOrdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.byClOrdID, o.FixClOrdID)
	o.FixOrigClOrdID = o.FixClOrdID
	o.FixClOrdID = fixClOrdID
	s.byID[id] = o
	s.byClOrdID[fixClOrdID] = id
	return nil
}

type recSender struct {
	mu      sync.Mutex
	failErr error
	msgs    []*quickfix.Message
}

func (s *recSender) Send(msg *quickfix.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recSender) sent() []*quickfix.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*quickfix.Message(nil), s.msgs...)
}

func msgField(m *quickfix.Message, tag quickfix.Tag) string {
	v, _ := m.Body.GetString(tag)
	return v
}

func msgType(m *quickfix.Message) string {
	v, _ := m.Header.GetString(fix.TagMsgType)
	return v
}

type fakeLocates struct {
	mu             sync.Mutex
	requested      []copyrule.Target
	quoteResponses int
	calculated     int
	rejections     []string
	cancelled      []string
}

func (f *fakeLocates) RequestLocate(_ context.Context, _ fix.ExecReport, t copyrule.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, t)
	return nil
}

func (f *fakeLocates) HandleQuoteResponse(context.Context, fix.ExecReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteResponses++
	return nil
}

func (f *fakeLocates) HandleCalculated(context.Context, fix.ExecReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calculated++
	return nil
}

func (f *fakeLocates) HandleLocateRejection(_ context.Context, primaryClOrdID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, primaryClOrdID)
	return nil
}

func (f *fakeLocates) CancelPending(_ context.Context, primaryClOrdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, primaryClOrdID)
	return nil
}

type memBus struct {
	mu     sync.Mutex
	events []domain.BusEvent
}

func (b *memBus) Publish(_ context.Context, ev domain.BusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *memBus) kinds() []domain.BusEventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BusEventKind, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}

type staticRefStore struct {
	brokers  []domain.Broker
	accounts []domain.Account
	logins   []domain.DasLogin
	routes   []domain.Route
	rules    []domain.CopyRule
}

func (s staticRefStore) LoadBrokers(context.Context) ([]domain.Broker, error)    { return s.brokers, nil }
func (s staticRefStore) LoadAccounts(context.Context) ([]domain.Account, error)  { return s.accounts, nil }
func (s staticRefStore) LoadDasLogins(context.Context) ([]domain.DasLogin, error) { return s.logins, nil }
func (s staticRefStore) LoadRoutes(context.Context) ([]domain.Route, error)      { return s.routes, nil }
func (s staticRefStore) LoadCopyRules(context.Context) ([]domain.CopyRule, error) { return s.rules, nil }

func newTestCache(t *testing.T, store domain.ReferenceStore) *refdata.Cache {
	t.Helper()
	c := refdata.New(store, testLogger())
	require.NoError(t, c.Refresh(context.Background()))
	return c
}

func defaultRefStore() staticRefStore {
	brokerID := uuid.New()
	return staticRefStore{
		brokers: []domain.Broker{
			{ID: brokerID, Name: "BRKR", Active: true},
		},
		accounts: []domain.Account{
			{ID: uuid.New(), Number: "PRIM1", Type: domain.AccountTypePrimary, BrokerID: brokerID, Active: true},
			{ID: uuid.New(), Number: "SHAD1", Type: domain.AccountTypeShadow, BrokerID: brokerID, Active: true},
			{ID: uuid.New(), Number: "SHAD2", Type: domain.AccountTypeShadow, BrokerID: brokerID, Active: true},
		},
		routes: []domain.Route{
			{ID: uuid.New(), Name: "NYSE", BrokerID: brokerID},
			{ID: uuid.New(), Name: "LOCRT", BrokerID: brokerID, RouteType: domain.RouteTypeQuote, IsLocateRoute: true, Priority: 1},
			{ID: uuid.New(), Name: "LOCRT2", BrokerID: brokerID, RouteType: domain.RouteTypeOffer, IsLocateRoute: true, Priority: 2},
		},
		rules: []domain.CopyRule{
			{ID: uuid.New(), PrimaryAccount: "PRIM1", ShadowAccount: "SHAD1",
				RatioType: domain.RatioMultiplier, RatioValue: dec("1"), Priority: 1, Active: true},
			{ID: uuid.New(), PrimaryAccount: "PRIM1", ShadowAccount: "SHAD2",
				RatioType: domain.RatioPercentage, RatioValue: dec("0.5"), Priority: 2, Active: true},
		},
	}
}

type fixture struct {
	engine  *Engine
	events  *memEvents
	orders  *memOrders
	sender  *recSender
	locates *fakeLocates
	bus     *memBus
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		events:  newMemEvents(),
		orders:  newMemOrders(),
		sender:  &recSender{},
		locates: &fakeLocates{},
		bus:     &memBus{},
	}
	cache := newTestCache(t, defaultRefStore())
	eval := copyrule.New(cache, testLogger())
	f.engine = New(cfg, f.events, f.orders, cache, eval, f.sender, f.locates, f.bus, testLogger())
	return f
}

func primaryReport(execID, clOrdID string) fix.ExecReport {
	return fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     execID,
		ExecType:   fix.ExecTypeNew,
		OrdStatus:  fix.OrdStatusNew,
		ClOrdID:    clOrdID,
		Account:    "PRIM1",
		Symbol:     "AAPL",
		Side:       fix.SideBuy,
		OrdType:    fix.OrdTypeLimit,
		Qty:        dec("100"),
		Price:      dec("12.34"),
		ReceivedAt: time.Now().UTC(),
	}
}

// --- Scenarios ---

func TestReplicateNewOrder(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))

	msgs := f.sender.sent()
	require.Len(t, msgs, 2, "one copy per shadow account")

	first := msgs[0]
	assert.Equal(t, fix.MsgTypeNewOrderSingle, msgType(first))
	assert.Equal(t, "SHAD1", msgField(first, fix.TagAccount))
	assert.Equal(t, "COPY-SHAD1-ABC", msgField(first, fix.TagClOrdID))
	assert.Equal(t, "100", msgField(first, fix.TagOrderQty))
	assert.Equal(t, "12.34", msgField(first, fix.TagPrice))

	second := msgs[1]
	assert.Equal(t, "SHAD2", msgField(second, fix.TagAccount))
	assert.Equal(t, "50", msgField(second, fix.TagOrderQty), "SHAD2 copies at 50%")

	shadow, err := f.orders.GetByClOrdID(ctx, "COPY-SHAD1-ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", shadow.PrimaryClOrdID)
	assert.Equal(t, domain.OrderStatusNew, shadow.Status)

	assert.Contains(t, f.bus.kinds(), domain.BusOrderReplicated)
}

func TestDuplicateExecIDIsNoOp(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	rep := primaryReport("E1", "ABC")
	require.NoError(t, f.engine.Process(ctx, rep))
	sent := len(f.sender.sent())

	require.NoError(t, f.engine.Process(ctx, rep))
	assert.Len(t, f.sender.sent(), sent, "replayed ExecID must not re-send")
}

func TestAckReplayWithFreshExecIDDoesNotDoubleSend(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	sent := len(f.sender.sent())

	// Same primary ack resent under a new ExecID, e.g. after session resend.
	require.NoError(t, f.engine.Process(ctx, primaryReport("E1b", "ABC")))
	assert.Len(t, f.sender.sent(), sent, "existing shadow identity must not re-send")
}

func TestStopLimitNotReplicated(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := primaryReport("E1", "ABC")
	rep.OrdType = fix.OrdTypeStopLimit
	rep.StopPx = dec("11.50")
	require.NoError(t, f.engine.Process(context.Background(), rep))

	assert.Empty(t, f.sender.sent())
	assert.Equal(t, 1, f.events.count(), "recorded for the audit trail only")
}

func TestStopOrderIsReplicated(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := primaryReport("E1", "ABC")
	rep.OrdType = fix.OrdTypeStop
	rep.Price = decimal.Zero
	rep.StopPx = dec("11.50")
	require.NoError(t, f.engine.Process(context.Background(), rep))

	msgs := f.sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "11.5", msgField(msgs[0], fix.TagStopPx))
}

func TestShadowEventsAreNeverReplicated(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := primaryReport("E1", "COPY-SHAD1-ABC")
	rep.Account = "SHAD1"
	require.NoError(t, f.engine.Process(context.Background(), rep))

	assert.Empty(t, f.sender.sent(), "a copy of a copy would loop forever")
}

func TestShortSellGoesThroughLocate(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := primaryReport("E1", "ABC")
	rep.Side = fix.SideSellShort
	require.NoError(t, f.engine.Process(context.Background(), rep))

	assert.Empty(t, f.sender.sent(), "short copies wait for their locate")
	require.Len(t, f.locates.requested, 2)
	assert.Equal(t, "SHAD1", f.locates.requested[0].ShadowAccount)
	assert.Equal(t, "SHAD2", f.locates.requested[1].ShadowAccount)
}

func TestPrimaryLocateOrderNotReplicated(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	// Legacy marker form.
	rep := primaryReport("E1", "LOC-ABC")
	require.NoError(t, f.engine.Process(context.Background(), rep))
	assert.Empty(t, f.sender.sent())

	// Buy routed to a locate destination.
	rep2 := primaryReport("E2", "DEF")
	rep2.ExDestination = "LOCRT"
	require.NoError(t, f.engine.Process(context.Background(), rep2))
	assert.Empty(t, f.sender.sent())
}

func TestReplaceMirroredToShadows(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	rep := fix.ExecReport{
		MsgType:     fix.MsgTypeExecutionReport,
		ExecID:      "E2",
		ExecType:    fix.ExecTypeReplaced,
		OrdStatus:   fix.OrdStatusReplaced,
		ClOrdID:     "ABC2",
		OrigClOrdID: "ABC",
		Account:     "PRIM1",
		Symbol:      "AAPL",
		Side:        fix.SideBuy,
		OrdType:     fix.OrdTypeLimit,
		Qty:         dec("60"),
		Price:       dec("13.00"),
		ReceivedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))

	msgs := f.sender.sent()
	require.Len(t, msgs, 2)
	g := msgs[0]
	assert.Equal(t, fix.MsgTypeOrderCancelReplace, msgType(g))
	assert.Equal(t, "COPY-SHAD1-ABC", msgField(g, fix.TagOrigClOrdID))
	assert.Equal(t, "COPY-SHAD1-ABC2", msgField(g, fix.TagClOrdID))
	assert.Equal(t, "60", msgField(g, fix.TagOrderQty))
	assert.Equal(t, "13", msgField(g, fix.TagPrice))
	assert.Equal(t, "30", msgField(msgs[1], fix.TagOrderQty), "replaced qty re-ratioed per rule")

	shadow, err := f.orders.GetByClOrdID(ctx, "COPY-SHAD1-ABC2")
	require.NoError(t, err)
	assert.Equal(t, "ABC", shadow.PrimaryClOrdID, "canonical identity unchanged")
}

func TestReplaceKeepingPrimaryIDGainsSuffix(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))

	// The terminal reuses the primary ClOrdID on every amend; the
	// order-entry dialect still requires a distinct new ID each time.
	samePrimaryReplace := func(execID string) fix.ExecReport {
		return fix.ExecReport{
			MsgType:     fix.MsgTypeExecutionReport,
			ExecID:      execID,
			ExecType:    fix.ExecTypeReplaced,
			OrdStatus:   fix.OrdStatusReplaced,
			ClOrdID:     "ABC",
			OrigClOrdID: "ABC",
			Account:     "PRIM1",
			Symbol:      "AAPL",
			Side:        fix.SideBuy,
			OrdType:     fix.OrdTypeLimit,
			Qty:         dec("60"),
			Price:       dec("13.00"),
			ReceivedAt:  time.Now().UTC(),
		}
	}
	require.NoError(t, f.engine.Process(ctx, samePrimaryReplace("E2")))
	require.NoError(t, f.engine.Process(ctx, samePrimaryReplace("E3")))

	msgs := f.sender.sent()
	require.Len(t, msgs, 6, "two orders, two replaces each")

	// No wire ClOrdID may ever repeat across the chain.
	seen := make(map[string]bool)
	for _, m := range msgs {
		id := msgField(m, fix.TagClOrdID)
		require.False(t, seen[id], "wire ClOrdID %q reused", id)
		seen[id] = true
	}

	first, second := msgs[2], msgs[4] // the SHAD1 replaces
	assert.Equal(t, "COPY-SHAD1-ABC", msgField(first, fix.TagOrigClOrdID))
	assert.True(t, strings.HasPrefix(msgField(first, fix.TagClOrdID), "COPY-SHAD1-ABC-R"))
	assert.Equal(t, msgField(first, fix.TagClOrdID), msgField(second, fix.TagOrigClOrdID),
		"second amend references the first amend's wire ID")
	assert.True(t, strings.HasPrefix(msgField(second, fix.TagClOrdID), "COPY-SHAD1-ABC-R"))
}

func TestChainedReplaceResolvesShadowsThroughEventLog(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	initial := primaryReport("E1", "ABC")
	initial.OrderID = "ORD1"
	require.NoError(t, f.engine.Process(ctx, initial))

	replace := func(execID, clOrdID, origClOrdID string) fix.ExecReport {
		return fix.ExecReport{
			MsgType:     fix.MsgTypeExecutionReport,
			ExecID:      execID,
			ExecType:    fix.ExecTypeReplaced,
			OrdStatus:   fix.OrdStatusReplaced,
			ClOrdID:     clOrdID,
			OrigClOrdID: origClOrdID,
			OrderID:     "ORD1",
			Account:     "PRIM1",
			Symbol:      "AAPL",
			Side:        fix.SideBuy,
			OrdType:     fix.OrdTypeLimit,
			Qty:         dec("60"),
			Price:       dec("13.00"),
			ReceivedAt:  time.Now().UTC(),
		}
	}

	require.NoError(t, f.engine.Process(ctx, replace("E2", "ABC2", "ABC")))
	f.sender.msgs = nil

	// The second replace references ABC2, not the original ABC the shadows
	// are keyed on; the event log links them.
	require.NoError(t, f.engine.Process(ctx, replace("E3", "ABC3", "ABC2")))

	msgs := f.sender.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "COPY-SHAD1-ABC2", msgField(msgs[0], fix.TagOrigClOrdID))
	assert.Equal(t, "COPY-SHAD1-ABC3", msgField(msgs[0], fix.TagClOrdID))
}

func TestCancelMirroredToShadows(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	rep := fix.ExecReport{
		MsgType:     fix.MsgTypeExecutionReport,
		ExecID:      "E2",
		ExecType:    fix.ExecTypeCanceled,
		OrdStatus:   fix.OrdStatusCanceled,
		ClOrdID:     "ABC-C",
		OrigClOrdID: "ABC",
		Account:     "PRIM1",
		Symbol:      "AAPL",
		Side:        fix.SideBuy,
		ReceivedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))

	msgs := f.sender.sent()
	require.Len(t, msgs, 2)
	fmsg := msgs[0]
	assert.Equal(t, fix.MsgTypeOrderCancelRequest, msgType(fmsg))
	// Equal IDs are legal on cancels in this dialect.
	assert.Equal(t, "COPY-SHAD1-ABC", msgField(fmsg, fix.TagClOrdID))
	assert.Equal(t, "COPY-SHAD1-ABC", msgField(fmsg, fix.TagOrigClOrdID))

	assert.Equal(t, []string{"ABC"}, f.locates.cancelled, "pending locates withdrawn")
	assert.Contains(t, f.bus.kinds(), domain.BusReplicaCanceled)
}

func TestCancelRetiresDraftsLocally(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	draft := domain.Order{
		ID:             uuid.New(),
		AccountNumber:  "SHAD1",
		PrimaryClOrdID: "XYZ",
		FixClOrdID:     "COPY-SHAD1-XYZ",
		Symbol:         "GME",
		Side:           fix.SideSellShort,
		Status:         domain.OrderStatusDraft,
	}
	require.NoError(t, f.orders.Create(ctx, draft))

	rep := fix.ExecReport{
		MsgType:     fix.MsgTypeExecutionReport,
		ExecID:      "E2",
		ExecType:    fix.ExecTypeCanceled,
		OrdStatus:   fix.OrdStatusCanceled,
		ClOrdID:     "XYZ",
		OrigClOrdID: "XYZ",
		Account:     "PRIM1",
		Symbol:      "GME",
		Side:        fix.SideSellShort,
		ReceivedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))

	assert.Empty(t, f.sender.sent(), "a draft was never sent, nothing to cancel on the wire")
	got, err := f.orders.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestFillsNeverTriggerOutboundTraffic(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	rep := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E2",
		ExecType:   fix.ExecTypePartialFill,
		OrdStatus:  fix.OrdStatusPartiallyFilled,
		ClOrdID:    "ABC",
		Account:    "PRIM1",
		Symbol:     "AAPL",
		Side:       fix.SideBuy,
		LastQty:    dec("40"),
		CumQty:     dec("40"),
		LastPx:     dec("12.30"),
		AvgPx:      dec("12.30"),
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))
	assert.Empty(t, f.sender.sent())
}

func TestFillWithMissingFieldsIsRecordedNotFatal(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E1",
		ExecType:   fix.ExecTypeFill,
		OrdStatus:  fix.OrdStatusFilled,
		ClOrdID:    "ABC",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(context.Background(), rep))
	assert.Equal(t, 1, f.events.count())
}

func TestRejectedShadowWithLocateText(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))

	rep := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E2",
		OrdStatus:  fix.OrdStatusRejected,
		ExecType:   fix.ExecTypeRejected,
		ClOrdID:    "COPY-SHAD1-ABC",
		Account:    "SHAD1",
		Symbol:     "AAPL",
		Text:       "No Locate Found for symbol",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))

	shadow, err := f.orders.GetByClOrdID(ctx, "COPY-SHAD1-ABC")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, shadow.Status)
	assert.Equal(t, []string{"ABC"}, f.locates.rejections)
}

func routeReject(execID, clOrdID string) fix.ExecReport {
	return fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     execID,
		OrdStatus:  fix.OrdStatusRejected,
		ExecType:   fix.ExecTypeRejected,
		ClOrdID:    clOrdID,
		Account:    "SHAD1",
		Symbol:     "AAPL",
		Side:       fix.SideBuy,
		AvgPx:      dec("12.34"),
		Text:       "Route not available",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestRejectedShadowRouteRetry(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, RetryRoutes: true})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	require.NoError(t, f.engine.Process(ctx, routeReject("E2", "COPY-SHAD1-ABC")))

	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	retry := msgs[0]
	assert.Equal(t, fix.MsgTypeNewOrderSingle, msgType(retry))
	assert.False(t, retry.Body.Has(fix.TagExDestination), "retry lets the broker route")
	newID := msgField(retry, fix.TagClOrdID)
	assert.True(t, strings.HasPrefix(newID, "COPY-SHAD1-ABC-R"), "got %q", newID)

	shadow, err := f.orders.GetByClOrdID(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, shadow.Status)
}

func TestRejectedShadowRouteRetryRequiresFields(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, RetryRoutes: true})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	// A reject without Side and price falls back to permanent rejection.
	rep := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E2",
		OrdStatus:  fix.OrdStatusRejected,
		ExecType:   fix.ExecTypeRejected,
		ClOrdID:    "COPY-SHAD1-ABC",
		Account:    "SHAD1",
		Text:       "no such route",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, rep))

	assert.Empty(t, f.sender.sent())
	shadow, err := f.orders.GetByClOrdID(ctx, "COPY-SHAD1-ABC")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, shadow.Status)
}

func TestRejectedShadowRouteRetryHappensOnce(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, RetryRoutes: true})
	ctx := context.Background()

	require.NoError(t, f.engine.Process(ctx, primaryReport("E1", "ABC")))
	f.sender.msgs = nil

	require.NoError(t, f.engine.Process(ctx, routeReject("E2", "COPY-SHAD1-ABC")))
	msgs := f.sender.sent()
	require.Len(t, msgs, 1)
	retriedID := msgField(msgs[0], fix.TagClOrdID)

	// The broker rejects the re-emitted copy for its route as well; the
	// second rejection is final.
	require.NoError(t, f.engine.Process(ctx, routeReject("E3", retriedID)))
	assert.Len(t, f.sender.sent(), 1, "one retry per order")

	shadow, err := f.orders.GetByClOrdID(ctx, retriedID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, shadow.Status)
}

func TestRejectedPrimaryWithdrawsLocates(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E1",
		OrdStatus:  fix.OrdStatusRejected,
		ExecType:   fix.ExecTypeRejected,
		ClOrdID:    "ABC",
		Account:    "PRIM1",
		Symbol:     "AAPL",
		Text:       "rejected by exchange",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(context.Background(), rep))

	assert.Equal(t, []string{"ABC"}, f.locates.cancelled)
	assert.Contains(t, f.bus.kinds(), domain.BusOrderRejected)
}

func TestQuoteAndCalculatedRouteToLocateService(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	quote := fix.ExecReport{MsgType: fix.MsgTypeQuote, QuoteReqID: "QL1"}
	require.NoError(t, f.engine.Process(ctx, quote))
	assert.Equal(t, 1, f.locates.quoteResponses)

	calc := fix.ExecReport{
		MsgType:    fix.MsgTypeExecutionReport,
		ExecID:     "E1",
		ExecType:   fix.ExecTypeCalculated,
		OrdStatus:  fix.OrdStatusCalculated,
		ClOrdID:    "QL1",
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, f.engine.Process(ctx, calc))
	assert.Equal(t, 1, f.locates.calculated)
}

func TestCancelRejectSurfacesOnBus(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})

	rep := fix.ExecReport{
		MsgType:     fix.MsgTypeOrderCancelReject,
		ClOrdID:     "COPY-SHAD1-ABC",
		OrigClOrdID: "COPY-SHAD1-OLD",
		Text:        "too late to cancel",
	}
	require.NoError(t, f.engine.Process(context.Background(), rep))
	assert.Contains(t, f.bus.kinds(), domain.BusSendFailed)
}

func TestHandleAppMessageSerialisesPerOrder(t *testing.T) {
	f := newFixture(t, Config{Workers: 4})

	msg := quickfix.NewMessage()
	msg.Header.SetField(fix.TagMsgType, quickfix.FIXString(fix.MsgTypeExecutionReport))
	msg.Body.SetField(fix.TagExecID, quickfix.FIXString("E1"))
	msg.Body.SetField(fix.TagExecType, quickfix.FIXString(fix.ExecTypeNew))
	msg.Body.SetField(fix.TagOrdStatus, quickfix.FIXString(fix.OrdStatusNew))
	msg.Body.SetField(fix.TagClOrdID, quickfix.FIXString("ABC"))
	msg.Body.SetField(fix.TagAccount, quickfix.FIXString("PRIM1"))
	msg.Body.SetField(fix.TagSymbol, quickfix.FIXString("AAPL"))
	msg.Body.SetField(fix.TagSide, quickfix.FIXString(fix.SideBuy))
	msg.Body.SetField(fix.TagOrdType, quickfix.FIXString(fix.OrdTypeLimit))
	msg.Body.SetField(fix.TagOrderQty, quickfix.FIXString("100"))
	msg.Body.SetField(fix.TagPrice, quickfix.FIXString("12.34"))

	f.engine.HandleAppMessage(msg, quickfix.SessionID{}, fix.RoleDropCopy)
	require.NoError(t, f.engine.Close(context.Background()))

	assert.Len(t, f.sender.sent(), 2)
}
