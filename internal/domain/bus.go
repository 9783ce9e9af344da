package domain

import (
	"context"
	"time"
)

// BusEventKind labels a replication lifecycle notification.
type BusEventKind string

const (
	BusOrderReplicated BusEventKind = "order_replicated"
	BusReplicaReplaced BusEventKind = "replica_replaced"
	BusReplicaCanceled BusEventKind = "replica_cancelled"
	BusLocateRequested BusEventKind = "locate_requested"
	BusLocateApproved  BusEventKind = "locate_approved"
	BusLocateRejected  BusEventKind = "locate_rejected"
	BusLocateExpired   BusEventKind = "locate_expired"
	BusOrderRejected   BusEventKind = "order_rejected"
	BusSendFailed      BusEventKind = "send_failed"
)

// BusEvent is a lifecycle notification published for the out-of-core status
// surface. Publication is best-effort and never blocks event handling.
type BusEvent struct {
	Kind           BusEventKind
	PrimaryClOrdID string
	ShadowClOrdID  string
	Account        string
	Symbol         string
	Detail         string
	At             time.Time
}

// EventBus publishes replication lifecycle events. Implementations must be
// safe for concurrent use; a nil-safe no-op implementation is acceptable.
type EventBus interface {
	Publish(ctx context.Context, ev BusEvent) error
}

// NopBus discards all events. Used when no bus backend is configured.
type NopBus struct{}

func (NopBus) Publish(context.Context, BusEvent) error { return nil }
