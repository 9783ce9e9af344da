package fix

import (
	"log/slog"

	"github.com/quickfixgo/quickfix"

	"github.com/quantrail/fixmirror/internal/domain"
)

// Sender emits outbound messages on the logged-on order-entry session. A
// send with no logged-on initiator fails with domain.ErrNotLoggedOn; callers
// surface that as an error event and never retry silently.
type Sender struct {
	registry *SessionRegistry
	logger   *slog.Logger
}

// NewSender creates a Sender over the registry.
func NewSender(registry *SessionRegistry, logger *slog.Logger) *Sender {
	return &Sender{
		registry: registry,
		logger:   logger.With(slog.String("component", "fix_sender")),
	}
}

// Send routes the message to the order-entry peer. Non-blocking: quickfix
// queues the message on the session's outbound store.
func (s *Sender) Send(msg *quickfix.Message) error {
	sid, ok := s.registry.FindLoggedOnInitiator()
	if !ok {
		clOrdID, _ := msg.Body.GetString(TagClOrdID)
		s.logger.Error("no logged-on order-entry session",
			slog.String("cl_ord_id", clOrdID),
		)
		return domain.ErrNotLoggedOn
	}
	if err := quickfix.SendToTarget(msg, sid); err != nil {
		return err
	}
	return nil
}
