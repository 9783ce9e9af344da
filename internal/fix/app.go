package fix

import (
	"log/slog"
	"strings"

	"github.com/quickfixgo/quickfix"
)

// NotTradeDayText is the logout text fragment the order-entry peer sends
// outside trading days. It triggers the paused lifecycle, not an error.
const NotTradeDayText = "not trade day"

// AppMessageHandler consumes application-level messages once the session
// layer has accepted them. Implemented by the replication engine dispatcher.
type AppMessageHandler interface {
	HandleAppMessage(msg *quickfix.Message, sessionID quickfix.SessionID, role Role)
}

// Identity holds the comp-ID pairs that classify sessions by role.
type Identity struct {
	DropCopySenderCompID   string
	DropCopyTargetCompID   string
	OrderEntrySenderCompID string
	LogonUsername          string
	LogonPassword          string
}

// App implements quickfix.Application for both gateway sessions. Admin
// traffic is observed for lifecycle only; sequence synchronisation, resends,
// and heartbeats stay with the quickfix transport. In particular the
// drop-copy acceptor never rejects a logon over a sequence mismatch.
type App struct {
	identity Identity
	registry *SessionRegistry
	guard    *SessionGuard
	handler  AppMessageHandler
	logger   *slog.Logger
}

// NewApp creates the shared application callback object.
func NewApp(identity Identity, registry *SessionRegistry, guard *SessionGuard, handler AppMessageHandler, logger *slog.Logger) *App {
	return &App{
		identity: identity,
		registry: registry,
		guard:    guard,
		handler:  handler,
		logger:   logger.With(slog.String("component", "fix_app")),
	}
}

// classify derives the session role from the configured comp-ID identities.
func (a *App) classify(sid quickfix.SessionID) Role {
	if sid.SenderCompID == a.identity.DropCopySenderCompID &&
		sid.TargetCompID == a.identity.DropCopyTargetCompID {
		return RoleDropCopy
	}
	if sid.SenderCompID == a.identity.OrderEntrySenderCompID {
		return RoleOrderEntry
	}
	// Acceptor-side sessions appear with sender/target swapped relative
	// to the configured drop-copy identity.
	if sid.SenderCompID == a.identity.DropCopyTargetCompID &&
		sid.TargetCompID == a.identity.DropCopySenderCompID {
		return RoleDropCopy
	}
	return RoleUnknown
}

// OnCreate registers the session under its classified role.
func (a *App) OnCreate(sid quickfix.SessionID) {
	role := a.classify(sid)
	a.registry.Register(sid, role)
	a.logger.Info("session created",
		slog.String("session_id", sid.String()),
		slog.String("role", string(role)),
	)
}

// OnLogon marks the session logged on.
func (a *App) OnLogon(sid quickfix.SessionID) {
	a.registry.SetLoggedOn(sid, true)
	a.logger.Info("session logged on",
		slog.String("session_id", sid.String()),
		slog.String("role", string(a.registry.RoleOf(sid))),
	)
}

// OnLogout marks the session logged off.
func (a *App) OnLogout(sid quickfix.SessionID) {
	a.registry.SetLoggedOn(sid, false)
	a.logger.Info("session logged out",
		slog.String("session_id", sid.String()),
		slog.String("role", string(a.registry.RoleOf(sid))),
	)
}

// ToAdmin decorates outgoing logons with the optional credentials.
func (a *App) ToAdmin(msg *quickfix.Message, sid quickfix.SessionID) {
	if t, _ := msg.Header.GetString(TagMsgType); t != MsgTypeLogon {
		return
	}
	if a.registry.RoleOf(sid) != RoleOrderEntry {
		return
	}
	if a.identity.LogonUsername != "" {
		msg.Body.SetField(TagUsername, quickfix.FIXString(a.identity.LogonUsername))
	}
	if a.identity.LogonPassword != "" {
		msg.Body.SetField(TagPassword, quickfix.FIXString(a.identity.LogonPassword))
	}
}

// FromAdmin observes inbound admin traffic. A logout from the order-entry
// peer carrying the not-trade-day text pauses the initiator until the next
// trading window.
func (a *App) FromAdmin(msg *quickfix.Message, sid quickfix.SessionID) quickfix.MessageRejectError {
	t, _ := msg.Header.GetString(TagMsgType)
	if t != MsgTypeLogout {
		return nil
	}
	text, _ := msg.Body.GetString(TagText)
	if a.registry.RoleOf(sid) == RoleOrderEntry &&
		strings.Contains(strings.ToLower(text), NotTradeDayText) {
		a.guard.PauseUntilNextWindow(text)
	}
	return nil
}

// ToApp passes outbound application messages through unchanged.
func (a *App) ToApp(_ *quickfix.Message, _ quickfix.SessionID) error {
	return nil
}

// FromApp hands execution reports and locate quote responses to the engine
// dispatcher. Other application traffic is logged and acknowledged.
func (a *App) FromApp(msg *quickfix.Message, sid quickfix.SessionID) quickfix.MessageRejectError {
	t, _ := msg.Header.GetString(TagMsgType)
	switch t {
	case MsgTypeExecutionReport, MsgTypeQuote, MsgTypeOrderCancelReject:
		a.handler.HandleAppMessage(msg, sid, a.registry.RoleOf(sid))
	default:
		a.logger.Debug("unhandled application message",
			slog.String("session_id", sid.String()),
			slog.String("msg_type", t),
		)
	}
	return nil
}
