package fix

import (
	"testing"

	"github.com/quickfixgo/quickfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sid(sender, target string) quickfix.SessionID {
	return quickfix.SessionID{
		BeginString:  BeginStringFIX42,
		SenderCompID: sender,
		TargetCompID: target,
	}
}

func TestRegistryRolesAndLogon(t *testing.T) {
	r := NewSessionRegistry()
	dropCopy := sid("GW", "TERMINAL")
	orderEntry := sid("GW", "BROKER")

	r.Register(dropCopy, RoleDropCopy)
	r.Register(orderEntry, RoleOrderEntry)

	assert.Equal(t, RoleDropCopy, r.RoleOf(dropCopy))
	assert.Equal(t, RoleOrderEntry, r.RoleOf(orderEntry))
	assert.Equal(t, RoleUnknown, r.RoleOf(sid("X", "Y")))

	_, ok := r.FindLoggedOnInitiator()
	assert.False(t, ok, "nothing logged on yet")

	r.SetLoggedOn(orderEntry, true)
	got, ok := r.FindLoggedOnInitiator()
	require.True(t, ok)
	assert.Equal(t, orderEntry, got)
	assert.True(t, r.IsLoggedOn(orderEntry))

	// A logged-on drop-copy session is never an order-entry candidate.
	r.SetLoggedOn(orderEntry, false)
	r.SetLoggedOn(dropCopy, true)
	_, ok = r.FindLoggedOnInitiator()
	assert.False(t, ok)
}

func TestRegistryReRegisterPreservesLogon(t *testing.T) {
	r := NewSessionRegistry()
	s := sid("GW", "BROKER")

	r.Register(s, RoleOrderEntry)
	r.SetLoggedOn(s, true)
	r.Register(s, RoleOrderEntry)

	assert.True(t, r.IsLoggedOn(s))
}

func TestRegistrySessionsByRole(t *testing.T) {
	r := NewSessionRegistry()
	r.Register(sid("GW", "T1"), RoleDropCopy)
	r.Register(sid("GW", "T2"), RoleDropCopy)
	r.Register(sid("GW", "BROKER"), RoleOrderEntry)

	assert.Len(t, r.SessionsByRole(RoleDropCopy), 2)
	assert.Len(t, r.SessionsByRole(RoleOrderEntry), 1)
}
