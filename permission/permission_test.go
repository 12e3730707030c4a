package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectAllow(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "alice", Action: ActionRead, Effect: EffectAllow})
	e := New(p, DenyOverrides, DefaultDeny)

	ok, err := e.IsAuthorized("alice", "doc1", "doc", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsAuthorized("bob", "doc1", "doc", ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleGrantedTransitively(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "editors", Action: ActionWrite, Effect: EffectAllow})
	p.AddRoleMembership(RoleMembership{Role: "editors", Member: "alice"})
	p.AddRoleMembership(RoleMembership{Role: "senior-editors", Member: "editors"})
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "senior-editors", Action: ActionAdmin, Effect: EffectAllow})
	p.AddRoleMembership(RoleMembership{Role: "senior-editors", Member: "bob"})

	e := New(p, DenyOverrides, DefaultDeny)
	ok, err := e.IsAuthorized("bob", "doc1", "doc", ActionAdmin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCyclicRoleGraphTerminates(t *testing.T) {
	p := NewStaticProvider()
	p.AddRoleMembership(RoleMembership{Role: "a", Member: "b"})
	p.AddRoleMembership(RoleMembership{Role: "b", Member: "a"})
	p.AddRoleMembership(RoleMembership{Role: "a", Member: "carol"})
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "a", Action: ActionRead, Effect: EffectAllow})

	e := New(p, DenyOverrides, DefaultDeny)
	done := make(chan bool, 1)
	go func() {
		ok, err := e.IsAuthorized("carol", "doc1", "doc", ActionRead)
		require.NoError(t, err)
		done <- ok
	}()
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("IsAuthorized did not terminate on a cyclic role graph")
	}
}

func TestDenyOverridesAllow(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "everyone", Action: ActionRead, Effect: EffectAllow})
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "alice", Action: ActionRead, Effect: EffectDeny})
	p.AddRoleMembership(RoleMembership{Role: "everyone", Member: "alice"})

	e := New(p, DenyOverrides, DefaultDeny)
	ok, err := e.IsAuthorized("alice", "doc1", "doc", ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowOverridesDeny(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "everyone", Action: ActionRead, Effect: EffectAllow})
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "alice", Action: ActionRead, Effect: EffectDeny})
	p.AddRoleMembership(RoleMembership{Role: "everyone", Member: "alice"})

	e := New(p, AllowOverrides, DefaultDeny)
	ok, err := e.IsAuthorized("alice", "doc1", "doc", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultAllowWhenNoEntries(t *testing.T) {
	p := NewStaticProvider()
	e := New(p, DenyOverrides, DefaultAllow)
	ok, err := e.IsAuthorized("anyone", "unmanaged-doc", "doc", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantByResourceTypeAppliesToEveryInstance(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "item", Subject: "user:alice", Action: ActionRead, Effect: EffectAllow})
	e := New(p, DenyOverrides, DefaultDeny)

	ok, err := e.IsAuthorized("user:alice", "item:7f3a", "item", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok, "a grant on the resource-type name should cover any instance of that type")

	ok, err = e.IsAuthorized("user:alice", "item:7f3a", "widget", ActionRead)
	require.NoError(t, err)
	assert.False(t, ok, "a grant on one resource type must not leak to a different type")
}

func TestExactResourceIDOutranksResourceType(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "item", Subject: "user:alice", Action: ActionRead, Effect: EffectAllow})
	p.Grant(ACLPermission{ResourceID: "item:7f3a", Subject: "user:alice", Action: ActionRead, Effect: EffectDeny})
	e := New(p, DenyOverrides, DefaultDeny)

	ok, err := e.IsAuthorized("user:alice", "item:7f3a", "item", ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.IsAuthorized("user:alice", "item:other", "item", ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRootUserBypassesChecks(t *testing.T) {
	p := NewStaticProvider()
	p.Grant(ACLPermission{ResourceID: "doc1", Subject: "alice", Action: ActionRead, Effect: EffectDeny})
	e := New(p, DenyOverrides, DefaultDeny, "root")
	ok, err := e.IsAuthorized("root", "doc1", "doc", ActionAdmin)
	require.NoError(t, err)
	assert.True(t, ok)
}

