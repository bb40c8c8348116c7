package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasmrt/pkg/capability"
)

func TestACLPolicyFirstMatchWins(t *testing.T) {
	pattern, err := capability.NewNamespacePattern("orders:*")
	require.NoError(t, err)

	policy := NewACLPolicy(
		ACLEntry{Identity: "svc", ResourcePattern: pattern, Permissions: []string{"read"}, Policy: PolicyDeny},
		ACLEntry{Identity: "svc", ResourcePattern: pattern, Permissions: []string{"read"}, Policy: PolicyAllow},
	)

	assert.False(t, policy.Allows("svc", "orders:created", "read"))
}

func TestACLPolicyDeniesUnmatchedIdentity(t *testing.T) {
	pattern, err := capability.NewNamespacePattern("orders:*")
	require.NoError(t, err)
	policy := NewACLPolicy(ACLEntry{Identity: "svc", ResourcePattern: pattern, Permissions: []string{"*"}, Policy: PolicyAllow})

	assert.False(t, policy.Allows("other", "orders:created", "read"))
}

func TestACLPolicyWildcardPermission(t *testing.T) {
	pattern, err := capability.NewNamespacePattern("orders:*")
	require.NoError(t, err)
	policy := NewACLPolicy(ACLEntry{Identity: "svc", ResourcePattern: pattern, Permissions: []string{"*"}, Policy: PolicyAllow})

	assert.True(t, policy.Allows("svc", "orders:created", "anything"))
}
