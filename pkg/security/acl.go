package security

import "github.com/nmxmxh/wasmrt/pkg/capability"

// Policy determines whether an ACL entry grants or denies a match.
type Policy int

const (
	PolicyAllow Policy = iota
	PolicyDeny
)

// ACLEntry is one rule in an ACLPolicy: if ResourcePattern matches the
// requested subject and Permissions contains the requested action (or
// "*"), Policy decides the outcome. Grounded on
// original_source/airssys-osl/src/middleware/security/acl.rs.
type ACLEntry struct {
	Identity        string
	ResourcePattern capability.Pattern
	Permissions     []string
	Policy          Policy
}

func (e ACLEntry) permits(action string) bool {
	for _, p := range e.Permissions {
		if p == "*" || p == action {
			return true
		}
	}
	return false
}

// ACLPolicy is an ordered list of ACLEntry evaluated first-match-wins.
type ACLPolicy struct {
	entries []ACLEntry
}

// NewACLPolicy builds a policy from entries in priority order (first
// matching entry wins, same as the reference implementation's evaluator).
func NewACLPolicy(entries ...ACLEntry) *ACLPolicy {
	return &ACLPolicy{entries: entries}
}

// Allows reports whether identity is granted action on subject, evaluating
// entries in declaration order and stopping at the first match. An
// identity with no matching entry is denied (deny-by-default).
func (p *ACLPolicy) Allows(identity, subject, action string) bool {
	if p == nil {
		return false
	}
	for _, e := range p.entries {
		if e.Identity != identity {
			continue
		}
		if e.ResourcePattern == nil || !e.ResourcePattern.Match(subject) {
			continue
		}
		if !e.permits(action) {
			continue
		}
		return e.Policy == PolicyAllow
	}
	return false
}
