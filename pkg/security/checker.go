// Package security implements the capability permission checker and its
// ACL/RBAC bridge: the deny-by-default enforcement point every component
// call to a protected resource passes through (spec §3/§4.1).
package security

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

// cacheKey identifies one permission decision for caching purposes.
// Extends the reference checker's (component, resource, action) shape with
// Kind so capabilities of different kinds never collide on a shared
// subject string (e.g. a storage namespace and a messaging topic that
// happen to render identically).
type cacheKey struct {
	component capability.ComponentID
	kind      capability.Kind
	subject   string
	action    string
}

// PermissionChecker evaluates whether a component holds a capability
// covering a requested resource/action, backed by a shared LRU of recent
// decisions (spec §4.1 steps 2-5).
type PermissionChecker struct {
	mu    sync.Mutex
	cache *lru.Cache[cacheKey, bool]
	acl   *ACLPolicy
	rbac  *RoleGraph
	audit *AuditLog
}

// DefaultCacheSize is the number of recent decisions the LRU retains.
const DefaultCacheSize = 4096

// NewPermissionChecker builds a checker with an LRU of size cacheSize (0
// uses DefaultCacheSize), an optional ACL policy and role graph (either may
// be nil — a nil ACL/RBAC simply contributes no additional grants), and an
// audit log to record denials into.
func NewPermissionChecker(cacheSize int, acl *ACLPolicy, rbac *RoleGraph, audit *AuditLog) *PermissionChecker {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, bool](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which is excluded above.
		panic(err)
	}
	return &PermissionChecker{cache: c, acl: acl, rbac: rbac, audit: audit}
}

// Check evaluates whether set grants access to subject under the given
// capability kind and action, consulting the cache first, then the
// CapabilitySet's own compiled patterns, then (if neither decides) the
// ACL/RBAC bridge. Every negative result is recorded to the audit log
// (spec §4.1 "Failure semantics... recorded in audit").
func (c *PermissionChecker) Check(componentID capability.ComponentID, set capability.CapabilitySet, kind capability.Kind, subject, action string) bool {
	key := cacheKey{component: componentID, kind: kind, subject: subject, action: action}

	if allowed, ok := c.lookupCache(key); ok {
		if !allowed {
			c.recordDenial(componentID, kind, subject, action)
		}
		return allowed
	}

	allowed := evaluateCapabilitySet(set, kind, subject, action)
	if !allowed && c.acl != nil {
		allowed = c.acl.Allows(componentID.String(), subject, action)
	}
	if !allowed && c.rbac != nil && c.acl != nil {
		for _, role := range c.rbac.Resolve(componentID.String()) {
			if c.acl.Allows(role, subject, action) {
				allowed = true
				break
			}
		}
	}

	c.storeCache(key, allowed)
	if !allowed {
		c.recordDenial(componentID, kind, subject, action)
	}
	return allowed
}

// lookupCache reads the cache, treating a panic from a corrupted cache
// structure as a miss rather than a failed check — the Go analogue of the
// reference checker's poisoned-mutex bypass (spec §4.1 step 5).
func (c *PermissionChecker) lookupCache(key cacheKey) (allowed bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			allowed, ok = false, false
		}
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *PermissionChecker) storeCache(key cacheKey, allowed bool) {
	defer func() {
		recover()
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, allowed)
}

func (c *PermissionChecker) recordDenial(componentID capability.ComponentID, kind capability.Kind, subject, action string) {
	if c.audit == nil {
		return
	}
	c.audit.Record(AuditEntry{
		Component: componentID,
		Kind:      kind,
		Subject:   subject,
		Action:    action,
		Err:       apierrors.ErrCapabilityDenied,
	})
}

// evaluateCapabilitySet checks the component's own granted capabilities
// for one whose pattern matches subject (and, for Storage, whose action
// matches or is "*") — spec §4.1 step 2.
func evaluateCapabilitySet(set capability.CapabilitySet, kind capability.Kind, subject, action string) bool {
	for _, cap := range set.Kinds(kind) {
		if cap.Kind == capability.KindCustom {
			if cap.Custom == subject {
				return true
			}
			continue
		}
		if cap.Pattern == nil || !cap.Pattern.Match(subject) {
			continue
		}
		if cap.Kind == capability.KindStorage {
			if cap.Action != "*" && cap.Action != action {
				continue
			}
		}
		return true
	}
	return false
}
