package registry

import "github.com/nmxmxh/wasmrt/pkg/capability"

// Builder bulk-registers a set of components sharing a common namespace
// default, then hands back the assembled Registry. Grounded on the
// teacher's config-struct-then-NewX construction idiom, generalized to a
// fluent builder to match supervisor.ChildSpecBuilder's shape.
type Builder struct {
	defaultNamespace string
	entries          map[capability.ComponentID]Address
}

// NewBuilder starts a builder. defaultNamespace is used by WithComponent
// when a caller supplies an empty namespace.
func NewBuilder(defaultNamespace string) *Builder {
	return &Builder{defaultNamespace: defaultNamespace, entries: make(map[capability.ComponentID]Address)}
}

// WithComponent adds id (defaulting its namespace if empty) with addr.
func (b *Builder) WithComponent(id capability.ComponentID, addr Address) *Builder {
	if id.Namespace == "" {
		id.Namespace = b.defaultNamespace
	}
	b.entries[id] = addr
	return b
}

// Build returns a Registry pre-populated with every WithComponent call.
func (b *Builder) Build() *Registry {
	r := New()
	for id, addr := range b.entries {
		r.Register(id, addr)
	}
	return r
}
