package supervisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

// ChildSpecBuilder fluently assembles a ChildSpec, validated once at
// Build. Grounded on
// original_source/airssys-rt/src/supervisor/builder/single.rs's fluent
// builder returning a validated immutable ChildSpec, and the teacher's
// config-struct-then-NewX construction idiom.
type ChildSpecBuilder struct {
	spec ChildSpec
	err  error
}

// NewChildSpecBuilder starts a builder with the given id (uuid.Nil lets
// StartChild assign one) and factory.
func NewChildSpecBuilder(id uuid.UUID, factory func() Child) *ChildSpecBuilder {
	return &ChildSpecBuilder{spec: ChildSpec{ID: id, Factory: factory}}
}

func (b *ChildSpecBuilder) WithID(id uuid.UUID) *ChildSpecBuilder {
	b.spec.ID = id
	return b
}

func (b *ChildSpecBuilder) WithName(name string) *ChildSpecBuilder {
	b.spec.Name = name
	return b
}

func (b *ChildSpecBuilder) WithFactory(factory func() Child) *ChildSpecBuilder {
	b.spec.Factory = factory
	return b
}

func (b *ChildSpecBuilder) WithRestartPolicy(policy RestartPolicy) *ChildSpecBuilder {
	b.spec.RestartPolicy = policy
	return b
}

func (b *ChildSpecBuilder) WithShutdownPolicy(policy ShutdownPolicy) *ChildSpecBuilder {
	b.spec.ShutdownPolicy = policy
	return b
}

func (b *ChildSpecBuilder) WithBackoff(policy BackoffPolicy) *ChildSpecBuilder {
	b.spec.Backoff = policy
	return b
}

func (b *ChildSpecBuilder) WithStartTimeout(d time.Duration) *ChildSpecBuilder {
	b.spec.StartTimeout = d
	return b
}

// WithRestartLimit bounds the sliding-window restart counter: at most max
// restarts inside each window. Zero values fall back to the package
// defaults.
func (b *ChildSpecBuilder) WithRestartLimit(max int, window time.Duration) *ChildSpecBuilder {
	b.spec.MaxRestarts = max
	b.spec.RestartWindow = window
	return b
}

// Build validates and returns the assembled ChildSpec. A nil Factory is
// the only condition that makes a ChildSpec unusable.
func (b *ChildSpecBuilder) Build() (ChildSpec, error) {
	if b.spec.Factory == nil {
		return ChildSpec{}, apierrors.Wrap(apierrors.ErrInvalidConfiguration, "ChildSpecBuilder requires a Factory", nil)
	}
	return b.spec, nil
}
