package capability

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// Pattern is the common interface every compiled pattern satisfies. The
// capability layer treats patterns as opaque — matching semantics live
// entirely in the concrete implementations below, compiled once at
// CapabilitySet construction time (spec §4.1 step 1).
type Pattern interface {
	// Match reports whether subject satisfies the pattern.
	Match(subject string) bool
	// String returns the original pattern source.
	String() string
}

// PatternKind identifies which matching semantics a raw pattern string uses.
type PatternKind int

const (
	PatternPath PatternKind = iota
	PatternDomain
	PatternNamespace
	PatternTopic
)

// CompilePattern compiles raw according to kind, returning a validation
// error (never a panic) for malformed input — spec §4.1 step 4: "Invalid
// patterns at compile time -> component load fails."
func CompilePattern(kind PatternKind, raw string) (Pattern, error) {
	switch kind {
	case PatternPath:
		return NewPathPattern(raw)
	case PatternDomain:
		return NewDomainPattern(raw)
	case PatternNamespace:
		return NewNamespacePattern(raw)
	case PatternTopic:
		return NewTopicPattern(raw)
	default:
		return nil, fmt.Errorf("capability: unknown pattern kind %d", kind)
	}
}

// PathPattern matches POSIX-style filesystem globs: "*" (no separator),
// "**" (any depth), "?" (single char), "[abc]", "{a,b}" — spec §4.1.
type PathPattern struct {
	raw string
}

// NewPathPattern validates raw against doublestar's glob grammar (the same
// grammar doublestar.Match understands) and returns a PathPattern. The
// match itself is evaluated lazily per-call via doublestar.Match rather
// than pre-compiled, because doublestar has no stateful compiled form —
// validation happens now so a malformed pattern fails at load time, not at
// the first check.
func NewPathPattern(raw string) (PathPattern, error) {
	if raw == "" {
		return PathPattern{}, fmt.Errorf("capability: empty path pattern")
	}
	if !doublestar.ValidatePattern(raw) {
		return PathPattern{}, fmt.Errorf("capability: invalid path pattern %q", raw)
	}
	return PathPattern{raw: raw}, nil
}

func (p PathPattern) Match(subject string) bool {
	subject = strings.TrimPrefix(subject, "/")
	pattern := strings.TrimPrefix(p.raw, "/")
	ok, err := doublestar.Match(pattern, subject)
	return err == nil && ok
}

func (p PathPattern) String() string { return p.raw }

// DomainPattern matches network hostnames: exact match, or "*.base.domain"
// matching any host ending in ".base.domain", at any label depth — so
// "*.cdn.example.com" covers "a.b.cdn.example.com" too.
type DomainPattern struct {
	raw      string
	compiled glob.Glob
}

// NewDomainPattern compiles raw without a separator rune so "*" spans
// label boundaries: "*.base.domain" requires the ".base.domain" suffix but
// places no bound on how many labels precede it.
func NewDomainPattern(raw string) (DomainPattern, error) {
	if raw == "" {
		return DomainPattern{}, fmt.Errorf("capability: empty domain pattern")
	}
	g, err := glob.Compile(raw)
	if err != nil {
		return DomainPattern{}, fmt.Errorf("capability: invalid domain pattern %q: %w", raw, err)
	}
	return DomainPattern{raw: raw, compiled: g}, nil
}

func (p DomainPattern) Match(subject string) bool {
	return p.compiled.Match(subject)
}

func (p DomainPattern) String() string { return p.raw }

// NamespacePattern matches ':'-separated hierarchical identifiers where
// "*" matches exactly one segment — spec §4.1.
type NamespacePattern struct {
	raw      string
	compiled glob.Glob
}

func NewNamespacePattern(raw string) (NamespacePattern, error) {
	if raw == "" {
		return NamespacePattern{}, fmt.Errorf("capability: empty namespace pattern")
	}
	g, err := glob.Compile(raw, ':')
	if err != nil {
		return NamespacePattern{}, fmt.Errorf("capability: invalid namespace pattern %q: %w", raw, err)
	}
	return NamespacePattern{raw: raw, compiled: g}, nil
}

func (p NamespacePattern) Match(subject string) bool {
	return p.compiled.Match(subject)
}

func (p NamespacePattern) String() string { return p.raw }

// TopicPattern is analogous to NamespacePattern but over '/'-separated
// segments, with "**" meaning any depth — spec §4.1. doublestar already
// implements exactly this grammar over '/'-separated subjects, so topic
// patterns reuse it directly instead of gobwas/glob (which has no
// any-depth wildcard).
type TopicPattern struct {
	raw string
}

func NewTopicPattern(raw string) (TopicPattern, error) {
	if raw == "" {
		return TopicPattern{}, fmt.Errorf("capability: empty topic pattern")
	}
	if !doublestar.ValidatePattern(raw) {
		return TopicPattern{}, fmt.Errorf("capability: invalid topic pattern %q", raw)
	}
	return TopicPattern{raw: raw}, nil
}

func (p TopicPattern) Match(subject string) bool {
	ok, err := doublestar.Match(p.raw, subject)
	return err == nil && ok
}

func (p TopicPattern) String() string { return p.raw }
