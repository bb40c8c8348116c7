package capability

import (
	"fmt"
	"strings"
)

// ComponentID is the stable identity triple for a component instance. It is
// identity only — never used for message delivery by itself (spec §3).
type ComponentID struct {
	Namespace string
	Name      string
	Instance  string
}

// NewComponentID constructs a ComponentID from its three parts.
func NewComponentID(namespace, name, instance string) ComponentID {
	return ComponentID{Namespace: namespace, Name: name, Instance: instance}
}

// String renders the canonical "namespace/name#instance" form.
func (id ComponentID) String() string {
	return fmt.Sprintf("%s/%s#%s", id.Namespace, id.Name, id.Instance)
}

// ParseComponentID parses the canonical "namespace/name#instance" form
// produced by String. The instance part is optional; a string with no '/'
// is rejected.
func ParseComponentID(s string) (ComponentID, error) {
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return ComponentID{}, fmt.Errorf("capability: malformed component id %q", s)
	}
	rest := s[slash+1:]
	name, instance := rest, ""
	if hash := strings.IndexByte(rest, '#'); hash >= 0 {
		name, instance = rest[:hash], rest[hash+1:]
	}
	if name == "" {
		return ComponentID{}, fmt.Errorf("capability: malformed component id %q", s)
	}
	return ComponentID{Namespace: s[:slash], Name: name, Instance: instance}, nil
}

// IsZero reports whether id is the zero value.
func (id ComponentID) IsZero() bool {
	return id.Namespace == "" && id.Name == "" && id.Instance == ""
}
