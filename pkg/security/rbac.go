package security

// Role is a named permission grouping that may inherit from other roles,
// forming a (possibly diamond-shaped, never cyclic) inheritance graph.
// Grounded on original_source/airssys-osl/src/middleware/security/rbac.rs.
type Role struct {
	Name     string
	Inherits []string
}

// RoleGraph resolves a user/component identity to the transitive closure
// of roles it holds.
type RoleGraph struct {
	roles      map[string]Role
	assignment map[string][]string
}

// NewRoleGraph builds a graph from role definitions and a direct
// identity -> role-name assignment map.
func NewRoleGraph(roles []Role, assignment map[string][]string) *RoleGraph {
	m := make(map[string]Role, len(roles))
	for _, r := range roles {
		m[r.Name] = r
	}
	return &RoleGraph{roles: m, assignment: assignment}
}

// Resolve returns every role name identity holds, directly or through
// inheritance, each appearing once. Resolution is a depth-first walk with
// a visited set guarding against cycles — a role that inherits back to an
// ancestor is skipped rather than causing infinite recursion. Diamond
// inheritance (two paths reaching the same ancestor role) is fine and
// yields the role once.
func (g *RoleGraph) Resolve(identity string) []string {
	if g == nil {
		return nil
	}
	visited := make(map[string]bool)
	var order []string

	var walk func(roleName string)
	walk = func(roleName string) {
		if visited[roleName] {
			return
		}
		visited[roleName] = true
		order = append(order, roleName)
		role, ok := g.roles[roleName]
		if !ok {
			return
		}
		for _, parent := range role.Inherits {
			walk(parent)
		}
	}

	for _, roleName := range g.assignment[identity] {
		walk(roleName)
	}
	return order
}
