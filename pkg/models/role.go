package models

// Role is an operator privilege level. Roles are ordered: agent < supervisor < admin.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

var roleRank = map[Role]int{
	RoleAgent:      1,
	RoleSupervisor: 2,
	RoleAdmin:      3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]

	return ok
}

// Satisfies reports whether r meets the required minimum. An empty
// requirement is always met; unknown roles meet nothing else.
func (r Role) Satisfies(required Role) bool {
	if required == "" {
		return true
	}

	return roleRank[r] >= roleRank[required] && roleRank[r] > 0
}

// Invoker identifies who asks for a transition.
type Invoker struct {
	ID     string `json:"id"`
	System bool   `json:"system,omitempty"`
}

// SystemInvoker is used by the automatic sweeper.
var SystemInvoker = Invoker{ID: "system", System: true}
