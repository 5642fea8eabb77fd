package domain

// Role is the resolved role of an authenticated caller.
type Role string

const (
	RoleClient   Role = "cliente"
	RoleProvider Role = "prestador"
	RoleOperator Role = "operador"
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string
	Role Role
}
