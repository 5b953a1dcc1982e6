// README: Caller identity as supplied by the external auth provider.
package types

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleDriver  Role = "DRIVER"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Identity is passed explicitly into every engine call; the engine keeps no session state.
type Identity struct {
	ID             ID
	Role           Role
	DriverVerified bool
}
