package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleOperator  = "operator" // reconciliation and ops surfaces only
)

// IsCallParty reports whether the role may take a side of a call.
func IsCallParty(role string) bool { return role == RoleRequester || role == RoleProvider }

func IsOperator(role string) bool { return role == RoleOperator }
