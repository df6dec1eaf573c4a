package domain

import "context"

// UserRole enumerates supported roles.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ID   string
	Role UserRole
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanManage reports whether the principal may modify the given job.
func (p Principal) CanManage(job *GenerationJob) bool {
	if job == nil {
		return false
	}
	return p.IsAdmin() || (p.ID != "" && p.ID == job.OwnerID)
}

// AuthContext resolves the current principal of a request scope.
type AuthContext interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}
