package domain

import "context"

// Role is the coarse permission group of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
)

// Identity is the slice of a user record the auction engine needs. Users
// are registered and authenticated elsewhere.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
}

// IdentityLookup resolves subject ids to identities.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, subjectID string) (Identity, error)
}
