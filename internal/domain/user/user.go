package user

import (
	"errors"
	"strings"
	"time"
)

// Role controls endpoint access: riders use the tracking surface, operators
// curate routes and review consensus suggestions.
type Role string

const (
	RoleRider    Role = "RIDER"
	RoleOperator Role = "OPERATOR"
)

var ErrInvalidRole = errors.New("invalid role")

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleRider || r == RoleOperator
}

func (r Role) String() string { return string(r) }

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Rider is the slice of the rider record this service reads and mutates:
// the denormalized credit balance, premium flag, and proximity-watcher
// opt-in. Registration and profile editing live elsewhere.
type Rider struct {
	ID             string
	CreditBalance  int
	IsPremium      bool
	ProximityOptIn bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProximityEnabled reports whether the destination-proximity watcher may run
// for this rider. Premium riders get it free, others need the paid opt-in.
func (r *Rider) ProximityEnabled() bool {
	return r.IsPremium || r.ProximityOptIn
}
