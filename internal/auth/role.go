package auth

import (
	"fmt"
	"slices"
	"strings"
)

// Role is the permission tag stored on every user row.
type Role string

const (
	RoleMember  Role = "Member"
	RoleTrustee Role = "Trustee"
	RoleAdmin   Role = "Admin"
)

// Roles lists every valid role in ascending privilege.
var Roles = []Role{RoleMember, RoleTrustee, RoleAdmin}

// ParseRole matches raw case-insensitively against the known roles.
func ParseRole(raw string) (Role, error) {
	raw = strings.TrimSpace(raw)
	for _, r := range Roles {
		if strings.EqualFold(raw, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

func (r Role) String() string { return string(r) }

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, string(r))
	}
	return []byte(r), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is the verified caller of a single request.
type Identity struct {
	SubjectID int64 `json:"id"`
	Role      Role  `json:"permission"`
}

// IsAdmin reports whether the identity carries the global override.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
