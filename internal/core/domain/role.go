package domain

import "fmt"

// Role is ordered: viewer < moderator < admin.
type Role uint8

const (
	RoleViewer Role = iota
	RoleModerator
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "viewer":
		return RoleViewer, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// IsController reports whether the role may drive playback.
func (r Role) IsController() bool {
	return r >= RoleModerator
}

// Outranks reports whether r has authority over other.
func (r Role) Outranks(other Role) bool {
	return r > other
}

func (r Role) MarshalText() ([]byte, error) {
	if r > RoleAdmin {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
