package protocol

import "strings"

// Role tags which side of the channel produced a message.
type Role uint8

const (
	// RoleNone marks an untagged message. It never matches a bridge role.
	RoleNone Role = iota
	RoleComponent
	RoleHost
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleComponent:
		return "component"
	case RoleHost:
		return "host"
	default:
		return ""
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	switch r {
	case RoleComponent:
		return RoleHost
	case RoleHost:
		return RoleComponent
	default:
		return RoleNone
	}
}

// ParseRole maps a wire name to a Role. Unrecognised names yield RoleNone.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "component":
		return RoleComponent
	case "host":
		return RoleHost
	default:
		return RoleNone
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	*r = ParseRole(string(b))
	return nil
}
