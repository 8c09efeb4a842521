package domain

import "slices"

// Principal is the authenticated identity bound to a connection at handshake time.
type Principal struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles,omitempty"`
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}
