package auth

import (
	"fmt"

	"hookahplus/internal/domain"
)

// ForbiddenError indicates an authenticated staff member acting outside their role.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("staff role %s required", e.Role)
}

// Policy decides which staff roles may press which buttons.
type Policy struct {
	allowed map[domain.Button]map[domain.Role]bool
	anyRole map[domain.Button]bool
}

// NewPolicy builds a policy from a button -> roles table. A button with an
// empty role list is open to every role; a button missing from the table is
// closed to every role.
func NewPolicy(table map[string][]string) Policy {
	p := Policy{
		allowed: make(map[domain.Button]map[domain.Role]bool, len(table)),
		anyRole: make(map[domain.Button]bool),
	}
	for button, roles := range table {
		b := domain.Button(button)
		if len(roles) == 0 {
			p.anyRole[b] = true
			continue
		}
		set := make(map[domain.Role]bool, len(roles))
		for _, r := range roles {
			set[domain.Role(r)] = true
		}
		p.allowed[b] = set
	}
	return p
}

// Allows reports whether role may press button.
func (p Policy) Allows(button domain.Button, role domain.Role) bool {
	if role == "" {
		return false
	}
	if p.anyRole[button] {
		return true
	}
	return p.allowed[button][role]
}

// AnyRole reports whether button is a staff-override button open to all roles.
func (p Policy) AnyRole(button domain.Button) bool {
	return p.anyRole[button]
}

// RolesFor lists the roles allowed to press button, nil when any role may.
func (p Policy) RolesFor(button domain.Button) []domain.Role {
	if p.anyRole[button] {
		return nil
	}
	var roles []domain.Role
	for _, r := range domain.Roles {
		if p.allowed[button][r] {
			roles = append(roles, r)
		}
	}
	return roles
}

// ButtonsFor lists the buttons role may press, in workflow order.
func (p Policy) ButtonsFor(role domain.Role) []domain.Button {
	var buttons []domain.Button
	for _, b := range domain.Buttons {
		if p.Allows(b, role) {
			buttons = append(buttons, b)
		}
	}
	return buttons
}
