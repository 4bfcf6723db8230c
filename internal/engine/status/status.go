// Package status holds the grievance lifecycle graph and the permission
// table deciding which role may take which edge. It is pure logic: no
// storage, no clock, no side effects.
package status

import (
	"grievline/internal/domain"
)

// Edge is one directed transition in the lifecycle graph.
type Edge struct {
	From domain.Status
	To   domain.Status
}

var forward = []Edge{
	{From: domain.StatusSubmitted, To: domain.StatusUnderReview},
	{From: domain.StatusUnderReview, To: domain.StatusAssigned},
	{From: domain.StatusAssigned, To: domain.StatusInProgress},
	{From: domain.StatusInProgress, To: domain.StatusResolved},
}

var withdraw = []Edge{
	{From: domain.StatusSubmitted, To: domain.StatusWithdrawn},
	{From: domain.StatusUnderReview, To: domain.StatusWithdrawn},
}

// permissions maps every legal edge to the roles allowed to take it.
// Withdraw edges accept any role; the engine additionally requires the
// actor to be the submitter. Reject edges exist from every non-terminal
// status and are admin only.
var permissions = map[Edge]map[domain.Role]bool{}

func init() {
	for _, e := range forward {
		permissions[e] = map[domain.Role]bool{
			domain.RoleStaff: true,
			domain.RoleAdmin: true,
		}
	}
	for _, e := range withdraw {
		permissions[e] = map[domain.Role]bool{
			domain.RoleCitizen: true,
			domain.RoleStaff:   true,
			domain.RoleAdmin:   true,
		}
	}
	for _, s := range domain.Statuses() {
		if IsTerminal(s) {
			continue
		}
		permissions[Edge{From: s, To: domain.StatusRejected}] = map[domain.Role]bool{
			domain.RoleAdmin: true,
		}
	}
}

func IsTerminal(s domain.Status) bool {
	switch s {
	case domain.StatusResolved, domain.StatusRejected, domain.StatusWithdrawn:
		return true
	}
	return false
}

// Next returns the legal targets from a status, in lifecycle order.
func Next(from domain.Status) []domain.Status {
	var res []domain.Status
	for _, s := range domain.Statuses() {
		if _, ok := permissions[Edge{From: from, To: s}]; ok {
			res = append(res, s)
		}
	}
	return res
}

// Allowed reports whether role may take the edge from -> to. It does not
// check terminality; use Validate for the full ruling.
func Allowed(role domain.Role, from, to domain.Status) bool {
	roles, ok := permissions[Edge{From: from, To: to}]
	return ok && roles[role]
}

// Validate rules on a requested transition. Precedence: terminal state,
// then edge existence, then role permission.
func Validate(current, requested domain.Status, role domain.Role) error {
	if IsTerminal(current) {
		return &domain.TerminalStateError{Status: current}
	}
	roles, ok := permissions[Edge{From: current, To: requested}]
	if !ok {
		return &domain.InvalidTransitionError{From: current, To: requested}
	}
	if !roles[role] {
		return &domain.ForbiddenError{Action: "transition " + string(current) + " to " + string(requested)}
	}
	return nil
}

// Assignable reports whether assignment may happen at the given status:
// under review or later, not terminal.
func Assignable(s domain.Status) bool {
	switch s {
	case domain.StatusUnderReview, domain.StatusAssigned, domain.StatusInProgress:
		return true
	}
	return false
}
