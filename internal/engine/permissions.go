package engine

import (
	"fmt"
	"strings"

	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/metadata"
)

// Scope returns the rows the user may touch with action on table, as a filter
// group. Admins and grants without conditions get an empty group (every row).
// Several conditioned grants are OR-ed. No matching grant is FORBIDDEN.
func Scope(user *metadata.UserContext, table, action string, reg *metadata.Registry) (filter.Group, error) {
	if user == nil {
		return filter.Group{}, UnauthorizedError("Authentication required")
	}
	// Admin bypasses all permission checks
	if user.IsAdmin() {
		return filter.Group{}, nil
	}

	policies := reg.GetPermissions(table, action)
	if len(policies) == 0 {
		return filter.Group{}, ForbiddenError(fmt.Sprintf("No permission for %s on %s", action, table))
	}

	scope := filter.Group{Join: filter.JoinOr}
	matched := false
	for _, p := range policies {
		if !hasRoleIntersection(user.Roles, p.Roles) {
			continue
		}
		matched = true
		if len(p.Conditions) == 0 {
			return filter.Group{}, nil
		}
		scope.Groups = append(scope.Groups, p.Group())
	}
	if !matched {
		return filter.Group{}, ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", action, table))
	}
	return scope, nil
}

// CheckRecord verifies that record lies inside the user's scope for action.
func CheckRecord(user *metadata.UserContext, table, action string, reg *metadata.Registry, eval *filter.Evaluator, record map[string]any) error {
	scope, err := Scope(user, table, action, reg)
	if err != nil {
		return err
	}
	if !eval.Match(record, scope) {
		return ForbiddenError(fmt.Sprintf("Permission denied for %s on %s", action, table))
	}
	return nil
}

// CanRead reports whether the user holds any read grant on the table.
func CanRead(user *metadata.UserContext, tbl *metadata.Table, reg *metadata.Registry) bool {
	_, err := Scope(user, tbl.Name, metadata.ActionRead, reg)
	return err == nil
}

func hasRoleIntersection(userRoles, policyRoles []string) bool {
	for _, ur := range userRoles {
		for _, pr := range policyRoles {
			if strings.EqualFold(ur, pr) {
				return true
			}
		}
	}
	return false
}
