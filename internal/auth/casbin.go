package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

// Role identifiers. Roles are derived from user capability flags at request
// time, not stored as grouping policies per user.
const (
	RoleUser  = "role:user"
	RoleStaff = "role:staff"
	RoleAdmin = "role:admin"
)

// InitEnforcer creates a Casbin enforcer with the embedded RBAC model and the
// static route policies for the operator surfaces. Application routes are not
// policed here: reaching them at all already required a verified SSO assertion.
func InitEnforcer() (casbin.IEnforcer, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	// role:admin inherits everything role:staff can do.
	policies := [][]string{
		{RoleStaff, "/debug", "*"},
		{RoleStaff, "/debug/*", "*"},
		{RoleAdmin, "/admin/*", "*"},
	}
	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p); err != nil {
			return nil, fmt.Errorf("add casbin policy %v: %w", p, err)
		}
	}
	if _, err := enforcer.AddGroupingPolicy(RoleAdmin, RoleStaff); err != nil {
		return nil, fmt.Errorf("add casbin role inheritance: %w", err)
	}

	return enforcer, nil
}
