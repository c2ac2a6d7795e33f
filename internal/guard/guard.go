// Package guard decides whether an identity may enter a route.
package guard

import (
	"strings"

	"shipcode/client/internal/model"
	"shipcode/client/internal/rbac"
)

// Decision is the outcome of a route check. When Admit is false,
// RedirectTo names where to send the caller instead.
type Decision struct {
	Admit      bool
	RedirectTo string
}

const (
	loginPath = "/login"
	homePath  = "/"
)

// CanEnter checks a path against the identity's capabilities. Nested
// paths are gated by their first segment, so "/projects/p1/tasks" is
// governed by the projects rule. Unauthenticated callers go to the login
// page; authenticated but unauthorized ones go home.
func CanEnter(path string, identity *model.Identity) Decision {
	if identity == nil {
		return Decision{RedirectTo: loginPath}
	}

	caps := rbac.ForIdentity(identity)
	var allowed bool
	switch firstSegment(path) {
	case "login":
		// A signed-in user hitting the login page is sent home.
		return Decision{RedirectTo: homePath}
	case "":
		allowed = caps.CanViewDashboard
	case "projects":
		allowed = caps.CanViewProjects
	case "leads":
		allowed = caps.CanViewLeads
	case "team":
		allowed = caps.CanViewTeam
	case "settings":
		allowed = caps.CanViewSettings
	case "reports":
		allowed = caps.CanViewFinance
	default:
		allowed = false
	}

	if !allowed {
		return Decision{RedirectTo: homePath}
	}
	return Decision{Admit: true}
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
