// Package rbac maps roles to fixed capability sets. Pure lookup, no state.
package rbac

import "shipcode/client/internal/model"

// Capabilities is the full set of things a role may view or do. The zero
// value is the all-false set used for unauthenticated callers.
type Capabilities struct {
	CanViewDashboard bool
	CanViewProjects  bool
	CanViewLeads     bool
	CanViewTeam      bool
	CanViewSettings  bool
	CanViewFinance   bool

	CanCreateProject bool
	CanEditProject   bool
	CanDeleteProject bool
	CanManageLeads   bool
	CanManageTasks   bool
	CanInviteMembers bool
	CanEditSettings  bool
	CanSignContracts bool
}

// For returns the capability set for a role. Unknown roles get the
// all-false set.
func For(role model.Role) Capabilities {
	switch role {
	case model.RoleAdmin:
		return Capabilities{
			CanViewDashboard: true,
			CanViewProjects:  true,
			CanViewLeads:     true,
			CanViewTeam:      true,
			CanViewSettings:  true,
			CanViewFinance:   true,
			CanCreateProject: true,
			CanEditProject:   true,
			CanDeleteProject: true,
			CanManageLeads:   true,
			CanManageTasks:   true,
			CanInviteMembers: true,
			CanEditSettings:  true,
			CanSignContracts: true,
		}
	case model.RoleManager:
		return Capabilities{
			CanViewDashboard: true,
			CanViewProjects:  true,
			CanViewLeads:     true,
			CanViewTeam:      true,
			CanViewFinance:   true,
			CanCreateProject: true,
			CanEditProject:   true,
			CanManageLeads:   true,
			CanManageTasks:   true,
			CanInviteMembers: true,
			CanSignContracts: true,
		}
	case model.RoleContributor:
		return Capabilities{
			CanViewDashboard: true,
			CanViewProjects:  true,
			CanViewTeam:      true,
			CanManageTasks:   true,
		}
	case model.RoleClient:
		return Capabilities{
			CanViewDashboard: true,
			CanViewProjects:  true,
			CanManageTasks:   true,
		}
	default:
		return Capabilities{}
	}
}

// ForIdentity resolves capabilities for a possibly absent identity.
func ForIdentity(identity *model.Identity) Capabilities {
	if identity == nil {
		return Capabilities{}
	}
	return For(identity.Role)
}
