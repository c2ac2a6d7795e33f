package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shipcode/client/internal/model"
)

func TestFor(t *testing.T) {
	cases := []struct {
		name  string
		role  model.Role
		check func(t *testing.T, c Capabilities)
	}{
		{name: "admin has everything", role: model.RoleAdmin, check: func(t *testing.T, c Capabilities) {
			assert.True(t, c.CanViewSettings)
			assert.True(t, c.CanDeleteProject)
			assert.True(t, c.CanEditSettings)
		}},
		{name: "manager cannot touch settings or delete", role: model.RoleManager, check: func(t *testing.T, c Capabilities) {
			assert.True(t, c.CanManageLeads)
			assert.True(t, c.CanSignContracts)
			assert.False(t, c.CanViewSettings)
			assert.False(t, c.CanDeleteProject)
		}},
		{name: "contributor sees team but not leads", role: model.RoleContributor, check: func(t *testing.T, c Capabilities) {
			assert.True(t, c.CanViewTeam)
			assert.True(t, c.CanManageTasks)
			assert.False(t, c.CanViewLeads)
			assert.False(t, c.CanViewFinance)
		}},
		{name: "client only sees own projects", role: model.RoleClient, check: func(t *testing.T, c Capabilities) {
			assert.True(t, c.CanViewProjects)
			assert.True(t, c.CanManageTasks)
			assert.False(t, c.CanViewTeam)
			assert.False(t, c.CanCreateProject)
		}},
		{name: "unknown role gets nothing", role: model.Role("ROOT"), check: func(t *testing.T, c Capabilities) {
			assert.Equal(t, Capabilities{}, c)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, For(tc.role))
		})
	}
}

func TestForIdentityNilIsAllFalse(t *testing.T) {
	assert.Equal(t, Capabilities{}, ForIdentity(nil))
}

// The four role sets must stay distinguishable on the view-settings and
// manage-leads axes; collapsing two roles here is a regression.
func TestRoleSetsPairwiseDistinct(t *testing.T) {
	roles := []model.Role{model.RoleAdmin, model.RoleManager, model.RoleContributor, model.RoleClient}
	type key struct {
		settings bool
		leads    bool
		team     bool
	}
	seen := map[key]model.Role{}
	for _, role := range roles {
		c := For(role)
		k := key{settings: c.CanViewSettings, leads: c.CanManageLeads, team: c.CanViewTeam}
		if prev, dup := seen[k]; dup {
			t.Fatalf("roles %s and %s share the same capability signature %+v", prev, role, k)
		}
		seen[k] = role
	}
}
