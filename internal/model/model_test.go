package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.NotEqual(t, id, NewTempID())

	assert.False(t, IsTempID("p-42"))
	assert.False(t, IsTempID("7f9c3a1e"))
	assert.False(t, IsTempID(""))
}

func TestPhaseOrdinals(t *testing.T) {
	phases := []ProjectPhase{PhaseLead, PhaseDiscovery, PhaseContracting, PhaseBuild, PhaseQA, PhaseDeployed}
	for i, p := range phases {
		assert.Equal(t, i, p.Ordinal(), "phase %s", p)
	}
	assert.Equal(t, -1, ProjectPhase("SHIPPED").Ordinal())
}

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"ADMIN", RoleAdmin},
		{"MANAGER", RoleManager},
		{"CONTRIBUTOR", RoleContributor},
		{"CLIENT", RoleClient},
		{"superuser", RoleClient},
		{"", RoleClient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeRole(tc.in), "role %q", tc.in)
	}
}

func TestProjectFinancials(t *testing.T) {
	p := Project{
		Financials: []FinancialItem{
			{ID: "f1", Amount: decimal.NewFromInt(15000), Type: FinancialRevenue, Category: CategoryFixedFee},
			{ID: "f2", Amount: decimal.NewFromFloat(450.50), Type: FinancialCost, Category: CategoryInfra},
			{ID: "f3", Amount: decimal.NewFromInt(35000), Type: FinancialRevenue, Category: CategoryFixedFee},
			{ID: "f4", Amount: decimal.NewFromInt(6500), Type: FinancialCost, Category: CategoryLabor},
		},
	}

	require.True(t, p.Revenue().Equal(decimal.NewFromInt(50000)))
	require.True(t, p.Cost().Equal(decimal.NewFromFloat(6950.50)))
	require.True(t, p.Margin().Equal(decimal.NewFromFloat(43049.50)))

	empty := Project{}
	require.True(t, empty.Margin().Equal(decimal.Zero))
}

func TestProjectClone(t *testing.T) {
	p := Project{
		ID:       "p1",
		Contract: &Contract{ID: "c1", Status: ContractDraft},
		Tasks:    []Task{{ID: "t1", Title: "Set up CI"}},
		TeamIDs:  []string{"u1"},
	}
	clone := p.Clone()
	clone.Contract.Status = ContractSigned
	clone.Tasks[0].Title = "changed"
	clone.TeamIDs[0] = "u2"

	assert.Equal(t, ContractDraft, p.Contract.Status)
	assert.Equal(t, "Set up CI", p.Tasks[0].Title)
	assert.Equal(t, "u1", p.TeamIDs[0])
}
