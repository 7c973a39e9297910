package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pm  = common.HexToAddress("0xA1")
	aa  = common.HexToAddress("0xB2")
	ap1 = common.HexToAddress("0xC1")
	ap2 = common.HexToAddress("0xC2")
)

func TestMembership_RoleOf(t *testing.T) {
	m := Membership{Manager: pm, Providers: []common.Address{ap1, pm}, Authority: &aa}

	assert.Equal(t, RoleProjectManager, m.RoleOf(pm), "manager outranks provider")
	assert.Equal(t, RoleAdministrativeAuthority, m.RoleOf(aa))
	assert.Equal(t, RoleAssessmentProvider, m.RoleOf(ap1))
	assert.Equal(t, RoleNone, m.RoleOf(ap2))

	assert.Equal(t, RoleNone, Membership{Manager: pm}.RoleOf(aa))
}

func TestMembership_Parties(t *testing.T) {
	m := Membership{Manager: pm, Providers: []common.Address{ap1, pm, ap2}, Authority: &aa}
	assert.Equal(t, []common.Address{pm, ap1, ap2, aa}, m.Parties())
}

func TestProjectState_Next(t *testing.T) {
	next, ok := StateConditions.Next()
	require.True(t, ok)
	assert.Equal(t, StateOpinions, next)

	next, ok = StateOpinions.Next()
	require.True(t, ok)
	assert.Equal(t, StateBuildingPermit, next)

	_, ok = StateBuildingPermit.Next()
	assert.False(t, ok)
	assert.False(t, ProjectState("DRAFT").Valid())
}

func TestNewProject_Normalize(t *testing.T) {
	p := NewProject{ProjectDetails: ProjectDetails{Name: "  Tower ", ConstructionTitle: "Residential"}}
	require.NoError(t, p.Normalize())
	assert.Equal(t, "Tower", p.Name)

	p = NewProject{ProjectDetails: ProjectDetails{Name: "Tower"}}
	assert.ErrorIs(t, p.Normalize(), ErrInvalidProject)

	p = NewProject{
		ProjectDetails: ProjectDetails{Name: "Tower", ConstructionTitle: "Residential"},
		Investors:      []Investor{{Name: " "}},
	}
	assert.ErrorIs(t, p.Normalize(), ErrInvalidProject)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("db down")

	var err error = &OrphanedContractError{ContractAddress: pm, Err: cause}
	assert.ErrorIs(t, err, ErrOrphanedContract)
	assert.ErrorIs(t, err, cause)

	err = &PartiallyAppliedError{
		Operation: "removeAssessmentProviders",
		Project:   pm,
		Succeeded: []common.Address{ap1},
		Failed:    []AddressFailure{{Address: ap2, Err: cause}},
		Err:       cause,
	}
	assert.ErrorIs(t, err, ErrPartiallyApplied)
	assert.Contains(t, err.Error(), ap2.Hex())

	err = &UnknownPartyError{Address: ap1, Role: RoleAssessmentProvider}
	assert.ErrorIs(t, err, ErrUnknownParty)
}
