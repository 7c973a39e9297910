package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

func (m *memProjects) ListByProject(_ context.Context, projectID string) ([]domain.Investor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[projectID]
	if !ok {
		return []domain.Investor{}, nil
	}
	out := make([]domain.Investor, len(p.Investors))
	for i, inv := range p.Investors {
		inv.ProjectID = p.ID
		out[i] = inv
	}
	return out, nil
}

func (m *memProjects) ListAll(ctx context.Context) ([]domain.Investor, error) {
	out := []domain.Investor{}
	for _, p := range m.filter(func(*domain.Project) bool { return true }) {
		invs, _ := m.ListByProject(ctx, p.ID)
		out = append(out, invs...)
	}
	return out, nil
}

func newProjectService(h *harness) *ProjectService {
	return NewProjectService(h.gw, h.projects, h.projects, h.users)
}

func TestProjectsOfUser(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()
	a := h.createProject(t)
	h.createProject(t)
	_, err := h.orch.AddAssessmentProviders(ctx, a.SmartContractAddress, addrPM, []common.Address{addrAP1})
	require.NoError(t, err)

	mine, err := svc.ProjectsOfUser(ctx, "user-ap1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	all, err := svc.ProjectsOfUser(ctx, "user-pm")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := svc.ProjectsOfUser(ctx, "user-ap2")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.ProjectsOfUser(ctx, "user-missing")
	require.ErrorIs(t, err, userdomain.ErrUserNotFound)
}

func TestRecentProjects(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()
	a := h.createProject(t)
	b := h.createProject(t)
	_, err := h.orch.AddAssessmentProviders(ctx, b.SmartContractAddress, addrPM, []common.Address{addrAP1})
	require.NoError(t, err)

	got, err := svc.RecentProjects(ctx, []string{a.ID, b.ID}, "user-ap1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = svc.RecentProjects(ctx, nil, "user-pm")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecentProjectsByState(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()

	var created []*domain.ProjectView
	for i := 0; i < RecentByStateLimit+2; i++ {
		h.fake.SetNow(ledgerNow.Add(time.Duration(i) * time.Hour))
		created = append(created, h.createProject(t))
	}
	_, err := h.orch.FinalizeDPPPhase(ctx, created[0].SmartContractAddress, addrPM)
	require.NoError(t, err)

	got, err := svc.RecentProjectsByState(ctx, domain.StateConditions, "user-pm")
	require.NoError(t, err)
	require.Len(t, got, RecentByStateLimit)
	assert.Equal(t, created[len(created)-1].ID, got[0].ID)
	for _, p := range got {
		assert.Equal(t, domain.StateConditions, p.ProjectState)
	}

	got, err = svc.RecentProjectsByState(ctx, domain.StateOpinions, "user-pm")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, created[0].ID, got[0].ID)

	_, err = svc.RecentProjectsByState(ctx, domain.ProjectState("DEMOLISHED"), "user-pm")
	require.ErrorIs(t, err, domain.ErrInvalidProject)
}

func TestUpdateDetails(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()
	v := h.createProject(t)
	details := domain.ProjectDetails{Name: "  Riverside Tower II ", ConstructionTitle: "Residential building", ConstructionImpactsEnvironment: true}

	p, err := svc.UpdateDetails(ctx, v.ID, addrPM, details)
	require.NoError(t, err)
	assert.Equal(t, "Riverside Tower II", p.Name)
	assert.True(t, p.ConstructionImpactsEnvironment)

	_, err = svc.UpdateDetails(ctx, v.ID, addrAP1, details)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = svc.UpdateDetails(ctx, v.ID, addrPM, domain.ProjectDetails{Name: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidProject)

	_, err = h.orch.FinalizeDPPPhase(ctx, v.SmartContractAddress, addrPM)
	require.NoError(t, err)
	_, err = svc.UpdateDetails(ctx, v.ID, addrPM, details)
	require.ErrorIs(t, err, domain.ErrPhaseClosed)
}

func TestUpdateDetails_LedgerFinalizedButStoreStale(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()
	v := h.createProject(t)
	h.projects.stateErr = assert.AnError
	_, err := h.orch.FinalizeDPPPhase(ctx, v.SmartContractAddress, addrPM)
	require.ErrorIs(t, err, domain.ErrPartiallyApplied)

	_, err = svc.UpdateDetails(ctx, v.ID, addrPM, domain.ProjectDetails{Name: "n", ConstructionTitle: "t"})

	require.ErrorIs(t, err, domain.ErrPhaseClosed)
}

func TestInvestors(t *testing.T) {
	h := newHarness(t)
	svc := newProjectService(h)
	ctx := context.Background()
	v := h.createProject(t)

	invs, err := svc.ListInvestors(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "Acme Capital", invs[0].Name)
	assert.Equal(t, v.ID, invs[0].ProjectID)

	_, err = svc.ListInvestors(ctx, "permit-missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	h.createProject(t)
	all, err := svc.ListAllInvestors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBaseProject(t *testing.T) {
	h := newHarness(t)
	v := h.createProject(t)

	p, err := newProjectService(h).BaseProject(context.Background(), v.ID)

	require.NoError(t, err)
	assert.Equal(t, v.SmartContractAddress, p.SmartContractAddress)
	assert.Equal(t, domain.StateConditions, p.ProjectState)
}
