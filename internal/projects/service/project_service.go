package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
)

// RecentByStateLimit caps RecentProjectsByState.
const RecentByStateLimit = 5

// ProjectService handles project queries and store-owned edits.
type ProjectService struct {
	gw        *ledger.Gateway
	projects  ProjectStore
	investors InvestorStore
	users     UserDirectory
}

// NewProjectService creates a new project service
func NewProjectService(gw *ledger.Gateway, projects ProjectStore, investors InvestorStore, users UserDirectory) *ProjectService {
	return &ProjectService{gw: gw, projects: projects, investors: investors, users: users}
}

// ProjectsOfUser returns the projects in the user's index.
func (s *ProjectService) ProjectsOfUser(ctx context.Context, userID string) ([]domain.Project, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.ProjectAddresses) == 0 {
		return []domain.Project{}, nil
	}
	return s.projects.ListByContractAddresses(ctx, u.ProjectAddresses)
}

// RecentProjects returns the projects among ids the user takes part in.
func (s *ProjectService) RecentProjects(ctx context.Context, ids []string, userID string) ([]domain.Project, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 || len(u.ProjectAddresses) == 0 {
		return []domain.Project{}, nil
	}
	return s.projects.ListRecent(ctx, ids, u.ProjectAddresses)
}

// RecentProjectsByState returns the user's newest projects in state.
func (s *ProjectService) RecentProjectsByState(ctx context.Context, state domain.ProjectState, userID string) ([]domain.Project, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidProject, state)
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.ProjectAddresses) == 0 {
		return []domain.Project{}, nil
	}
	return s.projects.ListRecentByState(ctx, state, u.ProjectAddresses, RecentByStateLimit)
}

// BaseProject returns the store record only.
func (s *ProjectService) BaseProject(ctx context.Context, id string) (*domain.Project, error) {
	return s.projects.GetByID(ctx, id)
}

// UpdateDetails edits the store-owned fields. Only the on-chain project
// manager may do so, and only before the conditions phase closes.
func (s *ProjectService) UpdateDetails(ctx context.Context, id string, signer common.Address, d domain.ProjectDetails) (*domain.Project, error) {
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ProjectState != domain.StateConditions {
		return nil, domain.ErrPhaseClosed
	}

	pc := s.gw.Project(p.SmartContractAddress)
	manager, err := pc.ProjectManager(ctx)
	if err != nil {
		return nil, err
	}
	if manager != signer {
		return nil, &ledger.UnauthorizedError{Method: "updateDetails", Signer: signer, Reason: "only the project manager can edit project details"}
	}
	finalized, err := pc.IsDPPPhaseFinalized(ctx)
	if err != nil {
		return nil, err
	}
	if finalized {
		return nil, domain.ErrPhaseClosed
	}

	return s.projects.UpdateDetails(ctx, id, d)
}

func (s *ProjectService) ListInvestors(ctx context.Context, projectID string) ([]domain.Investor, error) {
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.investors.ListByProject(ctx, projectID)
}

func (s *ProjectService) ListAllInvestors(ctx context.Context) ([]domain.Investor, error) {
	return s.investors.ListAll(ctx)
}
