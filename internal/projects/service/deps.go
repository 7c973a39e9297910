package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

// ProjectStore is the projection of project records.
type ProjectStore interface {
	Create(ctx context.Context, p domain.Project) (*domain.Project, error)
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	GetByContractAddress(ctx context.Context, contract common.Address) (*domain.Project, error)
	ListByContractAddresses(ctx context.Context, contracts []common.Address) ([]domain.Project, error)
	ListRecent(ctx context.Context, ids []string, contracts []common.Address) ([]domain.Project, error)
	ListRecentByState(ctx context.Context, state domain.ProjectState, contracts []common.Address, limit int) ([]domain.Project, error)
	UpdateDetails(ctx context.Context, id string, d domain.ProjectDetails) (*domain.Project, error)
	AdvanceState(ctx context.Context, contract common.Address, from, to domain.ProjectState) (bool, error)
}

type InvestorStore interface {
	ListByProject(ctx context.Context, projectID string) ([]domain.Investor, error)
	ListAll(ctx context.Context) ([]domain.Investor, error)
}

// UserDirectory resolves ledger addresses to registered users.
type UserDirectory interface {
	FindByAddress(ctx context.Context, address common.Address) (*userdomain.User, error)
	FindByID(ctx context.Context, id string) (*userdomain.User, error)
}

// MembershipStore maintains each user's project index. Both calls are idempotent.
type MembershipStore interface {
	AddProjectAddress(ctx context.Context, user, project common.Address) error
	RemoveProjectAddress(ctx context.Context, user, project common.Address) error
}

// RepairScheduler queues a reconciliation pass for a project. orphan carries
// the record to restore for RepairOrphan and is nil otherwise.
type RepairScheduler interface {
	Schedule(ctx context.Context, kind domain.RepairKind, contract common.Address, orphan *domain.Project) error
}

// EventPublisher announces confirmed mutations.
type EventPublisher interface {
	Publish(ctx context.Context, contract common.Address, operation string) error
}

type nopScheduler struct{}

func (nopScheduler) Schedule(context.Context, domain.RepairKind, common.Address, *domain.Project) error {
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, common.Address, string) error { return nil }
