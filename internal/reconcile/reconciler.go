// Package reconcile brings the projection store back in line with the ledger
// after a partially applied or orphaned operation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	"github.com/permitchain/permit-backend/internal/projects/service"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

type ProjectStore interface {
	GetByContractAddress(ctx context.Context, contract common.Address) (*domain.Project, error)
	AdvanceState(ctx context.Context, contract common.Address, from, to domain.ProjectState) (bool, error)
	Restore(ctx context.Context, p domain.Project) (bool, error)
	ListContractAddresses(ctx context.Context, after common.Address, limit int) ([]common.Address, error)
}

type UserStore interface {
	ListByProjectAddress(ctx context.Context, project common.Address) ([]userdomain.User, error)
	AddProjectAddress(ctx context.Context, user, project common.Address) error
	RemoveProjectAddress(ctx context.Context, user, project common.Address) error
}

// Report lists what one pass changed.
type Report struct {
	Project       common.Address   `json:"project"`
	Added         []common.Address `json:"added"`
	Removed       []common.Address `json:"removed"`
	Skipped       []common.Address `json:"skipped"`
	StateAdvanced bool             `json:"state_advanced"`
	Restored      bool             `json:"restored"`
}

func (r Report) changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0 || r.StateAdvanced || r.Restored
}

type Reconciler struct {
	gw       *ledger.Gateway
	projects ProjectStore
	users    UserStore
	queue    *Queue
	metrics  *Metrics
}

func NewReconciler(gw *ledger.Gateway, projects ProjectStore, users UserStore, queue *Queue, metrics *Metrics) *Reconciler {
	return &Reconciler{gw: gw, projects: projects, users: users, queue: queue, metrics: metrics}
}

// ReconcileProject runs the phase and membership passes for one project.
func (r *Reconciler) ReconcileProject(ctx context.Context, contract common.Address) (*Report, error) {
	rep := &Report{Project: contract}
	if _, err := r.projects.GetByContractAddress(ctx, contract); err != nil {
		return nil, err
	}
	if err := r.phase(ctx, contract, rep); err != nil {
		return nil, err
	}
	if err := r.membership(ctx, contract, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Reconcile runs the pass a task asks for.
func (r *Reconciler) Reconcile(ctx context.Context, t *Task) (*Report, error) {
	rep := &Report{Project: t.ProjectAddress}
	var err error
	switch t.Kind {
	case domain.RepairMembership:
		err = r.membership(ctx, t.ProjectAddress, rep)
	case domain.RepairPhase:
		err = r.phase(ctx, t.ProjectAddress, rep)
	case domain.RepairOrphan:
		if err = r.restore(ctx, t, rep); err == nil {
			err = r.membership(ctx, t.ProjectAddress, rep)
		}
	default:
		err = fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// membership makes every party's project index match the ledger.
func (r *Reconciler) membership(ctx context.Context, contract common.Address, rep *Report) error {
	m, err := service.ReadMembership(ctx, r.gw.Project(contract))
	if err != nil {
		return err
	}
	indexed, err := r.users.ListByProjectAddress(ctx, contract)
	if err != nil {
		return fmt.Errorf("list indexed users: %w", err)
	}

	has := make(map[common.Address]bool, len(indexed))
	for _, u := range indexed {
		has[u.WalletAddress] = true
	}
	parties := m.Parties()
	wanted := make(map[common.Address]bool, len(parties))
	for _, a := range parties {
		wanted[a] = true
		if has[a] {
			continue
		}
		err := r.users.AddProjectAddress(ctx, a, contract)
		if errors.Is(err, userdomain.ErrUserNotFound) {
			rep.Skipped = append(rep.Skipped, a)
			continue
		}
		if err != nil {
			return fmt.Errorf("index %s: %w", a.Hex(), err)
		}
		rep.Added = append(rep.Added, a)
	}
	for _, u := range indexed {
		if wanted[u.WalletAddress] {
			continue
		}
		if err := r.users.RemoveProjectAddress(ctx, u.WalletAddress, contract); err != nil && !errors.Is(err, userdomain.ErrUserNotFound) {
			return fmt.Errorf("unindex %s: %w", u.WalletAddress.Hex(), err)
		}
		rep.Removed = append(rep.Removed, u.WalletAddress)
	}
	return nil
}

// phase advances the cached state once the ledger reports the DPP phase finalized.
func (r *Reconciler) phase(ctx context.Context, contract common.Address, rep *Report) error {
	finalized, err := r.gw.Project(contract).IsDPPPhaseFinalized(ctx)
	if err != nil {
		return err
	}
	p, err := r.projects.GetByContractAddress(ctx, contract)
	if err != nil {
		return err
	}
	if !finalized {
		if p.ProjectState != domain.StateConditions {
			log.Printf("[reconcile] store state ahead of ledger project=%s state=%s", contract.Hex(), p.ProjectState)
		}
		return nil
	}
	if p.ProjectState != domain.StateConditions {
		return nil
	}
	rep.StateAdvanced, err = r.projects.AdvanceState(ctx, contract, domain.StateConditions, domain.StateOpinions)
	return err
}

// restore inserts the record of a deployed contract the store never saw.
func (r *Reconciler) restore(ctx context.Context, t *Task, rep *Report) error {
	if t.Orphan == nil {
		return fmt.Errorf("orphan task %s has no project record", t.ID)
	}
	p := *t.Orphan
	p.SmartContractAddress = t.ProjectAddress
	if p.ProjectState == "" {
		p.ProjectState = domain.StateConditions
	}
	pc := r.gw.Project(t.ProjectAddress)
	if p.CreatedAt.IsZero() {
		created, err := pc.DateCreated(ctx)
		if err != nil {
			return err
		}
		p.CreatedAt = created
	}
	finalized, err := pc.IsDPPPhaseFinalized(ctx)
	if err != nil {
		return err
	}
	if finalized {
		p.ProjectState = domain.StateOpinions
	}

	rep.Restored, err = r.projects.Restore(ctx, p)
	if err != nil {
		return fmt.Errorf("restore project: %w", err)
	}
	return nil
}

// RunOnce drains up to limit tasks. Failed tasks are retried on a later run.
func (r *Reconciler) RunOnce(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		t, err := r.queue.Dequeue(ctx)
		if err != nil {
			return n, err
		}
		if t == nil {
			return n, nil
		}
		n++

		rep, err := r.Reconcile(ctx, t)
		if err != nil {
			dead, qerr := r.queue.Retry(ctx, t, err)
			if qerr != nil {
				return n, qerr
			}
			outcome := "retry"
			if dead {
				outcome = "dead"
			}
			r.metrics.observe(t.Kind, outcome)
			log.Printf("[reconcile] task failed id=%s kind=%s project=%s attempts=%d dead=%t err=%v",
				t.ID, t.Kind, t.ProjectAddress.Hex(), t.Attempts, dead, err)
			continue
		}

		if err := r.queue.Done(ctx, t); err != nil {
			return n, err
		}
		r.metrics.observe(t.Kind, "ok")
		if rep.changed() {
			log.Printf("[reconcile] task done id=%s kind=%s project=%s added=%d removed=%d advanced=%t restored=%t",
				t.ID, t.Kind, t.ProjectAddress.Hex(), len(rep.Added), len(rep.Removed), rep.StateAdvanced, rep.Restored)
		}
	}
	return n, nil
}

// EnqueueAll queues membership and phase passes for every stored project.
func (r *Reconciler) EnqueueAll(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var after common.Address
	queued := 0
	for {
		page, err := r.projects.ListContractAddresses(ctx, after, pageSize)
		if err != nil {
			return queued, err
		}
		for _, a := range page {
			for _, kind := range []domain.RepairKind{domain.RepairPhase, domain.RepairMembership} {
				ok, err := r.queue.Enqueue(ctx, Task{Kind: kind, ProjectAddress: a})
				if err != nil {
					return queued, err
				}
				if ok {
					queued++
				}
			}
		}
		if len(page) < pageSize {
			return queued, nil
		}
		after = page[len(page)-1]
	}
}
