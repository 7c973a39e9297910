package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/ledger/ledgertest"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

type memProjects struct {
	mu        sync.Mutex
	seq       int
	byID      map[string]*domain.Project
	createErr error
	stateErr  error
}

func newMemProjects() *memProjects {
	return &memProjects{byID: make(map[string]*domain.Project)}
}

func (m *memProjects) Create(_ context.Context, p domain.Project) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	for _, existing := range m.byID {
		if existing.SmartContractAddress == p.SmartContractAddress {
			return nil, domain.ErrAlreadyExists
		}
	}
	m.seq++
	if p.ID == "" {
		p.ID = "permit-" + string(rune('a'+m.seq))
	}
	p.UpdatedAt = p.CreatedAt
	cp := p
	m.byID[p.ID] = &cp
	return &p, nil
}

func (m *memProjects) GetByID(_ context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) GetByContractAddress(_ context.Context, contract common.Address) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.SmartContractAddress == contract {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memProjects) filter(keep func(*domain.Project) bool) []domain.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Project{}
	for _, p := range m.byID {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func (m *memProjects) ListByContractAddresses(_ context.Context, contracts []common.Address) ([]domain.Project, error) {
	return m.filter(func(p *domain.Project) bool { return contains(contracts, p.SmartContractAddress) }), nil
}

func (m *memProjects) ListRecent(_ context.Context, ids []string, contracts []common.Address) ([]domain.Project, error) {
	return m.filter(func(p *domain.Project) bool {
		for _, id := range ids {
			if id == p.ID {
				return contains(contracts, p.SmartContractAddress)
			}
		}
		return false
	}), nil
}

func (m *memProjects) ListRecentByState(_ context.Context, state domain.ProjectState, contracts []common.Address, limit int) ([]domain.Project, error) {
	out := m.filter(func(p *domain.Project) bool {
		return p.ProjectState == state && contains(contracts, p.SmartContractAddress)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memProjects) UpdateDetails(_ context.Context, id string, d domain.ProjectDetails) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.ProjectState != domain.StateConditions {
		return nil, domain.ErrPhaseClosed
	}
	p.Name, p.Description = d.Name, d.Description
	p.ConstructionTitle, p.ConstructionType = d.ConstructionTitle, d.ConstructionType
	p.ConstructionImpactsEnvironment = d.ConstructionImpactsEnvironment
	cp := *p
	return &cp, nil
}

func (m *memProjects) AdvanceState(_ context.Context, contract common.Address, from, to domain.ProjectState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return false, m.stateErr
	}
	for _, p := range m.byID {
		if p.SmartContractAddress == contract && p.ProjectState == from {
			p.ProjectState = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memProjects) state(t *testing.T, contract common.Address) domain.ProjectState {
	t.Helper()
	p, err := m.GetByContractAddress(context.Background(), contract)
	require.NoError(t, err)
	return p.ProjectState
}

// memUsers is both the user directory and the membership index.
type memUsers struct {
	mu    sync.Mutex
	users map[common.Address]*userdomain.User
	// failures injects an error for the next membership update of a user
	failures map[common.Address]error
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    make(map[common.Address]*userdomain.User),
		failures: make(map[common.Address]error),
	}
}

func (m *memUsers) add(a common.Address, name string, t userdomain.UserType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[a] = &userdomain.User{ID: "user-" + name, WalletAddress: a, Name: name, UserType: t}
}

func (m *memUsers) remove(a common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, a)
}

func (m *memUsers) failNext(a common.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[a] = err
}

func (m *memUsers) FindByAddress(_ context.Context, a common.Address) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[a]
	if !ok {
		return nil, userdomain.ErrUserNotFound
	}
	cp := *u
	cp.ProjectAddresses = append([]common.Address{}, u.ProjectAddresses...)
	return &cp, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			cp.ProjectAddresses = append([]common.Address{}, u.ProjectAddresses...)
			return &cp, nil
		}
	}
	return nil, userdomain.ErrUserNotFound
}

func (m *memUsers) AddProjectAddress(_ context.Context, user, project common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[user]; err != nil {
		delete(m.failures, user)
		return err
	}
	u, ok := m.users[user]
	if !ok {
		return userdomain.ErrUserNotFound
	}
	if !contains(u.ProjectAddresses, project) {
		u.ProjectAddresses = append(u.ProjectAddresses, project)
	}
	return nil
}

func (m *memUsers) RemoveProjectAddress(_ context.Context, user, project common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[user]; err != nil {
		delete(m.failures, user)
		return err
	}
	u, ok := m.users[user]
	if !ok {
		return userdomain.ErrUserNotFound
	}
	kept := u.ProjectAddresses[:0:0]
	for _, a := range u.ProjectAddresses {
		if a != project {
			kept = append(kept, a)
		}
	}
	u.ProjectAddresses = kept
	return nil
}

func (m *memUsers) hasProject(a, project common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[a]
	return ok && contains(u.ProjectAddresses, project)
}

type scheduled struct {
	kind     domain.RepairKind
	contract common.Address
	orphan   *domain.Project
}

type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (s *recordingScheduler) Schedule(_ context.Context, kind domain.RepairKind, contract common.Address, orphan *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduled{kind: kind, contract: contract, orphan: orphan})
	return nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	ops []string
}

func (p *recordingPublisher) Publish(_ context.Context, _ common.Address, op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
	return nil
}

var (
	addrPM  = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	addrAA  = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	addrAA2 = common.HexToAddress("0x00000000000000000000000000000000000000B3")
	addrAP1 = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	addrAP2 = common.HexToAddress("0x00000000000000000000000000000000000000C2")
	addrAP3 = common.HexToAddress("0x00000000000000000000000000000000000000C3")
	nobody  = common.HexToAddress("0x00000000000000000000000000000000000000EE")

	ledgerNow = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
)

type harness struct {
	fake      *ledgertest.Fake
	gw        *ledger.Gateway
	projects  *memProjects
	users     *memUsers
	scheduler *recordingScheduler
	events    *recordingPublisher
	builder   *AggregateBuilder
	docs      *DocumentProjector
	orch      *WorkflowOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:      ledgertest.New(),
		projects:  newMemProjects(),
		users:     newMemUsers(),
		scheduler: &recordingScheduler{},
		events:    &recordingPublisher{},
	}
	h.fake.SetNow(ledgerNow)
	h.gw = ledger.NewGateway(h.fake)
	h.docs = NewDocumentProjector(h.gw, h.users, PrefixURLs("https://files.example.com/docs"))
	h.builder = NewAggregateBuilder(h.gw, h.projects, h.users, h.docs, PrefixURLs("https://files.example.com/docs"))
	h.orch = NewWorkflowOrchestrator(OrchestratorDeps{
		Gateway:  h.gw,
		Projects: h.projects,
		Users:    h.users,
		Members:  h.users,
		Builder:  h.builder,
		Docs:     h.docs,
		Repair:   h.scheduler,
		Events:   h.events,
	})

	h.users.add(addrPM, "pm", userdomain.ProjectManager)
	h.users.add(addrAA, "aa", userdomain.AdministrativeAuthority)
	h.users.add(addrAA2, "aa2", userdomain.AdministrativeAuthority)
	h.users.add(addrAP1, "ap1", userdomain.AssessmentProvider)
	h.users.add(addrAP2, "ap2", userdomain.AssessmentProvider)
	h.users.add(addrAP3, "ap3", userdomain.AssessmentProvider)
	return h
}

func (h *harness) createProject(t *testing.T) *domain.ProjectView {
	t.Helper()
	v, err := h.orch.CreateProject(context.Background(), domain.NewProject{
		ProjectDetails: domain.ProjectDetails{Name: "Riverside Tower", ConstructionTitle: "Residential building"},
		Investors:      []domain.Investor{{Name: "Acme Capital"}},
	}, addrPM)
	require.NoError(t, err)
	return v
}

// readyToSend creates a project with providers registered and a DPP set.
func (h *harness) readyToSend(t *testing.T, providers ...common.Address) common.Address {
	t.Helper()
	return h.readyToSendOn(t, h.createProject(t).SmartContractAddress, providers...)
}
