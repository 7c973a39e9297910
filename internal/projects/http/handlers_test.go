package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/ledger/ledgertest"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	"github.com/permitchain/permit-backend/internal/projects/service"
	"github.com/permitchain/permit-backend/internal/reconcile"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
)

var (
	pm       = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	aa       = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	ap1      = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	ap2      = common.HexToAddress("0x00000000000000000000000000000000000000C2")
	outsider = common.HexToAddress("0x00000000000000000000000000000000000000EE")
)

// store is a minimal in-memory projection store.
type store struct {
	mu       sync.Mutex
	projects []domain.Project
	users    map[common.Address]*userdomain.User
	failAdd  map[common.Address]error
}

func newStore() *store {
	s := &store{users: make(map[common.Address]*userdomain.User), failAdd: make(map[common.Address]error)}
	for i, a := range []common.Address{pm, aa, ap1, ap2} {
		s.users[a] = &userdomain.User{ID: "user-" + string(rune('a'+i)), WalletAddress: a}
	}
	return s
}

func (s *store) Create(_ context.Context, p domain.Project) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = "permit-" + string(rune('a'+len(s.projects)))
	s.projects = append(s.projects, p)
	return &p, nil
}

func (s *store) find(match func(domain.Project) bool) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *store) GetByID(_ context.Context, id string) (*domain.Project, error) {
	return s.find(func(p domain.Project) bool { return p.ID == id })
}

func (s *store) GetByContractAddress(_ context.Context, a common.Address) (*domain.Project, error) {
	return s.find(func(p domain.Project) bool { return p.SmartContractAddress == a })
}

func (s *store) ListByContractAddresses(_ context.Context, contracts []common.Address) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Project{}
	for _, p := range s.projects {
		for _, a := range contracts {
			if p.SmartContractAddress == a {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (s *store) ListRecent(ctx context.Context, _ []string, contracts []common.Address) ([]domain.Project, error) {
	return s.ListByContractAddresses(ctx, contracts)
}

func (s *store) ListRecentByState(ctx context.Context, _ domain.ProjectState, contracts []common.Address, _ int) ([]domain.Project, error) {
	return s.ListByContractAddresses(ctx, contracts)
}

func (s *store) UpdateDetails(context.Context, string, domain.ProjectDetails) (*domain.Project, error) {
	return nil, errors.New("not supported")
}

func (s *store) AdvanceState(_ context.Context, a common.Address, from, to domain.ProjectState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.projects {
		if s.projects[i].SmartContractAddress == a && s.projects[i].ProjectState == from {
			s.projects[i].ProjectState = to
			return true, nil
		}
	}
	return false, nil
}

func (s *store) ListByProject(context.Context, string) ([]domain.Investor, error) {
	return []domain.Investor{}, nil
}

func (s *store) ListAll(context.Context) ([]domain.Investor, error) {
	return []domain.Investor{}, nil
}

func (s *store) FindByAddress(_ context.Context, a common.Address) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[a]
	if !ok {
		return nil, userdomain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *store) FindByID(_ context.Context, id string) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, userdomain.ErrUserNotFound
}

func (s *store) AddProjectAddress(_ context.Context, user, project common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAdd[user]; err != nil {
		return err
	}
	u, ok := s.users[user]
	if !ok {
		return userdomain.ErrUserNotFound
	}
	u.ProjectAddresses = append(u.ProjectAddresses, project)
	return nil
}

func (s *store) RemoveProjectAddress(_ context.Context, user, project common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
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

type stubReconciler struct {
	got common.Address
}

func (r *stubReconciler) ReconcileProject(_ context.Context, contract common.Address) (*reconcile.Report, error) {
	r.got = contract
	return &reconcile.Report{Project: contract, Added: []common.Address{ap1}}, nil
}

type testServer struct {
	engine     *gin.Engine
	fake       *ledgertest.Fake
	store      *store
	reconciler *stubReconciler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := ledgertest.New()
	fake.SetNow(time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC))
	gw := ledger.NewGateway(fake)
	st := newStore()
	docs := service.NewDocumentProjector(gw, st, nil)
	builder := service.NewAggregateBuilder(gw, st, st, docs, nil)
	rec := &stubReconciler{}

	h := New(Deps{
		Projects: service.NewProjectService(gw, st, st, st),
		Builder:  builder,
		Orchestrator: service.NewWorkflowOrchestrator(service.OrchestratorDeps{
			Gateway:  gw,
			Projects: st,
			Users:    st,
			Members:  st,
			Builder:  builder,
			Docs:     docs,
		}),
		Documents:  docs,
		Reconciler: rec,
	})

	r := gin.New()
	h.Register(r.Group("/api/v1/projects"))
	h.RegisterDocuments(r.Group("/api/v1/document-contracts"))
	return &testServer{engine: r, fake: fake, store: st, reconciler: rec}
}

type response struct {
	OK               bool                     `json:"ok"`
	Code             string                   `json:"code"`
	Error            string                   `json:"error"`
	Project          *domain.ProjectView      `json:"project"`
	Projects         []domain.Project         `json:"projects"`
	DocumentContract *domain.DocumentContract `json:"document_contract"`
	Succeeded        []common.Address         `json:"succeeded"`
	Failed           []failureDTO             `json:"failed"`
	Report           *reconcile.Report        `json:"report"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var out response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (s *testServer) createProject(t *testing.T) *domain.ProjectView {
	t.Helper()
	code, res := s.do(t, http.MethodPost, "/api/v1/projects", gin.H{
		"signer":             pm.Hex(),
		"name":               "Riverside Tower",
		"construction_title": "Residential building",
		"investors":          []gin.H{{"name": "Acme Capital"}},
	})
	require.Equal(t, http.StatusCreated, code, res.Error)
	require.NotNil(t, res.Project)
	return res.Project
}

func TestCreateAndGetProject(t *testing.T) {
	s := newTestServer(t)
	created := s.createProject(t)
	assert.Equal(t, pm, created.ProjectManager.WalletAddress)

	code, res := s.do(t, http.MethodGet, "/api/v1/projects/"+created.ID+"?viewer="+pm.Hex(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, created.SmartContractAddress, res.Project.SmartContractAddress)
	require.NotNil(t, res.Project.Viewer)
	assert.Equal(t, domain.RoleProjectManager, res.Project.Viewer.Role)
}

func TestCreateProject_BadRequests(t *testing.T) {
	s := newTestServer(t)

	code, res := s.do(t, http.MethodPost, "/api/v1/projects", gin.H{"signer": "not-an-address", "name": "x", "construction_title": "y"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res.Code)

	code, res = s.do(t, http.MethodPost, "/api/v1/projects", gin.H{"signer": pm.Hex()})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res.Code)

	code, res = s.do(t, http.MethodPost, "/api/v1/projects", gin.H{"signer": outsider.Hex(), "name": "x", "construction_title": "y"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "unknown_party", res.Code)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestServer(t)

	code, res := s.do(t, http.MethodGet, "/api/v1/projects/permit-missing", nil)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", res.Code)
}

func TestAddProviders_Unauthorized(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	code, res := s.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/assessment-providers", gin.H{
		"signer":    ap1.Hex(),
		"addresses": []string{ap2.Hex()},
	})

	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", res.Code)
}

func TestAddProviders_PartiallyApplied(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	s.store.failAdd[ap2] = errors.New("statement timeout")

	code, res := s.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/assessment-providers", gin.H{
		"signer":    pm.Hex(),
		"addresses": []string{ap1.Hex(), ap2.Hex()},
	})

	assert.Equal(t, http.StatusMultiStatus, code)
	assert.Equal(t, "partially_applied", res.Code)
	assert.Equal(t, []common.Address{ap1}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, ap2, res.Failed[0].Address)
}

func TestFinalizeTwice(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	path := "/api/v1/projects/" + p.ID + "/finalize-dpp-phase"

	code, res := s.do(t, http.MethodPost, path, gin.H{"signer": pm.Hex()})
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.True(t, res.Project.IsDPPPhaseFinalized)
	assert.Equal(t, domain.StateOpinions, res.Project.ProjectState)

	code, res = s.do(t, http.MethodPost, path, gin.H{"signer": pm.Hex()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "transaction_failed", res.Code)
	assert.Equal(t, "DPP phase already finalized", res.Error)
}

func TestMainDocumentFlow(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	base := "/api/v1/projects/" + p.ID

	code, res := s.do(t, http.MethodPost, base+"/assessment-providers", gin.H{"signer": pm.Hex(), "addresses": []string{ap1.Hex()}})
	require.Equal(t, http.StatusOK, code, res.Error)

	code, res = s.do(t, http.MethodPut, base+"/main-documents/dpp", gin.H{
		"signer":   pm.Hex(),
		"document": gin.H{"id": "dpp-v1", "document_hash": "0xfeed"},
	})
	require.Equal(t, http.StatusOK, code, res.Error)
	require.NotNil(t, res.Project.DPP)
	assert.Equal(t, "dpp-v1", res.Project.DPP.ID)

	code, res = s.do(t, http.MethodPost, base+"/main-documents/DPP/send", gin.H{
		"signer": pm.Hex(),
		"requests": []gin.H{{
			"assessment_provider": ap1.Hex(),
			"assessment_due_date": "2024-05-20T00:00:00Z",
			"attachments":         []gin.H{{"id": "site-plan"}},
		}},
	})
	require.Equal(t, http.StatusOK, code, res.Error)
	require.Len(t, res.Project.SentDPPs, 1)
	doc := res.Project.SentDPPs[0].Address

	code, res = s.do(t, http.MethodGet, "/api/v1/document-contracts/"+doc.Hex(), nil)
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.False(t, res.DocumentContract.IsClosed)
	assert.Equal(t, []string{"site-plan"}, res.DocumentContract.Attachments)

	code, res = s.do(t, http.MethodPost, "/api/v1/document-contracts/"+doc.Hex()+"/assessment", gin.H{
		"signer":        pm.Hex(),
		"main_document": gin.H{"id": "opinion-1"},
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, res = s.do(t, http.MethodPost, "/api/v1/document-contracts/"+doc.Hex()+"/assessment", gin.H{
		"signer":        ap1.Hex(),
		"main_document": gin.H{"id": "opinion-1"},
	})
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.True(t, res.DocumentContract.IsClosed)
	assert.Equal(t, "opinion-1", res.DocumentContract.AssessmentMainDocument)
}

func TestMainDocument_UnknownType(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	code, res := s.do(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/main-documents/xyz", gin.H{
		"signer":   pm.Hex(),
		"document": gin.H{"id": "d"},
	})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res.Code)
}

func TestChangeAuthority(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	code, res := s.do(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/administrative-authority", gin.H{
		"signer":  pm.Hex(),
		"address": aa.Hex(),
	})

	require.Equal(t, http.StatusOK, code, res.Error)
	require.NotNil(t, res.Project.AdministrativeAuthority)
	assert.Equal(t, aa, res.Project.AdministrativeAuthority.WalletAddress)
}

func TestListProjects(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	code, res := s.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing_user", res.Code)

	pmID := s.store.users[pm].ID
	code, res = s.do(t, http.MethodGet, "/api/v1/projects", nil, "X-User-Id", pmID)
	require.Equal(t, http.StatusOK, code, res.Error)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, p.ID, res.Projects[0].ID)
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	code, res := s.do(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/reconcile", nil)

	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Equal(t, p.SmartContractAddress, s.reconciler.got)
	require.NotNil(t, res.Report)
	assert.Equal(t, []common.Address{ap1}, res.Report.Added)
}

func TestLedgerReadFailure(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	s.fake.FailNext("isDPPPhaseFinalized", errors.New("dial tcp: connection refused"))

	code, res := s.do(t, http.MethodGet, "/api/v1/projects/"+p.ID, nil)

	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "read_failed", res.Code)
}
