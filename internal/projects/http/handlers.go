package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
	"github.com/permitchain/permit-backend/internal/projects/service"
)

// userID identifies the caller for user-scoped listings.
func userID(c *gin.Context) string {
	if id := c.GetString("user_id"); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader("X-User-Id"))
}

func requireUser(c *gin.Context) (string, bool) {
	id := userID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return id, true
}

func parseSigner(c *gin.Context, s signed) (common.Address, bool) {
	a, err := ledger.ParseAddress(s.Signer)
	if err != nil {
		badRequest(c, "invalid signer: "+err.Error())
		return common.Address{}, false
	}
	return a, true
}

// contractOf resolves the :id path parameter to the project's contract address.
func (h *Handler) contractOf(c *gin.Context) (common.Address, bool) {
	p, err := h.projects.BaseProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return common.Address{}, false
	}
	return p.SmartContractAddress, true
}

func (h *Handler) create(c *gin.Context) {
	var req createProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}

	v, err := h.orch.CreateProject(c.Request.Context(), domain.NewProject{
		ProjectDetails: req.ProjectDetails,
		Investors:      req.Investors,
	}, signer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "project": v})
}

func (h *Handler) list(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	items, err := h.projects.ProjectsOfUser(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": items})
}

func (h *Handler) recent(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	items, err := h.projects.RecentProjects(c.Request.Context(), ids, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": items})
}

func (h *Handler) recentByState(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	state := domain.ProjectState(strings.ToUpper(c.Param("state")))
	items, err := h.projects.RecentProjectsByState(c.Request.Context(), state, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": items})
}

func (h *Handler) get(c *gin.Context) {
	var (
		v   *domain.ProjectView
		err error
	)
	if raw := c.Query("viewer"); raw != "" {
		viewer, perr := ledger.ParseAddress(raw)
		if perr != nil {
			badRequest(c, "invalid viewer: "+perr.Error())
			return
		}
		v, err = h.builder.BuildFor(c.Request.Context(), c.Param("id"), viewer)
	} else {
		v, err = h.builder.Build(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": v})
}

func (h *Handler) base(c *gin.Context) {
	p, err := h.projects.BaseProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) updateDetails(c *gin.Context) {
	var req updateDetailsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	p, err := h.projects.UpdateDetails(c.Request.Context(), c.Param("id"), signer, req.ProjectDetails)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

func (h *Handler) investors(c *gin.Context) {
	items, err := h.projects.ListInvestors(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "investors": items})
}

func (h *Handler) allInvestors(c *gin.Context) {
	items, err := h.projects.ListAllInvestors(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "investors": items})
}

func (h *Handler) addProviders(c *gin.Context) {
	h.changeProviders(c, h.orch.AddAssessmentProviders)
}

func (h *Handler) removeProviders(c *gin.Context) {
	h.changeProviders(c, h.orch.RemoveAssessmentProviders)
}

type providersOp func(ctx context.Context, contract, signer common.Address, providers []common.Address) (*domain.ProjectView, error)

func (h *Handler) changeProviders(c *gin.Context, op providersOp) {
	var req addressesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	providers := make([]common.Address, 0, len(req.Addresses))
	for _, raw := range req.Addresses {
		a, err := ledger.ParseAddress(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		providers = append(providers, a)
	}
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}

	v, err := op(c.Request.Context(), contract, signer, providers)
	h.respondView(c, v, err)
}

func mainDocumentType(c *gin.Context) (ledger.MainDocumentType, bool) {
	kind, err := ledger.ParseMainDocumentType(c.Param("type"))
	if err != nil {
		badRequest(c, err.Error())
		return 0, false
	}
	return kind, true
}

func (h *Handler) setMainDocument(c *gin.Context) {
	kind, ok := mainDocumentType(c)
	if !ok {
		return
	}
	var req setMainDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	doc, err := req.Document.toLedger()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}

	v, err := h.orch.SetMainDocument(c.Request.Context(), contract, signer, kind, doc)
	h.respondView(c, v, err)
}

func (h *Handler) sendMainDocument(c *gin.Context) {
	kind, ok := mainDocumentType(c)
	if !ok {
		return
	}
	var req sendMainDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	requests := make([]service.AssessmentRequest, 0, len(req.Requests))
	for _, r := range req.Requests {
		provider, err := ledger.ParseAddress(r.AssessmentProvider)
		if err != nil {
			badRequest(c, "invalid assessment provider: "+err.Error())
			return
		}
		attachments, err := toLedgerDocuments(r.Attachments)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		requests = append(requests, service.AssessmentRequest{
			AssessmentProvider: provider,
			Attachments:        attachments,
			AssessmentDueDate:  r.AssessmentDueDate,
		})
	}
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}

	v, err := h.orch.SendMainDocument(c.Request.Context(), contract, signer, kind, requests)
	h.respondView(c, v, err)
}

func (h *Handler) changeAuthority(c *gin.Context) {
	var req changeAuthorityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	next, err := ledger.ParseAddress(req.Address)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}

	v, err := h.orch.ChangeAdministrativeAuthority(c.Request.Context(), contract, signer, next)
	h.respondView(c, v, err)
}

func (h *Handler) finalize(c *gin.Context) {
	var req signed
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req)
	if !ok {
		return
	}
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}

	v, err := h.orch.FinalizeDPPPhase(c.Request.Context(), contract, signer)
	h.respondView(c, v, err)
}

func (h *Handler) reconcile(c *gin.Context) {
	contract, ok := h.contractOf(c)
	if !ok {
		return
	}
	rep, err := h.reconciler.ReconcileProject(c.Request.Context(), contract)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": rep})
}

func (h *Handler) respondView(c *gin.Context, v *domain.ProjectView, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": v})
}
