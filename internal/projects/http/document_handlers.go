package http

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
)

func documentAddress(c *gin.Context) (common.Address, bool) {
	a, err := ledger.ParseAddress(c.Param("address"))
	if err != nil {
		badRequest(c, err.Error())
		return common.Address{}, false
	}
	return a, true
}

func (h *Handler) getDocument(c *gin.Context) {
	addr, ok := documentAddress(c)
	if !ok {
		return
	}
	dc, err := h.docs.Project(c.Request.Context(), addr)
	h.respondDocument(c, dc, err)
}

func (h *Handler) requestExtension(c *gin.Context) {
	addr, ok := documentAddress(c)
	if !ok {
		return
	}
	var req extensionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	dc, err := h.orch.RequestAssessmentDueDateExtension(c.Request.Context(), addr, signer, req.DueDate)
	h.respondDocument(c, dc, err)
}

func (h *Handler) evaluateExtension(c *gin.Context) {
	addr, ok := documentAddress(c)
	if !ok {
		return
	}
	var req evaluationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	dc, err := h.orch.EvaluateAssessmentDueDateExtension(c.Request.Context(), addr, signer, *req.Confirmed)
	h.respondDocument(c, dc, err)
}

func (h *Handler) requestUpdate(c *gin.Context) {
	addr, ok := documentAddress(c)
	if !ok {
		return
	}
	var req signed
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req)
	if !ok {
		return
	}
	dc, err := h.orch.RequestMainDocumentUpdate(c.Request.Context(), addr, signer)
	h.respondDocument(c, dc, err)
}

func (h *Handler) provideAssessment(c *gin.Context) {
	addr, ok := documentAddress(c)
	if !ok {
		return
	}
	var req assessmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	signer, ok := parseSigner(c, req.signed)
	if !ok {
		return
	}
	main, err := req.MainDocument.toLedger()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	attachments, err := toLedgerDocuments(req.Attachments)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	dc, err := h.orch.ProvideAssessment(c.Request.Context(), addr, signer, main, attachments)
	h.respondDocument(c, dc, err)
}

func (h *Handler) respondDocument(c *gin.Context, dc *domain.DocumentContract, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "document_contract": dc})
}
