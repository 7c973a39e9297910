package http

import "github.com/gin-gonic/gin"

// Register attaches project routes to the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("", h.create)
	rg.GET("", h.list)
	rg.GET("/recent", h.recent)
	rg.GET("/recent/:state", h.recentByState)
	rg.GET("/investors", h.allInvestors)

	rg.GET("/:id", h.get)
	rg.GET("/:id/base", h.base)
	rg.PATCH("/:id", h.updateDetails)
	rg.GET("/:id/investors", h.investors)
	rg.GET("/:id/events", h.stream)

	rg.POST("/:id/assessment-providers", h.addProviders)
	rg.DELETE("/:id/assessment-providers", h.removeProviders)
	rg.PUT("/:id/main-documents/:type", h.setMainDocument)
	rg.POST("/:id/main-documents/:type/send", h.sendMainDocument)
	rg.PUT("/:id/administrative-authority", h.changeAuthority)
	rg.POST("/:id/finalize-dpp-phase", h.finalize)
	rg.POST("/:id/reconcile", h.reconcile)
}

// RegisterDocuments attaches document contract routes.
func (h *Handler) RegisterDocuments(rg *gin.RouterGroup) {
	rg.GET("/:address", h.getDocument)
	rg.POST("/:address/due-date-extension", h.requestExtension)
	rg.POST("/:address/due-date-extension/evaluation", h.evaluateExtension)
	rg.POST("/:address/main-document-update-request", h.requestUpdate)
	rg.POST("/:address/assessment", h.provideAssessment)
}
