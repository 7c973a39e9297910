package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/permitchain/permit-backend/internal/api/http/middleware"
	projecthttp "github.com/permitchain/permit-backend/internal/projects/http"
)

type V1Deps struct {
	Projects *projecthttp.Handler
}

// RegisterV1 mounts the project workflow API under /api/v1.
func RegisterV1(r *gin.Engine, dep V1Deps) {
	api := r.Group("/api/v1")
	api.Use(middleware.CallerIdentity())

	dep.Projects.Register(api.Group("/projects"))
	dep.Projects.RegisterDocuments(api.Group("/document-contracts"))
}
