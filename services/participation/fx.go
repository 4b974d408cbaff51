package participation

import (
	"britepool/pkg/identity"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("participation.service",
	fx.Provide(
		NewService,
		NewHandler,
		fx.Annotate(Models, fx.ResultTags(`group:"models,flatten"`)),
	),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, h *Handler, signer *identity.Signer) {
	h.Register(r, signer)
}
