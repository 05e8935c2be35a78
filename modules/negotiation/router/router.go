package router

import (
	"meetpact/core/middleware"
	"meetpact/modules/negotiation/controller"

	"github.com/labstack/echo/v4"
)

// NegotiationRouter handles negotiation routes
type NegotiationRouter struct {
	NegotiationController *controller.NegotiationController
}

func NewNegotiationRouter(negotiationController *controller.NegotiationController) *NegotiationRouter {
	return &NegotiationRouter{
		NegotiationController: negotiationController,
	}
}

// Setup registers negotiation routes
func (r *NegotiationRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	routes := privateRoutes.Group("/negotiations", mw.AuthMiddleware())
	routes.POST("", r.NegotiationController.Create)
	routes.GET("", r.NegotiationController.List)
	routes.GET("/:id", r.NegotiationController.Get)
	routes.POST("/:id/reply", r.NegotiationController.Reply)
	routes.POST("/:id/cancel", r.NegotiationController.Cancel)
}
