package router

import (
	"meetpact/core/middleware"
	"meetpact/modules/agent/controller"

	"github.com/labstack/echo/v4"
)

// AgentRouter handles agent exchange routes
type AgentRouter struct {
	AgentController *controller.AgentController
}

func NewAgentRouter(agentController *controller.AgentController) *AgentRouter {
	return &AgentRouter{
		AgentController: agentController,
	}
}

// Setup registers agent exchange routes
func (r *AgentRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	routes := privateRoutes.Group("/negotiations/:id/agent", mw.AuthMiddleware())
	routes.GET("/messages", r.AgentController.ListMessages)
	routes.POST("/confirm", r.AgentController.ConfirmFinalize)
}
