package router

import (
	"meetpact/core/middleware"
	"meetpact/modules/channel/controller"

	"github.com/labstack/echo/v4"
)

// ChannelRouter handles agent key routes
type ChannelRouter struct {
	ChannelController *controller.ChannelController
}

func NewChannelRouter(channelController *controller.ChannelController) *ChannelRouter {
	return &ChannelRouter{
		ChannelController: channelController,
	}
}

// Setup registers agent key routes
func (r *ChannelRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	routes := privateRoutes.Group("/agent/key", mw.AuthMiddleware())
	routes.GET("", r.ChannelController.GetPublicKey)
	routes.POST("/rotate", r.ChannelController.RotateKey)
}
