package router

import (
	"meetpact/core/middleware"
	"meetpact/modules/preference/controller"

	"github.com/labstack/echo/v4"
)

// PreferenceRouter handles preference routes
type PreferenceRouter struct {
	PreferenceController *controller.PreferenceController
}

func NewPreferenceRouter(preferenceController *controller.PreferenceController) *PreferenceRouter {
	return &PreferenceRouter{
		PreferenceController: preferenceController,
	}
}

// Setup registers preference routes
func (r *PreferenceRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	routes := privateRoutes.Group("/preferences", mw.AuthMiddleware())
	routes.GET("", r.PreferenceController.Get)
	routes.PUT("/autonomy", r.PreferenceController.UpdateAutonomy)
	routes.PUT("/veto-rules", r.PreferenceController.UpdateVetoRules)
}
