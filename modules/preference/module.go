package preference

import (
	"meetpact/core/database"
	"meetpact/core/middleware"
	"meetpact/modules/preference/controller"
	"meetpact/modules/preference/repository"
	"meetpact/modules/preference/router"
	"meetpact/modules/preference/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the preference module and registers routes. The returned
// service is shared with the agent engine and the background worker.
func Init(e *echo.Echo, db database.IDatabase, mw *middleware.Middleware, negotiations service.NegotiationLoader, calendar service.CalendarChecker) *service.PreferenceService {
	repo := repository.NewPreferenceRepository(db)
	svc := service.NewPreferenceService(repo, negotiations, calendar)
	ctrl := controller.NewPreferenceController(svc)
	rtr := router.NewPreferenceRouter(ctrl)

	rtr.Setup(e, mw)
	return svc
}
