package negotiation

import (
	"meetpact/core/database"
	"meetpact/core/middleware"
	"meetpact/modules/negotiation/controller"
	"meetpact/modules/negotiation/repository"
	"meetpact/modules/negotiation/router"
	"meetpact/modules/negotiation/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the negotiation module and registers routes. The returned
// service is shared with the agent engine and the background worker.
func Init(e *echo.Echo, db database.IDatabase, mw *middleware.Middleware, notifier service.Notifier, tasks service.TaskEnqueuer) *service.NegotiationService {
	repo := repository.NewNegotiationRepository(db)
	svc := service.NewNegotiationService(repo, notifier, tasks)
	ctrl := controller.NewNegotiationController(svc)
	rtr := router.NewNegotiationRouter(ctrl)

	rtr.Setup(e, mw)
	return svc
}
