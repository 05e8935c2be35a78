package notification

import (
	"meetpact/core/database"
	"meetpact/core/middleware"
	"meetpact/modules/notification/controller"
	"meetpact/modules/notification/repository"
	"meetpact/modules/notification/router"
	"meetpact/modules/notification/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the notification module and registers routes. The returned
// service doubles as the notifier the negotiation and agent modules publish
// lifecycle events through.
func Init(e *echo.Echo, db database.IDatabase, mw *middleware.Middleware) *service.NotificationService {
	repo := repository.NewNotificationRepository(db)
	svc := service.NewNotificationService(repo)
	ctrl := controller.NewNotificationController(svc)
	rtr := router.NewNotificationRouter(ctrl)

	rtr.Setup(e, mw)
	return svc
}
