package channel

import (
	"meetpact/core/database"
	"meetpact/core/middleware"
	"meetpact/modules/channel/controller"
	"meetpact/modules/channel/repository"
	"meetpact/modules/channel/router"
	"meetpact/modules/channel/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the channel module and registers routes. The returned
// service is shared with the agent engine, which seals and opens agent
// messages through it.
func Init(e *echo.Echo, db database.IDatabase, mw *middleware.Middleware) *service.ChannelService {
	repo := repository.NewKeyRepository(db)
	svc := service.NewChannelService(repo)
	ctrl := controller.NewChannelController(svc)
	rtr := router.NewChannelRouter(ctrl)

	rtr.Setup(e, mw)
	return svc
}
