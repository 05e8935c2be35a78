package agent

import (
	"meetpact/core/database"
	"meetpact/core/middleware"
	"meetpact/modules/agent/controller"
	"meetpact/modules/agent/repository"
	"meetpact/modules/agent/router"
	"meetpact/modules/agent/service"
	prefservice "meetpact/modules/preference/service"

	"github.com/labstack/echo/v4"
)

// Init initializes the agent module and registers routes. The returned
// service is shared with the background worker, which drives the actor loop.
func Init(
	e *echo.Echo,
	db database.IDatabase,
	mw *middleware.Middleware,
	negotiations service.NegotiationReader,
	replies service.ReplyApplier,
	preferences service.PreferenceLoader,
	channel service.SecureChannel,
	calendar prefservice.CalendarChecker,
	enqueuer service.ProcessEnqueuer,
	notifier service.Notifier,
) *service.AgentService {
	repo := repository.NewMessageRepository(db)
	engine := service.NewEngine(calendar)
	svc := service.NewAgentService(repo, negotiations, replies, preferences, channel, engine, enqueuer, notifier)
	ctrl := controller.NewAgentController(svc)
	rtr := router.NewAgentRouter(ctrl)

	rtr.Setup(e, mw)
	return svc
}
