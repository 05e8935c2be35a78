package router

import (
	"meetpact/core/middleware"
	"meetpact/modules/notification/controller"

	"github.com/labstack/echo/v4"
)

// NotificationRouter handles notification routes
type NotificationRouter struct {
	NotificationController *controller.NotificationController
}

func NewNotificationRouter(notificationController *controller.NotificationController) *NotificationRouter {
	return &NotificationRouter{
		NotificationController: notificationController,
	}
}

// Setup registers notification routes
func (r *NotificationRouter) Setup(e *echo.Echo, mw *middleware.Middleware) {
	v1 := e.Group("/api/v1")
	privateRoutes := v1.Group("/private")

	routes := privateRoutes.Group("/notifications", mw.AuthMiddleware())
	routes.GET("", r.NotificationController.GetMyNotifications)
	routes.GET("/unread-count", r.NotificationController.CountUnread)
	routes.PUT("/mark-read", r.NotificationController.MarkAsRead)
	routes.PUT("/mark-all-read", r.NotificationController.MarkAllAsRead)
}
