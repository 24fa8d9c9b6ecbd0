package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/handlers"
	"github.com/lumenclass/inviteledger/internal/services"
)

func registerNotificationRoutes(api *gin.RouterGroup, service *services.NotificationService) error {
	handler, err := handlers.NewNotificationHandler(service)
	if err != nil {
		return err
	}

	group := api.Group("/users/:user_id/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread-count", handler.UnreadCount)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
	}

	prefs := api.Group("/users/:user_id/preferences")
	{
		prefs.GET("", handler.Preferences)
		prefs.PUT("", handler.UpdatePreference)
	}
	return nil
}
