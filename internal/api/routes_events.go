package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/handlers"
	"github.com/lumenclass/inviteledger/internal/services"
)

func registerEventRoutes(api *gin.RouterGroup, processor *services.EventProcessor, requireAdmin gin.HandlerFunc) error {
	handler, err := handlers.NewEventHandler(processor)
	if err != nil {
		return err
	}

	group := api.Group("/events")
	{
		group.POST("", handler.Ingest)
		group.POST("/fingerprint", handler.InspectFingerprint)

		group.GET("", requireAdmin, handler.History)
	}
	return nil
}
