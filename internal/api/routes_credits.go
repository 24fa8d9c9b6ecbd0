package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/handlers"
	"github.com/lumenclass/inviteledger/internal/services"
)

func registerCreditRoutes(api *gin.RouterGroup, service *services.CreditService, requireAdmin gin.HandlerFunc) error {
	handler, err := handlers.NewCreditHandler(service)
	if err != nil {
		return err
	}

	group := api.Group("/users/:user_id/credits")
	{
		group.GET("/balance", handler.Balance)
		group.GET("/expiring", handler.Expiring)
		group.GET("/stats", handler.Stats)
		group.POST("/use", handler.Use)

		group.POST("/grant", requireAdmin, handler.Grant)
	}
	return nil
}
