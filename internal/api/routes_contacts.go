package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumenclass/inviteledger/internal/handlers"
)

func registerContactRoutes(api *gin.RouterGroup, db *gorm.DB, requireAdmin gin.HandlerFunc) error {
	handler, err := handlers.NewContactHandler(db)
	if err != nil {
		return err
	}

	group := api.Group("/users/:user_id/contact")
	group.Use(requireAdmin)
	{
		group.GET("", handler.Get)
		group.PUT("", handler.Put)
	}
	return nil
}
