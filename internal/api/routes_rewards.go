package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/handlers"
	"github.com/lumenclass/inviteledger/internal/services"
)

func registerRewardRoutes(api *gin.RouterGroup, service *services.RewardService, requireAdmin gin.HandlerFunc) error {
	handler, err := handlers.NewRewardHandler(service)
	if err != nil {
		return err
	}

	rules := api.Group("/rewards/rules")
	{
		rules.GET("", handler.ListRules)

		rules.POST("", requireAdmin, handler.CreateRule)
		rules.PATCH("/:id", requireAdmin, handler.UpdateRule)
		rules.DELETE("/:id", requireAdmin, handler.DeleteRule)
	}

	api.POST("/rewards/evaluate", requireAdmin, handler.Evaluate)

	approvals := api.Group("/rewards/approvals")
	approvals.Use(requireAdmin)
	{
		approvals.GET("", handler.ListApprovals)
		approvals.POST("/:id/approve", handler.Approve)
		approvals.POST("/:id/reject", handler.Reject)
	}
	return nil
}
