package promotion

import (
	"course_market/internal/domain/promotion/handler"
	"course_market/internal/domain/promotion/repository"
	"course_market/internal/domain/promotion/service"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// PromotionModule 优惠码模块
type PromotionModule struct{}

func init() {
	registry.Register(&PromotionModule{})
}

func (m *PromotionModule) Name() string {
	return "promotion"
}

func (m *PromotionModule) Priority() int {
	return 10
}

func (m *PromotionModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	pRepo := repository.NewPromotionRepository(ctx.DB)
	pService := service.NewPromotionService(pRepo, ctx.Config.Finance.BaseCurrency, ctx.Logger)
	registry.Provide[service.PromotionService](ctx, pService)

	// 2. 路由注册
	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewPromotionHandler(pService))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.PromotionHandler) {
	g := r.Group("/promotions")
	g.Use(middleware.AuthMiddleware(secret))
	{
		// 结账前预览折扣
		g.POST("/validate", h.Validate)
	}

	admin := r.Group("/admin/promotions")
	admin.Use(middleware.AuthMiddleware(secret), middleware.AdminMiddleware())
	{
		admin.POST("", h.Create)
		admin.GET("", h.List)
	}
}
