package catalog

import (
	"course_market/internal/domain/catalog/handler"
	"course_market/internal/domain/catalog/repository"
	"course_market/internal/domain/catalog/service"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// CatalogModule 课程与购物车，只读价格来源
type CatalogModule struct{}

func init() {
	registry.Register(&CatalogModule{})
}

func (m *CatalogModule) Name() string {
	return "catalog"
}

func (m *CatalogModule) Priority() int {
	return 5
}

func (m *CatalogModule) Init(ctx *registry.ModuleContext) error {
	cService := service.NewCatalogService(repository.NewCatalogRepository(ctx.DB))
	registry.Provide[service.CatalogService](ctx, cService)

	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewCartHandler(cService))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.CartHandler) {
	cart := r.Group("/cart")
	cart.Use(middleware.AuthMiddleware(secret))
	{
		cart.GET("", h.GetCart)
		cart.POST("/items", h.AddItem)
		cart.DELETE("/items/:courseId", h.RemoveItem)
	}
}
