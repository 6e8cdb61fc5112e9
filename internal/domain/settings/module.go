package settings

import (
	"course_market/internal/domain/settings/handler"
	"course_market/internal/domain/settings/repository"
	"course_market/internal/domain/settings/service"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// SettingsModule 运行时配置模块
type SettingsModule struct{}

func init() {
	registry.Register(&SettingsModule{})
}

func (m *SettingsModule) Name() string {
	return "settings"
}

func (m *SettingsModule) Priority() int {
	return 0
}

func (m *SettingsModule) Init(ctx *registry.ModuleContext) error {
	repo := repository.NewSettingRepository(ctx.DB)
	svc := service.NewSettingsService(repo, ctx.Config.Finance, ctx.Logger)
	registry.Provide[service.SettingsService](ctx, svc)

	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewSettingsHandler(svc))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.SettingsHandler) {
	admin := r.Group("/admin/settings")
	admin.Use(middleware.AuthMiddleware(secret), middleware.AdminMiddleware())
	{
		admin.GET("", h.List)
		admin.PUT("", h.Update)
	}
}
