package ledger

import (
	"course_market/internal/domain/ledger/handler"
	"course_market/internal/domain/ledger/repository"
	"course_market/internal/domain/ledger/service"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// LedgerModule 讲师余额账本模块
type LedgerModule struct{}

func init() {
	registry.Register(&LedgerModule{})
}

func (m *LedgerModule) Name() string {
	return "ledger"
}

func (m *LedgerModule) Priority() int {
	return 10
}

func (m *LedgerModule) Init(ctx *registry.ModuleContext) error {
	sqlDB, err := ctx.DB.DB()
	if err != nil {
		return err
	}

	// 1. 依赖注入
	lRepo := repository.NewLedgerRepository(ctx.DB, sqlx.NewDb(sqlDB, "postgres"))
	lService := service.NewLedgerService(lRepo, ctx.Transactor, ctx.Config.Finance.BaseCurrency, ctx.Logger, ctx.Metrics)
	registry.Provide[service.LedgerService](ctx, lService)

	// 2. 路由注册
	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewLedgerHandler(lService))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.LedgerHandler) {
	instructor := r.Group("/instructor")
	instructor.Use(middleware.AuthMiddleware(secret), middleware.RequireRole(utils.RoleInstructor))
	{
		instructor.GET("/balance", h.GetBalance)
		instructor.GET("/ledger", h.ListEntries)
		instructor.GET("/earnings", h.Earnings)
	}

	admin := r.Group("/admin/ledger")
	admin.Use(middleware.AuthMiddleware(secret), middleware.AdminMiddleware())
	{
		admin.POST("/adjustments", h.Adjust)
		admin.GET("/:instructorId/verify", h.Verify)
	}
}
