package withdrawal

import (
	ledgerservice "course_market/internal/domain/ledger/service"
	settingsservice "course_market/internal/domain/settings/service"
	"course_market/internal/domain/withdrawal/handler"
	"course_market/internal/domain/withdrawal/repository"
	"course_market/internal/domain/withdrawal/service"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
)

// WithdrawalModule 讲师提现与打款模块
type WithdrawalModule struct{}

func init() {
	registry.Register(&WithdrawalModule{})
}

func (m *WithdrawalModule) Name() string {
	return "withdrawal"
}

func (m *WithdrawalModule) Priority() int {
	return 40
}

func (m *WithdrawalModule) Init(ctx *registry.ModuleContext) error {
	ledger, err := registry.Lookup[ledgerservice.LedgerService](ctx)
	if err != nil {
		return err
	}
	settings, err := registry.Lookup[settingsservice.SettingsService](ctx)
	if err != nil {
		return err
	}
	rates, err := registry.Lookup[exchange.Rates](ctx)
	if err != nil {
		return err
	}

	// 1. 依赖注入
	wRepo := repository.NewWithdrawalRepository(ctx.DB)
	wService := service.NewWithdrawalService(service.Deps{
		Repo:     wRepo,
		Tx:       ctx.Transactor,
		Ledger:   ledger,
		Settings: settings,
		Rates:    rates,
		Notifier: ctx.Notifier,
		Log:      ctx.Logger,
		Metrics:  ctx.Metrics,
	})
	registry.Provide[service.WithdrawalService](ctx, wService)

	// 2. 路由注册
	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewWithdrawalHandler(wService))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.WithdrawalHandler) {
	instructor := r.Group("")
	instructor.Use(middleware.AuthMiddleware(secret), middleware.RequireRole(utils.RoleInstructor))
	{
		instructor.POST("/withdrawals", h.RequestWithdrawal)
		instructor.GET("/withdrawals", h.ListMine)
		instructor.POST("/payout-methods", h.AddPayoutMethod)
		instructor.GET("/payout-methods", h.ListPayoutMethods)
		instructor.DELETE("/payout-methods/:id", h.DeactivatePayoutMethod)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(secret), middleware.AdminMiddleware())
	{
		admin.GET("/withdrawals", h.ListRequests)
		admin.POST("/withdrawals/:id/review", h.Review)
		admin.POST("/payouts/:id/processing", h.MarkProcessing)
		admin.POST("/payouts/:id/execution", h.Execute)
	}
}
