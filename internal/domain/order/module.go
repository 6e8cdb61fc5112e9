package order

import (
	catalogservice "course_market/internal/domain/catalog/service"
	ledgerservice "course_market/internal/domain/ledger/service"
	"course_market/internal/domain/order/handler"
	"course_market/internal/domain/order/repository"
	"course_market/internal/domain/order/service"
	promotionservice "course_market/internal/domain/promotion/service"
	settingsservice "course_market/internal/domain/settings/service"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// OrderModule 订单状态机
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

func (m *OrderModule) Priority() int {
	return 30
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	cart, err := registry.Lookup[catalogservice.CatalogService](ctx)
	if err != nil {
		return err
	}
	promotions, err := registry.Lookup[promotionservice.PromotionService](ctx)
	if err != nil {
		return err
	}
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

	oService := service.NewOrderService(service.Deps{
		Repo:       repository.NewOrderRepository(ctx.DB),
		Tx:         ctx.Transactor,
		Cart:       cart,
		Promotions: promotions,
		Ledger:     ledger,
		Settings:   settings,
		Rates:      rates,
		Notifier:   ctx.Notifier,
		Log:        ctx.Logger,
		Metrics:    ctx.Metrics,
	})
	registry.Provide[service.OrderService](ctx, oService)

	setupRoutes(ctx.Router, ctx.Config.JWT.Secret, handler.NewOrderHandler(oService))
	return nil
}

func setupRoutes(r *gin.Engine, secret string, h *handler.OrderHandler) {
	orders := r.Group("/orders")
	orders.Use(middleware.AuthMiddleware(secret))
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.POST("/:id/cancel", h.CancelOrder)
	}
}
