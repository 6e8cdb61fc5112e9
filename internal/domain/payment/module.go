package payment

import (
	"net/http"
	"time"

	orderservice "course_market/internal/domain/order/service"
	"course_market/internal/domain/payment/handler"
	"course_market/internal/domain/payment/repository"
	"course_market/internal/domain/payment/service"
	"course_market/internal/domain/payment/strategy"
	"course_market/internal/pkg/config"
	"course_market/internal/pkg/middleware"
	"course_market/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const providerTimeout = 10 * time.Second

// PaymentModule 支付发起与回调对账
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	// 依赖订单模块
	return 40
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	orders, err := registry.Lookup[orderservice.OrderService](ctx)
	if err != nil {
		return err
	}

	cfg := ctx.Config
	if cfg.Payment.AllowUnverifiedSignatures && cfg.App.IsProduction() {
		ctx.Logger.Error("payment.allow_unverified_signatures is ignored in production")
	}

	// 1. 依赖注入
	pService := service.NewPaymentService(
		repository.NewPaymentRepository(ctx.DB),
		ctx.Transactor,
		orders,
		cfg.Finance.BaseCurrency,
		cfg.UnverifiedSignaturesAllowed(),
		ctx.Logger,
		ctx.Metrics,
	)

	// 2. 注册支付策略，未配置的渠道跳过
	for _, st := range buildStrategies(cfg.Payment, ctx.Logger) {
		pService.RegisterStrategy(st)
	}
	registry.Provide[service.PaymentService](ctx, pService)

	// 3. 路由注册
	setupRoutes(ctx.Router, cfg.JWT.Secret, handler.NewPaymentHandler(pService))
	return nil
}

func buildStrategies(cfg config.PaymentConfig, log *zap.Logger) []strategy.PaymentStrategy {
	client := &http.Client{Timeout: providerTimeout}
	var out []strategy.PaymentStrategy

	add := func(method string, st strategy.PaymentStrategy, err error) {
		if err != nil {
			log.Info("Payment method disabled", zap.String("method", method), zap.Error(err))
			return
		}
		out = append(out, st)
	}

	vnpay, err := strategy.NewVNPayStrategy(cfg.VNPay)
	add(strategy.MethodVNPay, vnpay, err)
	stripe, err := strategy.NewStripeStrategy(cfg.Stripe)
	add(strategy.MethodStripe, stripe, err)
	momo, err := strategy.NewMoMoStrategy(cfg.MoMo, client)
	add(strategy.MethodMoMo, momo, err)
	paypal, err := strategy.NewPayPalStrategy(cfg.PayPal, client)
	add(strategy.MethodPayPal, paypal, err)
	crypto, err := strategy.NewCryptoStrategy(cfg.Crypto, client)
	add(strategy.MethodCrypto, crypto, err)
	return out
}

func setupRoutes(r *gin.Engine, secret string, h *handler.PaymentHandler) {
	g := r.Group("/payment")

	// 渠道回调，无需鉴权但需验签
	g.GET("/vnpay/ipn", h.Callback(strategy.MethodVNPay))
	g.GET("/vnpay/return", h.Return(strategy.MethodVNPay))
	g.POST("/stripe/webhook", h.Callback(strategy.MethodStripe))
	g.POST("/momo/ipn", h.Callback(strategy.MethodMoMo))
	g.POST("/paypal/webhook", h.Callback(strategy.MethodPayPal))
	g.POST("/crypto/callback", h.Callback(strategy.MethodCrypto))

	auth := g.Group("")
	auth.Use(middleware.AuthMiddleware(secret))
	{
		auth.GET("/methods", h.Methods)
		auth.POST("/paypal/capture/:token", h.CapturePayPal)
	}

	orders := r.Group("/orders")
	orders.Use(middleware.AuthMiddleware(secret))
	orders.POST("/:id/pay", h.Pay)
}
