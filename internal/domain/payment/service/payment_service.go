package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	ordermodel "course_market/internal/domain/order/model"
	"course_market/internal/domain/payment/model"
	"course_market/internal/domain/payment/repository"
	"course_market/internal/domain/payment/strategy"
	"course_market/internal/pkg/exchange"
	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/metrics"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnsupportedMethod = apperr.New(apperr.KindValidation, "unsupported payment method")
	ErrOrderNotFound     = apperr.New(apperr.KindNotFound, "order not found")
	ErrNotPayable        = apperr.New(apperr.KindStateConflict, "order is not awaiting payment")
)

// Orders 订单状态机
type Orders interface {
	GetOrder(ctx context.Context, orderID uint) (*ordermodel.Order, error)
	CompleteOrder(ctx context.Context, orderID uint, paymentID *uint) (*ordermodel.Order, error)
	MarkFailed(ctx context.Context, orderID uint) error
}

// ReturnSummary 同步跳转结果，仅用于展示
type ReturnSummary struct {
	OrderID  uint            `json:"orderId"`
	Success  bool            `json:"success"`
	Verified bool            `json:"verified"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type PaymentService interface {
	RegisterStrategy(s strategy.PaymentStrategy)
	Methods() []string
	// Initiate 为待支付订单发起支付，不改变订单状态
	Initiate(ctx context.Context, buyerID, orderID uint, method, clientIP string) (*strategy.PayResult, error)
	// HandleCallback 验签 -> 定位订单 -> 金额校验 -> 状态校验 -> 幂等入账
	HandleCallback(ctx context.Context, method string, req *strategy.CallbackRequest) (strategy.Result, error)
	// DescribeReturn 解析同步跳转参数，不做任何写入
	DescribeReturn(ctx context.Context, method string, req *strategy.CallbackRequest) (*ReturnSummary, error)
	Capture(ctx context.Context, method, token string) (*strategy.CaptureResult, error)
	Acknowledge(method string, res strategy.Result, err error) (int, interface{})
}

type paymentService struct {
	repo            repository.PaymentRepository
	tx              database.Transactor
	orders          Orders
	strategies      map[string]strategy.PaymentStrategy
	baseCurrency    string
	allowUnverified bool
	log             *zap.Logger
	metrics         *metrics.MetricsCollector
	now             func() time.Time
}

func NewPaymentService(repo repository.PaymentRepository, tx database.Transactor, orders Orders, baseCurrency string,
	allowUnverified bool, log *zap.Logger, m *metrics.MetricsCollector) PaymentService {
	log = log.With(zap.String("component", "payment"))
	if allowUnverified {
		log.Warn("Unverified webhook signatures are accepted for vnpay, momo and crypto")
	}
	return &paymentService{
		repo:            repo,
		tx:              tx,
		orders:          orders,
		strategies:      make(map[string]strategy.PaymentStrategy),
		baseCurrency:    baseCurrency,
		allowUnverified: allowUnverified,
		log:             log,
		metrics:         m,
		now:             time.Now,
	}
}

// RegisterStrategy 注册支付渠道
func (s *paymentService) RegisterStrategy(st strategy.PaymentStrategy) {
	s.strategies[st.Method()] = st
}

func (s *paymentService) Methods() []string {
	methods := make([]string, 0, len(s.strategies))
	for m := range s.strategies {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (s *paymentService) strategy(method string) (strategy.PaymentStrategy, error) {
	st, ok := s.strategies[method]
	if !ok {
		return nil, ErrUnsupportedMethod.WithReason(method)
	}
	return st, nil
}

func (s *paymentService) Initiate(ctx context.Context, buyerID, orderID uint, method, clientIP string) (*strategy.PayResult, error) {
	st, err := s.strategy(method)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}
	if order.Status != ordermodel.StatusPendingPayment || !order.FinalAmount.IsPositive() {
		return nil, ErrNotPayable.WithReason(order.Status)
	}

	result, err := st.Pay(ctx, strategy.PayRequest{
		OrderID:     order.ID,
		Amount:      order.FinalAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Order %d", order.ID),
		ClientIP:    clientIP,
	})
	if err != nil {
		s.log.Error("Failed to initiate payment", zap.Uint("order_id", orderID), zap.String("method", method), zap.Error(err))
		return nil, err
	}
	s.log.Info("Payment initiated", zap.Uint("order_id", orderID), zap.String("method", method), zap.String("external_id", result.ExternalID))
	return result, nil
}

func (s *paymentService) HandleCallback(ctx context.Context, method string, req *strategy.CallbackRequest) (strategy.Result, error) {
	res, err := s.handleCallback(ctx, method, req)
	if err != nil {
		s.record(method, "rejected")
		return res, err
	}
	s.record(method, res.String())
	return res, nil
}

func (s *paymentService) handleCallback(ctx context.Context, method string, req *strategy.CallbackRequest) (strategy.Result, error) {
	st, err := s.strategy(method)
	if err != nil {
		return strategy.ResultProcessed, err
	}
	log := s.log.With(zap.String("method", method))

	n, err := st.ParseCallback(ctx, req)
	if err != nil {
		if apperr.IsKind(err, apperr.KindExternalProvider) {
			log.Warn("Callback verification unavailable", zap.Error(err))
		} else {
			log.Error("Callback rejected", zap.Error(err))
		}
		return strategy.ResultProcessed, err
	}
	log = log.With(zap.String("order_ref", n.OrderRef), zap.String("external_id", n.ExternalTransactionID))

	if !n.Verified {
		if !s.allowUnverified {
			log.Error("Callback signature mismatch")
			return strategy.ResultProcessed, strategy.ErrInvalidSignature.WithReason(method)
		}
		log.Error("Accepting callback with unverified signature")
	}

	switch n.Outcome {
	case strategy.OutcomeIgnored:
		log.Debug("Callback event ignored")
		return strategy.ResultIgnored, nil
	case strategy.OutcomePending:
		log.Info("Payment still pending at provider")
		return strategy.ResultPending, nil
	}

	orderID, ok := strategy.ParseOrderRef(n.OrderRef)
	if !ok {
		log.Error("Callback references unknown order")
		return strategy.ResultProcessed, ErrOrderNotFound.WithReason(n.OrderRef)
	}

	var res strategy.Result
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.settle(ctx, method, orderID, n, log)
		return err
	})
	switch {
	case err == nil:
	case database.IsDuplicateKey(err):
		// 相同回调并发投递，另一事务已先提交
		log.Info("Concurrent duplicate callback", zap.Error(err))
		return strategy.ResultDuplicate, nil
	default:
		if apperr.IsKind(err, apperr.KindIntegrityAnomaly) || apperr.IsKind(err, apperr.KindNotFound) {
			log.Error("Callback integrity anomaly", zap.Uint("order_id", orderID), zap.Error(err))
		} else {
			log.Error("Failed to settle callback", zap.Uint("order_id", orderID), zap.Error(err))
		}
		return strategy.ResultProcessed, err
	}

	if res == strategy.ResultDuplicate {
		log.Info("Duplicate callback acknowledged", zap.Uint("order_id", orderID))
	} else {
		log.Info("Callback settled", zap.Uint("order_id", orderID), zap.String("outcome", n.Outcome.String()))
	}
	return res, nil
}

// settle 在事务内记录支付并推进订单状态
func (s *paymentService) settle(ctx context.Context, method string, orderID uint, n *strategy.Notification, log *zap.Logger) (strategy.Result, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return strategy.ResultProcessed, err
	}

	if n.Currency != order.Currency || !money.Round(n.Amount, order.Currency).Equal(order.FinalAmount) {
		log.Error("Settled amount mismatch",
			zap.String("settled", n.Amount.String()+" "+n.Currency),
			zap.String("expected", order.FinalAmount.String()+" "+order.Currency))
		return strategy.ResultProcessed, strategy.ErrAmountMismatch
	}

	success := n.Outcome == strategy.OutcomeSuccess
	switch {
	case order.Status == ordermodel.StatusCompleted && success:
		return strategy.ResultDuplicate, nil
	case (order.Status == ordermodel.StatusFailed || order.Status == ordermodel.StatusCancelled) && !success:
		return strategy.ResultDuplicate, nil
	case order.Status != ordermodel.StatusPendingPayment:
		return strategy.ResultProcessed, strategy.ErrUnexpectedState.WithReason(order.Status + " <- " + n.Outcome.String())
	}

	payment, err := s.findPayment(ctx, method, order.ID, n.ExternalTransactionID)
	if err != nil {
		return strategy.ResultProcessed, err
	}
	if payment != nil && payment.OrderID != order.ID {
		// 幂等键已被其他订单占用，不能覆盖别人的支付记录
		log.Error("External transaction id belongs to another order",
			zap.Uint("order_id", order.ID), zap.Uint("payment_order_id", payment.OrderID))
		return strategy.ResultProcessed, strategy.ErrUnexpectedState.WithReason("external id owned by another order")
	}
	if payment != nil && payment.Status == model.StatusSuccess {
		return strategy.ResultDuplicate, nil
	}

	status := model.StatusFailed
	if success {
		status = model.StatusSuccess
	}
	now := s.now()

	if payment == nil {
		payment = &model.Payment{
			OrderID:               order.ID,
			Method:                method,
			ExternalTransactionID: n.ExternalTransactionID,
			OriginalAmount:        n.Amount,
			OriginalCurrency:      n.Currency,
			ConvertedAmount:       exchange.ToBase(n.Amount, order.ExchangeRate, s.baseCurrency),
			ConvertedCurrency:     s.baseCurrency,
			ConversionRate:        order.ExchangeRate,
			Status:                status,
			RawProviderPayload:    n.Raw,
		}
		if success {
			payment.CompletedAt = &now
		}
		if err := s.repo.Create(ctx, payment); err != nil {
			return strategy.ResultProcessed, err
		}
	} else {
		update := repository.PaymentUpdate{
			ExternalTransactionID: n.ExternalTransactionID,
			Status:                status,
			RawProviderPayload:    n.Raw,
		}
		if success {
			update.CompletedAt = &now
		}
		ok, err := s.repo.Update(ctx, payment.ID, update)
		if err != nil {
			return strategy.ResultProcessed, err
		}
		if !ok {
			return strategy.ResultDuplicate, nil
		}
	}

	if success {
		if _, err := s.orders.CompleteOrder(ctx, order.ID, &payment.ID); err != nil {
			return strategy.ResultProcessed, err
		}
		return strategy.ResultProcessed, nil
	}
	return strategy.ResultProcessed, s.orders.MarkFailed(ctx, order.ID)
}

// findPayment 先按幂等键查找，再按订单查找之前未成功的记录
func (s *paymentService) findPayment(ctx context.Context, method string, orderID uint, externalID string) (*model.Payment, error) {
	payment, err := s.repo.GetByExternalID(ctx, externalID, method)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	payment, err = s.repo.GetByOrderID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return payment, err
}

func (s *paymentService) DescribeReturn(ctx context.Context, method string, req *strategy.CallbackRequest) (*ReturnSummary, error) {
	st, err := s.strategy(method)
	if err != nil {
		return nil, err
	}
	n, err := st.ParseCallback(ctx, req)
	if err != nil {
		return nil, err
	}
	orderID, _ := strategy.ParseOrderRef(n.OrderRef)
	return &ReturnSummary{
		OrderID:  orderID,
		Success:  n.Verified && n.Outcome == strategy.OutcomeSuccess,
		Verified: n.Verified,
		Amount:   n.Amount,
		Currency: n.Currency,
	}, nil
}

func (s *paymentService) Capture(ctx context.Context, method, token string) (*strategy.CaptureResult, error) {
	st, err := s.strategy(method)
	if err != nil {
		return nil, err
	}
	capturer, ok := st.(strategy.Capturer)
	if !ok {
		return nil, ErrUnsupportedMethod.WithReason(method + " capture")
	}
	return capturer.Capture(ctx, token)
}

func (s *paymentService) Acknowledge(method string, res strategy.Result, err error) (int, interface{}) {
	st, lookupErr := s.strategy(method)
	if lookupErr != nil {
		return http.StatusNotFound, map[string]string{"error": lookupErr.Error()}
	}
	return st.Ack(res, err)
}

func (s *paymentService) record(method, result string) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(method, result)
	}
}
