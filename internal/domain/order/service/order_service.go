package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	catalogmodel "course_market/internal/domain/catalog/model"
	ledgermodel "course_market/internal/domain/ledger/model"
	"course_market/internal/domain/order/model"
	"course_market/internal/domain/order/repository"
	promotionmodel "course_market/internal/domain/promotion/model"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/notify"
	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/metrics"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const staleBatchSize = 100

var (
	ErrEmptyCart           = apperr.New(apperr.KindValidation, "cart is empty")
	ErrOrderNotFound       = apperr.New(apperr.KindNotFound, "order not found")
	ErrInvalidTransition   = apperr.New(apperr.KindStateConflict, "invalid order status transition")
	ErrUnsupportedCurrency = apperr.New(apperr.KindValidation, "unsupported currency")
)

// Cart 购物车读取
type Cart interface {
	CartLines(ctx context.Context, userID uint) ([]catalogmodel.CartLine, error)
	ClearCart(ctx context.Context, userID uint) error
}

// Promotions 优惠码校验与用量计数
type Promotions interface {
	Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (*promotionmodel.Promotion, decimal.Decimal, error)
	IncrementUsage(ctx context.Context, promotionID uint) error
	DecrementUsage(ctx context.Context, promotionID uint) error
}

// Ledger 讲师入账
type Ledger interface {
	CreditSale(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, orderItemID uint) (*ledgermodel.BalanceTransaction, error)
}

// Settings 平台参数
type Settings interface {
	BaseCurrency() string
	CommissionRate(ctx context.Context) (decimal.Decimal, error)
}

type OrderService interface {
	// CreateFromCart 由购物车创建订单，实付为 0 时在同一事务内直接完成
	CreateFromCart(ctx context.Context, buyerID uint, promotionCode, currency string) (*model.Order, error)
	// CompleteOrder 幂等，已完成的订单直接返回
	CompleteOrder(ctx context.Context, orderID uint, paymentID *uint) (*model.Order, error)
	MarkFailed(ctx context.Context, orderID uint) error
	MarkCancelled(ctx context.Context, orderID uint, reason string) error
	// CancelByBuyer 买家取消自己的待支付订单
	CancelByBuyer(ctx context.Context, buyerID, orderID uint) error
	GetOrder(ctx context.Context, orderID uint) (*model.Order, error)
	// GetOrderDetails 非管理员只能查看自己的订单
	GetOrderDetails(ctx context.Context, requesterID uint, isAdmin bool, orderID uint) (*model.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID uint, offset, limit int) ([]model.Order, int64, error)
	// CancelStaleOrders 取消超时未支付的订单，返回取消数量
	CancelStaleOrders(ctx context.Context, olderThan time.Duration) (int, error)
}

type orderService struct {
	repo       repository.OrderRepository
	tx         database.Transactor
	cart       Cart
	promotions Promotions
	ledger     Ledger
	settings   Settings
	rates      exchange.Rates
	notifier   notify.Notifier
	log        *zap.Logger
	metrics    *metrics.MetricsCollector
	now        func() time.Time
}

// Deps 订单服务依赖
type Deps struct {
	Repo       repository.OrderRepository
	Tx         database.Transactor
	Cart       Cart
	Promotions Promotions
	Ledger     Ledger
	Settings   Settings
	Rates      exchange.Rates
	Notifier   notify.Notifier
	Log        *zap.Logger
	Metrics    *metrics.MetricsCollector
}

func NewOrderService(d Deps) OrderService {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &orderService{
		repo:       d.Repo,
		tx:         d.Tx,
		cart:       d.Cart,
		promotions: d.Promotions,
		ledger:     d.Ledger,
		settings:   d.Settings,
		rates:      d.Rates,
		notifier:   notifier,
		log:        d.Log.With(zap.String("component", "order")),
		metrics:    d.Metrics,
		now:        time.Now,
	}
}

func (s *orderService) CreateFromCart(ctx context.Context, buyerID uint, promotionCode, currency string) (*model.Order, error) {
	base := s.settings.BaseCurrency()
	currency = money.Normalize(currency)
	if currency == "" {
		currency = base
	}
	if len(currency) != 3 {
		return nil, ErrUnsupportedCurrency.WithReason(currency)
	}

	var order *model.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		lines, err := s.cart.CartLines(ctx, buyerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		totalBase := decimal.Zero
		for _, l := range lines {
			totalBase = totalBase.Add(l.Price)
		}

		var (
			promotion    *promotionmodel.Promotion
			discountBase = decimal.Zero
		)
		if promotionCode != "" {
			promotion, discountBase, err = s.promotions.Validate(ctx, promotionCode, totalBase)
			if err != nil {
				return err
			}
		}

		rate := decimal.NewFromInt(1)
		if currency != base {
			if rate, err = s.rates.Rate(ctx, currency); err != nil {
				return err
			}
		}

		order = buildOrder(buyerID, lines, discountBase, currency, rate)
		if promotion != nil {
			order.PromotionID = &promotion.ID
		}
		if err := s.repo.Create(ctx, order); err != nil {
			return err
		}

		if promotion != nil {
			if err := s.promotions.IncrementUsage(ctx, promotion.ID); err != nil {
				return err
			}
		}
		if err := s.cart.ClearCart(ctx, buyerID); err != nil {
			return err
		}

		if order.FinalAmount.IsPositive() {
			return nil
		}
		completed, err := s.CompleteOrder(ctx, order.ID, nil)
		if err != nil {
			return err
		}
		order = completed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Order created",
		zap.Uint("order_id", order.ID),
		zap.Uint("buyer_id", buyerID),
		zap.String("final_amount", order.FinalAmount.String()),
		zap.String("currency", order.Currency),
		zap.String("status", order.Status))
	return order, nil
}

// buildOrder 按冻结汇率换算价格，并把折扣按价格比例分摊到订单项，尾差由最后一项承担
func buildOrder(buyerID uint, lines []catalogmodel.CartLine, discountBase decimal.Decimal, currency string, rate decimal.Decimal) *model.Order {
	items := make([]model.OrderItem, len(lines))
	original := decimal.Zero
	for i, l := range lines {
		price := exchange.FromBase(l.Price, rate, currency)
		items[i] = model.OrderItem{
			CourseID:     l.CourseID,
			InstructorID: l.InstructorID,
			Title:        l.Title,
			PriceAtOrder: price,
		}
		original = original.Add(price)
	}

	discount := money.Min(exchange.FromBase(discountBase, rate, currency), original)
	final := money.Max(original.Sub(discount), decimal.Zero)

	remaining := discount
	for i := range items {
		share := decimal.Zero
		if i == len(items)-1 {
			share = remaining
		} else if original.IsPositive() {
			share = money.Round(discount.Mul(items[i].PriceAtOrder).Div(original), currency)
			share = money.Min(share, remaining)
		}
		share = money.Min(share, items[i].PriceAtOrder)
		items[i].NetAmount = items[i].PriceAtOrder.Sub(share)
		remaining = remaining.Sub(share)
	}

	return &model.Order{
		BuyerID:        buyerID,
		OriginalTotal:  original,
		DiscountAmount: discount,
		FinalAmount:    final,
		Currency:       currency,
		ExchangeRate:   rate,
		Status:         model.StatusPendingPayment,
		Items:          items,
	}
}

func (s *orderService) CompleteOrder(ctx context.Context, orderID uint, paymentID *uint) (*model.Order, error) {
	var (
		order   *model.Order
		applied bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.StatusCompleted {
			return nil
		}
		if order.Status != model.StatusPendingPayment {
			return ErrInvalidTransition.WithReason(order.Status + "->" + model.StatusCompleted)
		}

		now := s.now()
		ok, err := s.repo.TransitionFromPending(ctx, orderID, model.StatusUpdate{
			Status:      model.StatusCompleted,
			PaymentID:   paymentID,
			CompletedAt: &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			// 并发完成时以已落库的状态为准
			current, err := s.load(ctx, orderID)
			if err != nil {
				return err
			}
			order = current
			if current.Status == model.StatusCompleted {
				return nil
			}
			return ErrInvalidTransition.WithReason(current.Status + "->" + model.StatusCompleted)
		}
		order.Status = model.StatusCompleted
		order.PaymentID = paymentID
		order.CompletedAt = &now

		if err := s.fulfill(ctx, order); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		s.log.Info("Order already completed", zap.Uint("order_id", orderID))
		return order, nil
	}
	s.recordTransition(ctx, model.StatusCompleted)
	s.log.Info("Order completed", zap.Uint("order_id", orderID), zap.Int("items", len(order.Items)))
	return order, nil
}

// fulfill 为每个订单项入账讲师收入并开通课程
func (s *orderService) fulfill(ctx context.Context, order *model.Order) error {
	base := s.settings.BaseCurrency()
	commission, err := s.settings.CommissionRate(ctx)
	if err != nil {
		return err
	}
	share := decimal.NewFromInt(1).Sub(commission)

	credited := make(map[uint]decimal.Decimal)
	for i := range order.Items {
		item := &order.Items[i]

		earning := exchange.ToBase(item.NetAmount.Mul(share), order.ExchangeRate, base)
		if _, err := s.ledger.CreditSale(ctx, item.InstructorID, earning, base, item.ID); err != nil {
			return fmt.Errorf("credit instructor %d for item %d: %w", item.InstructorID, item.ID, err)
		}
		credited[item.InstructorID] = credited[item.InstructorID].Add(earning)

		enrollment := &model.Enrollment{UserID: order.BuyerID, CourseID: item.CourseID, OrderItemID: item.ID}
		created, err := s.repo.CreateEnrollment(ctx, enrollment)
		if err != nil {
			return err
		}
		if !created {
			s.log.Warn("Enrollment already exists, skipping",
				zap.Uint("order_id", order.ID),
				zap.Uint("user_id", order.BuyerID),
				zap.Uint("course_id", item.CourseID))
			continue
		}
		if err := s.repo.LinkEnrollment(ctx, item.ID, enrollment.ID); err != nil {
			return err
		}
		item.EnrollmentID = &enrollment.ID
	}

	orderID := strconv.FormatUint(uint64(order.ID), 10)
	s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventOrderCompleted,
		RecipientID: order.BuyerID,
		Title:       "Order completed",
		Body:        "Your courses are ready.",
		Data:        map[string]string{"orderId": orderID},
		OccurredAt:  s.now(),
	})
	for instructorID, amount := range credited {
		s.notifier.Notify(ctx, notify.Event{
			Type:        notify.EventSaleCredited,
			RecipientID: instructorID,
			Title:       "New sale",
			Body:        fmt.Sprintf("%s %s credited to your balance.", amount.StringFixed(money.Exponent(base)), base),
			Data:        map[string]string{"orderId": orderID, "amount": amount.String(), "currency": base},
			OccurredAt:  s.now(),
		})
	}
	return nil
}

func (s *orderService) MarkFailed(ctx context.Context, orderID uint) error {
	return s.abandon(ctx, orderID, model.StatusUpdate{Status: model.StatusFailed}, notify.EventOrderFailed)
}

func (s *orderService) MarkCancelled(ctx context.Context, orderID uint, reason string) error {
	return s.abandon(ctx, orderID, model.StatusUpdate{Status: model.StatusCancelled, CancelReason: reason}, notify.EventOrderCancelled)
}

func (s *orderService) CancelByBuyer(ctx context.Context, buyerID, orderID uint) error {
	order, err := s.GetOrderDetails(ctx, buyerID, false, orderID)
	if err != nil {
		return err
	}
	return s.MarkCancelled(ctx, order.ID, "cancelled by buyer")
}

// abandon PENDING_PAYMENT -> FAILED/CANCELLED，并归还优惠码用量
func (s *orderService) abandon(ctx context.Context, orderID uint, update model.StatusUpdate, event string) error {
	var order *model.Order
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.load(ctx, orderID)
		if err != nil {
			return err
		}
		ok, err := s.repo.TransitionFromPending(ctx, orderID, update)
		if err != nil {
			return err
		}
		if !ok {
			if current, err := s.load(ctx, orderID); err == nil {
				order = current
			}
			return ErrInvalidTransition.WithReason(order.Status + "->" + update.Status)
		}
		if order.PromotionID != nil {
			if err := s.promotions.DecrementUsage(ctx, *order.PromotionID); err != nil {
				return err
			}
		}
		s.notifier.Notify(ctx, notify.Event{
			Type:        event,
			RecipientID: order.BuyerID,
			Title:       "Order " + update.Status,
			Data:        map[string]string{"orderId": strconv.FormatUint(uint64(orderID), 10)},
			OccurredAt:  s.now(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.recordTransition(ctx, update.Status)
	s.log.Info("Order closed",
		zap.Uint("order_id", orderID),
		zap.String("status", update.Status),
		zap.String("reason", update.CancelReason))
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uint) (*model.Order, error) {
	return s.load(ctx, orderID)
}

func (s *orderService) GetOrderDetails(ctx context.Context, requesterID uint, isAdmin bool, orderID uint) (*model.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && order.BuyerID != requesterID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, buyerID uint, offset, limit int) ([]model.Order, int64, error) {
	return s.repo.ListByBuyer(ctx, buyerID, offset, limit)
}

func (s *orderService) CancelStaleOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.repo.FindStalePending(ctx, s.now().Add(-olderThan), staleBatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		err := s.MarkCancelled(ctx, id, "payment timeout")
		switch {
		case err == nil:
			cancelled++
		case apperr.IsKind(err, apperr.KindStateConflict):
			// 扫描后已被支付或关闭
			s.log.Debug("Stale order no longer pending", zap.Uint("order_id", id))
		default:
			s.log.Error("Failed to cancel stale order", zap.Uint("order_id", id), zap.Error(err))
		}
	}
	return cancelled, nil
}

func (s *orderService) load(ctx context.Context, orderID uint) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *orderService) recordTransition(ctx context.Context, to string) {
	if s.metrics == nil {
		return
	}
	database.AfterCommit(ctx, func() {
		s.metrics.RecordOrderTransition(to)
	})
}
