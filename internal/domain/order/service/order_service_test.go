package service

import (
	"context"
	"sync"
	"testing"
	"time"

	catalogmodel "course_market/internal/domain/catalog/model"
	ledgermodel "course_market/internal/domain/ledger/model"
	"course_market/internal/domain/order/model"
	promotionmodel "course_market/internal/domain/promotion/model"
	promotionservice "course_market/internal/domain/promotion/service"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/notify"
	"course_market/pkg/apperr"
	"course_market/pkg/database/dbtest"
	basemodel "course_market/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// MockOrderRepository is a mock of OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	if args.Error(0) == nil {
		order.ID = 100
		for i := range order.Items {
			order.Items[i].ID = uint(1000 + i)
		}
	}
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uint) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByBuyer(ctx context.Context, buyerID uint, offset, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, buyerID, offset, limit)
	return args.Get(0).([]model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) TransitionFromPending(ctx context.Context, id uint, update model.StatusUpdate) (bool, error) {
	args := m.Called(ctx, id, update.Status)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) CreateEnrollment(ctx context.Context, enrollment *model.Enrollment) (bool, error) {
	args := m.Called(ctx, enrollment.UserID, enrollment.CourseID)
	if args.Bool(0) {
		enrollment.ID = 500 + enrollment.CourseID
	}
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) LinkEnrollment(ctx context.Context, itemID, enrollmentID uint) error {
	return m.Called(ctx, itemID, enrollmentID).Error(0)
}

func (m *MockOrderRepository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]uint, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]uint), args.Error(1)
}

type MockCart struct {
	mock.Mock
}

func (m *MockCart) CartLines(ctx context.Context, userID uint) ([]catalogmodel.CartLine, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]catalogmodel.CartLine), args.Error(1)
}

func (m *MockCart) ClearCart(ctx context.Context, userID uint) error {
	return m.Called(ctx, userID).Error(0)
}

type MockPromotions struct {
	mock.Mock
}

func (m *MockPromotions) Validate(ctx context.Context, code string, total decimal.Decimal) (*promotionmodel.Promotion, decimal.Decimal, error) {
	args := m.Called(ctx, code, total.String())
	if args.Get(0) == nil {
		return nil, decimal.Zero, args.Error(2)
	}
	return args.Get(0).(*promotionmodel.Promotion), args.Get(1).(decimal.Decimal), args.Error(2)
}

func (m *MockPromotions) IncrementUsage(ctx context.Context, promotionID uint) error {
	return m.Called(ctx, promotionID).Error(0)
}

func (m *MockPromotions) DecrementUsage(ctx context.Context, promotionID uint) error {
	return m.Called(ctx, promotionID).Error(0)
}

// fakeLedger 记录入账金额
type fakeLedger struct {
	credits map[uint]string
	err     error
}

func (f *fakeLedger) CreditSale(_ context.Context, instructorID uint, amount decimal.Decimal, currency string, orderItemID uint) (*ledgermodel.BalanceTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.credits == nil {
		f.credits = make(map[uint]string)
	}
	f.credits[orderItemID] = amount.String() + " " + currency
	return &ledgermodel.BalanceTransaction{InstructorID: instructorID, Amount: amount}, nil
}

type fixedSettings struct {
	commission string
}

func (fixedSettings) BaseCurrency() string { return "VND" }

func (f fixedSettings) CommissionRate(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString(f.commission), nil
}

type fixedRates map[string]string

func (r fixedRates) Rate(_ context.Context, quote string) (decimal.Decimal, error) {
	v, ok := r[quote]
	if !ok {
		return decimal.Zero, exchange.ErrRateUnavailable
	}
	return decimal.RequireFromString(v), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	repo       *MockOrderRepository
	cart       *MockCart
	promotions *MockPromotions
	ledger     *fakeLedger
	notifier   *recordingNotifier
	tx         *dbtest.Transactor
	svc        OrderService
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:       new(MockOrderRepository),
		cart:       new(MockCart),
		promotions: new(MockPromotions),
		ledger:     &fakeLedger{},
		notifier:   &recordingNotifier{},
		tx:         &dbtest.Transactor{},
	}
	f.svc = NewOrderService(Deps{
		Repo:       f.repo,
		Tx:         f.tx,
		Cart:       f.cart,
		Promotions: f.promotions,
		Ledger:     f.ledger,
		Settings:   fixedSettings{commission: "0.30"},
		Rates:      fixedRates{"USD": "0.00004"},
		Notifier:   f.notifier,
		Log:        zaptest.NewLogger(t),
	})
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(courseID, instructorID uint, price string) catalogmodel.CartLine {
	return catalogmodel.CartLine{CourseID: courseID, InstructorID: instructorID, Title: "course", Price: dec(price)}
}

func pendingOrder(items ...model.OrderItem) *model.Order {
	final := decimal.Zero
	for _, it := range items {
		final = final.Add(it.NetAmount)
	}
	return &model.Order{
		BaseModel:    basemodel.BaseModel{ID: 100},
		BuyerID:      7,
		FinalAmount:  final,
		Currency:     "VND",
		ExchangeRate: decimal.NewFromInt(1),
		Status:       model.StatusPendingPayment,
		Items:        items,
	}
}

func item(id, courseID, instructorID uint, net string) model.OrderItem {
	return model.OrderItem{ID: id, CourseID: courseID, InstructorID: instructorID, PriceAtOrder: dec(net), NetAmount: dec(net)}
}

func TestCreateFromCart(t *testing.T) {
	ctx := context.Background()

	t.Run("promotion discount applied and usage counted", func(t *testing.T) {
		f := newFixture(t)
		promo := &promotionmodel.Promotion{BaseModel: basemodel.BaseModel{ID: 1}, Code: "SAVE10"}
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "500000")}, nil)
		f.promotions.On("Validate", ctx, "SAVE10", "500000").Return(promo, dec("40000"), nil)
		f.repo.On("Create", ctx, mock.AnythingOfType("*model.Order")).Return(nil)
		f.promotions.On("IncrementUsage", ctx, uint(1)).Return(nil)
		f.cart.On("ClearCart", ctx, uint(7)).Return(nil)

		order, err := f.svc.CreateFromCart(ctx, 7, "SAVE10", "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingPayment, order.Status)
		assert.Equal(t, "500000", order.OriginalTotal.String())
		assert.Equal(t, "40000", order.DiscountAmount.String())
		assert.Equal(t, "460000", order.FinalAmount.String())
		assert.Equal(t, "VND", order.Currency)
		require.NotNil(t, order.PromotionID)
		assert.Equal(t, uint(1), *order.PromotionID)
		assert.Equal(t, "460000", order.Items[0].NetAmount.String())
		assert.Equal(t, 1, f.tx.Calls)
		assert.Empty(t, f.ledger.credits)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{}, nil)

		_, err := f.svc.CreateFromCart(ctx, 7, "", "")
		assert.ErrorIs(t, err, ErrEmptyCart)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("usage limit reached aborts before clearing cart", func(t *testing.T) {
		f := newFixture(t)
		promo := &promotionmodel.Promotion{BaseModel: basemodel.BaseModel{ID: 1}}
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "500000")}, nil)
		f.promotions.On("Validate", ctx, "LAST", "500000").Return(promo, dec("50000"), nil)
		f.repo.On("Create", ctx, mock.Anything).Return(nil)
		f.promotions.On("IncrementUsage", ctx, uint(1)).Return(promotionservice.ErrUsageLimitExceeded)

		_, err := f.svc.CreateFromCart(ctx, 7, "LAST", "")
		assert.True(t, apperr.IsKind(err, apperr.KindUsageLimitExceeded))
		f.cart.AssertNotCalled(t, "ClearCart", mock.Anything, mock.Anything)
	})

	t.Run("invalid promotion", func(t *testing.T) {
		f := newFixture(t)
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "500000")}, nil)
		f.promotions.On("Validate", ctx, "NOPE", "500000").
			Return(nil, decimal.Zero, promotionservice.ErrInvalidPromotion.WithReason(promotionservice.ReasonUnknownCode))

		_, err := f.svc.CreateFromCart(ctx, 7, "NOPE", "")
		assert.Equal(t, promotionservice.ReasonUnknownCode, apperr.ReasonOf(err))
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("free order completes immediately", func(t *testing.T) {
		f := newFixture(t)
		promo := &promotionmodel.Promotion{BaseModel: basemodel.BaseModel{ID: 2}}
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "200000")}, nil)
		f.promotions.On("Validate", ctx, "FREE", "200000").Return(promo, dec("200000"), nil)
		f.repo.On("Create", ctx, mock.Anything).Return(nil)
		f.promotions.On("IncrementUsage", ctx, uint(2)).Return(nil)
		f.cart.On("ClearCart", ctx, uint(7)).Return(nil)

		stored := pendingOrder(item(1000, 1, 9, "0"))
		f.repo.On("GetByID", ctx, uint(100)).Return(stored, nil)
		f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCompleted).Return(true, nil)
		f.repo.On("CreateEnrollment", ctx, uint(7), uint(1)).Return(true, nil)
		f.repo.On("LinkEnrollment", ctx, uint(1000), uint(501)).Return(nil)

		order, err := f.svc.CreateFromCart(ctx, 7, "FREE", "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, order.Status)
		assert.Nil(t, order.PaymentID)
		assert.Equal(t, "0 VND", f.ledger.credits[1000])
		f.repo.AssertCalled(t, "CreateEnrollment", ctx, uint(7), uint(1))
	})

	t.Run("foreign currency uses frozen rate", func(t *testing.T) {
		f := newFixture(t)
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "500000"), line(2, 9, "250000")}, nil)
		f.repo.On("Create", ctx, mock.Anything).Return(nil)
		f.cart.On("ClearCart", ctx, uint(7)).Return(nil)

		order, err := f.svc.CreateFromCart(ctx, 7, "", "usd")
		require.NoError(t, err)
		assert.Equal(t, "USD", order.Currency)
		assert.Equal(t, "0.00004", order.ExchangeRate.String())
		assert.Equal(t, "30", order.FinalAmount.String())
		assert.Equal(t, "20", order.Items[0].PriceAtOrder.String())
	})

	t.Run("rate unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.cart.On("CartLines", ctx, uint(7)).Return([]catalogmodel.CartLine{line(1, 9, "500000")}, nil)

		_, err := f.svc.CreateFromCart(ctx, 7, "", "EUR")
		assert.True(t, apperr.IsKind(err, apperr.KindRateUnavailable))
	})
}

func TestBuildOrderProratesDiscount(t *testing.T) {
	lines := []catalogmodel.CartLine{line(1, 9, "100000"), line(2, 9, "100000"), line(3, 8, "100000")}

	order := buildOrder(7, lines, dec("100000"), "VND", decimal.NewFromInt(1))

	sum := decimal.Zero
	for _, it := range order.Items {
		sum = sum.Add(it.NetAmount)
	}
	assert.Equal(t, "300000", order.OriginalTotal.String())
	assert.Equal(t, "200000", order.FinalAmount.String())
	assert.True(t, sum.Equal(order.FinalAmount))
	assert.Equal(t, "66667", order.Items[0].NetAmount.String())
	assert.Equal(t, "66666", order.Items[2].NetAmount.String())
}

func TestCompleteOrder(t *testing.T) {
	ctx := context.Background()
	paymentID := uint(55)

	t.Run("credits each instructor net of commission", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "460000"), item(2, 12, 8, "100000")), nil)
		f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCompleted).Return(true, nil)
		f.repo.On("CreateEnrollment", ctx, uint(7), mock.Anything).Return(true, nil)
		f.repo.On("LinkEnrollment", ctx, mock.Anything, mock.Anything).Return(nil)

		order, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, order.Status)
		assert.Equal(t, &paymentID, order.PaymentID)
		assert.Equal(t, "322000 VND", f.ledger.credits[1])
		assert.Equal(t, "70000 VND", f.ledger.credits[2])
		f.repo.AssertNumberOfCalls(t, "CreateEnrollment", 2)
		assert.ElementsMatch(t, []string{notify.EventOrderCompleted, notify.EventSaleCredited, notify.EventSaleCredited}, f.notifier.types())
	})

	t.Run("already completed is a no-op", func(t *testing.T) {
		f := newFixture(t)
		done := pendingOrder(item(1, 11, 9, "460000"))
		done.Status = model.StatusCompleted
		f.repo.On("GetByID", ctx, uint(100)).Return(done, nil)

		order, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, order.Status)
		assert.Empty(t, f.ledger.credits)
		f.repo.AssertNotCalled(t, "TransitionFromPending", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lost race to concurrent completion", func(t *testing.T) {
		f := newFixture(t)
		done := pendingOrder(item(1, 11, 9, "460000"))
		done.Status = model.StatusCompleted
		f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "460000")), nil).Once()
		f.repo.On("GetByID", ctx, uint(100)).Return(done, nil).Once()
		f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCompleted).Return(false, nil)

		_, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		require.NoError(t, err)
		assert.Empty(t, f.ledger.credits)
	})

	t.Run("failed order cannot complete", func(t *testing.T) {
		f := newFixture(t)
		failed := pendingOrder(item(1, 11, 9, "460000"))
		failed.Status = model.StatusFailed
		f.repo.On("GetByID", ctx, uint(100)).Return(failed, nil)

		_, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	})

	t.Run("existing enrollment is skipped", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "460000")), nil)
		f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCompleted).Return(true, nil)
		f.repo.On("CreateEnrollment", ctx, uint(7), uint(11)).Return(false, nil)

		_, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		require.NoError(t, err)
		assert.Equal(t, "322000 VND", f.ledger.credits[1])
		f.repo.AssertNotCalled(t, "LinkEnrollment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ledger failure aborts", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.err = apperr.New(apperr.KindStateConflict, "concurrent ledger write")
		f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "460000")), nil)
		f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCompleted).Return(true, nil)

		_, err := f.svc.CompleteOrder(ctx, 100, &paymentID)
		assert.Error(t, err)
		assert.Empty(t, f.notifier.types())
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByID", ctx, uint(404)).Return(nil, gorm.ErrRecordNotFound)

		_, err := f.svc.CompleteOrder(ctx, 404, nil)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestMarkFailedReleasesPromotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := pendingOrder(item(1, 11, 9, "460000"))
	promoID := uint(3)
	order.PromotionID = &promoID
	f.repo.On("GetByID", ctx, uint(100)).Return(order, nil)
	f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusFailed).Return(true, nil)
	f.promotions.On("DecrementUsage", ctx, uint(3)).Return(nil)

	require.NoError(t, f.svc.MarkFailed(ctx, 100))
	f.promotions.AssertCalled(t, "DecrementUsage", ctx, uint(3))
	assert.Equal(t, []string{notify.EventOrderFailed}, f.notifier.types())
}

func TestMarkCancelledRejectsCompletedOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	done := pendingOrder(item(1, 11, 9, "460000"))
	done.Status = model.StatusCompleted
	f.repo.On("GetByID", ctx, uint(100)).Return(done, nil)
	f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCancelled).Return(false, nil)

	err := f.svc.MarkCancelled(ctx, 100, "manual")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	f.promotions.AssertNotCalled(t, "DecrementUsage", mock.Anything, mock.Anything)
}

func TestCancelByBuyerHidesOtherBuyersOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "460000")), nil)

	err := f.svc.CancelByBuyer(ctx, 8, 100)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	f.repo.AssertNotCalled(t, "TransitionFromPending", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelStaleOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.On("FindStalePending", ctx, mock.AnythingOfType("time.Time"), staleBatchSize).Return([]uint{100, 101}, nil)
	f.repo.On("GetByID", ctx, uint(100)).Return(pendingOrder(item(1, 11, 9, "1")), nil)
	paid := pendingOrder(item(2, 11, 9, "1"))
	paid.ID = 101
	paid.Status = model.StatusCompleted
	f.repo.On("GetByID", ctx, uint(101)).Return(paid, nil)
	f.repo.On("TransitionFromPending", ctx, uint(100), model.StatusCancelled).Return(true, nil)
	f.repo.On("TransitionFromPending", ctx, uint(101), model.StatusCancelled).Return(false, nil)

	n, err := f.svc.CancelStaleOrders(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
