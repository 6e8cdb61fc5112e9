package service

import (
	"context"
	"net/http"
	"testing"

	ordermodel "course_market/internal/domain/order/model"
	"course_market/internal/domain/payment/model"
	"course_market/internal/domain/payment/repository"
	"course_market/internal/domain/payment/strategy"
	"course_market/pkg/apperr"
	"course_market/pkg/database/dbtest"
	baseModel "course_market/pkg/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// MockPaymentRepository is a mock of PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	if args.Error(0) == nil {
		payment.ID = 77
	}
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByExternalID(ctx context.Context, externalID, method string) (*model.Payment, error) {
	args := m.Called(ctx, externalID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByOrderID(ctx context.Context, orderID uint) (*model.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Update(ctx context.Context, id uint, update repository.PaymentUpdate) (bool, error) {
	args := m.Called(ctx, id, update.Status)
	return args.Bool(0), args.Error(1)
}

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) GetOrder(ctx context.Context, orderID uint) (*ordermodel.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordermodel.Order), args.Error(1)
}

func (m *MockOrders) CompleteOrder(ctx context.Context, orderID uint, paymentID *uint) (*ordermodel.Order, error) {
	args := m.Called(ctx, orderID, paymentID)
	return &ordermodel.Order{Status: ordermodel.StatusCompleted}, args.Error(0)
}

func (m *MockOrders) MarkFailed(ctx context.Context, orderID uint) error {
	return m.Called(ctx, orderID).Error(0)
}

// stubStrategy 返回预设的回调解析结果
type stubStrategy struct {
	notification *strategy.Notification
	parseErr     error
	paid         *strategy.PayRequest
}

func (s *stubStrategy) Method() string { return "stub" }

func (s *stubStrategy) Pay(_ context.Context, req strategy.PayRequest) (*strategy.PayResult, error) {
	s.paid = &req
	return &strategy.PayResult{Method: "stub", RedirectURL: "https://pay.test/1"}, nil
}

func (s *stubStrategy) ParseCallback(context.Context, *strategy.CallbackRequest) (*strategy.Notification, error) {
	return s.notification, s.parseErr
}

func (s *stubStrategy) Ack(_ strategy.Result, err error) (int, interface{}) {
	if err != nil {
		return http.StatusBadRequest, nil
	}
	return http.StatusOK, nil
}

func notification(outcome strategy.Outcome, amount string) *strategy.Notification {
	return &strategy.Notification{
		OrderRef:              "100_1767323045",
		ExternalTransactionID: "14000001",
		Amount:                decimal.RequireFromString(amount),
		Currency:              "VND",
		Outcome:               outcome,
		Verified:              true,
	}
}

func order(status string) *ordermodel.Order {
	return &ordermodel.Order{
		BaseModel:    baseModel.BaseModel{ID: 100},
		BuyerID:      7,
		FinalAmount:  decimal.NewFromInt(460000),
		Currency:     "VND",
		ExchangeRate: decimal.NewFromInt(1),
		Status:       status,
	}
}

type fixture struct {
	repo   *MockPaymentRepository
	orders *MockOrders
	stub   *stubStrategy
	svc    PaymentService
}

func newFixture(t *testing.T, n *strategy.Notification, allowUnverified bool) *fixture {
	f := &fixture{
		repo:   new(MockPaymentRepository),
		orders: new(MockOrders),
		stub:   &stubStrategy{notification: n},
	}
	f.svc = NewPaymentService(f.repo, &dbtest.Transactor{}, f.orders, "VND", allowUnverified, zaptest.NewLogger(t), nil)
	f.svc.RegisterStrategy(f.stub)
	return f
}

func TestHandleCallbackSettlesSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
	f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
	f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").Return(nil, gorm.ErrRecordNotFound)
	f.repo.On("GetByOrderID", mock.Anything, uint(100)).Return(nil, gorm.ErrRecordNotFound)
	f.repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Payment) bool {
		return p.Status == model.StatusSuccess && p.ConvertedAmount.Equal(decimal.NewFromInt(460000)) &&
			p.ConvertedCurrency == "VND" && p.CompletedAt != nil
	})).Return(nil)
	paymentID := uint(77)
	f.orders.On("CompleteOrder", mock.Anything, uint(100), &paymentID).Return(nil)

	res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, strategy.ResultProcessed, res)
	f.orders.AssertExpectations(t)
}

func TestHandleCallbackReplayIsDuplicate(t *testing.T) {
	f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
	f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusCompleted), nil)

	res, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, strategy.ResultDuplicate, res)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "CompleteOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCallbackAmountMismatch(t *testing.T) {
	f := newFixture(t, notification(strategy.OutcomeSuccess, "100"), false)
	f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)

	_, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
	assert.ErrorIs(t, err, strategy.ErrAmountMismatch)
	assert.True(t, apperr.IsKind(err, apperr.KindIntegrityAnomaly))
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleCallbackSignaturePolicy(t *testing.T) {
	unverified := notification(strategy.OutcomePending, "460000")
	unverified.Verified = false

	f := newFixture(t, unverified, false)
	_, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
	assert.ErrorIs(t, err, strategy.ErrInvalidSignature)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	// 显式开启后放行
	f = newFixture(t, unverified, true)
	res, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
	require.NoError(t, err)
	assert.Equal(t, strategy.ResultPending, res)
}

func TestHandleCallbackPendingAndIgnoredDoNotTouchOrders(t *testing.T) {
	for _, outcome := range []strategy.Outcome{strategy.OutcomePending, strategy.OutcomeIgnored} {
		f := newFixture(t, notification(outcome, "460000"), false)
		_, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
		require.NoError(t, err)
		f.orders.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
	}
}

func TestHandleCallbackFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order marked failed", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeFailure, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
		f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").Return(nil, gorm.ErrRecordNotFound)
		f.repo.On("GetByOrderID", mock.Anything, uint(100)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Payment) bool {
			return p.Status == model.StatusFailed && p.CompletedAt == nil
		})).Return(nil)
		f.orders.On("MarkFailed", mock.Anything, uint(100)).Return(nil)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, strategy.ResultProcessed, res)
		f.orders.AssertCalled(t, "MarkFailed", mock.Anything, uint(100))
	})

	t.Run("already cancelled order", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeFailure, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusCancelled), nil)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, strategy.ResultDuplicate, res)
	})

	t.Run("success for failed order is an anomaly", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusFailed), nil)

		_, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		assert.ErrorIs(t, err, strategy.ErrUnexpectedState)
	})
}

func TestHandleCallbackExistingPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("key owned by another order is rejected", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeFailure, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
		f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").
			Return(&model.Payment{BaseModel: baseModel.BaseModel{ID: 5}, OrderID: 55, Status: model.StatusFailed}, nil)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		assert.ErrorIs(t, err, strategy.ErrUnexpectedState)
		assert.True(t, apperr.IsKind(err, apperr.KindIntegrityAnomaly))
		assert.Equal(t, strategy.ResultProcessed, res)
		f.repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.orders.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
	})

	t.Run("successful payment of another order does not ack", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
		f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").
			Return(&model.Payment{BaseModel: baseModel.BaseModel{ID: 5}, OrderID: 55, Status: model.StatusSuccess}, nil)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		assert.ErrorIs(t, err, strategy.ErrUnexpectedState)
		assert.NotEqual(t, strategy.ResultDuplicate, res)
		f.orders.AssertNotCalled(t, "CompleteOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("successful payment with same key", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
		f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").
			Return(&model.Payment{BaseModel: baseModel.BaseModel{ID: 5}, OrderID: 100, Status: model.StatusSuccess}, nil)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, strategy.ResultDuplicate, res)
		f.orders.AssertNotCalled(t, "CompleteOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent insert of the same key", func(t *testing.T) {
		f := newFixture(t, notification(strategy.OutcomeSuccess, "460000"), false)
		f.orders.On("GetOrder", mock.Anything, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil)
		f.repo.On("GetByExternalID", mock.Anything, "14000001", "stub").Return(nil, gorm.ErrRecordNotFound)
		f.repo.On("GetByOrderID", mock.Anything, uint(100)).Return(nil, gorm.ErrRecordNotFound)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(gorm.ErrDuplicatedKey)

		res, err := f.svc.HandleCallback(ctx, "stub", &strategy.CallbackRequest{})
		require.NoError(t, err)
		assert.Equal(t, strategy.ResultDuplicate, res)
	})
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	n := notification(strategy.OutcomeSuccess, "460000")
	n.OrderRef = "not-a-number"
	f := newFixture(t, n, false)

	_, err := f.svc.HandleCallback(context.Background(), "stub", &strategy.CallbackRequest{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.svc.HandleCallback(context.Background(), "unknown", &strategy.CallbackRequest{})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, false)
	f.orders.On("GetOrder", ctx, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil).Once()

	res, err := f.svc.Initiate(ctx, 7, 100, "stub", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/1", res.RedirectURL)
	require.NotNil(t, f.stub.paid)
	assert.Equal(t, "460000", f.stub.paid.Amount.String())

	f.orders.On("GetOrder", ctx, uint(100)).Return(order(ordermodel.StatusPendingPayment), nil).Once()
	_, err = f.svc.Initiate(ctx, 8, 100, "stub", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	f.orders.On("GetOrder", ctx, uint(100)).Return(order(ordermodel.StatusCompleted), nil).Once()
	_, err = f.svc.Initiate(ctx, 7, 100, "stub", "")
	assert.ErrorIs(t, err, ErrNotPayable)

	_, err = f.svc.Capture(ctx, "stub", "token")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}
