package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	ordermodel "course_market/internal/domain/order/model"
	"course_market/internal/domain/payment/model"
	"course_market/internal/domain/payment/repository"
	"course_market/internal/domain/payment/service"
	"course_market/internal/domain/payment/strategy"
	"course_market/internal/pkg/config"
	"course_market/pkg/database/dbtest"
	baseModel "course_market/pkg/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// memPayments 内存版支付仓储
type memPayments struct {
	mu   sync.Mutex
	rows []*model.Payment
}

func (m *memPayments) Create(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.OrderID == p.OrderID || (r.ExternalTransactionID == p.ExternalTransactionID && r.Method == p.Method) {
			return gorm.ErrDuplicatedKey
		}
	}
	p.ID = uint(len(m.rows) + 1)
	m.rows = append(m.rows, p)
	return nil
}

func (m *memPayments) GetByExternalID(_ context.Context, externalID, method string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ExternalTransactionID == externalID && r.Method == method {
			return r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memPayments) GetByOrderID(_ context.Context, orderID uint) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.OrderID == orderID {
			return r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memPayments) Update(_ context.Context, id uint, u repository.PaymentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.Status != model.StatusSuccess {
			r.Status = u.Status
			return true, nil
		}
	}
	return false, nil
}

// memOrders 只记录状态与完成次数
type memOrders struct {
	order     ordermodel.Order
	completed int
}

func (m *memOrders) GetOrder(_ context.Context, id uint) (*ordermodel.Order, error) {
	if id != m.order.ID {
		return nil, service.ErrOrderNotFound
	}
	o := m.order
	return &o, nil
}

func (m *memOrders) CompleteOrder(_ context.Context, _ uint, paymentID *uint) (*ordermodel.Order, error) {
	m.completed++
	m.order.Status = ordermodel.StatusCompleted
	m.order.PaymentID = paymentID
	o := m.order
	return &o, nil
}

func (m *memOrders) MarkFailed(context.Context, uint) error {
	m.order.Status = ordermodel.StatusFailed
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *memOrders, *memPayments, *strategy.VNPayStrategy) {
	gin.SetMode(gin.TestMode)

	vnpay, err := strategy.NewVNPayStrategy(config.VNPayConfig{TmnCode: "DEMO", HashSecret: "SECRET", PayURL: "https://vnpay.test"})
	require.NoError(t, err)

	orders := &memOrders{order: ordermodel.Order{
		BaseModel:    baseModel.BaseModel{ID: 100},
		BuyerID:      7,
		FinalAmount:  decimal.NewFromInt(460000),
		Currency:     "VND",
		ExchangeRate: decimal.NewFromInt(1),
		Status:       ordermodel.StatusPendingPayment,
	}}
	payments := &memPayments{}

	svc := service.NewPaymentService(payments, &dbtest.Transactor{}, orders, "VND", false, zaptest.NewLogger(t), nil)
	svc.RegisterStrategy(vnpay)
	h := NewPaymentHandler(svc)

	r := gin.New()
	r.GET("/payment/vnpay/ipn", h.Callback(strategy.MethodVNPay))
	r.GET("/payment/vnpay/return", h.Return(strategy.MethodVNPay))
	return r, orders, payments, vnpay
}

// signedIPN 通过发起支付生成合法签名的回调参数
func signedIPN(t *testing.T, vnpay *strategy.VNPayStrategy, amount string) url.Values {
	res, err := vnpay.Pay(context.Background(), strategy.PayRequest{OrderID: 100, Amount: decimal.RequireFromString(amount), Currency: "VND"})
	require.NoError(t, err)
	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)

	q := u.Query()
	q.Del("vnp_SecureHash")
	q.Set("vnp_ResponseCode", "00")
	q.Set("vnp_TransactionStatus", "00")
	q.Set("vnp_TransactionNo", "14000001")
	q.Set("vnp_SecureHash", vnpay.Sign(q))
	return q
}

func rspCode(t *testing.T, w *httptest.ResponseRecorder) string {
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["RspCode"]
}

func TestVNPayIPNIsIdempotent(t *testing.T) {
	r, orders, payments, vnpay := setupRouter(t)
	q := signedIPN(t, vnpay, "460000")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/vnpay/ipn?"+q.Encode(), nil))
	assert.Equal(t, "00", rspCode(t, w))

	// 重放同一回调
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/vnpay/ipn?"+q.Encode(), nil))
	assert.Equal(t, "02", rspCode(t, w))

	assert.Equal(t, 1, orders.completed)
	require.Len(t, payments.rows, 1)
	assert.Equal(t, model.StatusSuccess, payments.rows[0].Status)
}

func TestVNPayIPNRejections(t *testing.T) {
	r, orders, _, vnpay := setupRouter(t)

	tampered := signedIPN(t, vnpay, "460000")
	tampered.Set("vnp_Amount", "100")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/vnpay/ipn?"+tampered.Encode(), nil))
	assert.Equal(t, "97", rspCode(t, w))

	wrongAmount := signedIPN(t, vnpay, "400000")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/vnpay/ipn?"+wrongAmount.Encode(), nil))
	assert.Equal(t, "04", rspCode(t, w))

	assert.Equal(t, 0, orders.completed)
}

func TestVNPayReturnNeverMutates(t *testing.T) {
	r, orders, payments, vnpay := setupRouter(t)
	q := signedIPN(t, vnpay, "460000")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/vnpay/return?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	assert.Equal(t, 0, orders.completed)
	assert.Empty(t, payments.rows)
}
