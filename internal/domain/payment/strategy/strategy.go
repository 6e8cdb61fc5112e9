// Package strategy 各支付渠道的发起支付与回调验签实现
package strategy

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"hash"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"course_market/pkg/apperr"

	"github.com/shopspring/decimal"
)

// 支付渠道
const (
	MethodVNPay  = "vnpay"
	MethodStripe = "stripe"
	MethodMoMo   = "momo"
	MethodPayPal = "paypal"
	MethodCrypto = "crypto"
)

var (
	ErrInvalidSignature    = apperr.New(apperr.KindUnauthorized, "invalid callback signature")
	ErrMalformedCallback   = apperr.New(apperr.KindValidation, "malformed callback payload")
	ErrProviderUnavailable = apperr.New(apperr.KindExternalProvider, "payment provider unavailable")
	ErrNotConfigured       = apperr.New(apperr.KindValidation, "payment method not configured")
	ErrUnsupportedCurrency = apperr.New(apperr.KindValidation, "currency not supported by payment method")

	// 对账阶段发现的异常，由 service 返回
	ErrAmountMismatch  = apperr.New(apperr.KindIntegrityAnomaly, "settled amount does not match order")
	ErrUnexpectedState = apperr.New(apperr.KindIntegrityAnomaly, "order in unexpected state for callback")
)

// Outcome 渠道回调表达的支付结果
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	// OutcomeIgnored 与支付结果无关的事件
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "pending"
	}
}

// Result 对账结果，决定返回给渠道的确认内容
type Result int

const (
	ResultProcessed Result = iota
	ResultDuplicate
	ResultPending
	ResultIgnored
)

func (r Result) String() string {
	switch r {
	case ResultDuplicate:
		return "duplicate"
	case ResultPending:
		return "pending"
	case ResultIgnored:
		return "ignored"
	default:
		return "processed"
	}
}

// CallbackRequest 渠道回调的原始请求
type CallbackRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Notification 验签并解析后的回调
type Notification struct {
	// OrderRef 渠道回传的订单关联号，格式为 <orderId> 或 <orderId>_<suffix>
	OrderRef              string
	ExternalTransactionID string
	Amount                decimal.Decimal
	Currency              string
	Outcome               Outcome
	// Verified 为 false 表示签名未通过但渠道允许在非生产环境继续处理
	Verified bool
	Raw      json.RawMessage
}

// PayRequest 发起支付参数，金额为订单币种
type PayRequest struct {
	OrderID     uint
	Amount      decimal.Decimal
	Currency    string
	Description string
	ClientIP    string
}

// PayResult 客户端完成支付所需的信息
type PayResult struct {
	Method       string `json:"method"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
}

// PaymentStrategy 单个支付渠道
type PaymentStrategy interface {
	Method() string
	// Pay 发起支付，不改变订单状态
	Pay(ctx context.Context, req PayRequest) (*PayResult, error)
	// ParseCallback 验签并解析回调
	ParseCallback(ctx context.Context, req *CallbackRequest) (*Notification, error)
	// Ack 生成返回给渠道的响应
	Ack(res Result, err error) (int, interface{})
}

// Capturer 需要买家确认后主动扣款的渠道
type Capturer interface {
	Capture(ctx context.Context, token string) (*CaptureResult, error)
}

type CaptureResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ParseOrderRef 取关联号中的订单 ID
func ParseOrderRef(ref string) (uint, bool) {
	if i := strings.IndexByte(ref, '_'); i >= 0 {
		ref = ref[:i]
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func orderRef(orderID uint, suffix int64) string {
	return strconv.FormatUint(uint64(orderID), 10) + "_" + strconv.FormatInt(suffix, 10)
}

func hmacHex(h func() hash.Hash, secret, data string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func equalHex(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}

// httpAck 以 HTTP 状态码表达处理结果的渠道通用确认
// 签名与数据异常返回 400，内部错误返回 500 触发渠道重投
func httpAck(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized, apperr.KindValidation, apperr.KindIntegrityAnomaly, apperr.KindNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
