package strategy

import (
	"context"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"course_market/internal/pkg/config"
	"course_market/pkg/apperr"

	"github.com/shopspring/decimal"
)

const (
	vnpayVersion    = "2.1.0"
	vnpayCurrency   = "VND"
	vnpayTimeLayout = "20060102150405"
	vnpayExpireIn   = 15 * time.Minute
)

// VNPay IPN 确认码
const (
	vnpayAckConfirmed     = "00"
	vnpayAckOrderNotFound = "01"
	vnpayAckDuplicate     = "02"
	vnpayAckInvalidAmount = "04"
	vnpayAckInvalidSign   = "97"
	vnpayAckUnknown       = "99"
)

var vnpayZone = time.FixedZone("ICT", 7*3600)

type VNPayStrategy struct {
	cfg config.VNPayConfig
	now func() time.Time
}

func NewVNPayStrategy(cfg config.VNPayConfig) (*VNPayStrategy, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, ErrNotConfigured.WithReason(MethodVNPay)
	}
	return &VNPayStrategy{cfg: cfg, now: time.Now}, nil
}

func (s *VNPayStrategy) Method() string {
	return MethodVNPay
}

// Pay 生成带签名的 VNPay 支付跳转地址
func (s *VNPayStrategy) Pay(_ context.Context, req PayRequest) (*PayResult, error) {
	if !strings.EqualFold(req.Currency, vnpayCurrency) {
		return nil, ErrUnsupportedCurrency.WithReason(req.Currency)
	}

	now := s.now().In(vnpayZone)
	ref := orderRef(req.OrderID, now.Unix())
	params := url.Values{}
	params.Set("vnp_Version", vnpayVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", s.cfg.TmnCode)
	// 金额单位为 1/100 VND
	params.Set("vnp_Amount", req.Amount.Mul(decimal.NewFromInt(100)).StringFixed(0))
	params.Set("vnp_CurrCode", vnpayCurrency)
	params.Set("vnp_TxnRef", ref)
	params.Set("vnp_OrderInfo", req.Description)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", s.cfg.ReturnURL)
	params.Set("vnp_IpAddr", req.ClientIP)
	params.Set("vnp_CreateDate", now.Format(vnpayTimeLayout))
	params.Set("vnp_ExpireDate", now.Add(vnpayExpireIn).Format(vnpayTimeLayout))

	signData := vnpaySignData(params)
	redirect := s.cfg.PayURL + "?" + signData + "&vnp_SecureHash=" + hmacHex(sha512.New, s.cfg.HashSecret, signData)
	return &PayResult{Method: MethodVNPay, RedirectURL: redirect, ExternalID: ref}, nil
}

// ParseCallback 解析 IPN 查询参数，签名不符时返回 Verified=false 的结果
func (s *VNPayStrategy) ParseCallback(_ context.Context, req *CallbackRequest) (*Notification, error) {
	q := req.Query
	if q.Get("vnp_TxnRef") == "" || q.Get("vnp_SecureHash") == "" {
		return nil, ErrMalformedCallback.WithReason("missing vnp_TxnRef or vnp_SecureHash")
	}

	minor, err := strconv.ParseInt(q.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, ErrMalformedCallback.WithReason("vnp_Amount").Wrap(err)
	}

	outcome := OutcomeFailure
	if q.Get("vnp_ResponseCode") == "00" && q.Get("vnp_TransactionStatus") == "00" {
		outcome = OutcomeSuccess
	}

	// 取消或失败的交易 vnp_TransactionNo 为 0，改用 vnp_TxnRef 作为幂等键
	externalID := q.Get("vnp_TransactionNo")
	if externalID == "" || externalID == "0" {
		externalID = q.Get("vnp_TxnRef")
	}

	raw, _ := json.Marshal(flatten(q))
	return &Notification{
		OrderRef:              q.Get("vnp_TxnRef"),
		ExternalTransactionID: externalID,
		Amount:                decimal.New(minor, -2),
		Currency:              vnpayCurrency,
		Outcome:               outcome,
		Verified:              s.Verify(q),
		Raw:                   raw,
	}, nil
}

// Verify 校验 vnp_SecureHash
func (s *VNPayStrategy) Verify(q url.Values) bool {
	return equalHex(q.Get("vnp_SecureHash"), s.Sign(q))
}

// Sign 计算 vnp_ 参数的 HMAC-SHA512 签名
func (s *VNPayStrategy) Sign(q url.Values) string {
	return hmacHex(sha512.New, s.cfg.HashSecret, vnpaySignData(q))
}

// Ack VNPay 要求 IPN 始终返回 200，通过 RspCode 表达结果
func (s *VNPayStrategy) Ack(res Result, err error) (int, interface{}) {
	code, msg := vnpayAckConfirmed, "Confirm Success"
	switch {
	case err == nil && res == ResultDuplicate:
		code, msg = vnpayAckDuplicate, "Order already confirmed"
	case err == nil:
	case apperr.IsKind(err, apperr.KindUnauthorized):
		code, msg = vnpayAckInvalidSign, "Invalid signature"
	case apperr.IsKind(err, apperr.KindNotFound):
		code, msg = vnpayAckOrderNotFound, "Order not found"
	case errors.Is(err, ErrAmountMismatch):
		code, msg = vnpayAckInvalidAmount, "Invalid amount"
	default:
		code, msg = vnpayAckUnknown, "Unknown error"
	}
	return http.StatusOK, map[string]string{"RspCode": code, "Message": msg}
}

// vnpaySignData 按 key 排序后拼接 vnp_ 参数，不含签名字段
func vnpaySignData(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if q.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Get(k)))
	}
	return b.String()
}

func flatten(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}
