package strategy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"course_market/internal/pkg/config"
	"course_market/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const momoCurrency = "VND"

// resultCode 为以下值时交易仍在处理中
var momoPendingCodes = map[int]bool{1000: true, 7000: true, 9000: true}

// momoIPN MoMo 回调报文
type momoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

type MoMoStrategy struct {
	cfg    config.MoMoConfig
	client *http.Client
	now    func() time.Time
}

func NewMoMoStrategy(cfg config.MoMoConfig, client *http.Client) (*MoMoStrategy, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrNotConfigured.WithReason(MethodMoMo)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &MoMoStrategy{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *MoMoStrategy) Method() string {
	return MethodMoMo
}

// Pay 调用 /v2/gateway/api/create 创建钱包支付
func (s *MoMoStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	if req.Currency != momoCurrency {
		return nil, ErrUnsupportedCurrency.WithReason(req.Currency)
	}

	body := momoCreateRequest{
		PartnerCode: s.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount.IntPart(),
		OrderID:     orderRef(req.OrderID, s.now().UnixMilli()),
		OrderInfo:   req.Description,
		RedirectURL: s.cfg.RedirectURL,
		IpnURL:      s.cfg.IpnURL,
		RequestType: "captureWallet",
		Lang:        "vi",
	}
	raw := fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		s.cfg.AccessKey, body.Amount, body.ExtraData, body.IpnURL, body.OrderID, body.OrderInfo,
		body.PartnerCode, body.RedirectURL, body.RequestID, body.RequestType)
	body.Signature = hmacHex(sha256.New, s.cfg.SecretKey, raw)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint+"/v2/gateway/api/create", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable.WithReason(MethodMoMo).Wrap(err)
	}
	defer resp.Body.Close()

	var out momoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrProviderUnavailable.WithReason(MethodMoMo).Wrap(err)
	}
	if out.ResultCode != 0 {
		return nil, ErrProviderUnavailable.WithReason(MethodMoMo).Wrap(fmt.Errorf("resultCode %d: %s", out.ResultCode, out.Message))
	}
	return &PayResult{Method: MethodMoMo, RedirectURL: out.PayURL, ExternalID: body.OrderID}, nil
}

func (s *MoMoStrategy) ParseCallback(_ context.Context, req *CallbackRequest) (*Notification, error) {
	var ipn momoIPN
	if err := json.Unmarshal(req.Body, &ipn); err != nil {
		return nil, ErrMalformedCallback.WithReason(MethodMoMo).Wrap(err)
	}
	if ipn.OrderID == "" || ipn.Signature == "" {
		return nil, ErrMalformedCallback.WithReason("missing orderId or signature")
	}

	outcome := OutcomeFailure
	switch {
	case ipn.ResultCode == 0:
		outcome = OutcomeSuccess
	case momoPendingCodes[ipn.ResultCode]:
		outcome = OutcomePending
	}

	return &Notification{
		OrderRef:              ipn.OrderID,
		ExternalTransactionID: fmt.Sprintf("%d", ipn.TransID),
		Amount:                decimal.NewFromInt(ipn.Amount),
		Currency:              momoCurrency,
		Outcome:               outcome,
		Verified:              equalHex(ipn.Signature, s.sign(&ipn)),
		Raw:                   json.RawMessage(req.Body),
	}, nil
}

func (s *MoMoStrategy) sign(ipn *momoIPN) string {
	raw := fmt.Sprintf("accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		s.cfg.AccessKey, ipn.Amount, ipn.ExtraData, ipn.Message, ipn.OrderID, ipn.OrderInfo, ipn.OrderType,
		ipn.PartnerCode, ipn.PayType, ipn.RequestID, ipn.ResponseTime, ipn.ResultCode, ipn.TransID)
	return hmacHex(sha256.New, s.cfg.SecretKey, raw)
}

// Ack MoMo 约定成功返回 204 无内容
func (s *MoMoStrategy) Ack(_ Result, err error) (int, interface{}) {
	status := httpAck(err)
	if status == http.StatusOK {
		return http.StatusNoContent, nil
	}
	return status, map[string]string{"message": err.Error(), "kind": apperr.KindOf(err).String()}
}
