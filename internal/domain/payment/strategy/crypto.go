package strategy

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"course_market/internal/pkg/config"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
)

var (
	cryptoSuccessStatus = map[string]bool{"paid": true, "paid_over": true}
	cryptoFailureStatus = map[string]bool{
		"fail":         true,
		"cancel":       true,
		"system_fail":  true,
		"wrong_amount": true,
		"refund_paid":  true,
	}
)

type cryptoCallback struct {
	UUID     string      `json:"uuid"`
	OrderID  string      `json:"order_id"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
	Sign     string      `json:"sign"`
}

type CryptoStrategy struct {
	cfg    config.CryptoConfig
	client *http.Client
	now    func() time.Time
}

func NewCryptoStrategy(cfg config.CryptoConfig, client *http.Client) (*CryptoStrategy, error) {
	if cfg.MerchantID == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured.WithReason(MethodCrypto)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CryptoStrategy{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *CryptoStrategy) Method() string {
	return MethodCrypto
}

// Pay 创建加密货币账单
func (s *CryptoStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	payload, err := json.Marshal(map[string]string{
		"amount":       req.Amount.StringFixed(money.Exponent(req.Currency)),
		"currency":     req.Currency,
		"order_id":     orderRef(req.OrderID, s.now().UnixMilli()),
		"url_callback": s.cfg.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/payment", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("merchant", s.cfg.MerchantID)
	httpReq.Header.Set("sign", s.signBytes(payload))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable.WithReason(MethodCrypto).Wrap(err)
	}
	defer resp.Body.Close()

	var out struct {
		State  int `json:"state"`
		Result struct {
			UUID string `json:"uuid"`
			URL  string `json:"url"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrProviderUnavailable.WithReason(MethodCrypto).Wrap(err)
	}
	if resp.StatusCode != http.StatusOK || out.State != 0 {
		return nil, ErrProviderUnavailable.WithReason(MethodCrypto).Wrap(fmt.Errorf("status %d state %d", resp.StatusCode, out.State))
	}
	return &PayResult{Method: MethodCrypto, RedirectURL: out.Result.URL, ExternalID: out.Result.UUID}, nil
}

func (s *CryptoStrategy) ParseCallback(_ context.Context, req *CallbackRequest) (*Notification, error) {
	var cb cryptoCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, ErrMalformedCallback.WithReason(MethodCrypto).Wrap(err)
	}
	if cb.OrderID == "" || cb.Sign == "" {
		return nil, ErrMalformedCallback.WithReason("missing order_id or sign")
	}

	amount, err := decimal.NewFromString(cb.Amount.String())
	if err != nil {
		return nil, ErrMalformedCallback.WithReason("amount").Wrap(err)
	}

	outcome := OutcomePending
	switch {
	case cryptoSuccessStatus[cb.Status]:
		outcome = OutcomeSuccess
	case cryptoFailureStatus[cb.Status]:
		outcome = OutcomeFailure
	}

	canonical, err := withoutSign(req.Body)
	if err != nil {
		return nil, ErrMalformedCallback.WithReason(MethodCrypto).Wrap(err)
	}

	return &Notification{
		OrderRef:              cb.OrderID,
		ExternalTransactionID: cb.UUID,
		Amount:                amount,
		Currency:              money.Normalize(cb.Currency),
		Outcome:               outcome,
		Verified:              equalHex(cb.Sign, s.signBytes(canonical)),
		Raw:                   json.RawMessage(req.Body),
	}, nil
}

// signBytes md5(base64(body) + apiKey)
func (s *CryptoStrategy) signBytes(body []byte) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + s.cfg.APIKey))
	return hex.EncodeToString(sum[:])
}

func (s *CryptoStrategy) Ack(_ Result, err error) (int, interface{}) {
	status := httpAck(err)
	if status == http.StatusOK {
		return status, map[string]string{"status": "ok"}
	}
	return status, map[string]string{"error": err.Error()}
}

// withoutSign 按原字段顺序去掉 sign 字段并压缩，"/" 转义为 "\/"
func withoutSign(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("callback body is not a JSON object")
	}

	var out bytes.Buffer
	out.WriteByte('{')
	first := true
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if key == "sign" {
			continue
		}

		if !first {
			out.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		out.Write(k)
		out.WriteByte(':')
		if err := json.Compact(&out, value); err != nil {
			return nil, err
		}
	}
	out.WriteByte('}')

	unescaped := bytes.ReplaceAll(out.Bytes(), []byte(`\/`), []byte(`/`))
	return bytes.ReplaceAll(unescaped, []byte(`/`), []byte(`\/`)), nil
}
