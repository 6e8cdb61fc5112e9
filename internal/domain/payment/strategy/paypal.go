package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"course_market/internal/pkg/config"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
)

type paypalEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  paypalResource `json:"resource"`
}

type paypalResource struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	CustomID string       `json:"custom_id"`
	Amount   paypalAmount `json:"amount"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type PayPalStrategy struct {
	cfg    config.PayPalConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPalStrategy(cfg config.PayPalConfig, client *http.Client) (*PayPalStrategy, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.WebhookID == "" {
		return nil, ErrNotConfigured.WithReason(MethodPayPal)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PayPalStrategy{cfg: cfg, client: client}, nil
}

func (s *PayPalStrategy) Method() string {
	return MethodPayPal
}

// Pay 创建 CAPTURE 订单，custom_id 携带内部订单号
func (s *PayPalStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"custom_id":   strconv.FormatUint(uint64(req.OrderID), 10),
			"description": req.Description,
			"amount": paypalAmount{
				CurrencyCode: req.Currency,
				Value:        req.Amount.StringFixed(money.Exponent(req.Currency)),
			},
		}},
		"application_context": map[string]string{
			"return_url": s.cfg.ReturnURL,
			"cancel_url": s.cfg.CancelURL,
		},
	}

	var out struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := s.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		return nil, err
	}

	result := &PayResult{Method: MethodPayPal, ExternalID: out.ID}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			result.RedirectURL = l.Href
		}
	}
	return result, nil
}

// Capture 买家确认后扣款，入账仍以 webhook 为准
func (s *PayPalStrategy) Capture(ctx context.Context, token string) (*CaptureResult, error) {
	var out CaptureResult
	if err := s.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(token)+"/capture", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseCallback 通过 verify-webhook-signature 接口验签
func (s *PayPalStrategy) ParseCallback(ctx context.Context, req *CallbackRequest) (*Notification, error) {
	var event paypalEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return nil, ErrMalformedCallback.WithReason(MethodPayPal).Wrap(err)
	}

	if err := s.verify(ctx, req); err != nil {
		return nil, err
	}

	var outcome Outcome
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = OutcomeSuccess
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = OutcomeFailure
	default:
		return &Notification{Outcome: OutcomeIgnored, ExternalTransactionID: event.ID, Verified: true}, nil
	}

	amount, err := decimal.NewFromString(event.Resource.Amount.Value)
	if err != nil {
		return nil, ErrMalformedCallback.WithReason("amount").Wrap(err)
	}
	return &Notification{
		OrderRef:              event.Resource.CustomID,
		ExternalTransactionID: event.Resource.ID,
		Amount:                amount,
		Currency:              money.Normalize(event.Resource.Amount.CurrencyCode),
		Outcome:               outcome,
		Verified:              true,
		Raw:                   json.RawMessage(req.Body),
	}, nil
}

func (s *PayPalStrategy) verify(ctx context.Context, req *CallbackRequest) error {
	body := map[string]interface{}{
		"auth_algo":         req.Header.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          req.Header.Get("PAYPAL-CERT-URL"),
		"transmission_id":   req.Header.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  req.Header.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": req.Header.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        s.cfg.WebhookID,
		"webhook_event":     json.RawMessage(req.Body),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := s.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature.WithReason(MethodPayPal)
	}
	return nil
}

func (s *PayPalStrategy) Ack(_ Result, err error) (int, interface{}) {
	status := httpAck(err)
	if status == http.StatusOK {
		return status, map[string]string{"status": "ok"}
	}
	return status, map[string]string{"error": err.Error()}
}

// accessToken client credentials 令牌，过期前 1 分钟刷新
func (s *PayPalStrategy) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(fmt.Errorf("oauth status %d", resp.StatusCode))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(err)
	}
	s.token = out.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

func (s *PayPalStrategy) call(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrProviderUnavailable.WithReason(MethodPayPal).Wrap(err)
	}
	return nil
}
