package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"course_market/internal/pkg/config"
	"course_market/pkg/money"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type StripeStrategy struct {
	cfg config.StripeConfig
	api *client.API
}

func NewStripeStrategy(cfg config.StripeConfig) (*StripeStrategy, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, ErrNotConfigured.WithReason(MethodStripe)
	}
	return &StripeStrategy{cfg: cfg, api: client.New(cfg.SecretKey, nil)}, nil
}

func (s *StripeStrategy) Method() string {
	return MethodStripe
}

// Pay 创建 PaymentIntent，返回 client secret 给前端确认支付
func (s *StripeStrategy) Pay(ctx context.Context, req PayRequest) (*PayResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(money.ToMinor(req.Amount, req.Currency)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", strconv.FormatUint(uint64(req.OrderID), 10))

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, ErrProviderUnavailable.WithReason(MethodStripe).Wrap(err)
	}
	return &PayResult{Method: MethodStripe, ClientSecret: pi.ClientSecret, ExternalID: pi.ID}, nil
}

// ParseCallback 校验 Stripe-Signature 后解析 payment_intent 事件
func (s *StripeStrategy) ParseCallback(_ context.Context, req *CallbackRequest) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(req.Body, req.Header.Get(stripeSignatureHeader), s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrInvalidSignature.WithReason(MethodStripe).Wrap(err)
	}

	var outcome Outcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = OutcomeSuccess
	case "payment_intent.payment_failed", "payment_intent.canceled":
		outcome = OutcomeFailure
	default:
		return &Notification{Outcome: OutcomeIgnored, ExternalTransactionID: event.ID, Verified: true}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, ErrMalformedCallback.WithReason("payment_intent").Wrap(err)
	}

	amount := pi.Amount
	if outcome == OutcomeSuccess && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}
	currency := money.Normalize(string(pi.Currency))
	return &Notification{
		OrderRef:              pi.Metadata["order_id"],
		ExternalTransactionID: pi.ID,
		Amount:                money.FromMinor(amount, currency),
		Currency:              currency,
		Outcome:               outcome,
		Verified:              true,
		Raw:                   json.RawMessage(req.Body),
	}, nil
}

func (s *StripeStrategy) Ack(_ Result, err error) (int, interface{}) {
	status := httpAck(err)
	if status == http.StatusOK {
		return status, map[string]bool{"received": true}
	}
	return status, map[string]string{"error": err.Error()}
}
