package payments

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Provider abstracts the payment processor so handlers can be tested with a
// mock. The ledger never talks to the provider directly; it only consumes the
// verified credit events produced here.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, accountID, tier string, amountCents, tokens int64) (*Intent, error)
	VerifyWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// Intent is the client-facing slice of a provider payment intent.
type Intent struct {
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// StripeProvider drives token purchases through Stripe PaymentIntents and
// verifies incoming webhook signatures.
type StripeProvider struct {
	webhookSecret string
}

type StripeConfig struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	stripe.Key = cfg.SecretKey
	return &StripeProvider{webhookSecret: cfg.WebhookSecret}
}

// CreatePaymentIntent opens a PaymentIntent carrying the account, tier and
// token count in metadata. The webhook handler reads that metadata back when
// the payment succeeds.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, accountID, tier string, amountCents, tokens int64) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Metadata: map[string]string{
			"user_id": accountID,
			"tier":    tier,
			"tokens":  strconv.FormatInt(tokens, 10),
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(fmt.Sprintf("purchase_%s_%s_%d", accountID, tier, time.Now().Unix()))

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Intent{
		ClientSecret: pi.ClientSecret,
		Amount:       amountCents,
		Currency:     "usd",
	}, nil
}

// VerifyWebhook checks the Stripe signature over the raw body and parses the
// event. The raw body must be used, never re-serialized JSON.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}
