package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v82"

	"github.com/agentpay/backend/internal/payments"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreatePaymentIntent(ctx context.Context, accountID, tier string, amountCents, tokens int64) (*payments.Intent, error) {
	args := m.Called(ctx, accountID, tier, amountCents, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Intent), args.Error(1)
}

func (m *MockProvider) VerifyWebhook(payload []byte, signature string) (*stripe.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Event), args.Error(1)
}
