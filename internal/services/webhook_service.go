package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/agentpay/backend/internal/audit"
	"github.com/agentpay/backend/internal/config"
	"github.com/agentpay/backend/internal/ledger"
	"github.com/agentpay/backend/internal/payments"
)

// WebhookService turns provider payment confirmations into ledger credits.
// Delivery is at-least-once, so every grant is keyed by the provider event id
// and a redelivered event is acknowledged without a second credit.
type WebhookService struct {
	engine   *ledger.Engine
	payments payments.Provider
	audit    *audit.Logger
	cfg      *config.BillingConfig
}

func NewWebhookService(engine *ledger.Engine, provider payments.Provider, cfg *config.BillingConfig) *WebhookService {
	return &WebhookService{
		engine:   engine,
		payments: provider,
		audit:    audit.NewLogger(),
		cfg:      cfg,
	}
}

// StripeWebhook handles provider payment events
// @Summary Stripe webhook endpoint
// @Description Verifies the event signature and credits tokens for completed purchases
// @Tags purchases
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /webhook/stripe [post]
func (ws *WebhookService) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = 65536
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	event, err := ws.payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("[WEBHOOK] Signature verification failed: %v", err)
		SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	if event.Type != "payment_intent.succeeded" {
		log.Printf("[WEBHOOK] Ignoring event type %s", event.Type)
		ws.acknowledge(w)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		log.Printf("[WEBHOOK] Failed to parse payment intent from event %s: %v", event.ID, err)
		SendErrorResponse(w, "Malformed event payload", http.StatusBadRequest, nil)
		return
	}

	accountID := intent.Metadata["user_id"]
	tierID := intent.Metadata["tier"]
	if accountID == "" || tierID == "" {
		log.Printf("[WEBHOOK] Missing metadata on payment intent %s", intent.ID)
		ws.acknowledge(w)
		return
	}

	tier, found := ws.cfg.Tiers[tierID]
	if !found {
		log.Printf("[WEBHOOK] Unknown tier %q on payment intent %s", tierID, intent.ID)
		ws.acknowledge(w)
		return
	}
	tokens := tier.Tokens

	_, balance, err := ws.engine.Grant(r.Context(), accountID, tokens, event.ID, intent.ID)
	switch {
	case err == nil:
		ws.audit.LogGrant(accountID, event.ID, tokens, balance)
		log.Printf("[WEBHOOK] Granted %d tokens to %s, balance %d", tokens, accountID, balance)
	case errors.Is(err, ledger.ErrDuplicateEvent):
		// Expected under at-least-once delivery; the first delivery already
		// credited the account.
		ws.audit.LogDuplicate(accountID, event.ID, balance)
		log.Printf("[WEBHOOK] Duplicate delivery of event %s for %s", event.ID, accountID)
	default:
		// Anything else means the credit may not have persisted. A non-2xx
		// response makes the provider redeliver, and the event id keeps the
		// retry safe.
		ws.audit.LogError(accountID, "GRANT", err)
		log.Printf("[WEBHOOK] Failed to grant tokens for event %s: %v", event.ID, err)
		SendErrorResponse(w, "Failed to apply credit", http.StatusInternalServerError, nil)
		return
	}

	ws.acknowledge(w)
}

func (ws *WebhookService) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
