package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentpay/backend/internal/audit"
	"github.com/agentpay/backend/internal/config"
	"github.com/agentpay/backend/internal/ledger"
	"github.com/agentpay/backend/internal/middleware"
	"github.com/agentpay/backend/internal/models"
	"github.com/agentpay/backend/internal/payments"
)

// BillingService is the request-layer collaborator of the ledger engine: it
// maps HTTP calls onto Deduct/Grant/GetBalance and owns the retry-facing
// error mapping. All balance mutation goes through the engine.
type BillingService struct {
	engine    *ledger.Engine
	redis     *redis.Client
	payments  payments.Provider
	validator *ValidationHelper
	audit     *audit.Logger
	cfg       *config.BillingConfig
}

func NewBillingService(engine *ledger.Engine, redisClient *redis.Client, provider payments.Provider, cfg *config.BillingConfig) *BillingService {
	return &BillingService{
		engine:    engine,
		redis:     redisClient,
		payments:  provider,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
		cfg:       cfg,
	}
}

type PurchaseRequest struct {
	Tier string `json:"tier" validate:"required,oneof=tier_1 tier_2 tier_3"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"required,max=100"`
}

// GetTokenBalance returns the caller's current balance
// @Summary Get token balance
// @Description Current prepaid token balance for the authenticated account
// @Tags tokens
// @Produce json
// @Success 200 {object} models.Balance
// @Failure 500 {object} ErrorResponse
// @Router /tokens/balance [get]
func (bs *BillingService) GetTokenBalance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.UserIDFromContext(r.Context())

	balance, err := bs.engine.GetBalance(r.Context(), accountID)
	if err != nil {
		log.Printf("[BILLING] Failed to read balance for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to read balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.Balance{
		AccountID: accountID,
		Tokens:    balance,
	})
}

// ListTokenTransactions returns the caller's ledger history
// @Summary List token transactions
// @Description Recent purchases and consumptions, newest first
// @Tags tokens
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} ErrorResponse
// @Router /tokens/transactions [get]
func (bs *BillingService) ListTokenTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.UserIDFromContext(r.Context())

	if cached := bs.cachedTransactions(r, accountID); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	txns, err := bs.engine.ListTransactions(r.Context(), accountID, bs.cfg.HistoryLimit)
	if err != nil {
		log.Printf("[BILLING] Failed to list transactions for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"account_id":   accountID,
		"transactions": txns,
	})
	if err != nil {
		SendErrorResponse(w, "Failed to list transactions", http.StatusInternalServerError, nil)
		return
	}

	bs.cacheTransactions(r, accountID, body)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// ConsumeToken charges one token before a billable action
// @Summary Consume one token
// @Description Atomically deducts a single token; fails when the balance is empty
// @Tags tokens
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /tokens/consume [post]
func (bs *BillingService) ConsumeToken(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.UserIDFromContext(r.Context())

	ok, remaining, err := bs.engine.Deduct(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			SendErrorResponse(w, "Account has no token balance", http.StatusNotFound, nil)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			SendErrorResponse(w, "Insufficient tokens. Please purchase more to continue.", http.StatusPaymentRequired, nil)
		case errors.Is(err, ledger.ErrLockTimeout):
			SendErrorResponse(w, "Account busy, please retry", http.StatusServiceUnavailable, nil)
		default:
			bs.audit.LogError(accountID, "CONSUME", err)
			log.Printf("[BILLING] Deduct failed for %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to process request", http.StatusInternalServerError, nil)
		}
		return
	}

	bs.audit.LogConsume(accountID, remaining)
	bs.invalidateTransactionCache(r, accountID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   ok,
		"remaining": remaining,
	})
}

// RefundToken returns one token after a failed billable action
// @Summary Refund one token
// @Description Credits back a single token when the action charged for did not complete
// @Tags tokens
// @Accept json
// @Produce json
// @Param refund body RefundRequest true "Refund reason"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /tokens/refund [post]
func (bs *BillingService) RefundToken(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.UserIDFromContext(r.Context())

	var req RefundRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Refunds ride the normal grant path with a synthetic event id, so each
	// refund lands at most once even if the caller retries it.
	eventID := fmt.Sprintf("refund_%d", time.Now().UnixMilli())
	intentID := "error_refund_" + req.Reason

	ok, balance, err := bs.engine.Grant(r.Context(), accountID, 1, eventID, intentID)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateEvent) {
		bs.audit.LogError(accountID, "REFUND", err)
		log.Printf("[BILLING] Refund failed for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to refund token", http.StatusInternalServerError, nil)
		return
	}

	if ok {
		bs.audit.LogGrant(accountID, eventID, 1, balance)
		bs.invalidateTransactionCache(r, accountID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": ok,
		"tokens":  balance,
	})
}

// CreatePaymentIntent starts a token purchase
// @Summary Create a payment intent
// @Description Opens a provider payment intent for the selected pricing tier
// @Tags purchases
// @Accept json
// @Produce json
// @Param purchase body PurchaseRequest true "Pricing tier"
// @Success 200 {object} payments.Intent
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /create-payment-intent [post]
func (bs *BillingService) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.UserIDFromContext(r.Context())

	var req PurchaseRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tier, ok := bs.cfg.Tiers[req.Tier]
	if !ok {
		SendErrorResponse(w, "Invalid pricing tier", http.StatusBadRequest, nil)
		return
	}

	if !bs.allowPurchase(r, accountID) {
		SendErrorResponse(w, "Too many purchase attempts, try again later", http.StatusTooManyRequests, nil)
		return
	}

	intent, err := bs.payments.CreatePaymentIntent(r.Context(), accountID, req.Tier, tier.AmountCents, tier.Tokens)
	if err != nil {
		log.Printf("[BILLING] Failed to create payment intent for %s: %v", accountID, err)
		SendErrorResponse(w, "Payment provider error", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}

// allowPurchase rate-limits intent creation per account over a sliding
// window. Without Redis the limit is waived rather than blocking purchases.
func (bs *BillingService) allowPurchase(r *http.Request, accountID string) bool {
	if bs.redis == nil {
		return true
	}

	key := "ledger:purchase_rl:" + accountID
	count, err := bs.redis.Incr(r.Context(), key).Result()
	if err != nil {
		log.Printf("[BILLING] Rate limit check failed for %s: %v", accountID, err)
		return true
	}
	if count == 1 {
		bs.redis.Expire(r.Context(), key, bs.cfg.RateLimitWindow)
	}
	return count <= int64(bs.cfg.MaxPurchasesPerUser)
}

func (bs *BillingService) cachedTransactions(r *http.Request, accountID string) []byte {
	if bs.redis == nil {
		return nil
	}
	body, err := bs.redis.Get(r.Context(), transactionCacheKey(accountID)).Bytes()
	if err != nil {
		return nil
	}
	return body
}

func (bs *BillingService) cacheTransactions(r *http.Request, accountID string, body []byte) {
	if bs.redis == nil {
		return
	}
	if err := bs.redis.Set(r.Context(), transactionCacheKey(accountID), body, bs.cfg.TransactionCacheTTL).Err(); err != nil {
		log.Printf("[BILLING] Failed to cache transactions for %s: %v", accountID, err)
	}
}

// invalidateTransactionCache drops the display cache after any balance
// mutation so the history view never shows a missing entry.
func (bs *BillingService) invalidateTransactionCache(r *http.Request, accountID string) {
	if bs.redis == nil {
		return
	}
	if err := bs.redis.Del(r.Context(), transactionCacheKey(accountID)).Err(); err != nil {
		log.Printf("[BILLING] Failed to invalidate transaction cache for %s: %v", accountID, err)
	}
}

func transactionCacheKey(accountID string) string {
	return "ledger:txns:" + accountID
}

// decodeJSONBody reads a single JSON object with the usual size and
// strictness limits. It writes the error response itself and reports whether
// decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
