package models

import (
	"time"
)

// Transaction kinds recorded in the token ledger.
const (
	KindPurchase    = "purchase"
	KindConsumption = "consumption"
)

type Balance struct {
	AccountID string `json:"account_id" db:"account_id"`
	Tokens    int64  `json:"tokens" db:"tokens"` // never negative
}

type TokenTransaction struct {
	ID              string    `json:"id" db:"id"`
	AccountID       string    `json:"account_id" db:"account_id"`
	Kind            string    `json:"kind" db:"kind"`               // purchase or consumption
	TokenDelta      int64     `json:"token_delta" db:"token_delta"` // +amount for purchase, -1 for consumption
	ExternalEventID string    `json:"external_event_id,omitempty" db:"external_event_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
