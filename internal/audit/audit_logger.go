package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	AccountID string    `json:"account_id"`
	EventID   string    `json:"event_id,omitempty"`
	Delta     int64     `json:"delta,omitempty"`
	Balance   int64     `json:"balance"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger emits one structured line per ledger operation. The durable audit
// trail is the transaction log itself; this is the operational view of it.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogGrant(accountID, eventID string, delta, balance int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "GRANT",
		AccountID: accountID,
		EventID:   eventID,
		Delta:     delta,
		Balance:   balance,
		Status:    "SUCCESS",
	})
}

func (a *Logger) LogConsume(accountID string, balance int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "CONSUME",
		AccountID: accountID,
		Delta:     -1,
		Balance:   balance,
		Status:    "SUCCESS",
	})
}

func (a *Logger) LogDuplicate(accountID, eventID string, balance int64) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "GRANT",
		AccountID: accountID,
		EventID:   eventID,
		Balance:   balance,
		Status:    "DUPLICATE",
	})
}

func (a *Logger) LogError(accountID, operation string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
