package audit

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	AccountID int64     `json:"account_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes audit events through logrus tagged with audit=true so they
// can be routed separately from operational logs.
type Logger struct {
	log logrus.FieldLogger
	now func() time.Time
}

func NewLogger(log logrus.FieldLogger) *Logger {
	return &Logger{log: log, now: time.Now}
}

func (a *Logger) LogDeduction(batchID string, accountID int64, amount decimal.Decimal, balanceAfter decimal.Decimal) {
	a.write(Event{
		EventType: "BATCH_DEDUCTION",
		Reference: batchID,
		AccountID: accountID,
		Amount:    amount.StringFixed(2),
		Status:    "SUCCESS",
		Details:   map[string]string{"balance_after": balanceAfter.StringFixed(2)},
	})
}

func (a *Logger) LogCollection(batchID string, collectorID int64, total decimal.Decimal, accounts int) {
	a.write(Event{
		EventType: "BATCH_COLLECTION",
		Reference: batchID,
		AccountID: collectorID,
		Amount:    total.StringFixed(2),
		Status:    "SUCCESS",
		Details:   map[string]int{"accounts": accounts},
	})
}

func (a *Logger) LogDelivery(messageID string, senderID int64, status string, attempts int) {
	a.write(Event{
		EventType: "MESSAGE_DELIVERY",
		Reference: messageID,
		AccountID: senderID,
		Status:    status,
		Details:   map[string]int{"attempts": attempts},
	})
}

func (a *Logger) LogError(reference string, accountID int64, err error) {
	a.write(Event{
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) write(event Event) {
	if a == nil {
		return
	}
	event.Timestamp = a.now()
	a.log.WithFields(logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"reference":  event.Reference,
		"account_id": event.AccountID,
		"amount":     event.Amount,
		"status":     event.Status,
		"details":    event.Details,
		"at":         event.Timestamp,
	}).Info("audit")
}
