package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"moneta/internal/core"
)

const (
	TransactionCreated EventKind = "transaction.created"
	TransactionDeleted EventKind = "transaction.deleted"
)

type EventKind string

// TransactionPayload is a snapshot of the transaction at the time of the event,
// so consumers can act on deletions without reading the store.
type TransactionPayload struct {
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Type        string `json:"type"`
}

// LedgerEvent is published after a ledger mutation commits.
type LedgerEvent struct {
	Kind        EventKind           `json:"kind"`
	UserID      string              `json:"user_id"`
	ID          string              `json:"id"`
	Transaction *TransactionPayload `json:"transaction,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewTransactionEvent builds an event for tx.
func NewTransactionEvent(kind EventKind, userID string, tx core.Transaction) *LedgerEvent {
	return &LedgerEvent{
		Kind:   kind,
		UserID: userID,
		ID:     tx.ID,
		Transaction: &TransactionPayload{
			Title:       tx.Title,
			AmountCents: tx.Amount.Cents,
			Category:    tx.Category,
			Date:        tx.Date.String(),
			Type:        string(tx.Type),
		},
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and checks an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case TransactionCreated, TransactionDeleted:
		if msg.Transaction == nil {
			return nil, fmt.Errorf("%s event %q without transaction payload", msg.Kind, msg.ID)
		}
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.UserID == "" || msg.ID == "" {
		return nil, fmt.Errorf("event missing user or id")
	}
	return &msg, nil
}

// TransactionFromPayload rebuilds the transaction carried by a transaction event.
func (m *LedgerEvent) TransactionFromPayload() (core.Transaction, error) {
	if m.Transaction == nil {
		return core.Transaction{}, fmt.Errorf("event %q has no transaction payload", m.ID)
	}
	date, err := core.ParseDate(m.Transaction.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		ID:       m.ID,
		Title:    m.Transaction.Title,
		Amount:   core.Money{Cents: m.Transaction.AmountCents},
		Category: m.Transaction.Category,
		Date:     date,
		Type:     core.TransactionType(m.Transaction.Type),
	}, nil
}
