package amqp

import (
	"encoding/json"
	"time"
)

const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// ExpenseChangeMessage announces that a user's expense set changed.
// Consumers refetch the full list rather than applying the change.
type ExpenseChangeMessage struct {
	UserID    string    `json:"user_id"`
	ExpenseID string    `json:"expense_id"`
	Op        string    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseChangeMessage(userID, expenseID, op string) *ExpenseChangeMessage {
	return &ExpenseChangeMessage{
		UserID:    userID,
		ExpenseID: expenseID,
		Op:        op,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExpenseChangeMessageFromJSON(data []byte) (*ExpenseChangeMessage, error) {
	var msg ExpenseChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
