package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypePayment is the only notification type acted on.
const TypePayment = "payment"

// ID is a gateway identifier that may arrive as a JSON string or number.
type ID string

// UnmarshalJSON accepts "123", 123 and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or number: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

// Notification is the webhook payload sent by the gateway.
type Notification struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Data   struct {
		ID ID `json:"id"`
	} `json:"data"`
}

// NewNotification builds a payment notification for paymentID.
func NewNotification(paymentID string) Notification {
	n := Notification{Type: TypePayment}
	n.Data.ID = ID(paymentID)
	return n
}

// ParseNotification decodes a webhook body.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

// PaymentID returns the referenced payment id, or "" if the notification carries none.
func (n Notification) PaymentID() string { return string(n.Data.ID) }
