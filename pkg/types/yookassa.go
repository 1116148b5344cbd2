package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire shapes of YooKassa webhook notifications and the payment object.
// https://yookassa.ru/developers/using-api/webhooks

type YooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type YooKassaConfirmation struct {
	Type            string `json:"type"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type YooKassaPaymentObject struct {
	ID                  string                `json:"id"`
	Status              string                `json:"status"`
	Paid                bool                  `json:"paid"`
	Amount              YooKassaAmount        `json:"amount"`
	Confirmation        *YooKassaConfirmation `json:"confirmation,omitempty"`
	Description         string                `json:"description,omitempty"`
	Metadata            map[string]string     `json:"metadata,omitempty"`
	CreatedAt           string                `json:"created_at,omitempty"`
	CapturedAt          string                `json:"captured_at,omitempty"`
	CancellationDetails *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details,omitempty"`
}

type YooKassaNotification struct {
	Type   string                `json:"type"`
	Event  string                `json:"event"`
	Object YooKassaPaymentObject `json:"object"`
}

// PaymentEventKind discriminates the parsed webhook events the reconciler
// understands. Unknown events are rejected at the boundary, not deep inside
// the handler.
type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "payment.succeeded"
	PaymentEventCanceled  PaymentEventKind = "payment.canceled"
)

var ErrUnknownWebhookEvent = errors.New("unknown webhook event")

// PaymentEvent is the validated, typed form of a provider webhook.
type PaymentEvent struct {
	Kind               PaymentEventKind
	ProviderPaymentID  string
	Amount             string
	Currency           string
	InternalPaymentID  string // from metadata, set when we created the payment
	CancellationReason string
}

// ParsePaymentEvent turns a raw webhook body into a typed PaymentEvent.
func ParsePaymentEvent(body []byte) (*PaymentEvent, error) {
	var n YooKassaNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("failed to decode webhook body: %w", err)
	}

	kind := PaymentEventKind(n.Event)
	switch kind {
	case PaymentEventSucceeded, PaymentEventCanceled:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWebhookEvent, n.Event)
	}

	if n.Object.ID == "" {
		return nil, fmt.Errorf("webhook %s has no payment id", n.Event)
	}

	event := &PaymentEvent{
		Kind:              kind,
		ProviderPaymentID: n.Object.ID,
		Amount:            n.Object.Amount.Value,
		Currency:          n.Object.Amount.Currency,
		InternalPaymentID: n.Object.Metadata["payment_id"],
	}
	if n.Object.CancellationDetails != nil {
		event.CancellationReason = n.Object.CancellationDetails.Reason
	}
	return event, nil
}
