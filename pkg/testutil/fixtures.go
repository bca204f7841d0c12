package testutil

import (
	"encoding/json"
	"fmt"
	"strconv"

	"cargolink/pkg/platform/hmacsig"
)

// WebhookSecret is the shared secret used by billing tests.
const WebhookSecret = "test-webhook-secret"

// PaymentWebhook describes a YooKassa notification for tests.
type PaymentWebhook struct {
	Event     string
	PaymentID string
	Status    string
	UserID    int64
	PlanDays  int
	Amount    string
	RefundOf  string // payment id a refund.succeeded refers to
}

// Body renders the notification JSON.
func (p PaymentWebhook) Body() []byte {
	metadata := map[string]string{}
	if p.UserID != 0 {
		metadata["user_id"] = strconv.FormatInt(p.UserID, 10)
	}
	if p.PlanDays != 0 {
		metadata["plan_days"] = strconv.Itoa(p.PlanDays)
	}
	amount := p.Amount
	if amount == "" {
		amount = "990.00"
	}
	object := map[string]any{
		"id":       p.PaymentID,
		"status":   p.Status,
		"amount":   map[string]string{"value": amount, "currency": "RUB"},
		"metadata": metadata,
	}
	if p.RefundOf != "" {
		object["payment_id"] = p.RefundOf
	}
	body, err := json.Marshal(map[string]any{
		"type":   "notification",
		"event":  p.Event,
		"object": object,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal webhook fixture: %v", err))
	}
	return body
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	return hmacsig.Sign([]byte(secret), body)
}

// Signed returns the body and its signature under WebhookSecret.
func (p PaymentWebhook) Signed() ([]byte, string) {
	body := p.Body()
	return body, Sign(WebhookSecret, body)
}

// Succeeded is a payment.succeeded fixture for user.
func Succeeded(paymentID string, userID int64) PaymentWebhook {
	return PaymentWebhook{Event: "payment.succeeded", PaymentID: paymentID, Status: "succeeded", UserID: userID}
}
