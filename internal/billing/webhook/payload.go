package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cargolink/internal/billing/models"
)

// maxPlanDays caps metadata.plan_days.
const maxPlanDays = 3660

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type notificationObject struct {
	ID        string         `json:"id"`
	PaymentID string         `json:"payment_id"`
	Status    string         `json:"status"`
	Amount    amount         `json:"amount"`
	Metadata  map[string]any `json:"metadata"`
}

// notification is the YuKassa webhook body.
type notification struct {
	Type   string             `json:"type"`
	Event  string             `json:"event"`
	Object notificationObject `json:"object"`
}

// parsed is a validated notification.
type parsed struct {
	Event      string
	ExternalID string
	PaymentID  string
	Status     models.PaymentStatus
	UserID     int64
	PlanDays   int
	Amount     amount
}

func parseNotification(raw []byte) (*parsed, error) {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("malformed body: %w", err)
	}
	if n.Event == "" || n.Object.ID == "" {
		return nil, fmt.Errorf("event and object.id are required")
	}
	status, ok := models.StatusForEvent(n.Event)
	if !ok {
		return nil, fmt.Errorf("unsupported event %q", n.Event)
	}

	p := &parsed{
		Event:      n.Event,
		ExternalID: n.Event + ":" + n.Object.ID,
		PaymentID:  n.Object.ID,
		Status:     status,
		Amount:     n.Object.Amount,
	}
	if n.Event == models.EventRefundSucceeded {
		if n.Object.PaymentID == "" {
			return nil, fmt.Errorf("refund without payment_id")
		}
		p.PaymentID = n.Object.PaymentID
	}

	if raw, ok := n.Object.Metadata["user_id"]; ok {
		uid, err := metadataInt(raw)
		if err != nil || uid <= 0 {
			return nil, fmt.Errorf("metadata.user_id must be a positive integer")
		}
		p.UserID = uid
	} else if n.Event == models.EventPaymentSucceeded {
		return nil, fmt.Errorf("metadata.user_id is required")
	}

	if raw, ok := n.Object.Metadata["plan_days"]; ok {
		days, err := metadataInt(raw)
		if err != nil || days <= 0 || days > maxPlanDays {
			return nil, fmt.Errorf("metadata.plan_days must be between 1 and %d", maxPlanDays)
		}
		p.PlanDays = int(days)
	}
	return p, nil
}

// planDuration returns the paid period, falling back to def.
func (p *parsed) planDuration(def time.Duration) time.Duration {
	if p.PlanDays > 0 {
		return time.Duration(p.PlanDays) * 24 * time.Hour
	}
	return def
}

// metadataInt accepts YuKassa's string metadata and plain JSON numbers.
func metadataInt(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int64(t), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
