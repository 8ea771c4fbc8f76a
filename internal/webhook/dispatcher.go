package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Dispatcher delivers correlated events to workspace webhook endpoints.
// Delivery is at-least-once; receivers deduplicate by event id.
type Dispatcher struct {
	db      *gorm.DB
	client  *http.Client
	timeout time.Duration
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(db *gorm.DB, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		db:      db,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Payload is the envelope posted to webhook endpoints
type Payload struct {
	ID        string      `json:"id"`
	Trigger   string      `json:"event"`
	CreatedAt time.Time   `json:"created_at"`
	Data      interface{} `json:"data"`
}

// Dispatch posts the event to every enabled workspace webhook subscribed
// to the trigger. A failed endpoint fails the whole dispatch so the queue
// retries it; endpoints that already received the event dedup by id.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceID uuid.UUID, trigger string, data interface{}) error {
	var webhooks []models.Webhook
	if err := d.db.WithContext(ctx).
		Where("workspace_id = ? AND disabled = ?", workspaceID, false).
		Find(&webhooks).Error; err != nil {
		return fmt.Errorf("failed to load workspace webhooks: %w", err)
	}

	payload := Payload{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var dispatchErr error
	for _, wh := range webhooks {
		if !subscribed(wh.Triggers, trigger) {
			continue
		}
		if err := d.send(ctx, &wh, body); err != nil {
			dispatchErr = errors.Join(dispatchErr, fmt.Errorf("webhook %s: %w", wh.ID, err))
		}
	}
	return dispatchErr
}

// send posts the signed payload to one endpoint
func (d *Dispatcher) send(ctx context.Context, wh *models.Webhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", Sign(body, wh.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign creates an HMAC-SHA256 signature for a webhook body
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// subscribed reports whether a webhook listens for the trigger. An empty
// trigger list means all triggers.
func subscribed(triggers models.StringSlice, trigger string) bool {
	if len(triggers) == 0 {
		return true
	}
	for _, t := range triggers {
		if t == trigger {
			return true
		}
	}
	return false
}
