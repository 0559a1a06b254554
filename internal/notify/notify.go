// Package notify delivers post-commit events to the organization's
// listeners: a redis pub/sub push for connected clients plus a persisted
// notification row for the inbox. Delivery is best effort; callers swallow
// errors so a notification problem never fails a financial transaction.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manish5476/apex/internal/invoicing"
)

// Channel is the pub/sub channel pattern; the organization id is appended.
const channelPrefix = "apex:events:org:"

// Notification is one persisted inbox message for the organization owner.
type Notification struct {
	ID        int64           `json:"id"`
	OrgID     int64           `json:"organizationId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	ReadAt    *time.Time      `json:"readAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// StorePort persists notification rows.
type StorePort interface {
	Insert(ctx context.Context, n *Notification) error
}

// Service publishes events and records them.
type Service struct {
	rdb    redis.UniversalClient
	store  StorePort
	logger *slog.Logger
}

// NewService builds Service. rdb and store may each be nil; delivery then
// degrades to whichever side is configured.
func NewService(rdb redis.UniversalClient, store StorePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rdb: rdb, store: store, logger: logger}
}

// NewSale pushes the sale event to the organization's channel and persists
// an inbox row. Either leg failing fails the call; the caller decides
// whether that matters.
func (s *Service) NewSale(ctx context.Context, event invoicing.NewSaleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode sale event: %w", err)
	}
	if s.rdb != nil {
		channel := fmt.Sprintf("%s%d", channelPrefix, event.OrganizationID)
		if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("notify: publish sale event: %w", err)
		}
	}
	if s.store != nil {
		n := Notification{
			OrgID:   event.OrganizationID,
			Kind:    "new_sale",
			Payload: payload,
		}
		if err := s.store.Insert(ctx, &n); err != nil {
			return fmt.Errorf("notify: persist sale notification: %w", err)
		}
	}
	s.logger.Debug("sale notification dispatched",
		slog.Int64("org_id", event.OrganizationID),
		slog.String("invoice", event.InvoiceNumber))
	return nil
}
