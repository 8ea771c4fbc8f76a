package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis key prefixes
const (
	clickPrefix     = "events:click:"
	clicksByDay     = "events:clicks:"
	leadKeyPrefix   = "events:lead:"
	leadCountPrefix = "events:leadcount:"
	leadsByDay      = "events:leads:"
	saleKeyPrefix   = "events:sale:"
	salesByDay      = "events:sales:"
)

const dayFormat = "2006-01-02"

// RedisSink implements Sink on Redis. Click events live in per-id keys with
// the sink's retention as TTL plus per-day sorted sets per link for range
// queries; lead and sale idempotency markers are SETNX keys.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisSink creates a new Redis-backed event sink
func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: retention,
	}
}

// AppendClick records a click event exactly once per click id. The SETNX
// and the per-day index run in one MULTI, and the index member is the
// click id itself, so re-running the pipeline for a duplicate leaves the
// index unchanged.
func (s *RedisSink) AppendClick(ctx context.Context, click *models.ClickEvent) error {
	data, err := json.Marshal(click)
	if err != nil {
		return fmt.Errorf("failed to marshal click event: %w", err)
	}

	dayKey := clicksByDay + click.LinkID.String() + ":" + click.Timestamp.UTC().Format(dayFormat)
	pipe := s.client.TxPipeline()
	created := pipe.SetNX(ctx, clickPrefix+click.ClickID, data, s.retention)
	pipe.ZAdd(ctx, dayKey, &redis.Z{
		Score:  float64(click.Timestamp.UTC().Unix()),
		Member: click.ClickID,
	})
	pipe.Expire(ctx, dayKey, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append click event: %w", err)
	}
	if !created.Val() {
		return ErrDuplicateClick
	}
	return nil
}

// GetClick returns the click event for the given id, or (nil, nil) when unknown
func (s *RedisSink) GetClick(ctx context.Context, clickID string) (*models.ClickEvent, error) {
	data, err := s.client.Get(ctx, clickPrefix+clickID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get click event: %w", err)
	}

	var click models.ClickEvent
	if err := json.Unmarshal([]byte(data), &click); err != nil {
		return nil, fmt.Errorf("failed to unmarshal click event: %w", err)
	}
	return &click, nil
}

// ClicksByLink returns click events for a link over a time range
func (s *RedisSink) ClicksByLink(ctx context.Context, linkID uuid.UUID, from, to time.Time) ([]*models.ClickEvent, error) {
	var clicks []*models.ClickEvent

	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.Add(24 * time.Hour) {
		dayKey := clicksByDay + linkID.String() + ":" + day.Format(dayFormat)
		ids, err := s.client.ZRange(ctx, dayKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read click index for %s: %w", day.Format(dayFormat), err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = clickPrefix + id
		}
		entries, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read click events for %s: %w", day.Format(dayFormat), err)
		}

		for _, entry := range entries {
			raw, ok := entry.(string)
			if !ok {
				// Click aged out of retention ahead of its day index
				continue
			}
			var click models.ClickEvent
			if err := json.Unmarshal([]byte(raw), &click); err != nil {
				return nil, fmt.Errorf("failed to unmarshal click event: %w", err)
			}
			if click.Timestamp.Before(from) || click.Timestamp.After(to) {
				continue
			}
			clicks = append(clicks, &click)
		}
	}

	return clicks, nil
}

// AppendLead records a lead event, deduplicated per (click id, event name, customer)
func (s *RedisSink) AppendLead(ctx context.Context, lead *models.LeadEvent) (bool, error) {
	data, err := json.Marshal(lead)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lead event: %w", err)
	}

	dedupeKey := leadKeyPrefix + lead.ClickID + ":" + lead.EventName + ":" + lead.CustomerID.String()
	ok, err := s.client.SetNX(ctx, dedupeKey, data, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark lead event: %w", err)
	}
	if !ok {
		return false, nil
	}

	dayKey := leadsByDay + lead.LinkID.String() + ":" + lead.Timestamp.UTC().Format(dayFormat)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, dayKey, data)
	pipe.Expire(ctx, dayKey, s.retention)
	pipe.Incr(ctx, leadCountPrefix+lead.ClickID+":"+lead.EventName)
	pipe.Expire(ctx, leadCountPrefix+lead.ClickID+":"+lead.EventName, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to append lead event: %w", err)
	}
	return true, nil
}

// GetLead returns the recorded lead event for a (click id, event name,
// customer) triple, or (nil, nil) when none was recorded
func (s *RedisSink) GetLead(ctx context.Context, clickID, eventName string, customerID uuid.UUID) (*models.LeadEvent, error) {
	data, err := s.client.Get(ctx, leadKeyPrefix+clickID+":"+eventName+":"+customerID.String()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead event: %w", err)
	}

	var lead models.LeadEvent
	if err := json.Unmarshal([]byte(data), &lead); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead event: %w", err)
	}
	return &lead, nil
}

// LeadCount returns the number of distinct leads for a (click id, event name) pair
func (s *RedisSink) LeadCount(ctx context.Context, clickID, eventName string) (int64, error) {
	count, err := s.client.Get(ctx, leadCountPrefix+clickID+":"+eventName).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get lead count: %w", err)
	}
	return count, nil
}

// AppendSale records a sale event keyed by (processor, invoice id)
func (s *RedisSink) AppendSale(ctx context.Context, sale *models.SaleEvent) error {
	dedupeKey := saleKeyPrefix + sale.PaymentProcessor + ":" + sale.InvoiceID
	ok, err := s.client.SetNX(ctx, dedupeKey, sale.EventID, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to mark sale event: %w", err)
	}
	if !ok {
		return ErrDuplicateSale
	}

	data, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("failed to marshal sale event: %w", err)
	}

	dayKey := salesByDay + sale.LinkID.String() + ":" + sale.Timestamp.UTC().Format(dayFormat)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, dayKey, data)
	pipe.Expire(ctx, dayKey, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append sale event: %w", err)
	}
	return nil
}

// RecordedSale reports whether a (processor, invoice id) pair was already recorded
func (s *RedisSink) RecordedSale(ctx context.Context, processor, invoiceID string) (bool, error) {
	n, err := s.client.Exists(ctx, saleKeyPrefix+processor+":"+invoiceID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check sale event: %w", err)
	}
	return n > 0, nil
}
