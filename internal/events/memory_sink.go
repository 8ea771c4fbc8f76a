package events

import (
	"context"
	"sync"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/google/uuid"
)

// MemorySink is an in-memory Sink used in tests
type MemorySink struct {
	mu         sync.Mutex
	clicks     map[string]*models.ClickEvent
	leads      []*models.LeadEvent
	leadKeys   map[string]*models.LeadEvent
	leadCounts map[string]int64
	sales      []*models.SaleEvent
	saleKeys   map[string]bool
}

// NewMemorySink creates a new in-memory event sink
func NewMemorySink() *MemorySink {
	return &MemorySink{
		clicks:     make(map[string]*models.ClickEvent),
		leadKeys:   make(map[string]*models.LeadEvent),
		leadCounts: make(map[string]int64),
		saleKeys:   make(map[string]bool),
	}
}

// AppendClick records a click event exactly once per click id
func (s *MemorySink) AppendClick(ctx context.Context, click *models.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clicks[click.ClickID]; ok {
		return ErrDuplicateClick
	}
	copied := *click
	s.clicks[click.ClickID] = &copied
	return nil
}

// GetClick returns the click event for the given id, or (nil, nil) when unknown
func (s *MemorySink) GetClick(ctx context.Context, clickID string) (*models.ClickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	click, ok := s.clicks[clickID]
	if !ok {
		return nil, nil
	}
	copied := *click
	return &copied, nil
}

// ClicksByLink returns click events for a link over a time range
func (s *MemorySink) ClicksByLink(ctx context.Context, linkID uuid.UUID, from, to time.Time) ([]*models.ClickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clicks []*models.ClickEvent
	for _, click := range s.clicks {
		if click.LinkID != linkID || click.Timestamp.Before(from) || click.Timestamp.After(to) {
			continue
		}
		copied := *click
		clicks = append(clicks, &copied)
	}
	return clicks, nil
}

// AppendLead records a lead event, deduplicated per (click id, event name, customer)
func (s *MemorySink) AppendLead(ctx context.Context, lead *models.LeadEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lead.ClickID + ":" + lead.EventName + ":" + lead.CustomerID.String()
	if _, ok := s.leadKeys[key]; ok {
		return false, nil
	}
	s.leadCounts[lead.ClickID+":"+lead.EventName]++

	copied := *lead
	s.leadKeys[key] = &copied
	s.leads = append(s.leads, &copied)
	return true, nil
}

// GetLead returns the recorded lead event for a (click id, event name,
// customer) triple, or (nil, nil) when none was recorded
func (s *MemorySink) GetLead(ctx context.Context, clickID, eventName string, customerID uuid.UUID) (*models.LeadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leadKeys[clickID+":"+eventName+":"+customerID.String()]
	if !ok {
		return nil, nil
	}
	copied := *lead
	return &copied, nil
}

// LeadCount returns the number of distinct leads for a (click id, event name) pair
func (s *MemorySink) LeadCount(ctx context.Context, clickID, eventName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leadCounts[clickID+":"+eventName], nil
}

// AppendSale records a sale event keyed by (processor, invoice id)
func (s *MemorySink) AppendSale(ctx context.Context, sale *models.SaleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sale.PaymentProcessor + ":" + sale.InvoiceID
	if s.saleKeys[key] {
		return ErrDuplicateSale
	}
	s.saleKeys[key] = true

	copied := *sale
	s.sales = append(s.sales, &copied)
	return nil
}

// RecordedSale reports whether a (processor, invoice id) pair was already recorded
func (s *MemorySink) RecordedSale(ctx context.Context, processor, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saleKeys[processor+":"+invoiceID], nil
}

// Leads returns all recorded lead events
func (s *MemorySink) Leads() []*models.LeadEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.LeadEvent(nil), s.leads...)
}

// Sales returns all recorded sale events
func (s *MemorySink) Sales() []*models.SaleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.SaleEvent(nil), s.sales...)
}
