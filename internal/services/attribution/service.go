package attribution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dubinc/dub-sub034/internal/events"
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrClickNotFound is returned for a sale whose click id cannot be
	// resolved. The caller decides whether to retry later; the click may
	// not have landed in the sink yet.
	ErrClickNotFound = errors.New("click not found for sale attribution")

	// ErrDuplicateSale is returned when the (processor, invoice id) pair
	// was already recorded. Callers treat it as a no-op success.
	ErrDuplicateSale = events.ErrDuplicateSale
)

// LeadRequest is a lead conversion reported against a click id
type LeadRequest struct {
	ClickID       string
	EventName     string
	ExternalID    string
	CustomerName  string
	CustomerEmail string
	Metadata      map[string]interface{}
	Quantity      int64
}

// SaleRequest is a sale conversion reported against a click id
type SaleRequest struct {
	ClickID          string
	EventName        string
	ExternalID       string
	Amount           int64
	Currency         string
	PaymentProcessor string
	InvoiceID        string
	Recurring        bool
}

// Service correlates lead and sale events back to the click that
// originated them. The sink append is the durability boundary: everything
// downstream of it (counters, webhooks, commissions) is idempotent and
// retried by the background workers rather than lost.
type Service struct {
	db    *gorm.DB
	sink  events.Sink
	q     queue.Enqueuer
	links *links.Service
}

// NewService creates a new attribution service
func NewService(db *gorm.DB, sink events.Sink, q queue.Enqueuer, linkSvc *links.Service) *Service {
	return &Service{
		db:    db,
		sink:  sink,
		q:     q,
		links: linkSvc,
	}
}

// TrackLead attributes a lead event to its click. An unresolvable click is
// a silent no-op, consistent with the common case of the click belonging
// to a different product. Re-sends of the same (click id, event name) for
// the same external id are tolerated, not distinct conversions.
func (s *Service) TrackLead(ctx context.Context, req LeadRequest) (*models.LeadEvent, error) {
	click, err := s.sink.GetClick(ctx, req.ClickID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up click %s: %w", req.ClickID, err)
	}
	if click == nil {
		return nil, nil
	}
	if !click.ConversionEligible {
		// Conversion tracking is off for the click's link
		return nil, nil
	}

	customer, err := s.getOrCreateCustomer(ctx, click, req.ExternalID, req.CustomerName, req.CustomerEmail, req.Metadata)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	lead := &models.LeadEvent{
		EventID:     uuid.NewString(),
		EventName:   req.EventName,
		ClickID:     click.ClickID,
		LinkID:      click.LinkID,
		WorkspaceID: click.WorkspaceID,
		ProgramID:   click.ProgramID,
		PartnerID:   click.PartnerID,
		CustomerID:  customer.ID,
		Quantity:    quantity,
		Referrer:    click.Referrer,
		Timestamp:   time.Now().UTC(),
	}

	created, err := s.sink.AppendLead(ctx, lead)
	if err != nil {
		return nil, fmt.Errorf("failed to record lead event: %w", err)
	}
	if !created {
		// Re-send of an already-recorded lead; return the event the sink
		// actually holds, not a freshly minted one
		stored, err := s.sink.GetLead(ctx, click.ClickID, req.EventName, customer.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load recorded lead: %w", err)
		}
		if stored != nil {
			return stored, nil
		}
		return lead, nil
	}

	if err := s.links.IncrementLeads(ctx, click.LinkID); err != nil {
		log.Printf("failed to increment lead counter for link %s: %v", click.LinkID, err)
	}

	s.dispatch(click, "lead.created", lead, &commissionPayload{
		EventID:    lead.EventID,
		Type:       models.EventTypeLead,
		CustomerID: customer.ID,
		Quantity:   quantity,
		EventTime:  lead.Timestamp,
	})

	return lead, nil
}

// TrackSale attributes a sale event to its click. A sale may arrive before
// its lead and still attributes correctly as long as the click resolves;
// the (processor, invoice id) pair is rejected as a duplicate if already
// recorded. A click whose link has conversion tracking off returns
// (nil, nil), the same soft outcome as an unknown lead.
func (s *Service) TrackSale(ctx context.Context, req SaleRequest) (*models.SaleEvent, error) {
	click, err := s.sink.GetClick(ctx, req.ClickID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up click %s: %w", req.ClickID, err)
	}
	if click == nil {
		return nil, ErrClickNotFound
	}
	if !click.ConversionEligible {
		return nil, nil
	}

	recorded, err := s.sink.RecordedSale(ctx, req.PaymentProcessor, req.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check sale idempotency: %w", err)
	}
	if recorded {
		return nil, ErrDuplicateSale
	}

	customer, err := s.getOrCreateCustomer(ctx, click, req.ExternalID, "", "", nil)
	if err != nil {
		return nil, err
	}

	eventName := req.EventName
	if eventName == "" {
		eventName = "Purchase"
	}

	sale := &models.SaleEvent{
		EventID:          uuid.NewString(),
		EventName:        eventName,
		ClickID:          click.ClickID,
		LinkID:           click.LinkID,
		WorkspaceID:      click.WorkspaceID,
		ProgramID:        click.ProgramID,
		PartnerID:        click.PartnerID,
		CustomerID:       customer.ID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentProcessor: req.PaymentProcessor,
		InvoiceID:        req.InvoiceID,
		Recurring:        req.Recurring,
		Quantity:         1,
		Referrer:         click.Referrer,
		Timestamp:        time.Now().UTC(),
	}

	// AppendSale's idempotency key is the SETNX backstop for concurrent
	// duplicates that pass the probe above
	if err := s.sink.AppendSale(ctx, sale); err != nil {
		if errors.Is(err, events.ErrDuplicateSale) {
			return nil, ErrDuplicateSale
		}
		return nil, fmt.Errorf("failed to record sale event: %w", err)
	}

	if err := s.recordCustomerSale(ctx, customer.ID, req.Amount, sale.Timestamp); err != nil {
		log.Printf("failed to update customer %s sale aggregates: %v", customer.ID, err)
	}
	if err := s.links.IncrementSales(ctx, click.LinkID, req.Amount); err != nil {
		log.Printf("failed to increment sale counters for link %s: %v", click.LinkID, err)
	}

	s.dispatch(click, "sale.created", sale, &commissionPayload{
		EventID:    sale.EventID,
		Type:       models.EventTypeSale,
		CustomerID: customer.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Quantity:   1,
		EventTime:  sale.Timestamp,
	})

	return sale, nil
}

// getOrCreateCustomer resolves the customer for (workspace, external id),
// creating it on first contact. Concurrent creators are serialized by the
// unique constraint; the loser reads back the winner's row.
func (s *Service) getOrCreateCustomer(ctx context.Context, click *models.ClickEvent, externalID, name, email string, metadata map[string]interface{}) (*models.Customer, error) {
	if externalID == "" {
		return nil, errors.New("customer external id is required")
	}

	var customer models.Customer
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND external_id = ?", click.WorkspaceID, externalID).
		First(&customer).Error
	if err == nil {
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	if name == "" {
		name = externalID
	}

	customer = models.Customer{
		WorkspaceID: click.WorkspaceID,
		ExternalID:  externalID,
		Name:        name,
		Email:       email,
		ClickID:     click.ClickID,
		LinkID:      &click.LinkID,
		ProgramID:   click.ProgramID,
		PartnerID:   click.PartnerID,
		Metadata:    models.JSON(metadata),
	}

	if err := s.db.WithContext(ctx).Create(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the creation race; read back the winner
			var existing models.Customer
			if err := s.db.WithContext(ctx).
				Where("workspace_id = ? AND external_id = ?", click.WorkspaceID, externalID).
				First(&existing).Error; err != nil {
				return nil, fmt.Errorf("failed to read customer after create race: %w", err)
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return &customer, nil
}

// recordCustomerSale updates the customer's sale aggregates and first-sale
// timestamp
func (s *Service) recordCustomerSale(ctx context.Context, customerID uuid.UUID, amount int64, at time.Time) error {
	updates := map[string]interface{}{
		"sales":       gorm.Expr("sales + 1"),
		"sale_amount": gorm.Expr("sale_amount + ?", amount),
		"updated_at":  time.Now(),
	}

	if err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customerID).
		Updates(updates).Error; err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ? AND first_sale_at IS NULL", customerID).
		Update("first_sale_at", at).Error
}

// commissionPayload is the payload for the create_commission job
type commissionPayload struct {
	EventID    string           `json:"event_id"`
	Type       models.EventType `json:"type"`
	CustomerID uuid.UUID        `json:"customer_id"`
	Amount     int64            `json:"amount"`
	Currency   string           `json:"currency"`
	Quantity   int64            `json:"quantity"`
	EventTime  time.Time        `json:"event_time"`
}

// dispatch fans the correlated event out to the asynchronous consumers:
// workspace webhooks and, when the link belongs to a partner program, the
// commission engine. Both are at-least-once with receiver-side dedup.
func (s *Service) dispatch(click *models.ClickEvent, trigger string, event interface{}, commission *commissionPayload) {
	if _, err := s.q.Enqueue(queue.JobTypeDispatchWebhook, map[string]interface{}{
		"workspace_id": click.WorkspaceID.String(),
		"link_id":      click.LinkID.String(),
		"trigger":      trigger,
		"event":        event,
	}); err != nil {
		log.Printf("failed to enqueue webhook dispatch for %s: %v", trigger, err)
	}

	if click.ProgramID == nil || click.PartnerID == nil {
		return
	}

	payload := map[string]interface{}{
		"event_id":    commission.EventID,
		"type":        commission.Type,
		"program_id":  click.ProgramID.String(),
		"partner_id":  click.PartnerID.String(),
		"link_id":     click.LinkID.String(),
		"customer_id": commission.CustomerID.String(),
		"amount":      commission.Amount,
		"currency":    commission.Currency,
		"quantity":    commission.Quantity,
		"event_time":  commission.EventTime,
	}
	if _, err := s.q.Enqueue(queue.JobTypeCreateCommission, payload); err != nil {
		log.Printf("failed to enqueue commission for event %s: %v", commission.EventID, err)
	}
}
