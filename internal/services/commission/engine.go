package commission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/services/rewards"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateCommission is returned when a commission already exists
	// for the originating event id. Callers treat it as a no-op success.
	ErrDuplicateCommission = errors.New("commission already exists for event")

	// ErrEnrollmentNotEligible is returned when the partner's enrollment is
	// missing or not approved
	ErrEnrollmentNotEligible = errors.New("partner enrollment not eligible for commissions")
)

// Engine computes partner earnings and persists commission records. The
// unique constraint on Commission.EventID is the strict concurrency control
// point; everything else tolerates benign races resolved by idempotent
// retries.
type Engine struct {
	db       *gorm.DB
	resolver *rewards.Resolver
}

// NewEngine creates a new commission engine
func NewEngine(db *gorm.DB, resolver *rewards.Resolver) *Engine {
	return &Engine{db: db, resolver: resolver}
}

// ComputeEarnings returns the earnings in minor currency units for a
// resolved reward applied to a sale amount and quantity. It is a pure
// function: flat rewards pay amount×quantity independent of the sale
// amount; percentage rewards pay the sale amount scaled by the percentage,
// rounded half to even at the minor unit so many small transactions do not
// systematically underpay.
func ComputeEarnings(reward *models.Reward, amount, quantity int64) int64 {
	if reward == nil {
		return 0
	}

	switch reward.Type {
	case models.RewardTypePercentage:
		return int64(math.RoundToEven(float64(amount) * reward.Percentage / 100))
	default:
		return reward.Amount * quantity
	}
}

// CreateInput carries everything needed to create a commission for one
// attributed event
type CreateInput struct {
	EventID    string
	Type       models.EventType
	ProgramID  uuid.UUID
	PartnerID  uuid.UUID
	LinkID     *uuid.UUID
	CustomerID *uuid.UUID
	Amount     int64
	Currency   string
	Quantity   int64
	EventTime  time.Time
}

// CreateCommission resolves the reward for the event, computes earnings,
// and persists the commission together with the enrollment aggregate
// increments in one transaction. It returns (nil, nil) when no reward
// applies and ErrDuplicateCommission when the event already has one.
func (e *Engine) CreateCommission(ctx context.Context, input CreateInput) (*models.Commission, error) {
	enrollment, err := e.eligibleEnrollment(ctx, input.ProgramID, input.PartnerID)
	if err != nil {
		return nil, err
	}

	reward, err := e.resolver.ResolveReward(ctx, input.ProgramID, input.PartnerID, input.Type)
	if err != nil {
		return nil, err
	}
	if reward == nil {
		// Commission-free program for this event type
		return nil, nil
	}

	withinDuration, err := e.withinRewardDuration(ctx, reward, input)
	if err != nil {
		return nil, err
	}
	if !withinDuration {
		return nil, nil
	}

	quantity := input.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	commission := models.Commission{
		ProgramID:  input.ProgramID,
		PartnerID:  input.PartnerID,
		LinkID:     input.LinkID,
		CustomerID: input.CustomerID,
		EventID:    input.EventID,
		Type:       input.Type,
		Amount:     input.Amount,
		Earnings:   ComputeEarnings(reward, input.Amount, quantity),
		Quantity:   quantity,
		Currency:   input.Currency,
		Status:     models.CommissionStatusPending,
	}
	if commission.Currency == "" {
		commission.Currency = "usd"
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Probe first so retries see a clean conflict instead of a raw
		// constraint error; the unique index remains the backstop for
		// concurrent creators.
		var existing models.Commission
		probeErr := tx.Where("event_id = ?", input.EventID).First(&existing).Error
		if probeErr == nil {
			return ErrDuplicateCommission
		}
		if !errors.Is(probeErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check existing commission: %w", probeErr)
		}

		if err := tx.Create(&commission).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateCommission
			}
			return fmt.Errorf("failed to create commission: %w", err)
		}

		return e.incrementAggregates(tx, enrollment.ID, &commission)
	})
	if err != nil {
		return nil, err
	}

	return &commission, nil
}

// UpdateStatus transitions a commission along its lifecycle
// (pending → processed → paid, or → canceled).
func (e *Engine) UpdateStatus(ctx context.Context, commissionID uuid.UUID, status models.CommissionStatus, payoutID *uuid.UUID) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var commission models.Commission
		if err := tx.First(&commission, "id = ?", commissionID).Error; err != nil {
			return fmt.Errorf("failed to get commission: %w", err)
		}

		if !commission.CanTransitionTo(status) {
			return fmt.Errorf("invalid commission status transition %s -> %s", commission.Status, status)
		}

		updates := map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}
		if payoutID != nil {
			updates["payout_id"] = *payoutID
		}

		return tx.Model(&commission).Updates(updates).Error
	})
}

// eligibleEnrollment loads the partner's enrollment and verifies it can
// earn commissions
func (e *Engine) eligibleEnrollment(ctx context.Context, programID, partnerID uuid.UUID) (*models.ProgramEnrollment, error) {
	var enrollment models.ProgramEnrollment
	err := e.db.WithContext(ctx).
		Where("program_id = ? AND partner_id = ?", programID, partnerID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotEligible
		}
		return nil, fmt.Errorf("failed to get program enrollment: %w", err)
	}

	if enrollment.Status != models.EnrollmentStatusApproved {
		return nil, ErrEnrollmentNotEligible
	}
	return &enrollment, nil
}

// withinRewardDuration checks a duration-bounded sale reward against the
// referred customer's subscription age. A nil MaxDuration is the lifetime
// sentinel; a customer past the bound resolves to "no reward" rather than
// erroring.
func (e *Engine) withinRewardDuration(ctx context.Context, reward *models.Reward, input CreateInput) (bool, error) {
	if reward.MaxDuration == nil || input.Type != models.EventTypeSale || input.CustomerID == nil {
		return true, nil
	}

	var customer models.Customer
	err := e.db.WithContext(ctx).First(&customer, "id = ?", *input.CustomerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to get customer: %w", err)
	}

	if customer.FirstSaleAt == nil {
		return true, nil
	}

	eventTime := input.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now()
	}

	// The bound is inclusive: a customer exactly MaxDuration cycles past
	// the first sale still earns, and lapses on the next cycle
	return billingCyclesBetween(*customer.FirstSaleAt, eventTime) <= *reward.MaxDuration, nil
}

// incrementAggregates updates the enrollment's aggregate counters for the
// commission being created
func (e *Engine) incrementAggregates(tx *gorm.DB, enrollmentID uuid.UUID, commission *models.Commission) error {
	updates := map[string]interface{}{
		"total_commissions": gorm.Expr("total_commissions + ?", commission.Earnings),
		"updated_at":        time.Now(),
	}

	switch commission.Type {
	case models.EventTypeClick:
		updates["total_clicks"] = gorm.Expr("total_clicks + ?", commission.Quantity)
	case models.EventTypeLead:
		updates["total_leads"] = gorm.Expr("total_leads + ?", commission.Quantity)
	case models.EventTypeSale:
		updates["total_sales"] = gorm.Expr("total_sales + ?", commission.Quantity)
		updates["total_sale_amount"] = gorm.Expr("total_sale_amount + ?", commission.Amount)
	}

	if err := tx.Model(&models.ProgramEnrollment{}).
		Where("id = ?", enrollmentID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update enrollment aggregates: %w", err)
	}
	return nil
}

// billingCyclesBetween returns the number of whole calendar months between
// two times, clamped at zero.
func billingCyclesBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return months
}
