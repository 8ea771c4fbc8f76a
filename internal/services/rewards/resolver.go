package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resolver determines the applicable reward and discount for a
// program/partner pair. Precedence is partner-specific override, then
// partner-group override, then program-wide default; the first strategy
// that produces a hit wins.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new reward resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// rewardStrategy returns the reward id (or nil) a precedence level
// contributes for a partner and event type.
type rewardStrategy func(ctx context.Context, programID, partnerID uuid.UUID, event models.EventType) (*uuid.UUID, error)

// ResolveReward returns the authoritative reward for the given
// program/partner/event type, or (nil, nil) when none is configured.
// Commission-free programs are legal.
func (r *Resolver) ResolveReward(ctx context.Context, programID, partnerID uuid.UUID, event models.EventType) (*models.Reward, error) {
	strategies := []rewardStrategy{
		r.enrollmentRewardID,
		r.groupRewardID,
	}

	for _, strategy := range strategies {
		rewardID, err := strategy(ctx, programID, partnerID, event)
		if err != nil {
			return nil, err
		}
		if rewardID != nil {
			return r.rewardByID(ctx, *rewardID)
		}
	}

	return r.defaultReward(ctx, programID, event)
}

// ResolveDiscount returns the discount applied to the referred customer,
// using the same override precedence as rewards but resolved independently.
func (r *Resolver) ResolveDiscount(ctx context.Context, programID, partnerID uuid.UUID) (*models.Discount, error) {
	enrollment, err := r.enrollment(ctx, programID, partnerID)
	if err != nil {
		return nil, err
	}
	if enrollment != nil && enrollment.DiscountID != nil {
		return r.discountByID(ctx, *enrollment.DiscountID)
	}

	group, err := r.partnerGroup(ctx, programID, partnerID)
	if err != nil {
		return nil, err
	}
	if group != nil && group.DiscountID != nil {
		return r.discountByID(ctx, *group.DiscountID)
	}

	var discount models.Discount
	err = r.db.WithContext(ctx).
		Where("program_id = ? AND \"default\" = ?", programID, true).
		First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve default discount: %w", err)
	}
	return &discount, nil
}

// enrollmentRewardID reads the partner-specific override from the
// program enrollment
func (r *Resolver) enrollmentRewardID(ctx context.Context, programID, partnerID uuid.UUID, event models.EventType) (*uuid.UUID, error) {
	enrollment, err := r.enrollment(ctx, programID, partnerID)
	if err != nil || enrollment == nil {
		return nil, err
	}
	return enrollment.RewardID(event), nil
}

// groupRewardID reads the partner-group override
func (r *Resolver) groupRewardID(ctx context.Context, programID, partnerID uuid.UUID, event models.EventType) (*uuid.UUID, error) {
	group, err := r.partnerGroup(ctx, programID, partnerID)
	if err != nil || group == nil {
		return nil, err
	}
	return group.RewardID(event), nil
}

// defaultReward reads the program-wide default reward for an event type
func (r *Resolver) defaultReward(ctx context.Context, programID uuid.UUID, event models.EventType) (*models.Reward, error) {
	var reward models.Reward
	err := r.db.WithContext(ctx).
		Where("program_id = ? AND event = ? AND \"default\" = ?", programID, event, true).
		First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve default reward: %w", err)
	}
	return &reward, nil
}

func (r *Resolver) enrollment(ctx context.Context, programID, partnerID uuid.UUID) (*models.ProgramEnrollment, error) {
	var enrollment models.ProgramEnrollment
	err := r.db.WithContext(ctx).
		Where("program_id = ? AND partner_id = ?", programID, partnerID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get program enrollment: %w", err)
	}
	return &enrollment, nil
}

func (r *Resolver) partnerGroup(ctx context.Context, programID, partnerID uuid.UUID) (*models.PartnerGroup, error) {
	var partner models.Partner
	err := r.db.WithContext(ctx).First(&partner, "id = ?", partnerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}
	if partner.GroupID == nil {
		return nil, nil
	}

	var group models.PartnerGroup
	err = r.db.WithContext(ctx).
		Where("id = ? AND program_id = ?", *partner.GroupID, programID).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get partner group: %w", err)
	}
	return &group, nil
}

func (r *Resolver) rewardByID(ctx context.Context, id uuid.UUID) (*models.Reward, error) {
	var reward models.Reward
	if err := r.db.WithContext(ctx).First(&reward, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return &reward, nil
}

func (r *Resolver) discountByID(ctx context.Context, id uuid.UUID) (*models.Discount, error) {
	var discount models.Discount
	if err := r.db.WithContext(ctx).First(&discount, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get discount: %w", err)
	}
	return &discount, nil
}
