package jobs

import (
	"context"
	"log"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"gorm.io/gorm"
)

// ReconcileJob recomputes enrollment aggregates from the commission table.
// The engine increments aggregates in the same transaction as the commission
// insert, but a crash between queue retries can still leave drift; this job
// is the compensating sweep.
type ReconcileJob struct {
	db *gorm.DB
}

// NewReconcileJob creates a new reconcile job handler
func NewReconcileJob(db *gorm.DB) *ReconcileJob {
	return &ReconcileJob{db: db}
}

type enrollmentTotals struct {
	TotalClicks      int64
	TotalLeads       int64
	TotalSales       int64
	TotalSaleAmount  int64
	TotalCommissions int64
}

// Handle processes a reconcile_enrollments job
func (j *ReconcileJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var enrollments []models.ProgramEnrollment
	if err := j.db.WithContext(ctx).Find(&enrollments).Error; err != nil {
		return nil, err
	}

	reconciled := 0
	for i := range enrollments {
		changed, err := j.reconcileEnrollment(ctx, &enrollments[i])
		if err != nil {
			return nil, err
		}
		if changed {
			reconciled++
		}
	}

	if reconciled > 0 {
		log.Printf("Reconciled aggregates for %d of %d enrollments", reconciled, len(enrollments))
	}
	return map[string]int{"enrollments": len(enrollments), "reconciled": reconciled}, nil
}

func (j *ReconcileJob) reconcileEnrollment(ctx context.Context, enrollment *models.ProgramEnrollment) (bool, error) {
	var totals enrollmentTotals
	err := j.db.WithContext(ctx).Model(&models.Commission{}).
		Select(
			"COALESCE(SUM(CASE WHEN type = ? THEN quantity ELSE 0 END), 0) AS total_clicks, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN quantity ELSE 0 END), 0) AS total_leads, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN quantity ELSE 0 END), 0) AS total_sales, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS total_sale_amount, "+
				"COALESCE(SUM(earnings), 0) AS total_commissions",
			models.EventTypeClick, models.EventTypeLead, models.EventTypeSale, models.EventTypeSale).
		Where("program_id = ? AND partner_id = ? AND status != ?",
			enrollment.ProgramID, enrollment.PartnerID, models.CommissionStatusCanceled).
		Scan(&totals).Error
	if err != nil {
		return false, err
	}

	if totals.TotalClicks == enrollment.TotalClicks &&
		totals.TotalLeads == enrollment.TotalLeads &&
		totals.TotalSales == enrollment.TotalSales &&
		totals.TotalSaleAmount == enrollment.TotalSaleAmount &&
		totals.TotalCommissions == enrollment.TotalCommissions {
		return false, nil
	}

	err = j.db.WithContext(ctx).Model(&models.ProgramEnrollment{}).
		Where("id = ?", enrollment.ID).
		Updates(map[string]interface{}{
			"total_clicks":      totals.TotalClicks,
			"total_leads":       totals.TotalLeads,
			"total_sales":       totals.TotalSales,
			"total_sale_amount": totals.TotalSaleAmount,
			"total_commissions": totals.TotalCommissions,
			"updated_at":        time.Now(),
		}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}
