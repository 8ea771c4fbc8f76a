package commission

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/services/rewards"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Program{},
		&models.Partner{},
		&models.PartnerGroup{},
		&models.ProgramEnrollment{},
		&models.Reward{},
		&models.Discount{},
		&models.Customer{},
		&models.Commission{},
	))
	return db
}

type fixture struct {
	program    models.Program
	partner    models.Partner
	enrollment models.ProgramEnrollment
	customer   models.Customer
}

func setupFixture(t *testing.T, db *gorm.DB, status models.EnrollmentStatus) *fixture {
	f := &fixture{
		program: models.Program{
			WorkspaceID: uuid.New(),
			Name:        "Acme Partners",
			Slug:        "acme-" + uuid.NewString()[:8],
		},
		partner: models.Partner{
			Name:  "Jordan",
			Email: uuid.NewString() + "@example.com",
		},
	}
	require.NoError(t, db.Create(&f.program).Error)
	require.NoError(t, db.Create(&f.partner).Error)

	f.enrollment = models.ProgramEnrollment{
		ProgramID: f.program.ID,
		PartnerID: f.partner.ID,
		Status:    status,
	}
	require.NoError(t, db.Create(&f.enrollment).Error)

	f.customer = models.Customer{
		WorkspaceID: f.program.WorkspaceID,
		ExternalID:  "cus_" + uuid.NewString()[:8],
		Name:        "Referred Customer",
	}
	require.NoError(t, db.Create(&f.customer).Error)
	return f
}

func createSaleReward(t *testing.T, db *gorm.DB, programID uuid.UUID, reward *models.Reward) *models.Reward {
	reward.ProgramID = programID
	reward.Event = models.EventTypeSale
	reward.Default = true
	require.NoError(t, db.Create(reward).Error)
	return reward
}

func saleInput(f *fixture, amount int64) CreateInput {
	return CreateInput{
		EventID:    uuid.NewString(),
		Type:       models.EventTypeSale,
		ProgramID:  f.program.ID,
		PartnerID:  f.partner.ID,
		CustomerID: &f.customer.ID,
		Amount:     amount,
		Currency:   "usd",
		Quantity:   1,
		EventTime:  time.Now(),
	}
}

func TestComputeEarnings(t *testing.T) {
	flat := &models.Reward{Type: models.RewardTypeFlat, Amount: 500}
	pct := &models.Reward{Type: models.RewardTypePercentage, Percentage: 5}

	tests := []struct {
		name     string
		reward   *models.Reward
		amount   int64
		quantity int64
		want     int64
	}{
		{"nil reward", nil, 10000, 1, 0},
		{"flat single", flat, 10000, 1, 500},
		{"flat scales with quantity", flat, 10000, 3, 1500},
		{"flat ignores amount", flat, 0, 2, 1000},
		{"percentage", &models.Reward{Type: models.RewardTypePercentage, Percentage: 20}, 10000, 1, 2000},
		{"percentage rounds half down to even", pct, 50, 1, 2},
		{"percentage rounds half up to even", pct, 70, 1, 4},
		{"percentage zero amount", pct, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeEarnings(tt.reward, tt.amount, tt.quantity))
		})
	}
}

func TestComputeEarningsIsDeterministic(t *testing.T) {
	reward := &models.Reward{Type: models.RewardTypePercentage, Percentage: 3.33}

	first := ComputeEarnings(reward, 9999, 1)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ComputeEarnings(reward, 9999, 1))
	}
}

func TestCreateCommissionPersistsAndIncrements(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)
	createSaleReward(t, db, f.program.ID, &models.Reward{Type: models.RewardTypePercentage, Percentage: 20})

	engine := NewEngine(db, rewards.NewResolver(db))
	commission, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	require.NotNil(t, commission)
	assert.Equal(t, int64(2000), commission.Earnings)
	assert.Equal(t, models.CommissionStatusPending, commission.Status)

	var enrollment models.ProgramEnrollment
	require.NoError(t, db.First(&enrollment, "id = ?", f.enrollment.ID).Error)
	assert.Equal(t, int64(1), enrollment.TotalSales)
	assert.Equal(t, int64(10000), enrollment.TotalSaleAmount)
	assert.Equal(t, int64(2000), enrollment.TotalCommissions)
}

func TestCreateCommissionDuplicateEventID(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)
	createSaleReward(t, db, f.program.ID, &models.Reward{Type: models.RewardTypeFlat, Amount: 500})

	engine := NewEngine(db, rewards.NewResolver(db))
	input := saleInput(f, 10000)

	_, err := engine.CreateCommission(context.Background(), input)
	require.NoError(t, err)

	_, err = engine.CreateCommission(context.Background(), input)
	assert.ErrorIs(t, err, ErrDuplicateCommission)

	// The duplicate attempt must not create a row or move the aggregates
	var count int64
	require.NoError(t, db.Model(&models.Commission{}).Where("event_id = ?", input.EventID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var enrollment models.ProgramEnrollment
	require.NoError(t, db.First(&enrollment, "id = ?", f.enrollment.ID).Error)
	assert.Equal(t, int64(500), enrollment.TotalCommissions)
}

func TestCreateCommissionRequiresApprovedEnrollment(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusPending)
	createSaleReward(t, db, f.program.ID, &models.Reward{Type: models.RewardTypeFlat, Amount: 500})

	engine := NewEngine(db, rewards.NewResolver(db))
	_, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	assert.ErrorIs(t, err, ErrEnrollmentNotEligible)
}

func TestCreateCommissionNoRewardConfigured(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)

	engine := NewEngine(db, rewards.NewResolver(db))
	commission, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	assert.Nil(t, commission)
}

func TestCreateCommissionDurationBound(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)

	maxDuration := 3
	createSaleReward(t, db, f.program.ID, &models.Reward{
		Type:        models.RewardTypePercentage,
		Percentage:  20,
		MaxDuration: &maxDuration,
	})

	engine := NewEngine(db, rewards.NewResolver(db))

	// First sale four cycles ago: the reward has lapsed
	firstSale := time.Now().AddDate(0, -4, 0)
	require.NoError(t, db.Model(&f.customer).Update("first_sale_at", firstSale).Error)

	commission, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	assert.Nil(t, commission)

	// First sale two cycles ago: still inside the bound
	firstSale = time.Now().AddDate(0, -2, 0)
	require.NoError(t, db.Model(&f.customer).Update("first_sale_at", firstSale).Error)

	commission, err = engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	require.NotNil(t, commission)
	assert.Equal(t, int64(2000), commission.Earnings)
}

func TestCreateCommissionDurationBoundIsInclusive(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)

	maxDuration := 3
	createSaleReward(t, db, f.program.ID, &models.Reward{
		Type:        models.RewardTypePercentage,
		Percentage:  20,
		MaxDuration: &maxDuration,
	})

	firstSale := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Model(&f.customer).Update("first_sale_at", firstSale).Error)

	engine := NewEngine(db, rewards.NewResolver(db))

	// Exactly three cycles past the first sale still earns
	input := saleInput(f, 10000)
	input.EventTime = time.Date(2026, time.April, 15, 12, 0, 0, 0, time.UTC)
	commission, err := engine.CreateCommission(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, commission)
	assert.Equal(t, int64(2000), commission.Earnings)

	// One cycle later the reward has lapsed
	input = saleInput(f, 10000)
	input.EventTime = time.Date(2026, time.May, 15, 12, 0, 0, 0, time.UTC)
	commission, err = engine.CreateCommission(context.Background(), input)
	require.NoError(t, err)
	assert.Nil(t, commission)
}

func TestCreateCommissionLifetimeReward(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)
	createSaleReward(t, db, f.program.ID, &models.Reward{Type: models.RewardTypePercentage, Percentage: 20})

	// A customer subscribed years ago still earns under a lifetime reward
	firstSale := time.Now().AddDate(-3, 0, 0)
	require.NoError(t, db.Model(&f.customer).Update("first_sale_at", firstSale).Error)

	engine := NewEngine(db, rewards.NewResolver(db))
	commission, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	require.NotNil(t, commission)
}

func TestUpdateStatusTransitions(t *testing.T) {
	db := setupDB(t)
	f := setupFixture(t, db, models.EnrollmentStatusApproved)
	createSaleReward(t, db, f.program.ID, &models.Reward{Type: models.RewardTypeFlat, Amount: 500})

	engine := NewEngine(db, rewards.NewResolver(db))
	commission, err := engine.CreateCommission(context.Background(), saleInput(f, 10000))
	require.NoError(t, err)
	require.NotNil(t, commission)

	// pending -> paid skips processed and must fail
	err = engine.UpdateStatus(context.Background(), commission.ID, models.CommissionStatusPaid, nil)
	assert.Error(t, err)

	require.NoError(t, engine.UpdateStatus(context.Background(), commission.ID, models.CommissionStatusProcessed, nil))

	payoutID := uuid.New()
	require.NoError(t, engine.UpdateStatus(context.Background(), commission.ID, models.CommissionStatusPaid, &payoutID))

	var got models.Commission
	require.NoError(t, db.First(&got, "id = ?", commission.ID).Error)
	assert.Equal(t, models.CommissionStatusPaid, got.Status)
	require.NotNil(t, got.PayoutID)
	assert.Equal(t, payoutID, *got.PayoutID)

	// paid is terminal
	err = engine.UpdateStatus(context.Background(), commission.ID, models.CommissionStatusCanceled, nil)
	assert.Error(t, err)
}

func TestBillingCyclesBetween(t *testing.T) {
	base := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		to   time.Time
		want int
	}{
		{"same day", base, 0},
		{"under one month", base.AddDate(0, 0, 20), 0},
		{"one month", base.AddDate(0, 1, 0), 1},
		{"almost two months", base.AddDate(0, 2, -1), 1},
		{"four months", base.AddDate(0, 4, 0), 4},
		{"before start clamps to zero", base.AddDate(0, -1, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billingCyclesBetween(base, tt.to))
		})
	}
}
