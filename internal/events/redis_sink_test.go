package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSink(t *testing.T) *RedisSink {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSink(client, 90*24*time.Hour)
}

func testClick(clickID string) *models.ClickEvent {
	return &models.ClickEvent{
		ClickID:     clickID,
		LinkID:      uuid.New(),
		WorkspaceID: uuid.New(),
		Domain:      "dub.sh",
		Key:         "launch",
		URL:         "https://example.com",
		Timestamp:   time.Now().UTC(),
	}
}

func TestAppendClickDeduplicatesByID(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	click := testClick("clk_abc123")
	require.NoError(t, sink.AppendClick(ctx, click))

	err := sink.AppendClick(ctx, click)
	assert.ErrorIs(t, err, ErrDuplicateClick)
}

func TestAppendClickReplayKeepsIndexConsistent(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	click := testClick("clk_replay")
	require.NoError(t, sink.AppendClick(ctx, click))

	err := sink.AppendClick(ctx, click)
	assert.ErrorIs(t, err, ErrDuplicateClick)

	// The duplicate append must leave exactly one entry in the day index
	clicks, err := sink.ClicksByLink(ctx, click.LinkID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, clicks, 1)
}

func TestGetClickRoundTrip(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	click := testClick("clk_roundtrip")
	require.NoError(t, sink.AppendClick(ctx, click))

	got, err := sink.GetClick(ctx, "clk_roundtrip")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, click.LinkID, got.LinkID)
	assert.Equal(t, click.URL, got.URL)
}

func TestGetClickUnknownReturnsNil(t *testing.T) {
	sink := setupSink(t)

	got, err := sink.GetClick(context.Background(), "clk_unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClicksByLinkReturnsRange(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	linkID := uuid.New()

	for _, id := range []string{"clk_r1", "clk_r2", "clk_r3"} {
		click := testClick(id)
		click.LinkID = linkID
		require.NoError(t, sink.AppendClick(ctx, click))
	}

	clicks, err := sink.ClicksByLink(ctx, linkID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, clicks, 3)
}

func TestAppendLeadDeduplicates(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	customerID := uuid.New()

	lead := &models.LeadEvent{
		EventID:    uuid.NewString(),
		EventName:  "Sign Up",
		ClickID:    "clk_lead1",
		LinkID:     uuid.New(),
		CustomerID: customerID,
		Quantity:   1,
		Timestamp:  time.Now().UTC(),
	}

	created, err := sink.AppendLead(ctx, lead)
	require.NoError(t, err)
	assert.True(t, created)

	// Same (click, event name, customer) is a re-send, not a new lead
	created, err = sink.AppendLead(ctx, lead)
	require.NoError(t, err)
	assert.False(t, created)

	count, err := sink.LeadCount(ctx, "clk_lead1", "Sign Up")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetLeadReturnsRecordedEvent(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()
	customerID := uuid.New()

	missing, err := sink.GetLead(ctx, "clk_lead2", "Sign Up", customerID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	lead := &models.LeadEvent{
		EventID:    uuid.NewString(),
		EventName:  "Sign Up",
		ClickID:    "clk_lead2",
		LinkID:     uuid.New(),
		CustomerID: customerID,
		Quantity:   1,
		Timestamp:  time.Now().UTC(),
	}
	created, err := sink.AppendLead(ctx, lead)
	require.NoError(t, err)
	require.True(t, created)

	got, err := sink.GetLead(ctx, "clk_lead2", "Sign Up", customerID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lead.EventID, got.EventID)
	assert.Equal(t, lead.LinkID, got.LinkID)
}

func TestAppendLeadCountsDistinctCustomers(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lead := &models.LeadEvent{
			EventID:    uuid.NewString(),
			EventName:  "Sign Up",
			ClickID:    "clk_shared",
			LinkID:     uuid.New(),
			CustomerID: uuid.New(),
			Quantity:   1,
			Timestamp:  time.Now().UTC(),
		}
		created, err := sink.AppendLead(ctx, lead)
		require.NoError(t, err)
		assert.True(t, created)
	}

	count, err := sink.LeadCount(ctx, "clk_shared", "Sign Up")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAppendSaleRejectsDuplicateInvoice(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	sale := &models.SaleEvent{
		EventID:          uuid.NewString(),
		EventName:        "Purchase",
		ClickID:          "clk_sale1",
		LinkID:           uuid.New(),
		CustomerID:       uuid.New(),
		Amount:           10000,
		Currency:         "usd",
		PaymentProcessor: "stripe",
		InvoiceID:        "inv_1",
		Quantity:         1,
		Timestamp:        time.Now().UTC(),
	}
	require.NoError(t, sink.AppendSale(ctx, sale))

	// Retried delivery of the same invoice must not create a second record
	dup := *sale
	dup.EventID = uuid.NewString()
	err := sink.AppendSale(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicateSale)
}

func TestRecordedSale(t *testing.T) {
	sink := setupSink(t)
	ctx := context.Background()

	recorded, err := sink.RecordedSale(ctx, "stripe", "inv_absent")
	require.NoError(t, err)
	assert.False(t, recorded)

	sale := &models.SaleEvent{
		EventID:          uuid.NewString(),
		ClickID:          "clk_sale2",
		LinkID:           uuid.New(),
		CustomerID:       uuid.New(),
		Amount:           500,
		PaymentProcessor: "stripe",
		InvoiceID:        "inv_present",
		Quantity:         1,
		Timestamp:        time.Now().UTC(),
	}
	require.NoError(t, sink.AppendSale(ctx, sale))

	recorded, err = sink.RecordedSale(ctx, "stripe", "inv_present")
	require.NoError(t, err)
	assert.True(t, recorded)
}
