package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
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
	require.NoError(t, db.AutoMigrate(&models.Webhook{}))
	return db
}

func createWebhook(t *testing.T, db *gorm.DB, workspaceID uuid.UUID, url string, triggers []string, disabled bool) *models.Webhook {
	wh := &models.Webhook{
		WorkspaceID: workspaceID,
		Name:        "endpoint",
		URL:         url,
		Secret:      "whsec_test",
		Triggers:    models.StringSlice(triggers),
		Disabled:    disabled,
	}
	require.NoError(t, db.Create(wh).Error)
	return wh
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	db := setupDB(t)
	workspaceID := uuid.New()

	var gotBody []byte
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	createWebhook(t, db, workspaceID, srv.URL, nil, false)

	dispatcher := NewDispatcher(db, 5*time.Second)
	err := dispatcher.Dispatch(context.Background(), workspaceID, "sale.created", map[string]string{"invoice": "inv_1"})
	require.NoError(t, err)

	require.NotEmpty(t, gotBody)
	assert.Equal(t, Sign(gotBody, "whsec_test"), gotSignature)

	var payload Payload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "sale.created", payload.Trigger)
	assert.NotEmpty(t, payload.ID)
}

func TestDispatchFiltersByTrigger(t *testing.T) {
	db := setupDB(t)
	workspaceID := uuid.New()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	createWebhook(t, db, workspaceID, srv.URL, []string{"lead.created"}, false)

	dispatcher := NewDispatcher(db, 5*time.Second)
	require.NoError(t, dispatcher.Dispatch(context.Background(), workspaceID, "sale.created", nil))
	assert.Zero(t, atomic.LoadInt32(&calls))

	require.NoError(t, dispatcher.Dispatch(context.Background(), workspaceID, "lead.created", nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatchSkipsDisabledWebhooks(t *testing.T) {
	db := setupDB(t)
	workspaceID := uuid.New()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	createWebhook(t, db, workspaceID, srv.URL, nil, true)

	dispatcher := NewDispatcher(db, 5*time.Second)
	require.NoError(t, dispatcher.Dispatch(context.Background(), workspaceID, "sale.created", nil))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestDispatchFailingEndpointReturnsError(t *testing.T) {
	db := setupDB(t)
	workspaceID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	createWebhook(t, db, workspaceID, srv.URL, nil, false)

	dispatcher := NewDispatcher(db, 5*time.Second)
	err := dispatcher.Dispatch(context.Background(), workspaceID, "sale.created", nil)
	assert.Error(t, err)
}

func TestDispatchOtherWorkspaceIsUntouched(t *testing.T) {
	db := setupDB(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	createWebhook(t, db, uuid.New(), srv.URL, nil, false)

	dispatcher := NewDispatcher(db, 5*time.Second)
	require.NoError(t, dispatcher.Dispatch(context.Background(), uuid.New(), "sale.created", nil))
	assert.Zero(t, atomic.LoadInt32(&calls))
}
