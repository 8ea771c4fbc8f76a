package links

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dubinc/dub-sub034/internal/linkcache"
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type enqueuedJob struct {
	Type    queue.JobType
	Payload interface{}
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (f *fakeEnqueuer) Enqueue(jobType queue.JobType, payload interface{}, opts ...queue.EnqueueOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueuedJob{Type: jobType, Payload: payload})
	return uuid.NewString(), nil
}

type testEnv struct {
	db      *gorm.DB
	cache   *linkcache.Cache
	q       *fakeEnqueuer
	service *Service
}

func setupEnv(t *testing.T) *testEnv {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Link{},
		&models.Tag{},
		&models.Webhook{},
		&models.ProgramEnrollment{},
	))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := linkcache.NewCache(client, time.Hour)
	q := &fakeEnqueuer{}
	return &testEnv{
		db:      db,
		cache:   cache,
		q:       q,
		service: NewService(db, cache, q, 50*time.Millisecond, time.Second),
	}
}

func testLink(domain, key string) *models.Link {
	return &models.Link{
		WorkspaceID: uuid.New(),
		Domain:      domain,
		Key:         key,
		URL:         "https://example.com/landing",
	}
}

func TestCreateLinkPrimesCache(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "launch")
	require.NoError(t, env.service.CreateLink(ctx, link))

	view, err := env.cache.Get(ctx, "dub.sh", "launch")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, link.ID, view.ID)
	assert.Equal(t, link.URL, view.URL)
}

func TestCreateLinkRejectsDuplicateDomainKey(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.service.CreateLink(ctx, testLink("dub.sh", "launch")))

	err := env.service.CreateLink(ctx, testLink("dub.sh", "launch"))
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestResolveFromCache(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "launch")
	require.NoError(t, env.service.CreateLink(ctx, link))

	view, err := env.service.Resolve(ctx, "dub.sh", "launch")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, link.URL, view.URL)
}

func TestResolveFallsBackToStoreAndBackfills(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// Insert behind the service's back so the cache has no entry
	link := testLink("dub.sh", "cold")
	require.NoError(t, env.db.Create(link).Error)

	view, err := env.service.Resolve(ctx, "dub.sh", "cold")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, link.ID, view.ID)

	// The store read is written back to the cache opportunistically
	require.Eventually(t, func() bool {
		cached, err := env.cache.Get(context.Background(), "dub.sh", "cold")
		return err == nil && cached != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveUnknownLink(t *testing.T) {
	env := setupEnv(t)

	_, err := env.service.Resolve(context.Background(), "dub.sh", "missing")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestResolveExpiredLink(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	link := testLink("dub.sh", "stale")
	link.ExpiresAt = &expired
	require.NoError(t, env.db.Create(link).Error)

	_, err := env.service.Resolve(ctx, "dub.sh", "stale")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestUpdateLinkEnqueuesCacheRefresh(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "launch")
	require.NoError(t, env.service.CreateLink(ctx, link))

	link.URL = "https://example.com/v2"
	require.NoError(t, env.service.UpdateLink(ctx, link))

	require.Len(t, env.q.jobs, 1)
	assert.Equal(t, queue.JobTypeRefreshLinkCache, env.q.jobs[0].Type)
}

func TestDeleteLinkRemovesCacheSynchronously(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "doomed")
	require.NoError(t, env.service.CreateLink(ctx, link))
	require.NoError(t, env.service.DeleteLink(ctx, link.ID))

	// The cache must not serve a deleted link, not even briefly
	view, err := env.cache.Get(ctx, "dub.sh", "doomed")
	require.NoError(t, err)
	assert.Nil(t, view)

	_, err = env.service.Resolve(ctx, "dub.sh", "doomed")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestRefreshCacheRebuildsProjection(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "refresh")
	require.NoError(t, env.db.Create(link).Error)

	require.NoError(t, env.service.RefreshCache(ctx, []uuid.UUID{link.ID}))

	view, err := env.cache.Get(ctx, "dub.sh", "refresh")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, link.URL, view.URL)
}

func TestIncrementCounters(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	link := testLink("dub.sh", "counters")
	require.NoError(t, env.db.Create(link).Error)

	require.NoError(t, env.service.IncrementClicks(ctx, link.ID))
	require.NoError(t, env.service.IncrementClicks(ctx, link.ID))
	require.NoError(t, env.service.IncrementLeads(ctx, link.ID))
	require.NoError(t, env.service.IncrementSales(ctx, link.ID, 2500))

	var got models.Link
	require.NoError(t, env.db.First(&got, "id = ?", link.ID).Error)
	assert.Equal(t, int64(2), got.Clicks)
	assert.Equal(t, int64(1), got.Leads)
	assert.Equal(t, int64(1), got.Sales)
	assert.Equal(t, int64(2500), got.SaleAmount)
}

func TestTransferDomain(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	keys := []string{"a", "b", "c"}
	for _, key := range keys {
		require.NoError(t, env.service.CreateLink(ctx, testLink("old.sh", key)))
	}

	moved, err := env.service.TransferDomain(ctx, "old.sh", "new.sh")
	require.NoError(t, err)
	assert.Equal(t, 3, moved)

	// A second page finds nothing left to move
	moved, err = env.service.TransferDomain(ctx, "old.sh", "new.sh")
	require.NoError(t, err)
	assert.Zero(t, moved)

	// The store now holds the links under the new domain
	var count int64
	require.NoError(t, env.db.Model(&models.Link{}).Where("domain = ?", "old.sh").Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, env.db.Model(&models.Link{}).Where("domain = ?", "new.sh").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	// Cache entries moved with them
	for _, key := range keys {
		view, err := env.cache.Get(ctx, "old.sh", key)
		require.NoError(t, err)
		assert.Nil(t, view)

		view, err = env.cache.Get(ctx, "new.sh", key)
		require.NoError(t, err)
		require.NotNil(t, view)
		assert.Equal(t, "new.sh", view.Domain)
	}

	// Resolving through the service works on the new domain
	view, err := env.service.Resolve(ctx, "new.sh", "a")
	require.NoError(t, err)
	require.NotNil(t, view)
}
