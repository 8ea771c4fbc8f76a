package links

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dubinc/dub-sub034/internal/linkcache"
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ErrLinkNotFound is returned when a link does not exist or is expired
var ErrLinkNotFound = errors.New("link not found")

// transferPageSize is the fixed page size for domain transfers
const transferPageSize = 100

// Service owns link reads and writes. The relational store is the source
// of truth; the cache holds rebuildable projections and is repaired from
// the store whenever they disagree.
type Service struct {
	db    *gorm.DB
	cache *linkcache.Cache
	q     queue.Enqueuer

	cacheTimeout time.Duration
	storeTimeout time.Duration
}

// NewService creates a new link service
func NewService(db *gorm.DB, cache *linkcache.Cache, q queue.Enqueuer, cacheTimeout, storeTimeout time.Duration) *Service {
	return &Service{
		db:           db,
		cache:        cache,
		q:            q,
		cacheTimeout: cacheTimeout,
		storeTimeout: storeTimeout,
	}
}

// Resolve returns the link projection for (domain, key) for the redirect
// path. The cache lookup runs under an aggressive timeout; a miss or cache
// error falls back to the relational store, and the result is written back
// to the cache opportunistically.
func (s *Service) Resolve(ctx context.Context, domain, key string) (*models.LinkView, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	view, err := s.cache.Get(cacheCtx, domain, key)
	cancel()
	if err != nil {
		log.Printf("link cache read failed for %s/%s, falling back to store: %v", domain, key, err)
	}

	if view == nil {
		storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()

		view, err = s.projectionByDomainKey(storeCtx, domain, key)
		if err != nil {
			return nil, err
		}
		if view == nil {
			return nil, ErrLinkNotFound
		}

		// Write back opportunistically; the redirect response does not
		// wait on it
		go func(v models.LinkView) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, &v); err != nil {
				log.Printf("failed to backfill link cache for %s/%s: %v", v.Domain, v.Key, err)
			}
		}(*view)
	}

	if view.Expired(time.Now()) {
		return nil, ErrLinkNotFound
	}
	return view, nil
}

// CreateLink persists a new link and primes the cache
func (s *Service) CreateLink(ctx context.Context, link *models.Link) error {
	link.Domain = strings.ToLower(link.Domain)
	if link.Key == "" {
		return errors.New("link key is required")
	}
	link.Key = slug.Make(link.Key)

	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("link %s/%s already exists: %w", link.Domain, link.Key, err)
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	if err := s.cache.Set(ctx, s.projection(link)); err != nil {
		// The refresh job repairs the cache from the store
		log.Printf("failed to prime link cache for %s/%s: %v", link.Domain, link.Key, err)
		s.enqueueRefresh(link.ID)
	}
	return nil
}

// UpdateLink persists link changes and schedules an asynchronous cache
// refresh. The system tolerates staleness bounded by the refresh job.
func (s *Service) UpdateLink(ctx context.Context, link *models.Link) error {
	if err := s.db.WithContext(ctx).Save(link).Error; err != nil {
		return fmt.Errorf("failed to update link: %w", err)
	}

	s.enqueueRefresh(link.ID)
	return nil
}

// DeleteLink soft-deletes a link. The cache entry is removed synchronously:
// the redirect path must never serve a destination for a deleted link.
func (s *Service) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	var link models.Link
	if err := s.db.WithContext(ctx).First(&link, "id = ?", linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("failed to get link: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&link).Error; err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if err := s.cache.Delete(ctx, link.Domain, link.Key); err != nil {
		return fmt.Errorf("failed to remove deleted link from cache: %w", err)
	}
	return nil
}

// RefreshCache rebuilds the cache projections for the given links from the
// relational store
func (s *Service) RefreshCache(ctx context.Context, linkIDs []uuid.UUID) error {
	if len(linkIDs) == 0 {
		return nil
	}

	var links []models.Link
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Preload("Webhooks").
		Where("id IN ?", linkIDs).
		Find(&links).Error; err != nil {
		return fmt.Errorf("failed to load links for refresh: %w", err)
	}

	views := make([]*models.LinkView, 0, len(links))
	for i := range links {
		views = append(views, s.projection(&links[i]))
	}
	return s.cache.SetMany(ctx, views)
}

// IncrementClicks bumps the link's click counter
func (s *Service) IncrementClicks(ctx context.Context, linkID uuid.UUID) error {
	return s.incrementCounters(ctx, linkID, map[string]interface{}{
		"clicks": gorm.Expr("clicks + 1"),
	})
}

// IncrementLeads bumps the link's lead counter
func (s *Service) IncrementLeads(ctx context.Context, linkID uuid.UUID) error {
	return s.incrementCounters(ctx, linkID, map[string]interface{}{
		"leads": gorm.Expr("leads + 1"),
	})
}

// IncrementSales bumps the link's sale counters
func (s *Service) IncrementSales(ctx context.Context, linkID uuid.UUID, amount int64) error {
	return s.incrementCounters(ctx, linkID, map[string]interface{}{
		"sales":       gorm.Expr("sales + 1"),
		"sale_amount": gorm.Expr("sale_amount + ?", amount),
	})
}

// TransferDomain moves one page of links from oldDomain to newDomain,
// updating the store first and then renaming the cache entries for the
// page in one batch. It returns the number of links moved; callers retry
// until the source domain is empty.
func (s *Service) TransferDomain(ctx context.Context, oldDomain, newDomain string) (int, error) {
	oldDomain = strings.ToLower(oldDomain)
	newDomain = strings.ToLower(newDomain)

	var links []models.Link
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Preload("Webhooks").
		Where("domain = ?", oldDomain).
		Order("created_at asc").
		Limit(transferPageSize).
		Find(&links).Error; err != nil {
		return 0, fmt.Errorf("failed to page links for transfer: %w", err)
	}
	if len(links) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(links))
	views := make([]*models.LinkView, len(links))
	for i := range links {
		ids[i] = links[i].ID
		views[i] = s.projection(&links[i])
	}

	if err := s.db.WithContext(ctx).Model(&models.Link{}).
		Where("id IN ?", ids).
		Update("domain", newDomain).Error; err != nil {
		return 0, fmt.Errorf("failed to transfer links to %s: %w", newDomain, err)
	}

	if err := s.cache.Rename(ctx, oldDomain, newDomain, views); err != nil {
		return 0, fmt.Errorf("failed to rename cached links: %w", err)
	}

	return len(links), nil
}

// projection builds the denormalized cache view for a link
func (s *Service) projection(link *models.Link) *models.LinkView {
	view := &models.LinkView{
		ID:              link.ID,
		WorkspaceID:     link.WorkspaceID,
		Domain:          link.Domain,
		Key:             link.Key,
		URL:             link.URL,
		ProgramID:       link.ProgramID,
		PartnerID:       link.PartnerID,
		ExpiresAt:       link.ExpiresAt,
		TrackConversion: link.TrackConversion,
	}

	for _, tag := range link.Tags {
		view.TagIDs = append(view.TagIDs, tag.ID)
	}
	for _, webhook := range link.Webhooks {
		if !webhook.Disabled {
			view.WebhookIDs = append(view.WebhookIDs, webhook.ID)
		}
	}

	if link.ProgramID != nil && link.PartnerID != nil {
		var enrollment models.ProgramEnrollment
		err := s.db.
			Where("program_id = ? AND partner_id = ?", *link.ProgramID, *link.PartnerID).
			First(&enrollment).Error
		if err == nil {
			view.DiscountID = enrollment.DiscountID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("failed to load enrollment for link %s: %v", link.ID, err)
		}
	}

	return view
}

// projectionByDomainKey reads a link straight from the store and builds
// its projection
func (s *Service) projectionByDomainKey(ctx context.Context, domain, key string) (*models.LinkView, error) {
	var link models.Link
	err := s.db.WithContext(ctx).
		Preload("Tags").
		Preload("Webhooks").
		Where("domain = ? AND key = ?", strings.ToLower(domain), strings.ToLower(key)).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read link from store: %w", err)
	}
	return s.projection(&link), nil
}

func (s *Service) incrementCounters(ctx context.Context, linkID uuid.UUID, updates map[string]interface{}) error {
	if err := s.db.WithContext(ctx).Model(&models.Link{}).
		Where("id = ?", linkID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update link counters: %w", err)
	}
	return nil
}

func (s *Service) enqueueRefresh(linkID uuid.UUID) {
	if s.q == nil {
		return
	}
	if _, err := s.q.Enqueue(queue.JobTypeRefreshLinkCache, map[string]string{
		"link_id": linkID.String(),
	}); err != nil {
		log.Printf("failed to enqueue cache refresh for link %s: %v", linkID, err)
	}
}
