package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/dubinc/dub-sub034/internal/services/links"
	"github.com/google/uuid"
)

// CacheRefreshPayload is the payload for a refresh_link_cache job
type CacheRefreshPayload struct {
	LinkID string `json:"link_id"`
}

// CacheRefreshJob rebuilds cache projections from the relational store
type CacheRefreshJob struct {
	links *links.Service
}

// NewCacheRefreshJob creates a new cache refresh job handler
func NewCacheRefreshJob(linkSvc *links.Service) *CacheRefreshJob {
	return &CacheRefreshJob{links: linkSvc}
}

// Handle processes a refresh_link_cache job
func (j *CacheRefreshJob) Handle(ctx context.Context, job queue.Job) (interface{}, error) {
	var payload CacheRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache refresh payload: %w", err)
	}

	linkID, err := uuid.Parse(payload.LinkID)
	if err != nil {
		return nil, fmt.Errorf("invalid link id in cache refresh payload: %w", err)
	}

	if err := j.links.RefreshCache(ctx, []uuid.UUID{linkID}); err != nil {
		return nil, err
	}
	return nil, nil
}
