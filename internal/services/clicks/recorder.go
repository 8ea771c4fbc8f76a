package clicks

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/dubinc/dub-sub034/internal/queue"
	"golang.org/x/time/rate"
)

var (
	// ErrDeniedReferrer is returned when the request's referrer host is denylisted
	ErrDeniedReferrer = errors.New("referrer is denylisted")
	// ErrRateLimited is returned when the per-link-key rate limit is exceeded
	ErrRateLimited = errors.New("click rate limit exceeded")
)

// RequestMetadata carries the request context recorded with a click
type RequestMetadata struct {
	ClickID   string
	IP        string
	UserAgent string
	Referrer  string
}

// Recorder mints click ids and hands click events to the queue for durable
// recording. The enqueue is the caller's only wait; appending to the sink
// and bumping counters happen in the background worker.
type Recorder struct {
	q               queue.Enqueuer
	deniedReferrers map[string]bool
	limiterRate     rate.Limit
	limiterBurst    int
	limiters        map[string]*rate.Limiter
	limiterMu       sync.Mutex
	cleanupTicker   *time.Ticker
}

// NewRecorder creates a new click recorder
func NewRecorder(q queue.Enqueuer, deniedReferrers []string, clicksPerSecond float64, burst int) *Recorder {
	denied := make(map[string]bool, len(deniedReferrers))
	for _, host := range deniedReferrers {
		denied[strings.ToLower(host)] = true
	}

	r := &Recorder{
		q:               q,
		deniedReferrers: denied,
		limiterRate:     rate.Limit(clicksPerSecond),
		limiterBurst:    burst,
		limiters:        make(map[string]*rate.Limiter),
		cleanupTicker:   time.NewTicker(5 * time.Minute),
	}

	go r.cleanup()
	return r
}

// Stop stops the recorder's limiter cleanup
func (r *Recorder) Stop() {
	r.cleanupTicker.Stop()
}

// Record validates the request, mints a click id if the caller did not
// supply one, and enqueues the click for durable recording. It never
// blocks on the sink; at-least-once delivery is safe because the sink
// dedups by click id.
func (r *Recorder) Record(ctx context.Context, view *models.LinkView, meta RequestMetadata) (string, error) {
	if view == nil {
		return "", errors.New("click requires a resolved link")
	}

	if r.referrerDenied(meta.Referrer) {
		return "", ErrDeniedReferrer
	}

	if !r.limiter(view.Domain + ":" + view.Key).Allow() {
		return "", ErrRateLimited
	}

	clickID := meta.ClickID
	if clickID == "" {
		clickID = NewClickID()
	}

	click := models.ClickEvent{
		ClickID:            clickID,
		LinkID:             view.ID,
		WorkspaceID:        view.WorkspaceID,
		ProgramID:          view.ProgramID,
		PartnerID:          view.PartnerID,
		Domain:             view.Domain,
		Key:                view.Key,
		URL:                view.URL,
		IP:                 meta.IP,
		UserAgent:          truncate(meta.UserAgent, 500),
		Referrer:           truncate(meta.Referrer, 500),
		Timestamp:          time.Now().UTC(),
		ConversionEligible: view.TrackConversion,
	}

	if _, err := r.q.Enqueue(queue.JobTypeRecordClick, &click); err != nil {
		return "", fmt.Errorf("failed to enqueue click: %w", err)
	}

	return clickID, nil
}

// NewClickID mints a globally unique click identifier
func NewClickID() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		log.Printf("failed to read random bytes for click id: %v", err)
	}
	return "clk_" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
}

// referrerDenied checks the referrer host against the denylist
func (r *Recorder) referrerDenied(referrer string) bool {
	if referrer == "" || len(r.deniedReferrers) == 0 {
		return false
	}

	host := strings.ToLower(referrer)
	if parsed, err := url.Parse(referrer); err == nil && parsed.Host != "" {
		host = strings.ToLower(parsed.Host)
	}
	return r.deniedReferrers[host]
}

// limiter returns the rate limiter for a link key
func (r *Recorder) limiter(key string) *rate.Limiter {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()

	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.limiterRate, r.limiterBurst)
		r.limiters[key] = limiter
	}
	return limiter
}

// cleanup periodically resets the limiter map to prevent unbounded growth
func (r *Recorder) cleanup() {
	for range r.cleanupTicker.C {
		r.limiterMu.Lock()
		r.limiters = make(map[string]*rate.Limiter)
		r.limiterMu.Unlock()
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
