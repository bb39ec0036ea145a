package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"StableGuard/internal/protocol"
)

// Adapter fetches the latest quote for a feed, failing when the feed cannot
// be read or the newest observation is older than maxAge at the given time.
type Adapter interface {
	Fetch(ctx context.Context, feedID string, maxAge time.Duration, now time.Time) (Quote, error)
}

// FeedCache is the push-style adapter: the market-data network streams
// price updates in (via the ingestion layer) and settlement reads the most
// recent observation per feed. Updates arrive on the ingestion goroutine
// while settlement reads from the operation loop, so the cache carries its
// own lock, the only concurrency boundary in the core.
type FeedCache struct {
	mu     sync.RWMutex
	latest map[string]Quote
	log    zerolog.Logger
}

func NewFeedCache(log zerolog.Logger) *FeedCache {
	return &FeedCache{
		latest: make(map[string]Quote),
		log:    log,
	}
}

// Update stores a quote if it is newer than the cached one. Out-of-order
// deliveries are dropped rather than regressing the publish time.
func (c *FeedCache) Update(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.latest[q.FeedID]; ok && !q.PublishTime.After(prev.PublishTime) {
		c.log.Debug().
			Str("feed_id", q.FeedID).
			Time("publish_time", q.PublishTime).
			Msg("stale feed update dropped")
		return
	}
	c.latest[q.FeedID] = q
}

// Fetch returns the newest cached quote for the feed.
func (c *FeedCache) Fetch(_ context.Context, feedID string, maxAge time.Duration, now time.Time) (Quote, error) {
	c.mu.RLock()
	q, ok := c.latest[feedID]
	c.mu.RUnlock()

	if !ok {
		return Quote{}, fmt.Errorf("%w: feed %s", protocol.ErrFeedUnavailable, feedID)
	}

	if age := now.Sub(q.PublishTime); age > maxAge {
		return Quote{}, fmt.Errorf("%w: feed %s age=%s max=%s",
			protocol.ErrStalePrice, feedID, age, maxAge)
	}

	return q, nil
}

// StaticAdapter serves fixed quotes, for tests and local runs without a
// market-data connection.
type StaticAdapter struct {
	quotes map[string]Quote
}

func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{quotes: make(map[string]Quote)}
}

// Set pins the quote returned for a feed.
func (s *StaticAdapter) Set(q Quote) {
	s.quotes[q.FeedID] = q
}

func (s *StaticAdapter) Fetch(_ context.Context, feedID string, maxAge time.Duration, now time.Time) (Quote, error) {
	q, ok := s.quotes[feedID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: feed %s", protocol.ErrFeedUnavailable, feedID)
	}
	if age := now.Sub(q.PublishTime); age > maxAge {
		return Quote{}, fmt.Errorf("%w: feed %s age=%s max=%s",
			protocol.ErrStalePrice, feedID, age, maxAge)
	}
	return q, nil
}
