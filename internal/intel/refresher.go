package intel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"gatekeep/internal/config"
	"gatekeep/internal/logging"
	"gatekeep/internal/metrics"
)

// feedSource is one feed plus its pacing state.
type feedSource struct {
	client  *FeedClient
	limiter *rate.Limiter
	retry   *backoff.ExponentialBackOff

	// nextAttempt delays the feed after failures. Zero means eligible.
	nextAttempt time.Time
}

// Refresher keeps the indicator cache populated from the configured
// feeds. Each feed is rate limited independently and backs off
// exponentially on failure; a failing feed never blocks the others
// and never clears the last good indicators it contributed.
type Refresher struct {
	cache   *Cache
	feeds   []*feedSource
	metrics *metrics.Metrics
	logger  *slog.Logger

	interval time.Duration

	refreshes atomic.Int64
	failures  atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRefresher creates a refresher for the configured feeds.
func NewRefresher(cache *Cache, cfg config.IntelConfig, m *metrics.Metrics, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Refresher{
		cache:    cache,
		metrics:  m,
		logger:   logger,
		interval: cfg.RefreshInterval,
		stopCh:   make(chan struct{}),
	}

	for _, fc := range cfg.Feeds {
		delay := fc.RateLimitDelay
		if delay <= 0 {
			delay = 15 * time.Second
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = delay
		bo.MaxInterval = cfg.MaxBackoff
		bo.MaxElapsedTime = 0 // retry forever

		r.feeds = append(r.feeds, &feedSource{
			client:  NewFeedClient(fc),
			limiter: rate.NewLimiter(rate.Every(delay), 1),
			retry:   bo,
		})

		logger.Info("threat feed configured",
			"feed", fc.Name,
			"endpoint", fc.Endpoint,
			"key", logging.MaskAPIKey(fc.APIKey),
			"rate_limit_delay", delay)
	}

	return r
}

// Start launches the background refresh loop. The first refresh runs
// immediately so the cache warms before traffic arrives.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop stops the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Stats reports refresh and failure counts.
func (r *Refresher) Stats() (refreshes, failures int64) {
	return r.refreshes.Load(), r.failures.Load()
}

func (r *Refresher) loop() {
	defer r.wg.Done()

	r.refreshAll()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAll()
			r.cache.Purge()
		}
	}
}

func (r *Refresher) refreshAll() {
	for _, src := range r.feeds {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.refreshOne(src)
	}
}

func (r *Refresher) refreshOne(src *feedSource) {
	now := time.Now()
	if now.Before(src.nextAttempt) {
		return
	}
	if !src.limiter.Allow() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	iocs, err := src.client.Fetch(ctx)
	if err != nil {
		r.failures.Add(1)
		r.metrics.ObserveFeedRefresh(false, r.cache.Size())
		wait := src.retry.NextBackOff()
		src.nextAttempt = now.Add(wait)
		r.logger.Warn("threat feed refresh failed, serving cached indicators",
			"feed", src.client.Name(),
			"retry_in", wait,
			"error", err)
		return
	}

	src.retry.Reset()
	src.nextAttempt = time.Time{}
	r.cache.UpdateSource(src.client.Name(), iocs)
	r.refreshes.Add(1)
	r.metrics.ObserveFeedRefresh(true, r.cache.Size())

	r.logger.Info("threat feed refreshed",
		"feed", src.client.Name(),
		"indicators", len(iocs))
}
