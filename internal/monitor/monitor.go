// Package monitor drives the scrape/diff/notify loop: fetch the
// dashboard on a fixed interval, compare each scraped deal against the
// stored copy, persist the result, and announce changes to Discord
// exactly once.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"buyinggroup-monitor/internal/config"
	"buyinggroup-monitor/internal/models"
)

const (
	// After a failed check the next attempt comes sooner than the
	// regular interval, but never sooner than the interval itself
	// allows.
	errorCooldown = time.Minute

	// Repeated error notifications within this window are suppressed.
	errorNotifyCooldown = time.Hour
)

// Status is the live view served by the /status endpoint.
type Status struct {
	Running           bool               `json:"running"`
	StartedAt         time.Time          `json:"started_at"`
	LastCheck         time.Time          `json:"last_check"`
	LastError         string             `json:"last_error,omitempty"`
	ChecksCompleted   int                `json:"checks_completed"`
	NewDeals          int                `json:"new_deals"`
	UpdatedDeals      int                `json:"updated_deals"`
	NotificationsSent int                `json:"notifications_sent"`
	Store             *models.StoreStats `json:"store,omitempty"`
}

// Runner owns one monitoring loop.
type Runner struct {
	store     DealStore
	notifier  DealNotifier
	site      SiteClient
	extractor DealExtractor
	cfg       *config.Config
	interval  time.Duration

	mu              sync.Mutex
	status          Status
	lastErrorNotify time.Time
}

func New(store DealStore, notifier DealNotifier, site SiteClient, extractor DealExtractor, cfg *config.Config) *Runner {
	return &Runner{
		store:     store,
		notifier:  notifier,
		site:      site,
		extractor: extractor,
		cfg:       cfg,
		interval:  cfg.Monitor.TickInterval(),
	}
}

// Run checks the dashboard until ctx is canceled. Cancellation is
// honored between checks: an in-flight check always finishes so the
// store is never left mid-diff.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("Monitor starting", "interval", r.interval)

	r.mu.Lock()
	r.status.Running = true
	r.status.StartedAt = time.Now().UTC()
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.mu.Unlock()
	}()

	runCtx := context.WithoutCancel(ctx)
	r.announceStartup(runCtx)

	for {
		delay := r.interval
		if err := r.tick(runCtx); err != nil {
			slog.Error("Check failed", "error", err)
			delay = min(errorCooldown, r.interval)
		}

		select {
		case <-ctx.Done():
			slog.Info("Monitor stopping")
			return nil
		case <-time.After(delay):
		}
	}
}

// Snapshot returns the current status plus store aggregates.
func (r *Runner) Snapshot(ctx context.Context) Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()

	stats, err := r.store.Stats(ctx)
	if err != nil {
		slog.Warn("Failed to load store stats", "error", err)
		return s
	}
	s.Store = stats
	return s
}

func (r *Runner) announceStartup(ctx context.Context) {
	err := r.notifier.SendStartup(ctx, r.interval,
		r.cfg.Monitor.AutoCommitNewDeals, r.cfg.Monitor.AutoCommitQuantity)
	if err != nil {
		slog.Warn("Failed to send startup notification", "error", err)
	}

	active, err := r.store.ListActiveDeals(ctx)
	if err != nil {
		slog.Warn("Failed to list active deals for summary", "error", err)
		return
	}
	if err := r.notifier.SendSummary(ctx, active); err != nil {
		slog.Warn("Failed to send active deals summary", "error", err)
	}
}

// tick performs one full check: fetch, extract, diff, persist, notify.
func (r *Runner) tick(ctx context.Context) error {
	start := time.Now()
	metricChecks.Inc()

	html, err := r.site.FetchDashboard(ctx)
	if err != nil {
		metricCheckErrors.Inc()
		r.notifyError(ctx, fmt.Sprintf("Failed to fetch dashboard: %v", err))
		r.recordCheck(0, 0, err)
		return err
	}

	deals := r.extractor.Extract(html)
	if len(deals) == 0 {
		slog.Warn("No deals extracted from dashboard, page layout may have changed")
	} else {
		slog.Info("Scraped dashboard", "deals", len(deals))
	}

	var toAnnounce []models.Deal
	var newCount, updatedCount int
	var errs []string

	for _, scraped := range deals {
		isNew, isUpdated, announce, err := r.processDeal(ctx, scraped)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if isNew {
			newCount++
			metricNewDeals.Inc()
		}
		if isUpdated {
			updatedCount++
			metricUpdatedDeals.Inc()
		}
		if announce {
			toAnnounce = append(toAnnounce, scraped)
		}
	}

	if len(toAnnounce) > 0 {
		r.announceNewDeals(ctx, toAnnounce)
	}

	metricCheckDuration.Observe(time.Since(start).Seconds())
	slog.Info("Check finished", "new", newCount, "updated", updatedCount,
		"duration", time.Since(start).Round(time.Millisecond))

	var tickErr error
	if len(errs) > 0 {
		metricCheckErrors.Inc()
		tickErr = fmt.Errorf("check completed with errors: %s", strings.Join(errs, "; "))
	}
	r.recordCheck(newCount, updatedCount, tickErr)
	return tickErr
}

// processDeal diffs one scraped deal against the stored copy. The
// returned announce flag asks the caller to include the deal in this
// check's batched new-deal notification.
func (r *Runner) processDeal(ctx context.Context, scraped models.Deal) (isNew, isUpdated, announce bool, err error) {
	existing, err := r.store.GetDeal(ctx, scraped.ID)
	if err != nil {
		return false, false, false, fmt.Errorf("failed to load deal %s: %v", scraped.Title, err)
	}

	if existing == nil {
		// First sighting: acknowledge the site's quantity as our
		// baseline, then optionally commit on top of it.
		scraped.YourCommitment = scraped.CurrentQuantity
		r.autoCommit(ctx, &scraped)

		if _, err := r.store.UpsertDeal(ctx, &scraped); err != nil {
			return false, false, false, fmt.Errorf("failed to store deal %s: %v", scraped.Title, err)
		}
		slog.Info("New deal found", "title", scraped.Title, "store", scraped.Store,
			"price", scraped.Price)
		return true, false, true, nil
	}

	// An existing deal whose new-deal notification never went out
	// rejoins the next batch.
	seen, err := r.store.NotificationSeen(ctx, scraped.ID, models.KindNewDeal)
	if err != nil {
		slog.Warn("Failed to check new-deal notification", "id", scraped.ID, "error", err)
	} else if !seen {
		announce = true
	}

	next := *existing
	next.Title = scraped.Title
	next.Store = scraped.Store
	next.Price = scraped.Price
	next.MaxQuantity = scraped.MaxQuantity
	next.Link = scraped.Link
	next.DeliveryDate = scraped.DeliveryDate

	if scraped.CurrentQuantity != existing.CurrentQuantity {
		isUpdated = true
		if r.notifyQuantity(ctx, scraped, existing.CurrentQuantity, scraped.CurrentQuantity) {
			next.CurrentQuantity = scraped.CurrentQuantity
		}
	}

	if scraped.CurrentQuantity != existing.YourCommitment {
		isUpdated = true
		if r.notifyCommitment(ctx, scraped, existing.YourCommitment, scraped.CurrentQuantity) {
			next.YourCommitment = scraped.CurrentQuantity
		}
	}

	if _, err := r.store.UpsertDeal(ctx, &next); err != nil {
		return false, false, false, fmt.Errorf("failed to update deal %s: %v", scraped.Title, err)
	}
	return false, isUpdated, announce, nil
}

// autoCommit places the configured commitment on a newly discovered
// deal, capped to whatever quantity the deal still has open.
func (r *Runner) autoCommit(ctx context.Context, deal *models.Deal) {
	if !r.cfg.Monitor.AutoCommitNewDeals || deal.CommitURL == "" {
		return
	}

	qty := r.cfg.Monitor.AutoCommitQuantity
	if deal.MaxQuantity > 0 {
		remaining := deal.MaxQuantity - deal.CurrentQuantity
		if remaining <= 0 {
			slog.Info("Deal already full, skipping auto-commit", "title", deal.Title)
			return
		}
		qty = min(qty, remaining)
	}
	if qty <= 0 {
		return
	}

	if err := r.site.CommitToDeal(ctx, deal.CommitURL, qty); err != nil {
		slog.Error("Auto-commit failed", "title", deal.Title, "error", err)
		return
	}
	metricAutoCommits.Inc()
	// Our commitment lands on top of what the site already showed.
	deal.YourCommitment = deal.CurrentQuantity + qty
	slog.Info("Auto-committed to new deal", "title", deal.Title, "quantity", qty)
}

// announceNewDeals sends one batched notification for this check's new
// deals and marks each deal only after the batch goes out, so a failed
// send is retried on the next check.
func (r *Runner) announceNewDeals(ctx context.Context, deals []models.Deal) {
	batchID := uuid.NewString()
	if err := r.notifier.SendNewDeals(ctx, deals); err != nil {
		slog.Error("Failed to announce new deals", "count", len(deals), "error", err)
		return
	}
	r.countNotifications(len(deals))

	for _, deal := range deals {
		if err := r.store.MarkNotificationSent(ctx, deal.ID, models.KindNewDeal); err != nil {
			slog.Warn("Failed to mark new-deal notification", "id", deal.ID, "error", err)
		}
	}
	if err := r.store.MarkNotificationSent(ctx, batchID, models.KindBatch); err != nil {
		slog.Warn("Failed to record batch", "batch", batchID, "error", err)
	}
	slog.Info("Announced new deals", "count", len(deals), "batch", batchID)
}

// notifyQuantity reports whether the stored quantity may advance: yes
// when the notification went out now or on an earlier check, no when
// the send failed and the change must be re-detected next check.
func (r *Runner) notifyQuantity(ctx context.Context, deal models.Deal, oldQty, newQty int) bool {
	key := fmt.Sprintf("%s:%d", deal.ID, newQty)
	seen, err := r.store.NotificationSeen(ctx, key, models.KindQuantityUpdate)
	if err != nil {
		slog.Warn("Failed to check quantity notification", "key", key, "error", err)
		return false
	}
	if seen {
		return true
	}

	if err := r.notifier.SendQuantityUpdate(ctx, deal, oldQty, newQty); err != nil {
		slog.Error("Failed to send quantity update", "title", deal.Title, "error", err)
		return false
	}
	r.countNotifications(1)
	if err := r.store.MarkNotificationSent(ctx, key, models.KindQuantityUpdate); err != nil {
		slog.Warn("Failed to mark quantity notification", "key", key, "error", err)
	}
	slog.Info("Quantity changed", "title", deal.Title, "from", oldQty, "to", newQty)
	return true
}

// notifyCommitment mirrors notifyQuantity for commitment divergence.
func (r *Runner) notifyCommitment(ctx context.Context, deal models.Deal, oldVal, newVal int) bool {
	key := fmt.Sprintf("%s:%d", deal.ID, newVal)
	seen, err := r.store.NotificationSeen(ctx, key, models.KindCommitmentUpdate)
	if err != nil {
		slog.Warn("Failed to check commitment notification", "key", key, "error", err)
		return false
	}
	if seen {
		return true
	}

	if err := r.notifier.SendCommitmentUpdate(ctx, deal, oldVal, newVal); err != nil {
		slog.Error("Failed to send commitment update", "title", deal.Title, "error", err)
		return false
	}
	r.countNotifications(1)
	if err := r.store.MarkNotificationSent(ctx, key, models.KindCommitmentUpdate); err != nil {
		slog.Warn("Failed to mark commitment notification", "key", key, "error", err)
	}
	slog.Info("Commitment diverged", "title", deal.Title, "recorded", oldVal, "site", newVal)
	return true
}

// notifyError forwards a check failure to Discord, at most once per
// cooldown window.
func (r *Runner) notifyError(ctx context.Context, message string) {
	r.mu.Lock()
	throttled := time.Since(r.lastErrorNotify) < errorNotifyCooldown
	if !throttled {
		r.lastErrorNotify = time.Now()
	}
	r.mu.Unlock()
	if throttled {
		return
	}

	if err := r.notifier.SendError(ctx, message); err != nil {
		slog.Warn("Failed to send error notification", "error", err)
		return
	}
	r.countNotifications(1)
}

func (r *Runner) countNotifications(n int) {
	metricNotifications.Add(float64(n))
	r.mu.Lock()
	r.status.NotificationsSent += n
	r.mu.Unlock()
}

func (r *Runner) recordCheck(newCount, updatedCount int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastCheck = time.Now().UTC()
	r.status.ChecksCompleted++
	r.status.NewDeals += newCount
	r.status.UpdatedDeals += updatedCount
	if err != nil {
		r.status.LastError = err.Error()
	} else {
		r.status.LastError = ""
	}
}
