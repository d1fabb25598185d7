package monitor

import (
	"context"
	"time"

	"buyinggroup-monitor/internal/models"
)

// DealStore abstracts the storage layer for deals and the
// notification-dedup log.
type DealStore interface {
	GetDeal(ctx context.Context, id string) (*models.Deal, error)
	UpsertDeal(ctx context.Context, deal *models.Deal) (bool, error)
	ListDeals(ctx context.Context) ([]models.Deal, error)
	ListActiveDeals(ctx context.Context) ([]models.Deal, error)
	Stats(ctx context.Context) (*models.StoreStats, error)
	NotificationSeen(ctx context.Context, key string, kind models.NotificationKind) (bool, error)
	MarkNotificationSent(ctx context.Context, key string, kind models.NotificationKind) error
}

// DealNotifier abstracts the notification layer.
type DealNotifier interface {
	SendNewDeals(ctx context.Context, deals []models.Deal) error
	SendQuantityUpdate(ctx context.Context, deal models.Deal, oldQty, newQty int) error
	SendCommitmentUpdate(ctx context.Context, deal models.Deal, oldVal, newVal int) error
	SendError(ctx context.Context, message string) error
	SendStartup(ctx context.Context, interval time.Duration, autoCommit bool, autoQty int) error
	SendSummary(ctx context.Context, deals []models.Deal) error
}

// SiteClient abstracts the authenticated session against the buying
// group site. Sessions are established lazily inside each call, so the
// monitor never logs in explicitly.
type SiteClient interface {
	FetchDashboard(ctx context.Context) (string, error)
	CommitToDeal(ctx context.Context, commitURL string, quantity int) error
}

// DealExtractor turns dashboard HTML into deals.
type DealExtractor interface {
	Extract(html string) []models.Deal
}
