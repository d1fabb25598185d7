package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrLoginFailed is returned when the site rejects our credentials or the
// session cannot be established.
var ErrLoginFailed = errors.New("login failed")

// Sentinel values the extractor assigns when a card is missing its title or
// store. A deal carrying either is invalid and must not be persisted.
const (
	UnknownTitle = "Unknown Title"
	UnknownStore = "Unknown Store"
)

// Deal represents one buying-group listing scraped from the dashboard.
type Deal struct {
	ID              string          `db:"deal_id" validate:"required"`
	Title           string          `db:"title" validate:"required"`
	Store           string          `db:"store" validate:"required"`
	Price           decimal.Decimal `db:"price"`
	MaxQuantity     int             `db:"max_quantity" validate:"gte=0"`
	CurrentQuantity int             `db:"current_quantity" validate:"gte=0"`
	YourCommitment  int             `db:"your_commitment" validate:"gte=0"`
	Link            string          `db:"link" validate:"omitempty,url"`
	DeliveryDate    string          `db:"delivery_date"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`

	// CommitURL is the form action harvested from the card, used by
	// auto-commit within the same tick. Not persisted.
	CommitURL string `db:"-"`
}

// Valid reports whether the deal carries real scraped content rather than
// extraction sentinels.
func (d Deal) Valid() bool {
	return d.Title != UnknownTitle && d.Store != UnknownStore &&
		strings.TrimSpace(d.Title) != "" && strings.TrimSpace(d.Store) != ""
}

// DealID derives the stable identifier for a listing from its store and
// title. The derivation is a pure function: repeated scrapes of an unchanged
// listing always yield the same id.
func DealID(store, title string) string {
	normalized := strings.ToLower(strings.TrimSpace(store)) + "|" + strings.ToLower(strings.TrimSpace(title))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])[:16]
}

// NotificationKind labels an entry in the notification-dedup log.
type NotificationKind string

const (
	KindNewDeal          NotificationKind = "new_deal"
	KindQuantityUpdate   NotificationKind = "quantity_update"
	KindCommitmentUpdate NotificationKind = "commitment_update"
	KindBatch            NotificationKind = "batch"
)

// NotificationRecord marks that a notification of a given kind has been sent
// for a given key. Append-only; never updated.
type NotificationRecord struct {
	Key    string           `db:"event_key"`
	Kind   NotificationKind `db:"kind"`
	SentAt time.Time        `db:"sent_at"`
}

// StoreStats summarizes the persisted deal set for the status endpoint.
type StoreStats struct {
	TotalDeals     int             `json:"total_deals"`
	ActiveDeals    int             `json:"active_deals"`
	CommittedValue decimal.Decimal `json:"committed_value"`
	RecentDeals    int             `json:"recent_deals"`
}
