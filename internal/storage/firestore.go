package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"buyinggroup-monitor/internal/models"
)

const (
	dealsCollection         = "deals"
	notificationsCollection = "notifications"
)

// dealDoc is the Firestore shape of a deal. Price travels as a string
// because decimal.Decimal does not survive Firestore's reflection.
type dealDoc struct {
	Title           string    `firestore:"title"`
	Store           string    `firestore:"store"`
	Price           string    `firestore:"price"`
	MaxQuantity     int       `firestore:"maxQuantity"`
	CurrentQuantity int       `firestore:"currentQuantity"`
	YourCommitment  int       `firestore:"yourCommitment"`
	Link            string    `firestore:"link"`
	DeliveryDate    string    `firestore:"deliveryDate"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

type notificationDoc struct {
	Key    string    `firestore:"key"`
	Kind   string    `firestore:"kind"`
	SentAt time.Time `firestore:"sentAt"`
}

func toDealDoc(deal *models.Deal) dealDoc {
	return dealDoc{
		Title:           deal.Title,
		Store:           deal.Store,
		Price:           deal.Price.String(),
		MaxQuantity:     deal.MaxQuantity,
		CurrentQuantity: deal.CurrentQuantity,
		YourCommitment:  deal.YourCommitment,
		Link:            deal.Link,
		DeliveryDate:    deal.DeliveryDate,
		CreatedAt:       deal.CreatedAt,
		UpdatedAt:       deal.UpdatedAt,
	}
}

func fromDealDoc(id string, doc dealDoc) (models.Deal, error) {
	price := decimal.Zero
	if doc.Price != "" {
		parsed, err := decimal.NewFromString(doc.Price)
		if err != nil {
			return models.Deal{}, fmt.Errorf("deal %s has malformed price %q: %w", id, doc.Price, err)
		}
		price = parsed
	}
	return models.Deal{
		ID:              id,
		Title:           doc.Title,
		Store:           doc.Store,
		Price:           price,
		MaxQuantity:     doc.MaxQuantity,
		CurrentQuantity: doc.CurrentQuantity,
		YourCommitment:  doc.YourCommitment,
		Link:            doc.Link,
		DeliveryDate:    doc.DeliveryDate,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// notificationDocID keys the dedup log. One document per (kind, key).
func notificationDocID(key string, kind models.NotificationKind) string {
	return string(kind) + ":" + key
}

// FirestoreStore keeps state in Cloud Firestore, for deployments where
// the monitor runs on Cloud Run and local disk does not persist.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// GetDeal returns the stored deal or (nil, nil) when the id is unknown.
func (s *FirestoreStore) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	doc, err := s.client.Collection(dealsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deal %s: %w", id, err)
	}
	if !doc.Exists() {
		return nil, nil
	}

	var data dealDoc
	if err := doc.DataTo(&data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deal %s: %w", id, err)
	}
	deal, err := fromDealDoc(doc.Ref.ID, data)
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// UpsertDeal writes the deal and reports whether the document was
// created. Timestamps are managed the same way as the SQLite store.
func (s *FirestoreStore) UpsertDeal(ctx context.Context, deal *models.Deal) (bool, error) {
	existing, err := s.GetDeal(ctx, deal.ID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	deal.UpdatedAt = now
	if existing == nil {
		deal.CreatedAt = now
	} else {
		deal.CreatedAt = existing.CreatedAt
	}

	if _, err := s.client.Collection(dealsCollection).Doc(deal.ID).Set(ctx, toDealDoc(deal)); err != nil {
		return false, fmt.Errorf("failed to upsert deal %s: %w", deal.ID, err)
	}
	return existing == nil, nil
}

// ListDeals returns every stored deal, newest first.
func (s *FirestoreStore) ListDeals(ctx context.Context) ([]models.Deal, error) {
	iter := s.client.Collection(dealsCollection).
		OrderBy("updatedAt", firestore.Desc).
		Documents(ctx)
	return s.collectDeals(iter)
}

// ListActiveDeals returns deals with committed purchasers.
func (s *FirestoreStore) ListActiveDeals(ctx context.Context) ([]models.Deal, error) {
	iter := s.client.Collection(dealsCollection).
		Where("currentQuantity", ">", 0).
		Documents(ctx)
	return s.collectDeals(iter)
}

func (s *FirestoreStore) collectDeals(iter *firestore.DocumentIterator) ([]models.Deal, error) {
	defer iter.Stop()

	var deals []models.Deal
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate deals: %w", err)
		}

		var data dealDoc
		if err := doc.DataTo(&data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deal %s: %w", doc.Ref.ID, err)
		}
		deal, err := fromDealDoc(doc.Ref.ID, data)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, nil
}

// Stats aggregates the persisted deal set for the status endpoint.
func (s *FirestoreStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	deals := s.client.Collection(dealsCollection)

	total, err := s.countQuery(ctx, deals.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to count deals: %w", err)
	}
	active, err := s.countQuery(ctx, deals.Where("currentQuantity", ">", 0))
	if err != nil {
		return nil, fmt.Errorf("failed to count active deals: %w", err)
	}
	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
	recent, err := s.countQuery(ctx, deals.Where("createdAt", ">=", cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent deals: %w", err)
	}

	committed, err := s.collectDeals(deals.Where("yourCommitment", ">", 0).Documents(ctx))
	if err != nil {
		return nil, err
	}
	value := decimal.Zero
	for _, deal := range committed {
		value = value.Add(deal.Price.Mul(decimal.NewFromInt(int64(deal.YourCommitment))))
	}

	return &models.StoreStats{
		TotalDeals:     total,
		ActiveDeals:    active,
		CommittedValue: value,
		RecentDeals:    recent,
	}, nil
}

func (s *FirestoreStore) countQuery(ctx context.Context, q firestore.Query) (int, error) {
	snapshot, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, err
	}
	countValue, ok := snapshot["all"]
	if !ok {
		return 0, fmt.Errorf("count aggregation result missing 'all' key")
	}
	pbValue, ok := countValue.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("count aggregation result has unexpected type %T", countValue)
	}
	return int(pbValue.GetIntegerValue()), nil
}

// NotificationSeen reports whether a notification with this key and
// kind has already been sent.
func (s *FirestoreStore) NotificationSeen(ctx context.Context, key string, kind models.NotificationKind) (bool, error) {
	doc, err := s.client.Collection(notificationsCollection).Doc(notificationDocID(key, kind)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check notification %s/%s: %w", kind, key, err)
	}
	return doc.Exists(), nil
}

// MarkNotificationSent records a delivered notification. Marking the
// same (key, kind) twice overwrites the document in place.
func (s *FirestoreStore) MarkNotificationSent(ctx context.Context, key string, kind models.NotificationKind) error {
	_, err := s.client.Collection(notificationsCollection).
		Doc(notificationDocID(key, kind)).
		Set(ctx, notificationDoc{
			Key:    key,
			Kind:   string(kind),
			SentAt: time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to record notification %s/%s: %w", kind, key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
