package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buyinggroup-monitor/internal/models"
)

func TestDealDocRoundTrip(t *testing.T) {
	deal := &models.Deal{
		ID:              models.DealID("Acme", "Widget"),
		Title:           "Widget",
		Store:           "Acme",
		Price:           decimal.RequireFromString("9.99"),
		MaxQuantity:     10,
		CurrentQuantity: 4,
		YourCommitment:  2,
		Link:            "https://acme.example.com/widget",
		DeliveryDate:    "March 15",
		CreatedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	doc := toDealDoc(deal)
	if doc.Price != "9.99" {
		t.Errorf("Price serialized as %q, want 9.99", doc.Price)
	}

	back, err := fromDealDoc(deal.ID, doc)
	if err != nil {
		t.Fatalf("fromDealDoc() error = %v", err)
	}
	if back.ID != deal.ID || back.Title != deal.Title || back.Store != deal.Store {
		t.Errorf("Identity fields did not round-trip: %+v", back)
	}
	if !back.Price.Equal(deal.Price) {
		t.Errorf("Price = %s, want %s", back.Price, deal.Price)
	}
	if back.CurrentQuantity != 4 || back.YourCommitment != 2 {
		t.Errorf("Quantities = %d/%d, want 4/2", back.CurrentQuantity, back.YourCommitment)
	}
	if !back.CreatedAt.Equal(deal.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", back.CreatedAt, deal.CreatedAt)
	}
}

func TestFromDealDoc_EmptyPrice(t *testing.T) {
	deal, err := fromDealDoc("abc", dealDoc{Title: "Widget", Store: "Acme"})
	if err != nil {
		t.Fatalf("fromDealDoc() error = %v", err)
	}
	if !deal.Price.IsZero() {
		t.Errorf("Price = %s, want 0", deal.Price)
	}
}

func TestFromDealDoc_MalformedPrice(t *testing.T) {
	_, err := fromDealDoc("abc", dealDoc{Title: "Widget", Store: "Acme", Price: "not-a-number"})
	if err == nil {
		t.Fatal("Expected an error for a malformed price")
	}
	if !strings.Contains(err.Error(), "malformed price") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestNotificationDocID(t *testing.T) {
	id := notificationDocID("deadbeef:5", models.KindQuantityUpdate)
	if id != "quantity_update:deadbeef:5" {
		t.Errorf("notificationDocID = %q", id)
	}
}
