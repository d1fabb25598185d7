package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDealID_Deterministic(t *testing.T) {
	first := DealID("Acme", "Widget")
	second := DealID("Acme", "Widget")
	if first != second {
		t.Errorf("DealID not deterministic: %q vs %q", first, second)
	}
	if len(first) != 16 {
		t.Errorf("Expected 16-char id, got %d chars: %q", len(first), first)
	}
}

func TestDealID_NormalizesCaseAndSpace(t *testing.T) {
	base := DealID("Acme", "Widget")
	if DealID("  acme ", " WIDGET ") != base {
		t.Error("DealID should ignore case and surrounding whitespace")
	}
}

func TestDealID_DistinctInputs(t *testing.T) {
	tests := []struct {
		name           string
		storeA, titleA string
		storeB, titleB string
	}{
		{"different titles", "Acme", "Widget", "Acme", "Gadget"},
		{"different stores", "Acme", "Widget", "Globex", "Widget"},
		{"swapped fields", "Acme", "Widget", "Widget", "Acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if DealID(tt.storeA, tt.titleA) == DealID(tt.storeB, tt.titleB) {
				t.Errorf("Expected distinct ids for (%s,%s) and (%s,%s)",
					tt.storeA, tt.titleA, tt.storeB, tt.titleB)
			}
		})
	}
}

func TestDeal_Valid(t *testing.T) {
	tests := []struct {
		name string
		deal Deal
		want bool
	}{
		{"real deal", Deal{Title: "Widget", Store: "Acme"}, true},
		{"sentinel title", Deal{Title: UnknownTitle, Store: "Acme"}, false},
		{"sentinel store", Deal{Title: "Widget", Store: UnknownStore}, false},
		{"empty title", Deal{Title: "  ", Store: "Acme"}, false},
		{"empty store", Deal{Title: "Widget", Store: ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.deal.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeal_PriceExactComparison(t *testing.T) {
	a := decimal.RequireFromString("9.99")
	b := decimal.RequireFromString("9.990")
	if !a.Equal(b) {
		t.Error("9.99 and 9.990 should compare equal as decimals")
	}
	c := decimal.RequireFromString("9.98")
	if a.Equal(c) {
		t.Error("9.99 and 9.98 must not compare equal")
	}
}
