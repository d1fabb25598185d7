package util

import (
	"testing"
)

func TestSafeAtoi(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"42", 42},
		{"  7 ", 7},
		{"", 0},
		{"abc", 0},
		{"-3", -3},
	}

	for _, tt := range tests {
		if got := SafeAtoi(tt.input); got != tt.want {
			t.Errorf("SafeAtoi(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestFirstInt(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"You have committed to purchase 3 of this item", 3},
		{"committed to purchase 12", 12},
		{"no numbers here", 0},
		{"", 0},
		{"limit 5 of 10", 5},
	}

	for _, tt := range tests {
		if got := FirstInt(tt.input); got != tt.want {
			t.Errorf("FirstInt(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Price: $9.99", "9.99"},
		{"Price: $1,299.00", "1299.00"},
		{"$150", "150"},
		{"42.5", "42.5"},
		{"Price:", "0"},
		{"", "0"},
	}

	for _, tt := range tests {
		got := ParsePrice(tt.input)
		if got.String() != tt.want {
			t.Errorf("ParsePrice(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
