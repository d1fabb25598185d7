package util

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func SafeAtoi(s string) int {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var firstIntRegex = regexp.MustCompile(`\d+`)

// FirstInt returns the first unsigned integer embedded in s, or 0 if none.
func FirstInt(s string) int {
	return SafeAtoi(firstIntRegex.FindString(s))
}

var priceRegex = regexp.MustCompile(`\$?([\d,]+\.?\d*)`)

// ParsePrice extracts a monetary decimal from text like "Price: $1,299.99".
// Missing or unparseable prices yield zero, never an error.
func ParsePrice(s string) decimal.Decimal {
	m := priceRegex.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}
