package scraper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

type Selectors struct {
	Dashboard DashboardSelectors `json:"dashboard"`
}

type DashboardSelectors struct {
	Card     CardContainer `json:"card"`
	Elements CardElements  `json:"elements"`
}

type CardContainer struct {
	Item string `json:"item"` // e.g., "div.group.relative"
}

type CardElements struct {
	Title       string `json:"title"`
	Store       string `json:"store"`
	Price       string `json:"price"`
	Link        string `json:"link"`
	MaxQuantity string `json:"max_quantity"`
	Commitment  string `json:"commitment"`
	CommitForm  string `json:"commit_form"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (Selectors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Selectors{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
func LoadSelectorsFromBytes(data []byte) (Selectors, error) {
	var sel Selectors
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selectors{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}

	return sel, nil
}

// LoadSelectorsOrDefault loads selectors from path, falling back to the
// built-in defaults when path is empty or the file cannot be used. The site's
// markup is an unstable external contract, so the override exists to survive
// class-name churn without a rebuild.
func LoadSelectorsOrDefault(path string) Selectors {
	if path == "" {
		return DefaultSelectors()
	}
	sel, err := LoadSelectors(path)
	if err != nil {
		slog.Warn("Failed to load external selectors, falling back to defaults", "path", path, "error", err)
		return DefaultSelectors()
	}
	slog.Info("Loaded selectors from external file", "path", path)
	return sel
}

// DefaultSelectors returns the selector set matching the site's current
// dashboard markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Dashboard: DashboardSelectors{
			Card: CardContainer{
				Item: "div.group.relative.flex.flex-col.overflow-hidden.rounded-lg.border",
			},
			Elements: CardElements{
				Title:       "h3.text-sm.font-medium.text-gray-900",
				Store:       "p.text-sm.italic",
				Price:       "p.text-base.font-medium.text-gray-900",
				Link:        `a[target="_blank"]`,
				MaxQuantity: `input[type="number"]`,
				Commitment:  "span.leading-8",
				CommitForm:  "form",
			},
		},
	}
}
