package scraper

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"buyinggroup-monitor/internal/models"
	"buyinggroup-monitor/internal/util"
	"buyinggroup-monitor/internal/validator"
)

// Positional text markers inside a deal card. The surrounding class names
// churn with site redesigns; these literals have been stable.
const (
	storeMarker      = "From:"
	priceMarker      = "Price:"
	commitmentMarker = "committed to purchase"
)

var deliveryRegex = regexp.MustCompile(`Deliver by ([^(]+)`)

// Extractor turns dashboard HTML into deal records. Extraction failures for
// an individual card are logged and skipped, never propagated.
type Extractor struct {
	selectors Selectors
	validate  *validator.Validator
}

func New(selectors Selectors) *Extractor {
	return &Extractor{
		selectors: selectors,
		validate:  validator.New(),
	}
}

// Extract parses the dashboard page and returns every valid deal card on it.
// A card missing its title or store is discarded; a page with no cards yields
// an empty slice.
func (e *Extractor) Extract(html string) []models.Deal {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		slog.Warn("Failed to parse dashboard HTML", "error", err)
		return nil
	}

	var deals []models.Deal
	doc.Find(e.selectors.Dashboard.Card.Item).Each(func(i int, card *goquery.Selection) {
		deal := e.extractCard(card)
		if !deal.Valid() {
			slog.Warn("Dropping card with missing title or store", "index", i, "title", deal.Title, "store", deal.Store)
			return
		}

		deal.ID = models.DealID(deal.Store, deal.Title)
		if err := e.validate.ValidateStruct(deal); err != nil {
			slog.Warn("Dropping card failing validation", "index", i, "title", deal.Title, "error", err)
			return
		}
		deals = append(deals, deal)
	})
	return deals
}

func (e *Extractor) extractCard(card *goquery.Selection) models.Deal {
	sel := e.selectors.Dashboard.Elements
	deal := models.Deal{
		Title: models.UnknownTitle,
		Store: models.UnknownStore,
	}

	if title := strings.TrimSpace(card.Find(sel.Title).First().Text()); title != "" {
		deal.Title = title
	}

	card.Find(sel.Store).EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if store := textAfterMarker(p.Text(), storeMarker); store != "" {
			deal.Store = store
			return false
		}
		return true
	})

	deal.Price = util.ParsePrice(priceText(card.Find(sel.Price)))
	deal.Link = util.NormalizeLink(card.Find(sel.Link).First().AttrOr("href", ""))
	deal.MaxQuantity = util.SafeAtoi(card.Find(sel.MaxQuantity).First().AttrOr("max", "0"))

	card.Find(sel.Commitment).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), commitmentMarker) {
			deal.CurrentQuantity = util.FirstInt(s.Text())
			return false
		}
		return true
	})

	if m := deliveryRegex.FindStringSubmatch(card.Text()); m != nil {
		deal.DeliveryDate = strings.TrimSpace(m[1])
	}

	deal.CommitURL = card.Find(sel.CommitForm).First().AttrOr("action", "")
	return deal
}

// priceText prefers the element carrying the "Price:" marker, falling back to
// the first selector match when no element is labelled.
func priceText(matches *goquery.Selection) string {
	text := ""
	matches.EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if strings.Contains(p.Text(), priceMarker) {
			text = p.Text()
			return false
		}
		return true
	})
	if text == "" {
		text = matches.First().Text()
	}
	return text
}

func textAfterMarker(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+len(marker):])
}
