// Package notifier delivers deal events to a Discord webhook as rich
// embeds. Sends are rate limited, retried on transient failures, and
// become no-ops when no webhook is configured.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"buyinggroup-monitor/internal/models"
	"buyinggroup-monitor/internal/util"
)

const (
	colorNewDeal    = 0x00FF00
	colorQuantity   = 0xFFA500
	colorCommitment = 0x9B59B6
	colorError      = 0xFF0000
	colorStartup    = 0x0099FF
	colorSummary    = 0x3498DB

	footerText = "Buying Group Monitor"

	// Discord rejects messages carrying more than ten embeds.
	maxEmbedsPerMessage = 10

	// Summary embeds list at most this many deals before truncating.
	maxSummaryLines = 10
)

type Client struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
}

// New builds a webhook client. An empty webhookURL produces a client
// whose sends succeed without doing anything, so the monitor can run
// without Discord wired up.
func New(webhookURL string, maxRetries int, retryDelay time.Duration) *Client {
	return &Client{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		// Webhooks allow 30 requests/min; one every two seconds stays
		// clear of that without stalling a batch.
		rateLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

// SendNewDeals announces a batch of newly discovered deals in a single
// webhook call, one embed per deal. Batches beyond Discord's embed cap
// spill into follow-up messages.
func (c *Client) SendNewDeals(ctx context.Context, deals []models.Deal) error {
	if c.webhookURL == "" || len(deals) == 0 {
		return nil
	}

	embeds := make([]discordEmbed, 0, len(deals))
	for _, deal := range deals {
		embeds = append(embeds, formatNewDealEmbed(deal))
	}

	for start := 0; start < len(embeds); start += maxEmbedsPerMessage {
		end := min(start+maxEmbedsPerMessage, len(embeds))
		if err := c.send(ctx, embeds[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// SendQuantityUpdate announces a change in a deal's committed quantity.
func (c *Client) SendQuantityUpdate(ctx context.Context, deal models.Deal, oldQty, newQty int) error {
	if c.webhookURL == "" {
		return nil
	}
	embed := discordEmbed{
		Title:     "📊 Quantity Updated: " + deal.Title,
		URL:       deal.Link,
		Color:     colorQuantity,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Store", Value: deal.Store, Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d → %d", oldQty, newQty), Inline: true},
			{Name: "Price", Value: formatPrice(deal), Inline: true},
		},
		Footer: discordEmbedFooter{Text: footerText},
	}
	return c.send(ctx, []discordEmbed{embed})
}

// SendCommitmentUpdate announces that the site's quantity diverged from
// our recorded commitment.
func (c *Client) SendCommitmentUpdate(ctx context.Context, deal models.Deal, oldVal, newVal int) error {
	if c.webhookURL == "" {
		return nil
	}
	embed := discordEmbed{
		Title:     "📝 Commitment Changed: " + deal.Title,
		URL:       deal.Link,
		Color:     colorCommitment,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Store", Value: deal.Store, Inline: true},
			{Name: "Commitment", Value: fmt.Sprintf("%d → %d", oldVal, newVal), Inline: true},
			{Name: "Price", Value: formatPrice(deal), Inline: true},
		},
		Footer: discordEmbedFooter{Text: footerText},
	}
	return c.send(ctx, []discordEmbed{embed})
}

// SendError reports a monitoring failure to the channel.
func (c *Client) SendError(ctx context.Context, message string) error {
	if c.webhookURL == "" {
		return nil
	}
	embed := discordEmbed{
		Title:       "❌ Monitor Error",
		Description: message,
		Color:       colorError,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      discordEmbedFooter{Text: footerText},
	}
	return c.send(ctx, []discordEmbed{embed})
}

// SendStartup announces that the monitor came up and how it is
// configured.
func (c *Client) SendStartup(ctx context.Context, interval time.Duration, autoCommit bool, autoQty int) error {
	if c.webhookURL == "" {
		return nil
	}
	autoCommitValue := "Disabled"
	if autoCommit {
		autoCommitValue = fmt.Sprintf("Enabled (%d per deal)", autoQty)
	}
	embed := discordEmbed{
		Title:     "🚀 Buying Group Monitor Started",
		Color:     colorStartup,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Check Interval", Value: interval.String(), Inline: true},
			{Name: "Auto-Commit", Value: autoCommitValue, Inline: true},
		},
		Footer: discordEmbedFooter{Text: footerText},
	}
	return c.send(ctx, []discordEmbed{embed})
}

// SendSummary lists the currently active deals, truncated to keep the
// embed readable.
func (c *Client) SendSummary(ctx context.Context, deals []models.Deal) error {
	if c.webhookURL == "" {
		return nil
	}

	var b strings.Builder
	if len(deals) == 0 {
		b.WriteString("No active deals right now.")
	}
	for i, deal := range deals {
		if i == maxSummaryLines {
			fmt.Fprintf(&b, "…and %d more", len(deals)-maxSummaryLines)
			break
		}
		fmt.Fprintf(&b, "• **%s** (%s): %d committed\n", deal.Title, deal.Store, deal.CurrentQuantity)
	}

	embed := discordEmbed{
		Title:       fmt.Sprintf("📋 Active Deals: %d", len(deals)),
		Description: b.String(),
		Color:       colorSummary,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      discordEmbedFooter{Text: footerText},
	}
	return c.send(ctx, []discordEmbed{embed})
}

func formatNewDealEmbed(deal models.Deal) discordEmbed {
	fields := []discordEmbedField{
		{Name: "Store", Value: deal.Store, Inline: true},
		{Name: "Price", Value: formatPrice(deal), Inline: true},
		{Name: "Max Quantity", Value: strconv.Itoa(deal.MaxQuantity), Inline: true},
	}
	if deal.DeliveryDate != "" {
		fields = append(fields, discordEmbedField{Name: "Deliver By", Value: deal.DeliveryDate, Inline: true})
	}

	var description string
	if deal.Link != "" {
		description = fmt.Sprintf("[View Product](%s)", deal.Link)
	}

	return discordEmbed{
		Title:       "🆕 New Deal: " + deal.Title,
		URL:         deal.Link,
		Description: description,
		Color:       colorNewDeal,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields:      fields,
		Footer:      discordEmbedFooter{Text: footerText},
	}
}

func formatPrice(deal models.Deal) string {
	return "$" + deal.Price.StringFixed(2)
}

// send posts the embeds to the webhook, waiting on the rate limiter
// before each attempt and retrying transient Discord failures.
func (c *Client) send(ctx context.Context, embeds []discordEmbed) error {
	payload, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()
	target := parsedURL.String()

	return util.RetryWithBackoff(ctx, c.maxRetries, c.retryDelay, func(attempt int) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return util.Unrecoverable(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return util.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyResponse(resp, body)
	})
}

// classifyResponse maps a Discord response onto the retry policy:
// success is nil, 429 retries after the server-provided delay, other
// 4xx responses fail immediately, everything else retries with the
// default backoff.
func classifyResponse(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("discord rate limited: %s", strings.TrimSpace(string(body)))
		if secs, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil && secs > 0 {
			return util.RetryAfter(err, time.Duration(secs)*time.Second)
		}
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return util.Unrecoverable(fmt.Errorf("discord rejected message: %s: %s",
			resp.Status, strings.TrimSpace(string(body))))
	default:
		return fmt.Errorf("discord status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}
