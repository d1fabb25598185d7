// Package site implements the authenticated HTTP session against the
// buying group web application. It logs in through the regular login
// form, keeps the session cookie jar, and exposes the dashboard HTML
// and the per-deal commit form endpoints.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"

	"buyinggroup-monitor/internal/config"
	"buyinggroup-monitor/internal/models"
	"buyinggroup-monitor/internal/util"
)

const (
	loginPath     = "/login"
	dashboardPath = "/dashboard"
)

var errSessionExpired = errors.New("session expired")

// Client holds an authenticated session against the buying group site.
// It is not safe for concurrent use.
type Client struct {
	http       *resty.Client
	username   string
	password   string
	csrfToken  string
	loggedIn   bool
	maxRetries int
	retryDelay time.Duration
}

// New builds a client from the site configuration. The cookie jar is
// scoped with the public suffix list so session cookies behave the way
// a browser's would.
func New(cfg config.SiteConfig) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeader("User-Agent", cfg.UserAgent).
		SetCookieJar(jar).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Client{
		http:       httpClient,
		username:   cfg.Username,
		password:   cfg.Password,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryBaseDelay(),
	}, nil
}

// Login fetches the login form, harvests its CSRF token and posts the
// credentials. The site answers a successful login with a redirect away
// from /login, so the final URL decides the outcome.
func (c *Client) Login(ctx context.Context) error {
	c.loggedIn = false

	resp, err := c.http.R().SetContext(ctx).Get(loginPath)
	if err != nil {
		return fmt.Errorf("failed to fetch login page: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("login page returned status %d", resp.StatusCode())
	}

	token, err := csrfToken(resp.String())
	if err != nil {
		return util.Unrecoverable(fmt.Errorf("%w: %v", models.ErrLoginFailed, err))
	}

	resp, err = c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_token":   token,
			"email":    c.username,
			"password": c.password,
			"remember": "on",
		}).
		Post(loginPath)
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	if finalPath(resp) == loginPath {
		return util.Unrecoverable(fmt.Errorf("%w: site returned to the login form", models.ErrLoginFailed))
	}

	c.csrfToken = token
	c.loggedIn = true
	slog.Info("Logged in to buying group site")
	return nil
}

// FetchDashboard returns the dashboard HTML, logging in first when no
// session is held and once more when the site bounces an expired
// session back to the login form. Transient failures are retried with
// exponential backoff.
func (c *Client) FetchDashboard(ctx context.Context) (string, error) {
	var html string

	err := util.RetryWithBackoff(ctx, c.maxRetries, c.retryDelay, func(attempt int) error {
		if !c.loggedIn {
			if err := c.Login(ctx); err != nil {
				return err
			}
		}

		resp, err := c.http.R().SetContext(ctx).Get(dashboardPath)
		if err != nil {
			return fmt.Errorf("failed to fetch dashboard: %w", err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("dashboard returned status %d", resp.StatusCode())
		}
		if finalPath(resp) == loginPath || isLoginPage(resp.String()) {
			c.loggedIn = false
			slog.Warn("Session expired, will log in again", "attempt", attempt)
			return errSessionExpired
		}

		html = resp.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

// CommitToDeal posts a purchase commitment to a deal's commit form
// action. The URL comes straight from the scraped dashboard card.
func (c *Client) CommitToDeal(ctx context.Context, commitURL string, quantity int) error {
	if commitURL == "" {
		return errors.New("deal has no commit form")
	}
	if !c.loggedIn {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_token":   c.csrfToken,
			"quantity": strconv.Itoa(quantity),
		}).
		Post(commitURL)
	if err != nil {
		return fmt.Errorf("failed to submit commitment: %w", err)
	}
	if finalPath(resp) == loginPath {
		c.loggedIn = false
		return errSessionExpired
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("commit returned status %d", resp.StatusCode())
	}

	slog.Info("Committed to deal", "url", commitURL, "quantity", quantity)
	return nil
}

// csrfToken pulls the _token hidden input out of a rendered form.
func csrfToken(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	token := doc.Find(`input[name="_token"]`).First().AttrOr("value", "")
	if token == "" {
		return "", errors.New("no CSRF token on page")
	}
	return token, nil
}

// isLoginPage recognizes the login form served in place of an
// authenticated page after the session expires.
func isLoginPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(`form input[name="password"]`).Length() > 0
}

// finalPath is the URL path the request landed on after redirects.
func finalPath(resp *resty.Response) string {
	if resp == nil || resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return ""
	}
	return resp.RawResponse.Request.URL.Path
}
