package util

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters stores append for attribution.
// They carry no information about the product and make otherwise
// identical links compare unequal.
var trackingParams = map[string]bool{
	"ref":    true,
	"tag":    true,
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"igshid": true,
	"spm":    true,
}

// NormalizeLink tidies a product link scraped off a deal card: the
// scheme is forced to https, the fragment is dropped, and known
// tracking parameters are stripped. Relative and unparseable links
// pass through unchanged.
func NormalizeLink(raw string) string {
	if raw == "" {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}

	if parsed.Scheme == "http" {
		parsed.Scheme = "https"
	}
	parsed.Fragment = ""

	query := parsed.Query()
	changed := false
	for key := range query {
		if trackingParams[key] || strings.HasPrefix(key, "utm_") {
			query.Del(key)
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}
