package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/montage/internal/models"
)

// ClassifyHTTPStatus maps a non-success provider response onto the error
// taxonomy: 429 is a rate limit, 408 and 5xx are transient, any other 4xx is
// permanent.
func ClassifyHTTPStatus(provider string, resp *http.Response, body []byte) error {
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 300))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.RateLimitError{
			Provider:   provider,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        cause,
		}
	case isRetryableStatus(resp.StatusCode):
		return &models.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Marker: models.ErrTransientProvider, Err: cause}
	default:
		return &models.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Marker: models.ErrPermanentProvider, Err: cause}
	}
}

// ClassifyStatusCode is ClassifyHTTPStatus for SDKs that only surface a code.
func ClassifyStatusCode(provider string, code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &models.RateLimitError{Provider: provider, Err: err}
	case code == 0 || isRetryableStatus(code):
		return &models.ProviderError{Provider: provider, StatusCode: code, Marker: models.ErrTransientProvider, Err: err}
	default:
		return &models.ProviderError{Provider: provider, StatusCode: code, Marker: models.ErrPermanentProvider, Err: err}
	}
}

func isRetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code >= 500
}

// ParseRetryAfter accepts both delta-seconds and HTTP-date forms. Unparseable
// or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
