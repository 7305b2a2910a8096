package embedding

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"

	"github.com/bull/flc-rag/internal/ratelimit"
)

// ErrProvider wraps every failure of the embedding provider: transport errors,
// timeouts, non-2xx responses and malformed responses.
var ErrProvider = errors.New("embedding provider error")

// IsRetryable reports whether err is a rate limit (429) or server (5xx) error.
func IsRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// RetryAfter returns how long to pause after a 429 response. The Retry-After
// header wins; without it the pause is ratelimit.DefaultRetryAfter.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if apiErr.Response == nil {
		return ratelimit.DefaultRetryAfter, true
	}
	secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After"))
	if convErr != nil || secs < 0 {
		return ratelimit.DefaultRetryAfter, true
	}
	return time.Duration(secs) * time.Second, true
}
