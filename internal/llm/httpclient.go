package llm

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/felixgeelhaar/codeprobe/internal/domain"
)

// newLLMHTTPClient creates an HTTP client tuned for inference calls,
// which can hold the connection open for a long time before the first
// byte arrives.
func newLLMHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       10,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   120 * time.Second,
		Transport: transport,
	}
}

// statusError maps a provider HTTP status onto the domain error
// taxonomy. Rate limiting (and Anthropic's 529 overload) must stay
// distinguishable so callers rotate credentials instead of abandoning.
func statusError(provider string, code int, body string) error {
	switch {
	case code == http.StatusTooManyRequests || code == 529:
		return fmt.Errorf("%w: %s status %d", domain.ErrRateLimited, provider, code)
	case code >= 500:
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrUpstreamUnavailable, provider, code, truncate(body, 200))
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", provider, code, truncate(body, 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
