package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"example.com/ridesync/internal/domain"
)

const maxErrorBody = 512

// apiClient performs paced, breaker-guarded JSON GETs against one provider.
type apiClient struct {
	provider domain.Provider
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	now      func() time.Time
	// fallbackRetry computes the pause when a 429 carries no Retry-After header.
	fallbackRetry func(now time.Time) time.Duration
}

func newAPIClient(p domain.Provider, baseURL string, o options, fallback func(time.Time) time.Duration) *apiClient {
	name := string(p) + "-api"
	breakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Throttles and client errors describe the request, not provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var rl *domain.RateLimitedError
			var ar *domain.AuthRefreshError
			var pe *domain.ProviderError
			switch {
			case errors.As(err, &rl), errors.As(err, &ar):
				return true
			case errors.As(err, &pe):
				return !pe.Retryable()
			case errors.Is(err, context.Canceled):
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Printf("circuit breaker %s: %s -> %s", name, from, to)
			breakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &apiClient{
		provider:      p,
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          o.httpClient,
		limiter:       o.limiter,
		breaker:       cb,
		now:           o.now,
		fallbackRetry: fallback,
	}
}

// getJSON fetches path with query and decodes the body into out. op labels the call in metrics.
func (c *apiClient) getJSON(ctx context.Context, op, path string, query url.Values, headers http.Header, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, headers)
	})
	recordRequest(c.provider, op, err, time.Since(start))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: circuit open: %w", c.provider, err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.provider, path, err)
	}
	return nil
}

func (c *apiClient) do(ctx context.Context, endpoint string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &domain.RateLimitedError{
			Provider:   c.provider,
			RetryAfter: c.retryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.AuthRefreshError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("access token rejected: %s", strings.TrimSpace(string(data))),
		}
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.ProviderError{Provider: c.provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return io.ReadAll(resp.Body)
}

func (c *apiClient) retryAfter(header string) time.Duration {
	now := c.now()
	if d, ok := parseRetryAfter(header, now); ok {
		return d
	}
	if c.fallbackRetry != nil {
		return c.fallbackRetry(now)
	}
	return time.Minute
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
