package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Observer records provider call outcomes.
type Observer interface {
	ObserveProviderRequest(provider, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderRequest(string, string, time.Duration) {}

// BreakerOptions tune the per-provider circuit breaker.
type BreakerOptions struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// ClientOptions parameterise a provider HTTP client.
type ClientOptions struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
	Breaker       BreakerOptions
	Observer      Observer
}

// requester performs rate-limited, breaker-guarded JSON GETs for one provider.
type requester struct {
	provider string
	baseURL  string
	ua       string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	observer Observer
	logger   zerolog.Logger
	// authorize decorates each request with provider credentials.
	authorize func(req *http.Request)
}

func newRequester(provider, defaultBaseURL string, opts ClientOptions, logger zerolog.Logger) *requester {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "riskscope/dev"
	}

	log := logger.With().Str("component", provider+"_client").Logger()

	return &requester{
		provider: provider,
		baseURL:  baseURL,
		ua:       ua,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		breaker:  newBreaker(provider, opts.Breaker, log),
		observer: observer,
		logger:   log,
	}
}

func newBreaker(provider string, opts BreakerOptions, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	failures := opts.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 404 与参数错误不代表上游故障
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch KindOf(err) {
			case KindNotFound, KindValidation:
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// getJSON issues GET baseURL+path?query and decodes the body into out.
func (r *requester) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	start := time.Now()
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.do(ctx, path, query, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Provider: r.provider, Kind: KindUnavailable, Message: "circuit open", Err: err}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		r.logger.Debug().Err(err).Str("path", path).Msg("provider request failed")
	}
	r.observer.ObserveProviderRequest(r.provider, outcome, time.Since(start))
	return err
}

func (r *requester) do(ctx context.Context, path string, query url.Values, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &Error{Provider: r.provider, Kind: KindRateLimited, Message: "local rate limit", Err: err}
	}

	endpoint := r.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return validationError(r.provider, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.ua)
	if r.authorize != nil {
		r.authorize(req)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return transportError(r.provider, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(r.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(r.provider, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Provider: r.provider, Kind: KindUpstream, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}
