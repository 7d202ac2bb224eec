package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stefanos11892/GVD-Engine/internal/model"
	"github.com/stefanos11892/GVD-Engine/internal/resilience"
)

// Resilient wraps a provider with a rate limiter, a circuit breaker and
// retries, applied in that order on every attempt.
type Resilient struct {
	provider    string
	next        Generator
	limiter     *rate.Limiter
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	timeout     time.Duration
	temperature *float64
	observer    Observer
	closeFn     func() error
}

// Option configures a Resilient generator.
type Option func(*Resilient)

// WithRateLimit allows rps requests per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Resilient) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resilient) { r.retry = cfg }
}

// WithCircuitBreaker sets the breaker configuration. Only transient
// errors trip the breaker unless cfg says otherwise.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Resilient) {
		if cfg.ShouldTrip == nil {
			cfg.ShouldTrip = resilience.IsTransient
		}
		r.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithTimeout bounds each attempt. Zero means no per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resilient) { r.timeout = d }
}

// WithTemperature sets the temperature used when a request has none.
func WithTemperature(t float64) Option {
	return func(r *Resilient) { r.temperature = &t }
}

// WithObserver reports each call to o.
func WithObserver(o Observer) Option {
	return func(r *Resilient) { r.observer = o }
}

// NewResilient wraps next. Defaults: no rate limit, default retry and
// breaker settings.
func NewResilient(provider string, next Generator, opts ...Option) *Resilient {
	r := &Resilient{
		provider: provider,
		next:     next,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = resilience.RetryLogger("llm."+provider, "generate")
	}
	// An open breaker is not worth retrying until it half-opens.
	if r.retry.ShouldRetry == nil {
		r.retry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen) && resilience.IsTransient(err)
		}
	}
	return r
}

// Provider returns the wrapped provider's name.
func (r *Resilient) Provider() string { return r.provider }

// Generate runs req through the limiter, breaker and retry policy.
func (r *Resilient) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Temperature == nil {
		req.Temperature = r.temperature
	}
	start := time.Now()

	resp, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (*Response, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "llm: rate limit wait")
			}
		}
		return resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*Response, error) {
			if r.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			return r.next.Generate(ctx, req)
		})
	})

	elapsed := time.Since(start)
	if err != nil {
		zap.L().Warn("llm: generate failed",
			zap.String("provider", r.provider),
			zap.String("role", req.Role),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		if r.observer != nil {
			r.observer.ObserveLLMCall(r.provider, req.Role, "error", elapsed, model.TokenUsage{})
		}
		return nil, err
	}

	zap.L().Debug("llm: generate complete",
		zap.String("provider", r.provider),
		zap.String("role", req.Role),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed),
	)
	if r.observer != nil {
		r.observer.ObserveLLMCall(r.provider, req.Role, "ok", elapsed, resp.Usage)
	}
	return resp, nil
}

// Close releases the provider client, if it holds one.
func (r *Resilient) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}
