// Package registry selects the adapter for a broker type and wraps every
// adapter invocation with that broker's rate limiter and circuit breaker.
// Limiter and breaker state is per broker, independent across brokers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/adapter"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/telemetry"
)

// Limits is a broker's published call ceiling.
type Limits struct {
	PerSecond float64
	Burst     int
}

// BreakerConfig tunes the per-broker circuit breaker.
type BreakerConfig struct {
	// Window is the sliding window over which failure counts accumulate.
	Window time.Duration
	// CooldownTimeout is how long an open circuit waits before a half-open probe.
	Cooldown time.Duration
	// ConsecutiveFailures trips the breaker when reached within the window.
	ConsecutiveFailures uint32
	// FailureRatio trips the breaker once MinRequests have been observed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig matches the brokers' observed recovery behavior.
var DefaultBreakerConfig = BreakerConfig{
	Window:              30 * time.Second,
	Cooldown:            15 * time.Second,
	ConsecutiveFailures: 5,
	FailureRatio:        0.6,
	MinRequests:         10,
}

// DefaultLimits hold the published per-broker ceilings.
var DefaultLimits = map[domain.BrokerType]Limits{
	domain.Zerodha:  {PerSecond: 10, Burst: 10},
	domain.Upstox:   {PerSecond: 25, Burst: 25},
	domain.AngelOne: {PerSecond: 5, Burst: 5},
	domain.Dhan:     {PerSecond: 10, Burst: 10},
}

// guard is the per-broker traffic-control state.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Registry holds the explicit adapter list (factory-built, no runtime
// discovery) plus per-broker guards.
type Registry struct {
	adapters []adapter.Adapter
	guards   map[domain.BrokerType]*guard
	metrics  *telemetry.Metrics
}

// New builds a Registry for the given adapters. limits may be nil to use
// DefaultLimits; brokers absent from limits fall back to the default entry.
func New(adapters []adapter.Adapter, limits map[domain.BrokerType]Limits, breakerCfg BreakerConfig, metrics *telemetry.Metrics) *Registry {
	if breakerCfg.ConsecutiveFailures == 0 {
		breakerCfg = DefaultBreakerConfig
	}
	r := &Registry{
		adapters: adapters,
		guards:   make(map[domain.BrokerType]*guard),
		metrics:  metrics,
	}
	for _, bt := range []domain.BrokerType{domain.Zerodha, domain.Upstox, domain.AngelOne, domain.Dhan} {
		lim, ok := limits[bt]
		if !ok {
			lim = DefaultLimits[bt]
		}
		r.guards[bt] = newGuard(bt, lim, breakerCfg, metrics)
	}
	return r
}

func newGuard(bt domain.BrokerType, lim Limits, cfg BreakerConfig, metrics *telemetry.Metrics) *guard {
	settings := gobreaker.Settings{
		Name:        string(bt),
		MaxRequests: 1, // one half-open probe
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= cfg.MinRequests {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("registry: %s breaker %s -> %s", name, from, to)
			if to == gobreaker.StateOpen {
				metrics.RecordBreakerOpen(context.Background(), name)
			}
		},
	}
	return &guard{
		limiter: rate.NewLimiter(rate.Limit(lim.PerSecond), lim.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Resolve returns the adapter supporting the broker type. Linear predicate
// match: the broker count is small.
func (r *Registry) Resolve(bt domain.BrokerType) (adapter.Adapter, bool) {
	for _, a := range r.adapters {
		if a.Supports(bt) {
			return a, true
		}
	}
	return nil, false
}

// Authenticate resolves the adapter for req and invokes it behind the
// broker's limiter and breaker.
func (r *Registry) Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse] {
	return r.execute(ctx, req.BrokerType, func(a adapter.Adapter) result.Result[domain.AuthResponse] {
		return a.Authenticate(ctx, req)
	})
}

// Refresh resolves the adapter for bt and invokes its refresh behind the
// broker's limiter and breaker.
func (r *Registry) Refresh(ctx context.Context, bt domain.BrokerType, refreshToken string) result.Result[domain.AuthResponse] {
	return r.execute(ctx, bt, func(a adapter.Adapter) result.Result[domain.AuthResponse] {
		return a.Refresh(ctx, refreshToken)
	})
}

func (r *Registry) execute(ctx context.Context, bt domain.BrokerType, call func(adapter.Adapter) result.Result[domain.AuthResponse]) result.Result[domain.AuthResponse] {
	a, ok := r.Resolve(bt)
	if !ok {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, fmt.Sprintf("no adapter registered for broker %s", bt))
	}
	g := r.guards[bt]

	reservation := g.limiter.Reserve()
	if !reservation.OK() {
		return result.Err[domain.AuthResponse](result.KindRateLimitExceeded, fmt.Sprintf("%s rate ceiling unsatisfiable", a.Name()))
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		f := &result.Failure{
			Kind:       result.KindRateLimitExceeded,
			Message:    fmt.Sprintf("%s call rate exceeded", a.Name()),
			RetryAfter: delay,
		}
		r.metrics.RecordAuthAttempt(ctx, a.Name(), "rate_limited")
		return result.ErrFrom[domain.AuthResponse](f)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		res := call(a)
		// Only transient broker faults count against the breaker; a
		// credential rejection is a healthy broker saying no.
		if f := res.Failure(); f != nil && countsAsBrokerFault(f.Kind) {
			return res, f
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.metrics.RecordAuthAttempt(ctx, a.Name(), "circuit_open")
			f := &result.Failure{
				Kind:       result.KindBrokerUnavailable,
				Message:    fmt.Sprintf("%s unavailable, circuit open", a.Name()),
				RetryAfter: 15 * time.Second,
			}
			return result.ErrFrom[domain.AuthResponse](f)
		}
		// The breaker-counted failure: pass the adapter's result through.
		if res, ok := out.(result.Result[domain.AuthResponse]); ok {
			r.metrics.RecordAuthAttempt(ctx, a.Name(), "broker_error")
			return res
		}
		var f *result.Failure
		if errors.As(err, &f) {
			return result.ErrFrom[domain.AuthResponse](f)
		}
		return result.Err[domain.AuthResponse](result.KindSystemError, "broker call failed")
	}

	res := out.(result.Result[domain.AuthResponse])
	r.metrics.RecordAuthAttempt(ctx, a.Name(), outcomeLabel(res))
	return res
}

func countsAsBrokerFault(kind result.ErrorKind) bool {
	return kind == result.KindOperationFailed || kind == result.KindSystemError
}

func outcomeLabel(res result.Result[domain.AuthResponse]) string {
	if f := res.Failure(); f != nil {
		return string(f.Kind)
	}
	if !res.Value().Success {
		return "interim"
	}
	return "success"
}
