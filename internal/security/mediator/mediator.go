// Package mediator runs every operation through the zero-trust pipeline:
// authenticate, authorize, assess risk, execute. Stages are composed on the
// Result railway so a failed stage short-circuits the rest and its failure
// passes through unchanged. No caller identity is assumed; internal callers
// are distinguished explicitly and still pass authorization.
package mediator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/risk"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/telemetry"
)

const accessPolicyQuery = "data.trademaster.broker_access.allow"

// Default Rego policy for broker-operation access. Every request must carry
// an identity; external requests must also name their network origin.
// Internal service-to-service calls are allowed on the internal marker alone.
const accessRegoPolicy = `package trademaster.broker_access

default allow = false

allow if {
	input.internal
}

allow if {
	input.user_id != ""
	input.source_ip != ""
}
`

// DefaultDeadline bounds a full pipeline pass end to end, broker round trip
// included.
const DefaultDeadline = 15 * time.Second

// SecurityContext is the immutable per-request envelope threaded through the
// pipeline. With* producers return copies; the correlation id never changes
// after construction.
type SecurityContext struct {
	CorrelationID string
	UserID        string
	SourceIP      string
	UserAgent     string
	RequestedAt   time.Time
	RiskScore     int
	Internal      bool
}

// NewContext builds the envelope for an external request and assigns a fresh
// correlation id.
func NewContext(userID, sourceIP, userAgent string, requestedAt time.Time) SecurityContext {
	return SecurityContext{
		CorrelationID: uuid.New().String(),
		UserID:        userID,
		SourceIP:      sourceIP,
		UserAgent:     userAgent,
		RequestedAt:   requestedAt,
	}
}

// NewInternalContext builds the envelope for a trusted service-to-service
// call. Risk assessment does not apply to internal calls.
func NewInternalContext(callerService string) SecurityContext {
	return SecurityContext{
		CorrelationID: uuid.New().String(),
		UserID:        callerService,
		RequestedAt:   time.Now(),
		Internal:      true,
	}
}

// WithRiskScore returns a copy carrying the assessed score.
func (c SecurityContext) WithRiskScore(score int) SecurityContext {
	c.RiskScore = score
	return c
}

// AuditSink receives pipeline observations. Implementations must be
// non-blocking; a nil sink disables auditing.
type AuditSink interface {
	AccessDenied(ctx context.Context, correlationID, userID, reason string)
	RiskFlagged(ctx context.Context, correlationID, userID string, score int)
	RiskBlocked(ctx context.Context, correlationID, userID string, score int)
}

// Mediator owns the compiled access policy, the risk scorer and the pipeline
// deadline. Stages never trust prior stages' side effects; each works only
// from the SecurityContext value handed to it.
type Mediator struct {
	compiler *ast.Compiler
	scorer   *risk.Scorer
	metrics  *telemetry.Metrics
	audit    AuditSink
	deadline time.Duration
}

// New compiles the access policy once and returns the Mediator. A
// non-positive deadline falls back to DefaultDeadline.
func New(scorer *risk.Scorer, metrics *telemetry.Metrics, audit AuditSink, deadline time.Duration) (*Mediator, error) {
	compiler, err := ast.CompileModules(map[string]string{"broker_access.rego": accessRegoPolicy})
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Mediator{
		compiler: compiler,
		scorer:   scorer,
		metrics:  metrics,
		audit:    audit,
		deadline: deadline,
	}, nil
}

// HealthCheck verifies the in-process Rego engine can evaluate the compiled
// access policy. No I/O.
func (m *Mediator) HealthCheck(ctx context.Context) error {
	allowed, err := m.evalPolicy(ctx, SecurityContext{Internal: true})
	if err != nil {
		return fmt.Errorf("access policy eval: %w", err)
	}
	if !allowed {
		return fmt.Errorf("access policy denied the internal probe")
	}
	return nil
}

// Operation is the guarded work the pipeline executes after all checks pass.
type Operation[T any] func(ctx context.Context, sc SecurityContext) result.Result[T]

// Run passes an external request through the full pipeline. The returned
// failure, if any, carries the request's correlation id.
func Run[T any](ctx context.Context, m *Mediator, sc SecurityContext, op Operation[T]) result.Result[T] {
	ctx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	checked := result.FlatMap(m.authenticate(sc), func(c SecurityContext) result.Result[SecurityContext] {
		return m.authorize(ctx, c)
	})
	checked = result.FlatMap(checked, func(c SecurityContext) result.Result[SecurityContext] {
		return m.assessRisk(ctx, c)
	})
	out := result.FlatMap(checked, func(c SecurityContext) result.Result[T] {
		return op(ctx, c)
	})
	return out.WithCorrelationID(sc.CorrelationID)
}

// RunInternal passes a trusted service-to-service call through authorization
// only; authentication of the caller and risk assessment are skipped.
func RunInternal[T any](ctx context.Context, m *Mediator, sc SecurityContext, op Operation[T]) result.Result[T] {
	ctx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	sc.Internal = true
	out := result.FlatMap(m.authorize(ctx, sc), func(c SecurityContext) result.Result[T] {
		return op(ctx, c)
	})
	return out.WithCorrelationID(sc.CorrelationID)
}

// authenticate verifies the request names an identity. Broker credential
// verification happens downstream in the operation itself; this stage only
// rejects anonymous requests.
func (m *Mediator) authenticate(sc SecurityContext) result.Result[SecurityContext] {
	if sc.UserID == "" {
		return result.Err[SecurityContext](result.KindAuthenticationFailed, "request carries no user identity")
	}
	return result.Ok(sc)
}

// authorize evaluates the Rego access policy over the request envelope.
func (m *Mediator) authorize(ctx context.Context, sc SecurityContext) result.Result[SecurityContext] {
	allowed, err := m.evalPolicy(ctx, sc)
	if err != nil {
		log.Printf("mediator: policy evaluation failed for %s: %v", sc.CorrelationID, err)
		return result.Err[SecurityContext](result.KindSystemError, "access policy evaluation failed")
	}
	if !allowed {
		if m.audit != nil {
			m.audit.AccessDenied(ctx, sc.CorrelationID, sc.UserID, "access policy denied the request")
		}
		return result.Err[SecurityContext](result.KindAuthorizationDenied, "access policy denied the request")
	}
	return result.Ok(sc)
}

// assessRisk scores the request signals and blocks, flags or allows.
func (m *Mediator) assessRisk(ctx context.Context, sc SecurityContext) result.Result[SecurityContext] {
	score := m.scorer.Score(risk.Input{
		UserID:      sc.UserID,
		SourceIP:    sc.SourceIP,
		UserAgent:   sc.UserAgent,
		RequestedAt: sc.RequestedAt,
	})
	switch m.scorer.Decide(score) {
	case risk.Block:
		m.metrics.RecordRiskBlock(ctx)
		if m.audit != nil {
			m.audit.RiskBlocked(ctx, sc.CorrelationID, sc.UserID, score)
		}
		return result.Err[SecurityContext](result.KindHighRiskBlocked,
			fmt.Sprintf("request risk score %d exceeds the block threshold", score))
	case risk.Flag:
		if m.audit != nil {
			m.audit.RiskFlagged(ctx, sc.CorrelationID, sc.UserID, score)
		}
		log.Printf("mediator: flagged request %s for user %s, risk score %d", sc.CorrelationID, sc.UserID, score)
	}
	return result.Ok(sc.WithRiskScore(score))
}

func (m *Mediator) evalPolicy(ctx context.Context, sc SecurityContext) (bool, error) {
	input := map[string]interface{}{
		"user_id":    sc.UserID,
		"source_ip":  sc.SourceIP,
		"user_agent": sc.UserAgent,
		"internal":   sc.Internal,
	}
	q := rego.New(
		rego.Query(accessPolicyQuery),
		rego.Compiler(m.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}
