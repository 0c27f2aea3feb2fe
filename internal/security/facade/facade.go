// Package facade is the single entry point for broker authentication and
// session operations. Every external call runs through the zero-trust
// mediation pipeline; raw broker tokens never leave the facade except
// through the internal credential path used by trusted services.
package facade

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	auditdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/domain"
	brokerdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/mediator"
	sessiondomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/domain"
)

// Broker is the guarded broker call surface, satisfied by the registry.
type Broker interface {
	Authenticate(ctx context.Context, req brokerdomain.AuthRequest) result.Result[brokerdomain.AuthResponse]
}

// Sessions is the lifecycle surface, satisfied by the session manager.
type Sessions interface {
	Create(ctx context.Context, userID string, auth brokerdomain.AuthResponse, metadata map[string]string) result.Result[sessiondomain.Session]
	FindByID(ctx context.Context, id string) result.Result[sessiondomain.Session]
	Touch(ctx context.Context, id string) result.Result[sessiondomain.Session]
	Refresh(ctx context.Context, id string) result.Result[sessiondomain.Session]
	Revoke(ctx context.Context, id string) result.Result[bool]
	ListActive(ctx context.Context, userID string) result.Result[[]sessiondomain.Session]
	Credentials(ctx context.Context, id string) result.Result[sessiondomain.BrokerCredentials]
	NeedsRefresh(sess sessiondomain.Session) bool
	Ping(ctx context.Context) error
}

// Auditor receives facade-level audit events, satisfied by the audit
// recorder. May be nil.
type Auditor interface {
	AuthOutcome(ctx context.Context, correlationID, userID, brokerType, sourceIP, outcome, detail string)
	SessionEvent(ctx context.Context, correlationID, userID, sessionID, action, outcome string)
}

// SessionValidation is the caller-facing answer to "is this session usable".
type SessionValidation struct {
	Valid      bool                    `json:"valid"`
	SessionID  string                  `json:"session_id"`
	UserID     string                  `json:"user_id,omitempty"`
	BrokerType brokerdomain.BrokerType `json:"broker_type,omitempty"`
	ExpiresAt  time.Time               `json:"expires_at,omitempty"`
}

// SessionSummary is the listing view of a session. Token material is never
// included.
type SessionSummary struct {
	SessionID      string                  `json:"session_id"`
	BrokerType     brokerdomain.BrokerType `json:"broker_type"`
	Status         sessiondomain.Status    `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	ExpiresAt      time.Time               `json:"expires_at"`
	LastAccessedAt time.Time               `json:"last_accessed_at"`
	NeedsRefresh   bool                    `json:"needs_refresh"`
}

// Facade composes the mediation pipeline, the broker registry and the
// session manager.
type Facade struct {
	mediator *mediator.Mediator
	broker   Broker
	sessions Sessions
	audit    Auditor
}

// New builds the Facade. audit may be nil.
func New(m *mediator.Mediator, broker Broker, sessions Sessions, audit Auditor) *Facade {
	return &Facade{mediator: m, broker: broker, sessions: sessions, audit: audit}
}

// Authenticate performs the broker handshake and, on success, opens a
// session. The returned response carries the session id with the token
// fields masked; trusted services obtain raw tokens through
// InternalCredentials. An interim response, such as a pending second factor,
// is returned without a session.
func (f *Facade) Authenticate(ctx context.Context, sc mediator.SecurityContext, req brokerdomain.AuthRequest) result.Result[brokerdomain.AuthResponse] {
	return mediator.Run(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[brokerdomain.AuthResponse] {
		if err := req.Validate(); err != nil {
			return result.Err[brokerdomain.AuthResponse](result.KindInvalidCredentials, err.Error())
		}

		res := f.broker.Authenticate(ctx, req)
		if failure := res.Failure(); failure != nil {
			f.recordAuth(ctx, sc, req, string(failure.Kind), failure.Message)
			return res
		}
		auth := res.Value()
		if !auth.Success {
			// Interim handshake step such as a pending second factor.
			f.recordAuth(ctx, sc, req, "interim", auth.Message)
			return result.Ok(sanitized(auth))
		}

		created := f.sessions.Create(ctx, req.UserID, auth, sessionMetadata(sc))
		if failure := created.Failure(); failure != nil {
			f.recordAuth(ctx, sc, req, string(failure.Kind), failure.Message)
			return result.ErrFrom[brokerdomain.AuthResponse](failure)
		}
		sess := created.Value()
		f.recordAuth(ctx, sc, req, "success", "")
		if f.audit != nil {
			f.audit.SessionEvent(ctx, sc.CorrelationID, req.UserID, sess.ID, auditdomain.ActionSessionCreate, "success")
		}
		log.Printf("facade: authenticated user %s with %s, session %s", req.UserID, req.BrokerType, sess.ID)

		auth.SessionID = sess.ID
		return result.Ok(sanitized(auth))
	})
}

// ValidateSession reports whether the session is usable and records the
// access. A missing or expired session is a valid=false answer, not a
// failure.
func (f *Facade) ValidateSession(ctx context.Context, sc mediator.SecurityContext, sessionID string) result.Result[SessionValidation] {
	return mediator.Run(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[SessionValidation] {
		return f.validate(ctx, sessionID)
	})
}

// RefreshSession exchanges the session's refresh token with the broker and
// returns the updated summary.
func (f *Facade) RefreshSession(ctx context.Context, sc mediator.SecurityContext, sessionID string) result.Result[SessionSummary] {
	return mediator.Run(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[SessionSummary] {
		res := f.sessions.Refresh(ctx, sessionID)
		if failure := res.Failure(); failure != nil {
			if f.audit != nil {
				f.audit.SessionEvent(ctx, sc.CorrelationID, sc.UserID, sessionID, auditdomain.ActionRefresh, string(failure.Kind))
			}
			return result.ErrFrom[SessionSummary](failure)
		}
		if f.audit != nil {
			f.audit.SessionEvent(ctx, sc.CorrelationID, sc.UserID, sessionID, auditdomain.ActionRefresh, "success")
		}
		return result.Ok(f.summary(res.Value()))
	})
}

// RevokeSession terminates the session. Returns true when a live session was
// revoked; revoking an absent or already-terminal session succeeds with
// false.
func (f *Facade) RevokeSession(ctx context.Context, sc mediator.SecurityContext, sessionID string) result.Result[bool] {
	return mediator.Run(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[bool] {
		res := f.sessions.Revoke(ctx, sessionID)
		if res.IsOk() && res.Value() && f.audit != nil {
			f.audit.SessionEvent(ctx, sc.CorrelationID, sc.UserID, sessionID, auditdomain.ActionSessionRevoke, "success")
		}
		return res
	})
}

// ListActiveSessions returns the user's live sessions across all brokers,
// token material excluded.
func (f *Facade) ListActiveSessions(ctx context.Context, sc mediator.SecurityContext, userID string) result.Result[[]SessionSummary] {
	return mediator.Run(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[[]SessionSummary] {
		res := f.sessions.ListActive(ctx, userID)
		if failure := res.Failure(); failure != nil {
			return result.ErrFrom[[]SessionSummary](failure)
		}
		sessions := res.Value()
		summaries := make([]SessionSummary, 0, len(sessions))
		for _, sess := range sessions {
			summaries = append(summaries, f.summary(sess))
		}
		return result.Ok(summaries)
	})
}

// InternalValidateSession is the service-to-service validation path; it
// skips caller identity and risk checks but still passes authorization.
func (f *Facade) InternalValidateSession(ctx context.Context, sc mediator.SecurityContext, sessionID string) result.Result[SessionValidation] {
	return mediator.RunInternal(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[SessionValidation] {
		return f.validate(ctx, sessionID)
	})
}

// InternalCredentials returns the decrypted broker tokens for a live
// session. Reserved for trusted services that place orders on the user's
// behalf.
func (f *Facade) InternalCredentials(ctx context.Context, sc mediator.SecurityContext, sessionID string) result.Result[sessiondomain.BrokerCredentials] {
	return mediator.RunInternal(ctx, f.mediator, sc, func(ctx context.Context, sc mediator.SecurityContext) result.Result[sessiondomain.BrokerCredentials] {
		return f.sessions.Credentials(ctx, sessionID)
	})
}

// AuthenticateAsync runs Authenticate on its own goroutine and delivers the
// result on the returned channel. The channel is buffered; the result is
// never lost if the caller reads late.
func (f *Facade) AuthenticateAsync(ctx context.Context, sc mediator.SecurityContext, req brokerdomain.AuthRequest) <-chan result.Result[brokerdomain.AuthResponse] {
	out := make(chan result.Result[brokerdomain.AuthResponse], 1)
	go func() {
		defer close(out)
		out <- f.Authenticate(ctx, sc, req)
	}()
	return out
}

// HealthCheck verifies the session store and the in-process policy engine.
func (f *Facade) HealthCheck(ctx context.Context) error {
	if err := f.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	if err := f.mediator.HealthCheck(ctx); err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}
	return nil
}

func (f *Facade) validate(ctx context.Context, sessionID string) result.Result[SessionValidation] {
	res := f.sessions.Touch(ctx, sessionID)
	if res.IsOk() {
		sess := res.Value()
		return result.Ok(SessionValidation{
			Valid:      true,
			SessionID:  sess.ID,
			UserID:     sess.UserID,
			BrokerType: sess.BrokerType,
			ExpiresAt:  sess.ExpiresAt,
		})
	}
	invalid := func(*result.Failure) result.Result[SessionValidation] {
		return result.Ok(SessionValidation{Valid: false, SessionID: sessionID})
	}
	mapped := result.Err[SessionValidation](res.Failure().Kind, res.Failure().Message)
	return mapped.
		Recover(result.KindSessionNotFound, invalid).
		Recover(result.KindSessionExpired, invalid)
}

func (f *Facade) summary(sess sessiondomain.Session) SessionSummary {
	return SessionSummary{
		SessionID:      sess.ID,
		BrokerType:     sess.BrokerType,
		Status:         sess.Status,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
		LastAccessedAt: sess.LastAccessedAt,
		NeedsRefresh:   f.sessions.NeedsRefresh(sess),
	}
}

func (f *Facade) recordAuth(ctx context.Context, sc mediator.SecurityContext, req brokerdomain.AuthRequest, outcome, detail string) {
	if f.audit == nil {
		return
	}
	f.audit.AuthOutcome(ctx, sc.CorrelationID, req.UserID, string(req.BrokerType), sc.SourceIP, outcome, detail)
}

// sanitized masks token material on the caller-facing response.
func sanitized(auth brokerdomain.AuthResponse) brokerdomain.AuthResponse {
	if auth.AccessToken != "" {
		auth.AccessToken = brokerdomain.Mask(auth.AccessToken)
	}
	if auth.RefreshToken != "" {
		auth.RefreshToken = brokerdomain.Mask(auth.RefreshToken)
	}
	return auth
}

func sessionMetadata(sc mediator.SecurityContext) map[string]string {
	return map[string]string{
		"source_ip":  sc.SourceIP,
		"user_agent": sc.UserAgent,
		"risk_score": strconv.Itoa(sc.RiskScore),
	}
}
