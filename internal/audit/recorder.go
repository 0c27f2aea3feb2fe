// Package audit records the trail of authentication, session and mediation
// outcomes. Recording is best-effort and fire-and-forget: a slow or missing
// sink never affects the guarded operation.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/domain"
	auditrepo "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/repository"
)

// recordTimeout is the max time allowed for a single async record, covering
// both the repository write and the Kafka emit.
const recordTimeout = 5 * time.Second

// Emitter publishes an event to an external stream.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// Recorder fans audit events out to the repository and the emitter. Either
// sink may be nil; a nil *Recorder is a no-op, so call sites need no guards.
type Recorder struct {
	repo    auditrepo.Repository
	emitter Emitter
}

// NewRecorder returns a Recorder over the given sinks.
func NewRecorder(repo auditrepo.Repository, emitter Emitter) *Recorder {
	return &Recorder{repo: repo, emitter: emitter}
}

// Record assigns the event id and timestamp and writes to both sinks in a
// goroutine with its own deadline, detached from request cancellation.
func (r *Recorder) Record(_ context.Context, event domain.Event) {
	if r == nil || (r.repo == nil && r.emitter == nil) {
		return
	}
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now().UTC()
	go func() {
		recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if r.repo != nil {
			if err := r.repo.Create(recordCtx, &event); err != nil {
				log.Printf("audit: failed to persist event %s/%s: %v", event.Action, event.Outcome, err)
			}
		}
		if r.emitter != nil {
			if err := r.emitter.Emit(recordCtx, event); err != nil {
				log.Printf("audit: failed to emit event %s/%s: %v", event.Action, event.Outcome, err)
			}
		}
	}()
}

// AuthOutcome records a broker authentication attempt.
func (r *Recorder) AuthOutcome(ctx context.Context, correlationID, userID, brokerType, sourceIP, outcome, detail string) {
	r.Record(ctx, domain.Event{
		CorrelationID: correlationID,
		UserID:        userID,
		BrokerType:    brokerType,
		Action:        domain.ActionAuthenticate,
		Outcome:       outcome,
		SourceIP:      sourceIP,
		Detail:        detail,
	})
}

// SessionEvent records a session lifecycle transition.
func (r *Recorder) SessionEvent(ctx context.Context, correlationID, userID, sessionID, action, outcome string) {
	r.Record(ctx, domain.Event{
		CorrelationID: correlationID,
		UserID:        userID,
		SessionID:     sessionID,
		Action:        action,
		Outcome:       outcome,
	})
}

// AccessDenied implements the mediator audit sink.
func (r *Recorder) AccessDenied(ctx context.Context, correlationID, userID, reason string) {
	r.Record(ctx, domain.Event{
		CorrelationID: correlationID,
		UserID:        userID,
		Action:        domain.ActionAccessDenied,
		Outcome:       "denied",
		Detail:        reason,
	})
}

// RiskFlagged implements the mediator audit sink.
func (r *Recorder) RiskFlagged(ctx context.Context, correlationID, userID string, score int) {
	r.Record(ctx, domain.Event{
		CorrelationID: correlationID,
		UserID:        userID,
		Action:        domain.ActionRiskFlagged,
		Outcome:       "flagged",
		RiskScore:     score,
	})
}

// RiskBlocked implements the mediator audit sink.
func (r *Recorder) RiskBlocked(ctx context.Context, correlationID, userID string, score int) {
	r.Record(ctx, domain.Event{
		CorrelationID: correlationID,
		UserID:        userID,
		Action:        domain.ActionRiskBlocked,
		Outcome:       "blocked",
		RiskScore:     score,
	})
}
