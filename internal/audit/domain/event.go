package domain

import "time"

// Well-known audit actions.
const (
	ActionAuthenticate   = "broker.authenticate"
	ActionRefresh        = "broker.refresh"
	ActionSessionCreate  = "session.create"
	ActionSessionRevoke  = "session.revoke"
	ActionSessionExpire  = "session.expire"
	ActionAccessDenied   = "access.denied"
	ActionRiskFlagged    = "risk.flagged"
	ActionRiskBlocked    = "risk.blocked"
)

// Event is one immutable audit record. Detail is free-form and must never
// contain token material.
type Event struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	BrokerType    string    `json:"broker_type,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"`
	SourceIP      string    `json:"source_ip,omitempty"`
	RiskScore     int       `json:"risk_score,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
