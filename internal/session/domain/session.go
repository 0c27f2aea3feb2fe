// Package domain holds the Session value object and its status machine.
// Sessions are owned by the lifecycle manager; mutations are pure
// "produce new value" operations persisted by an explicit store write.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	brokerdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
)

// Status is the session lifecycle state. Transitions are monotonic: ACTIVE
// may move to any terminal state; terminal states never move back.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
	StatusInvalid Status = "INVALID"
)

var (
	// ErrInvalidExpiry is returned when ExpiresAt is not after CreatedAt.
	ErrInvalidExpiry = errors.New("session expiry must be after creation")
	// ErrMissingField is returned when a required session field is empty.
	ErrMissingField = errors.New("required session field missing")
)

// Session is a bounded-lifetime authorization standing in for a broker-issued
// credential. Tokens are held only in encrypted form; the decrypted view is
// derived on demand (see BrokerCredentials). ID is immutable once assigned.
type Session struct {
	ID                    string                  `json:"id"`
	UserID                string                  `json:"user_id"`
	BrokerType            brokerdomain.BrokerType `json:"broker_type"`
	EncryptedAccessToken  string                  `json:"encrypted_access_token"`
	EncryptedRefreshToken string                  `json:"encrypted_refresh_token,omitempty"`
	Status                Status                  `json:"status"`
	CreatedAt             time.Time               `json:"created_at"`
	ExpiresAt             time.Time               `json:"expires_at"`
	LastAccessedAt        time.Time               `json:"last_accessed_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
	Metadata              map[string]string       `json:"metadata,omitempty"`
}

// New builds an ACTIVE session with a fresh id. encRefresh may be empty for
// brokers without refresh tokens. Returns a constructor-level error when an
// invariant is violated; that signals a caller bug, not a runtime condition.
func New(userID string, broker brokerdomain.BrokerType, encAccess, encRefresh string, expiresAt time.Time, now time.Time, metadata map[string]string) (Session, error) {
	if userID == "" || broker == "" || encAccess == "" {
		return Session{}, ErrMissingField
	}
	if !expiresAt.After(now) {
		return Session{}, ErrInvalidExpiry
	}
	return Session{
		ID:                    uuid.New().String(),
		UserID:                userID,
		BrokerType:            broker,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		Status:                StatusActive,
		CreatedAt:             now,
		ExpiresAt:             expiresAt,
		LastAccessedAt:        now,
		UpdatedAt:             now,
		Metadata:              metadata,
	}, nil
}

// IsActive reports whether the session is usable at now: status ACTIVE and
// not yet past expiry, independent of whether a background sweep has already
// flipped the stored status.
func (s Session) IsActive(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt.After(now)
}

// Terminal reports whether the session is in a one-way end state.
func (s Session) Terminal() bool {
	return s.Status == StatusExpired || s.Status == StatusRevoked || s.Status == StatusInvalid
}

// NeedsRefresh reports whether the remaining lifetime at now is below
// threshold. Monotonic: once true it stays true as time advances, until an
// explicit refresh replaces ExpiresAt.
func (s Session) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.Status == StatusActive && s.ExpiresAt.Sub(now) < threshold
}

// TTL returns the remaining time to expiry at now; zero or negative means
// already expired.
func (s Session) TTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// WithTouched advances LastAccessedAt only. Expiry is never extended here;
// broker-side token lifetime is authoritative.
func (s Session) WithTouched(now time.Time) Session {
	s.LastAccessedAt = now
	s.UpdatedAt = now
	s.Metadata = cloneMeta(s.Metadata)
	return s
}

// WithRefreshed replaces the tokens and expiry after a successful broker
// refresh. Only an ACTIVE session may be refreshed.
func (s Session) WithRefreshed(encAccess, encRefresh string, expiresAt, now time.Time) (Session, error) {
	if s.Status != StatusActive {
		return s, errors.New("only an active session can be refreshed")
	}
	if encAccess == "" {
		return s, ErrMissingField
	}
	if !expiresAt.After(now) {
		return s, ErrInvalidExpiry
	}
	s.EncryptedAccessToken = encAccess
	if encRefresh != "" {
		s.EncryptedRefreshToken = encRefresh
	}
	s.ExpiresAt = expiresAt
	s.LastAccessedAt = now
	s.UpdatedAt = now
	s.Metadata = cloneMeta(s.Metadata)
	return s, nil
}

// Revoked moves the session to REVOKED. Idempotent: an already-terminal
// session is returned unchanged.
func (s Session) Revoked(now time.Time) Session {
	return s.terminated(StatusRevoked, now)
}

// Expired moves the session to EXPIRED. Idempotent on terminal sessions.
func (s Session) Expired(now time.Time) Session {
	return s.terminated(StatusExpired, now)
}

// Invalidated moves the session to INVALID. Idempotent on terminal sessions.
func (s Session) Invalidated(now time.Time) Session {
	return s.terminated(StatusInvalid, now)
}

func (s Session) terminated(to Status, now time.Time) Session {
	if s.Terminal() {
		return s
	}
	s.Status = to
	s.UpdatedAt = now
	s.Metadata = cloneMeta(s.Metadata)
	return s
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BrokerCredentials is the decrypted view of a session's broker tokens,
// derived on demand via the credential cipher. Never persisted.
type BrokerCredentials struct {
	SessionID    string
	UserID       string
	BrokerType   brokerdomain.BrokerType
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
