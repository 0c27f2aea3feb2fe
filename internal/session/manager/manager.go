// Package manager owns the session lifecycle: creation under a per-user
// per-broker cap, lookup, activity touches, broker-side refresh, revocation,
// and the background expiry sweep. The manager is the only writer of session
// records; callers hold Session values, never store handles.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	brokerdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/store"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/telemetry"
)

const (
	dataPrefix  = "broker:session:data:"
	indexPrefix = "broker:session:index:"

	// scanBatch bounds each store scan call so enumeration never blocks the
	// store for the full keyspace.
	scanBatch int64 = 128

	// tombstoneTTL keeps a terminated session readable for a short window so
	// late validation calls see the terminal status instead of a bare miss.
	tombstoneTTL = 10 * time.Minute

	DefaultSessionCap       = 3
	DefaultRefreshThreshold = 30 * time.Minute
)

// Cipher encrypts broker tokens before they touch the store and decrypts
// them on demand.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Refresher exchanges a refresh token for fresh broker tokens. Satisfied by
// the broker registry.
type Refresher interface {
	Refresh(ctx context.Context, bt brokerdomain.BrokerType, refreshToken string) result.Result[brokerdomain.AuthResponse]
}

// Manager composes the store, the credential cipher and the broker registry
// into the session lifecycle operations.
type Manager struct {
	store            store.Store
	cipher           Cipher
	refresher        Refresher
	metrics          *telemetry.Metrics
	sessionCap       int
	refreshThreshold time.Duration
	now              func() time.Time
}

// New builds a Manager. sessionCap <= 0 and refreshThreshold <= 0 fall back
// to the defaults. nowFn may be nil for the wall clock.
func New(st store.Store, cipher Cipher, refresher Refresher, metrics *telemetry.Metrics, sessionCap int, refreshThreshold time.Duration, nowFn func() time.Time) *Manager {
	if sessionCap <= 0 {
		sessionCap = DefaultSessionCap
	}
	if refreshThreshold <= 0 {
		refreshThreshold = DefaultRefreshThreshold
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		store:            st,
		cipher:           cipher,
		refresher:        refresher,
		metrics:          metrics,
		sessionCap:       sessionCap,
		refreshThreshold: refreshThreshold,
		now:              nowFn,
	}
}

func dataKey(id string) string { return dataPrefix + id }

func indexKey(userID string, bt brokerdomain.BrokerType, id string) string {
	return fmt.Sprintf("%s%s:%s:%s", indexPrefix, userID, bt, id)
}

func indexPattern(userID string, bt brokerdomain.BrokerType) string {
	return fmt.Sprintf("%s%s:%s:*", indexPrefix, userID, bt)
}

// Create stores a new ACTIVE session for a successful broker authentication.
// When the user already holds the cap of live sessions for this broker the
// request is rejected and nothing is persisted; existing sessions are never
// evicted to make room.
func (m *Manager) Create(ctx context.Context, userID string, auth brokerdomain.AuthResponse, metadata map[string]string) result.Result[domain.Session] {
	now := m.now()

	active, err := m.countActive(ctx, userID, auth.BrokerType)
	if err != nil {
		return result.Err[domain.Session](result.KindSessionCreationFailed, "session store enumeration failed")
	}
	if active >= m.sessionCap {
		return result.Err[domain.Session](result.KindConcurrentSessionLimit,
			fmt.Sprintf("active session limit of %d reached for broker %s", m.sessionCap, auth.BrokerType))
	}

	encAccess, err := m.cipher.Encrypt(ctx, auth.AccessToken)
	if err != nil {
		return result.Err[domain.Session](result.KindEncryptionFailed, "access token encryption failed")
	}
	encRefresh := ""
	if auth.RefreshToken != "" {
		encRefresh, err = m.cipher.Encrypt(ctx, auth.RefreshToken)
		if err != nil {
			return result.Err[domain.Session](result.KindEncryptionFailed, "refresh token encryption failed")
		}
	}

	sess, err := domain.New(userID, auth.BrokerType, encAccess, encRefresh, auth.ExpiresAt, now, metadata)
	if err != nil {
		return result.Err[domain.Session](result.KindSessionCreationFailed, err.Error())
	}

	if err := m.persist(ctx, sess, sess.TTL(now)); err != nil {
		return result.Err[domain.Session](result.KindSessionCreationFailed, "session persistence failed")
	}
	m.metrics.RecordSessionCreated(ctx, string(sess.BrokerType))
	log.Printf("session manager: created session %s for user %s broker %s", sess.ID, userID, auth.BrokerType)
	return result.Ok(sess)
}

// FindByID loads a session usable at the current time. A missing record and
// a terminated record both surface as taxonomy failures; an ACTIVE record
// past its expiry is reported expired even before the sweep has run.
func (m *Manager) FindByID(ctx context.Context, id string) result.Result[domain.Session] {
	sess, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return result.Err[domain.Session](result.KindSessionNotFound, fmt.Sprintf("session %s not found", id))
		}
		return result.Err[domain.Session](result.KindSystemError, "session load failed")
	}
	if sess.IsActive(m.now()) {
		return result.Ok(sess)
	}
	if sess.Status == domain.StatusActive || sess.Status == domain.StatusExpired {
		return result.Err[domain.Session](result.KindSessionExpired, fmt.Sprintf("session %s has expired", id))
	}
	return result.Err[domain.Session](result.KindSessionNotFound, fmt.Sprintf("session %s is %s", id, sess.Status))
}

// FindActiveForUserAndBroker returns the most recently created live session
// for the pair, or SESSION_NOT_FOUND.
func (m *Manager) FindActiveForUserAndBroker(ctx context.Context, userID string, bt brokerdomain.BrokerType) result.Result[domain.Session] {
	sessions, err := m.activeSessions(ctx, userID, bt)
	if err != nil {
		return result.Err[domain.Session](result.KindSystemError, "session store enumeration failed")
	}
	if len(sessions) == 0 {
		return result.Err[domain.Session](result.KindSessionNotFound,
			fmt.Sprintf("no active session for user %s broker %s", userID, bt))
	}
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	return result.Ok(best)
}

// Touch records activity on a live session. Expiry is never extended; only
// the broker refresh path moves ExpiresAt.
func (m *Manager) Touch(ctx context.Context, id string) result.Result[domain.Session] {
	res := m.FindByID(ctx, id)
	if f := res.Failure(); f != nil {
		return res
	}
	now := m.now()
	touched := res.Value().WithTouched(now)
	if err := m.persist(ctx, touched, touched.TTL(now)); err != nil {
		return result.Err[domain.Session](result.KindSystemError, "session persistence failed")
	}
	return result.Ok(touched)
}

// NeedsRefresh reports whether the session's remaining lifetime is below the
// configured threshold.
func (m *Manager) NeedsRefresh(sess domain.Session) bool {
	return sess.NeedsRefresh(m.now(), m.refreshThreshold)
}

// Refresh exchanges the stored refresh token with the broker and swaps the
// session's tokens and expiry in one store write. Brokers without refresh
// tokens surface the adapter's rejection unchanged.
func (m *Manager) Refresh(ctx context.Context, id string) result.Result[domain.Session] {
	loaded := m.FindByID(ctx, id)
	if f := loaded.Failure(); f != nil {
		return loaded
	}
	sess := loaded.Value()

	if sess.EncryptedRefreshToken == "" {
		return result.Err[domain.Session](result.KindInvalidCredentials,
			fmt.Sprintf("session %s holds no refresh token", id))
	}
	refreshToken, err := m.cipher.Decrypt(ctx, sess.EncryptedRefreshToken)
	if err != nil {
		return result.Err[domain.Session](result.KindDecryptionFailed, "refresh token decryption failed")
	}

	brokerRes := m.refresher.Refresh(ctx, sess.BrokerType, refreshToken)
	if f := brokerRes.Failure(); f != nil {
		return result.ErrFrom[domain.Session](f)
	}
	auth := brokerRes.Value()

	encAccess, err := m.cipher.Encrypt(ctx, auth.AccessToken)
	if err != nil {
		return result.Err[domain.Session](result.KindEncryptionFailed, "access token encryption failed")
	}
	encRefresh := ""
	if auth.RefreshToken != "" {
		encRefresh, err = m.cipher.Encrypt(ctx, auth.RefreshToken)
		if err != nil {
			return result.Err[domain.Session](result.KindEncryptionFailed, "refresh token encryption failed")
		}
	}

	now := m.now()
	refreshed, err := sess.WithRefreshed(encAccess, encRefresh, auth.ExpiresAt, now)
	if err != nil {
		return result.Err[domain.Session](result.KindOperationFailed, err.Error())
	}
	if err := m.persist(ctx, refreshed, refreshed.TTL(now)); err != nil {
		return result.Err[domain.Session](result.KindSystemError, "session persistence failed")
	}
	log.Printf("session manager: refreshed session %s, new expiry %s", id, refreshed.ExpiresAt.Format(time.RFC3339))
	return result.Ok(refreshed)
}

// Revoke terminates a session. Returns true when a live session was revoked,
// false when the session was already gone or terminal; both are success.
func (m *Manager) Revoke(ctx context.Context, id string) result.Result[bool] {
	sess, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return result.Ok(false)
		}
		return result.Err[bool](result.KindSystemError, "session load failed")
	}
	if sess.Terminal() {
		return result.Ok(false)
	}
	if err := m.terminate(ctx, sess.Revoked(m.now())); err != nil {
		return result.Err[bool](result.KindSystemError, "session persistence failed")
	}
	log.Printf("session manager: revoked session %s for user %s", id, sess.UserID)
	return result.Ok(true)
}

// Expire moves a session to EXPIRED ahead of its TTL, for example when a
// broker reports the token dead. Idempotent like Revoke.
func (m *Manager) Expire(ctx context.Context, id string) result.Result[bool] {
	sess, err := m.load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return result.Ok(false)
		}
		return result.Err[bool](result.KindSystemError, "session load failed")
	}
	if sess.Terminal() {
		return result.Ok(false)
	}
	if err := m.terminate(ctx, sess.Expired(m.now())); err != nil {
		return result.Err[bool](result.KindSystemError, "session persistence failed")
	}
	return result.Ok(true)
}

// ListActive returns every live session for the user across all brokers.
func (m *Manager) ListActive(ctx context.Context, userID string) result.Result[[]domain.Session] {
	pattern := indexPrefix + userID + ":*"
	ids, err := m.scanIndex(ctx, pattern, 0)
	if err != nil {
		return result.Err[[]domain.Session](result.KindSystemError, "session store enumeration failed")
	}
	now := m.now()
	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := m.load(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return result.Err[[]domain.Session](result.KindSystemError, "session load failed")
		}
		if sess.IsActive(now) {
			sessions = append(sessions, sess)
		}
	}
	return result.Ok(sessions)
}

// Credentials returns the decrypted broker tokens for a live session. The
// decrypted view is never persisted.
func (m *Manager) Credentials(ctx context.Context, id string) result.Result[domain.BrokerCredentials] {
	res := m.FindByID(ctx, id)
	if f := res.Failure(); f != nil {
		return result.ErrFrom[domain.BrokerCredentials](f)
	}
	sess := res.Value()

	access, err := m.cipher.Decrypt(ctx, sess.EncryptedAccessToken)
	if err != nil {
		return result.Err[domain.BrokerCredentials](result.KindDecryptionFailed, "access token decryption failed")
	}
	refresh := ""
	if sess.EncryptedRefreshToken != "" {
		refresh, err = m.cipher.Decrypt(ctx, sess.EncryptedRefreshToken)
		if err != nil {
			return result.Err[domain.BrokerCredentials](result.KindDecryptionFailed, "refresh token decryption failed")
		}
	}
	return result.Ok(domain.BrokerCredentials{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		BrokerType:   sess.BrokerType,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    sess.ExpiresAt,
		CreatedAt:    sess.CreatedAt,
	})
}

// SweepExpired walks the session keyspace in bounded batches and moves
// ACTIVE sessions past their expiry to EXPIRED. Returns the number of
// sessions swept. The store's own TTL removes records eventually; the sweep
// closes the gap between broker expiry and key TTL.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	var (
		cursor uint64
		swept  int
	)
	now := m.now()
	for {
		keys, next, err := m.store.Scan(ctx, cursor, dataPrefix+"*", scanBatch)
		if err != nil {
			return swept, fmt.Errorf("sweep scan: %w", err)
		}
		for _, key := range keys {
			id := key[len(dataPrefix):]
			sess, err := m.load(ctx, id)
			if err != nil {
				continue
			}
			if sess.Status != domain.StatusActive || sess.ExpiresAt.After(now) {
				continue
			}
			if err := m.terminate(ctx, sess.Expired(now)); err != nil {
				log.Printf("session manager: sweep of session %s failed: %v", id, err)
				continue
			}
			swept++
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if swept > 0 {
		m.metrics.RecordSessionsSwept(ctx, int64(swept))
		log.Printf("session manager: swept %d expired sessions", swept)
	}
	return swept, nil
}

// Ping reports store connectivity for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) persist(ctx context.Context, sess domain.Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.store.SetWithTTL(ctx, dataKey(sess.ID), payload, ttl); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := m.store.SetWithTTL(ctx, indexKey(sess.UserID, sess.BrokerType, sess.ID), []byte{1}, ttl); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	return nil
}

// terminate writes the terminal record under a short tombstone TTL and drops
// the user index entry so the session stops counting against the cap.
func (m *Manager) terminate(ctx context.Context, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.store.SetWithTTL(ctx, dataKey(sess.ID), payload, tombstoneTTL); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}
	if err := m.store.Delete(ctx, indexKey(sess.UserID, sess.BrokerType, sess.ID)); err != nil {
		return fmt.Errorf("drop session index: %w", err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (domain.Session, error) {
	raw, err := m.store.Get(ctx, dataKey(id))
	if err != nil {
		return domain.Session{}, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return sess, nil
}

func (m *Manager) countActive(ctx context.Context, userID string, bt brokerdomain.BrokerType) (int, error) {
	sessions, err := m.activeSessions(ctx, userID, bt)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (m *Manager) activeSessions(ctx context.Context, userID string, bt brokerdomain.BrokerType) ([]domain.Session, error) {
	ids, err := m.scanIndex(ctx, indexPattern(userID, bt), 0)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var sessions []domain.Session
	for _, id := range ids {
		sess, err := m.load(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sess.IsActive(now) {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// scanIndex enumerates session ids whose index keys match pattern. limit 0
// means no bound beyond the keyspace.
func (m *Manager) scanIndex(ctx context.Context, pattern string, limit int) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := m.store.Scan(ctx, cursor, pattern, scanBatch)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			// The session id is the final colon-separated segment.
			for i := len(key) - 1; i >= 0; i-- {
				if key[i] == ':' {
					ids = append(ids, key[i+1:])
					break
				}
			}
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}
