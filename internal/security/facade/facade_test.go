package facade

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	brokerdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/mediator"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/security/risk"
	sessiondomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/session/domain"
)

type fakeBroker struct {
	res   result.Result[brokerdomain.AuthResponse]
	calls int
}

func (b *fakeBroker) Authenticate(_ context.Context, _ brokerdomain.AuthRequest) result.Result[brokerdomain.AuthResponse] {
	b.calls++
	return b.res
}

type fakeSessions struct {
	createRes  result.Result[sessiondomain.Session]
	touchRes   result.Result[sessiondomain.Session]
	refreshRes result.Result[sessiondomain.Session]
	revokeRes  result.Result[bool]
	listRes    result.Result[[]sessiondomain.Session]
	credsRes   result.Result[sessiondomain.BrokerCredentials]
	creates    int
}

func (s *fakeSessions) Create(_ context.Context, _ string, _ brokerdomain.AuthResponse, _ map[string]string) result.Result[sessiondomain.Session] {
	s.creates++
	return s.createRes
}

func (s *fakeSessions) FindByID(_ context.Context, _ string) result.Result[sessiondomain.Session] {
	return s.touchRes
}

func (s *fakeSessions) Touch(_ context.Context, _ string) result.Result[sessiondomain.Session] {
	return s.touchRes
}

func (s *fakeSessions) Refresh(_ context.Context, _ string) result.Result[sessiondomain.Session] {
	return s.refreshRes
}

func (s *fakeSessions) Revoke(_ context.Context, _ string) result.Result[bool] {
	return s.revokeRes
}

func (s *fakeSessions) ListActive(_ context.Context, _ string) result.Result[[]sessiondomain.Session] {
	return s.listRes
}

func (s *fakeSessions) Credentials(_ context.Context, _ string) result.Result[sessiondomain.BrokerCredentials] {
	return s.credsRes
}

func (s *fakeSessions) NeedsRefresh(sess sessiondomain.Session) bool {
	return sess.NeedsRefresh(time.Now(), 30*time.Minute)
}

func (s *fakeSessions) Ping(context.Context) error { return nil }

type auditCall struct {
	action  string
	outcome string
}

type fakeAuditor struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *fakeAuditor) AuthOutcome(_ context.Context, _, _, _, _, outcome, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{action: "auth", outcome: outcome})
}

func (a *fakeAuditor) SessionEvent(_ context.Context, _, _, _, action, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{action: action, outcome: outcome})
}

func (a *fakeAuditor) outcomes() []auditCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditCall, len(a.calls))
	copy(out, a.calls)
	return out
}

func newFacade(t *testing.T, broker Broker, sessions Sessions, auditor Auditor) *Facade {
	t.Helper()
	m, err := mediator.New(risk.NewScorer(0, 0), nil, nil, time.Second)
	if err != nil {
		t.Fatalf("mediator construction failed: %v", err)
	}
	return New(m, broker, sessions, auditor)
}

func trustedContext() mediator.SecurityContext {
	return mediator.NewContext("user-1", "10.0.0.5:44321", "trademaster-terminal/2.1", time.Now())
}

func liveSession(t *testing.T) sessiondomain.Session {
	t.Helper()
	now := time.Now()
	sess, err := sessiondomain.New("user-1", brokerdomain.Zerodha, "enc-access", "enc-refresh", now.Add(24*time.Hour), now, nil)
	if err != nil {
		t.Fatalf("session construction failed: %v", err)
	}
	return sess
}

func zerodhaRequest() brokerdomain.AuthRequest {
	return brokerdomain.AuthRequest{
		UserID:     "user-1",
		BrokerType: brokerdomain.Zerodha,
		Credentials: brokerdomain.APIKeySecret{
			APIKey:       "kite-key",
			APISecret:    "kite-secret",
			RequestToken: "req-token",
		},
	}
}

func TestAuthenticateOpensSessionAndMasksTokens(t *testing.T) {
	sess := liveSession(t)
	broker := &fakeBroker{res: result.Ok(brokerdomain.AuthResponse{
		AccessToken: "kite-access-token-xyz9",
		BrokerType:  brokerdomain.Zerodha,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
		Success:     true,
	})}
	sessions := &fakeSessions{createRes: result.Ok(sess)}
	auditor := &fakeAuditor{}
	f := newFacade(t, broker, sessions, auditor)

	res := f.Authenticate(context.Background(), trustedContext(), zerodhaRequest())
	if !res.IsOk() {
		t.Fatalf("authenticate failed: %+v", res.Failure())
	}
	auth := res.Value()
	if auth.SessionID != sess.ID {
		t.Fatalf("response missing session id: %+v", auth)
	}
	if !strings.HasPrefix(auth.AccessToken, "****") {
		t.Fatalf("access token not masked: %q", auth.AccessToken)
	}
	if strings.Contains(auth.AccessToken, "kite-access-token") {
		t.Fatal("raw token leaked in response")
	}
	if sessions.creates != 1 {
		t.Fatalf("expected one session create, got %d", sessions.creates)
	}

	var sawCreate bool
	for _, c := range auditor.outcomes() {
		if c.action == "session.create" && c.outcome == "success" {
			sawCreate = true
		}
	}
	if !sawCreate {
		t.Fatal("session creation not audited")
	}
}

func TestAuthenticateSurfacesBrokerRejection(t *testing.T) {
	broker := &fakeBroker{res: result.Err[brokerdomain.AuthResponse](result.KindInvalidCredentials, "Invalid credentials")}
	sessions := &fakeSessions{}
	f := newFacade(t, broker, sessions, nil)

	res := f.Authenticate(context.Background(), trustedContext(), zerodhaRequest())
	failure := res.Failure()
	if failure == nil || failure.Kind != result.KindInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %+v", failure)
	}
	if failure.Message != "Invalid credentials" {
		t.Fatalf("broker message lost: %q", failure.Message)
	}
	if sessions.creates != 0 {
		t.Fatal("no session may be created for a rejected handshake")
	}
}

func TestAuthenticateInterimResponseSkipsSession(t *testing.T) {
	broker := &fakeBroker{res: result.Ok(brokerdomain.AuthResponse{
		BrokerType: brokerdomain.AngelOne,
		Success:    false,
		Message:    "awaiting TOTP: second factor required",
	})}
	sessions := &fakeSessions{}
	f := newFacade(t, broker, sessions, nil)

	req := brokerdomain.AuthRequest{
		UserID:     "user-1",
		BrokerType: brokerdomain.AngelOne,
		Credentials: brokerdomain.PasswordTOTP{
			ClientCode: "A123",
			Password:   "pin",
			APIKey:     "angel-key",
		},
	}
	res := f.Authenticate(context.Background(), trustedContext(), req)
	if !res.IsOk() {
		t.Fatalf("interim response should not be a failure: %+v", res.Failure())
	}
	if res.Value().Success {
		t.Fatal("interim response must keep success false")
	}
	if res.Value().SessionID != "" || sessions.creates != 0 {
		t.Fatal("interim response must not open a session")
	}
}

func TestAuthenticateSurfacesSessionCap(t *testing.T) {
	broker := &fakeBroker{res: result.Ok(brokerdomain.AuthResponse{
		AccessToken: "tok",
		BrokerType:  brokerdomain.Zerodha,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
		Success:     true,
	})}
	sessions := &fakeSessions{
		createRes: result.Err[sessiondomain.Session](result.KindConcurrentSessionLimit, "active session limit of 1 reached for broker ZERODHA"),
	}
	f := newFacade(t, broker, sessions, nil)

	res := f.Authenticate(context.Background(), trustedContext(), zerodhaRequest())
	failure := res.Failure()
	if failure == nil || failure.Kind != result.KindConcurrentSessionLimit {
		t.Fatalf("expected CONCURRENT_SESSION_LIMIT, got %+v", failure)
	}
}

func TestAuthenticateBlockedByPipeline(t *testing.T) {
	broker := &fakeBroker{res: result.Ok(brokerdomain.AuthResponse{Success: true})}
	f := newFacade(t, broker, &fakeSessions{}, nil)

	// Anonymous context fails the authenticate stage before any broker call.
	sc := mediator.NewContext("", "10.0.0.5:44321", "trademaster-terminal/2.1", time.Now())
	res := f.Authenticate(context.Background(), sc, zerodhaRequest())
	if res.Failure() == nil || res.Failure().Kind != result.KindAuthenticationFailed {
		t.Fatalf("expected AUTHENTICATION_FAILED, got %+v", res.Failure())
	}
	if broker.calls != 0 {
		t.Fatal("pipeline rejection must precede the broker call")
	}
}

func TestValidateSessionLive(t *testing.T) {
	sess := liveSession(t)
	sessions := &fakeSessions{touchRes: result.Ok(sess)}
	f := newFacade(t, nil, sessions, nil)

	res := f.ValidateSession(context.Background(), trustedContext(), sess.ID)
	if !res.IsOk() {
		t.Fatalf("validate failed: %+v", res.Failure())
	}
	v := res.Value()
	if !v.Valid || v.UserID != "user-1" || v.BrokerType != brokerdomain.Zerodha {
		t.Fatalf("unexpected validation: %+v", v)
	}
}

func TestValidateSessionExpiredIsValidFalse(t *testing.T) {
	sessions := &fakeSessions{
		touchRes: result.Err[sessiondomain.Session](result.KindSessionExpired, "session abc has expired"),
	}
	f := newFacade(t, nil, sessions, nil)

	res := f.ValidateSession(context.Background(), trustedContext(), "abc")
	if !res.IsOk() {
		t.Fatalf("expired session should answer valid=false, not fail: %+v", res.Failure())
	}
	if res.Value().Valid {
		t.Fatal("expired session must not validate")
	}
}

func TestValidateSessionSystemErrorStaysFailure(t *testing.T) {
	sessions := &fakeSessions{
		touchRes: result.Err[sessiondomain.Session](result.KindSystemError, "session store enumeration failed"),
	}
	f := newFacade(t, nil, sessions, nil)

	res := f.ValidateSession(context.Background(), trustedContext(), "abc")
	if res.Failure() == nil || res.Failure().Kind != result.KindSystemError {
		t.Fatalf("infrastructure faults must surface, got %+v", res.Failure())
	}
}

func TestRevokeSessionAudited(t *testing.T) {
	auditor := &fakeAuditor{}
	sessions := &fakeSessions{revokeRes: result.Ok(true)}
	f := newFacade(t, nil, sessions, auditor)

	res := f.RevokeSession(context.Background(), trustedContext(), "sess-1")
	if !res.IsOk() || !res.Value() {
		t.Fatalf("revoke failed: %+v", res.Failure())
	}
	calls := auditor.outcomes()
	if len(calls) != 1 || calls[0].action != "session.revoke" {
		t.Fatalf("revoke not audited: %+v", calls)
	}
}

func TestListActiveSessionsExcludesTokens(t *testing.T) {
	sess := liveSession(t)
	sessions := &fakeSessions{listRes: result.Ok([]sessiondomain.Session{sess})}
	f := newFacade(t, nil, sessions, nil)

	res := f.ListActiveSessions(context.Background(), trustedContext(), "user-1")
	if !res.IsOk() {
		t.Fatalf("list failed: %+v", res.Failure())
	}
	summaries := res.Value()
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	if summaries[0].SessionID != sess.ID || summaries[0].BrokerType != brokerdomain.Zerodha {
		t.Fatalf("summary mismatch: %+v", summaries[0])
	}
}

func TestInternalCredentialsBypassesCallerChecks(t *testing.T) {
	creds := sessiondomain.BrokerCredentials{
		SessionID:   "sess-1",
		UserID:      "user-1",
		BrokerType:  brokerdomain.Zerodha,
		AccessToken: "kite-access-token",
	}
	sessions := &fakeSessions{credsRes: result.Ok(creds)}
	f := newFacade(t, nil, sessions, nil)

	sc := mediator.NewInternalContext("order-service")
	res := f.InternalCredentials(context.Background(), sc, "sess-1")
	if !res.IsOk() {
		t.Fatalf("internal credentials failed: %+v", res.Failure())
	}
	if res.Value().AccessToken != "kite-access-token" {
		t.Fatal("internal path must return the raw token")
	}
}

func TestAuthenticateAsyncDeliversResult(t *testing.T) {
	sess := liveSession(t)
	broker := &fakeBroker{res: result.Ok(brokerdomain.AuthResponse{
		AccessToken: "tok-1234",
		BrokerType:  brokerdomain.Zerodha,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
		Success:     true,
	})}
	sessions := &fakeSessions{createRes: result.Ok(sess)}
	f := newFacade(t, broker, sessions, nil)

	ch := f.AuthenticateAsync(context.Background(), trustedContext(), zerodhaRequest())
	select {
	case res := <-ch:
		if !res.IsOk() || res.Value().SessionID != sess.ID {
			t.Fatalf("async result mismatch: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async result not delivered")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFacade(t, nil, &fakeSessions{}, nil)
	if err := f.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}
