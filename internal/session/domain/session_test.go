package domain

import (
	"errors"
	"testing"
	"time"

	brokerdomain "github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
)

var t0 = time.Date(2025, 6, 1, 9, 15, 0, 0, time.UTC)

func newTestSession(t *testing.T) Session {
	t.Helper()
	s, err := New("u1", brokerdomain.Zerodha, "enc-access", "enc-refresh", t0.Add(24*time.Hour), t0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewInvariants(t *testing.T) {
	if _, err := New("", brokerdomain.Zerodha, "a", "", t0.Add(time.Hour), t0, nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing user id: err = %v", err)
	}
	if _, err := New("u1", brokerdomain.Zerodha, "", "", t0.Add(time.Hour), t0, nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing access token: err = %v", err)
	}
	if _, err := New("u1", brokerdomain.Zerodha, "a", "", t0, t0, nil); !errors.Is(err, ErrInvalidExpiry) {
		t.Errorf("expiry not after creation: err = %v", err)
	}
	s := newTestSession(t)
	if s.ID == "" {
		t.Fatal("session id not assigned")
	}
	if s.Status != StatusActive {
		t.Fatalf("new session status = %s", s.Status)
	}
}

func TestIsActive(t *testing.T) {
	s := newTestSession(t)
	if !s.IsActive(t0.Add(time.Hour)) {
		t.Fatal("active session before expiry reported inactive")
	}
	// Past expiry: inactive even though stored status is still ACTIVE.
	if s.IsActive(t0.Add(25 * time.Hour)) {
		t.Fatal("session past expiry reported active")
	}
	if s.Revoked(t0.Add(time.Minute)).IsActive(t0.Add(2 * time.Minute)) {
		t.Fatal("revoked session reported active")
	}
}

func TestTouchChangesOnlyAccessTimes(t *testing.T) {
	s := newTestSession(t)
	later := t0.Add(10 * time.Minute)
	touched := s.WithTouched(later)

	if touched.LastAccessedAt != later || touched.UpdatedAt != later {
		t.Fatal("touch must advance last-accessed and updated timestamps")
	}
	if touched.ExpiresAt != s.ExpiresAt {
		t.Fatal("touch must not extend expiry")
	}
	if touched.Status != s.Status || touched.ID != s.ID || touched.EncryptedAccessToken != s.EncryptedAccessToken {
		t.Fatal("touch changed more than access times")
	}
	// Repeated touches are idempotent in observable status.
	again := touched.WithTouched(later)
	if again.Status != touched.Status || again.ExpiresAt != touched.ExpiresAt {
		t.Fatal("repeated touch changed observable status")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s := newTestSession(t)
	once := s.Revoked(t0.Add(time.Minute))
	if once.Status != StatusRevoked {
		t.Fatalf("status after revoke = %s", once.Status)
	}
	twice := once.Revoked(t0.Add(2 * time.Minute))
	if twice.Status != StatusRevoked {
		t.Fatalf("status after second revoke = %s", twice.Status)
	}
	if twice.UpdatedAt != once.UpdatedAt {
		t.Fatal("second revoke must be a no-op")
	}
	// Terminal states never move back, nor sideways.
	if once.Expired(t0.Add(3 * time.Minute)).Status != StatusRevoked {
		t.Fatal("terminal status changed by expire")
	}
}

func TestNeedsRefreshMonotonic(t *testing.T) {
	s := newTestSession(t)
	threshold := 30 * time.Minute
	if s.NeedsRefresh(t0, threshold) {
		t.Fatal("fresh session should not need refresh")
	}
	firstTrue := s.ExpiresAt.Add(-threshold + time.Second)
	if !s.NeedsRefresh(firstTrue, threshold) {
		t.Fatal("session close to expiry should need refresh")
	}
	// Once true, it stays true as time advances.
	for _, dt := range []time.Duration{time.Minute, 10 * time.Minute, time.Hour} {
		if !s.NeedsRefresh(firstTrue.Add(dt), threshold) {
			t.Fatalf("needsRefresh flipped back to false at +%v", dt)
		}
	}
}

func TestWithRefreshed(t *testing.T) {
	s := newTestSession(t)
	now := t0.Add(23 * time.Hour)
	newExpiry := now.Add(24 * time.Hour)
	refreshed, err := s.WithRefreshed("enc-access-2", "enc-refresh-2", newExpiry, now)
	if err != nil {
		t.Fatalf("WithRefreshed: %v", err)
	}
	if refreshed.EncryptedAccessToken != "enc-access-2" || refreshed.EncryptedRefreshToken != "enc-refresh-2" {
		t.Fatal("tokens not replaced")
	}
	if refreshed.ExpiresAt != newExpiry {
		t.Fatal("expiry not replaced")
	}
	if refreshed.ID != s.ID {
		t.Fatal("session id must be immutable")
	}

	if _, err := s.Revoked(now).WithRefreshed("x", "", newExpiry, now); err == nil {
		t.Fatal("refreshing a terminal session must fail")
	}
}

func TestTTL(t *testing.T) {
	s := newTestSession(t)
	if got := s.TTL(t0); got != 24*time.Hour {
		t.Fatalf("TTL = %v", got)
	}
	if got := s.TTL(t0.Add(25 * time.Hour)); got > 0 {
		t.Fatalf("TTL past expiry should be <= 0, got %v", got)
	}
}
