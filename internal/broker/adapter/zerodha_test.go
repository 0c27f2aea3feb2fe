package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
)

func zerodhaRequest() domain.AuthRequest {
	return domain.AuthRequest{
		UserID:     "u1",
		BrokerType: domain.Zerodha,
		Credentials: domain.APIKeySecret{
			APIKey:       "kite-key",
			APISecret:    "kite-secret",
			RequestToken: "req-token",
		},
	}
}

func TestZerodhaAuthenticateSuccess(t *testing.T) {
	var gotChecksum, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotChecksum = r.PostFormValue("checksum")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"access_token":"acc-123456","refresh_token":"ref-654321","user_id":"AB0001"}}`))
	}))
	defer srv.Close()

	z := NewZerodha(ZerodhaConfig{BaseURL: srv.URL})
	start := time.Now()
	res := z.Authenticate(context.Background(), zerodhaRequest())
	if !res.IsOk() {
		t.Fatalf("Authenticate failed: %v", res.Failure())
	}
	resp := res.Value()
	if !resp.Success || resp.AccessToken != "acc-123456" || resp.RefreshToken != "ref-654321" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotPath != "/session/token" {
		t.Fatalf("path = %s", gotPath)
	}
	// checksum = SHA-256(apiKey + requestToken + apiSecret)
	sum := sha256.Sum256([]byte("kite-key" + "req-token" + "kite-secret"))
	if gotChecksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum = %s", gotChecksum)
	}
	// ~24h token horizon.
	ttl := resp.ExpiresAt.Sub(start)
	if ttl < 23*time.Hour || ttl > 25*time.Hour {
		t.Fatalf("expiry horizon = %v", ttl)
	}
}

func TestZerodhaAuthenticateInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","message":"Invalid checksum","error_type":"TokenException"}`))
	}))
	defer srv.Close()

	res := NewZerodha(ZerodhaConfig{BaseURL: srv.URL}).Authenticate(context.Background(), zerodhaRequest())
	if res.IsOk() {
		t.Fatal("expected failure")
	}
	if res.Failure().Kind != result.KindInvalidCredentials {
		t.Fatalf("kind = %s", res.Failure().Kind)
	}
}

func TestZerodhaRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := NewZerodha(ZerodhaConfig{BaseURL: srv.URL}).Authenticate(context.Background(), zerodhaRequest())
	f := res.Failure()
	if f == nil || f.Kind != result.KindRateLimitExceeded {
		t.Fatalf("failure = %v", f)
	}
	if f.RetryAfter != 7*time.Second {
		t.Fatalf("retry-after hint = %v", f.RetryAfter)
	}
}

func TestZerodhaTransportFaultBecomesFailure(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	res := NewZerodha(ZerodhaConfig{BaseURL: srv.URL}).Authenticate(context.Background(), zerodhaRequest())
	f := res.Failure()
	if f == nil || f.Kind != result.KindOperationFailed {
		t.Fatalf("failure = %v", f)
	}
	if !f.Retriable() {
		t.Fatal("transport fault should be retriable")
	}
}

func TestZerodhaWrongCredentialVariant(t *testing.T) {
	req := domain.AuthRequest{
		UserID:      "u1",
		BrokerType:  domain.Zerodha,
		Credentials: domain.SessionToken{AccessToken: "t", ClientID: "c"},
	}
	res := NewZerodha(ZerodhaConfig{}).Authenticate(context.Background(), req)
	if res.IsOk() || res.Failure().Kind != result.KindInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", res.Failure())
	}
}

func TestZerodhaRefreshRequiresAppCredentials(t *testing.T) {
	res := NewZerodha(ZerodhaConfig{}).Refresh(context.Background(), "ref-1")
	if res.IsOk() || res.Failure().Kind != result.KindInvalidCredentials {
		t.Fatalf("expected configuration failure, got %v", res.Failure())
	}
}

func TestZerodhaRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/refresh_token" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"success","data":{"access_token":"acc-2","refresh_token":"ref-2"}}`))
	}))
	defer srv.Close()

	z := NewZerodha(ZerodhaConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s"})
	res := z.Refresh(context.Background(), "ref-1")
	if !res.IsOk() {
		t.Fatalf("Refresh failed: %v", res.Failure())
	}
	if res.Value().AccessToken != "acc-2" {
		t.Fatalf("access token = %s", res.Value().AccessToken)
	}
}
