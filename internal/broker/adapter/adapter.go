// Package adapter implements the per-broker authentication protocols behind
// one contract. Every adapter maps provider status codes to a canonical
// outcome and never lets a transport fault escape as a panic or raw error;
// faults become pipeline failures.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
)

// Adapter is the common authenticate/refresh contract over a broker's actual
// handshake. Calls are blocking; callers run them on their own goroutine
// (one lightweight task per in-flight call, never one OS thread per call).
type Adapter interface {
	// Authenticate performs the broker handshake for req. An interim outcome
	// (e.g. awaiting TOTP) is a success Result whose response has
	// Success=false and no tokens.
	Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse]
	// Refresh exchanges a refresh token for fresh credentials.
	Refresh(ctx context.Context, refreshToken string) result.Result[domain.AuthResponse]
	// Supports reports whether this adapter serves the given broker.
	Supports(t domain.BrokerType) bool
	// Name is the adapter's diagnostic name.
	Name() string
}

// defaultTimeout bounds connect plus total time for one broker call; on
// expiry the adapter returns a transient failure rather than blocking.
const defaultTimeout = 10 * time.Second

// newHTTPClient returns a client with a bounded outbound pool per broker.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 16,
			MaxConnsPerHost:     64,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// maxBodyBytes bounds how much of a broker response is read.
const maxBodyBytes = 1 << 20

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// sha256Hex returns the lowercase hex SHA-256 of the concatenated parts;
// the checksum primitive shared by the Zerodha and Dhan handshakes.
func sha256Hex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// transportFailure converts a transport-level fault (dial, TLS, timeout)
// into a transient failure. The raw error is logged by callers, never
// surfaced.
func transportFailure(broker string, err error) *result.Failure {
	msg := fmt.Sprintf("%s temporarily unreachable", broker)
	if ctxErr := contextCause(err); ctxErr != "" {
		msg = fmt.Sprintf("%s call %s", broker, ctxErr)
	}
	return &result.Failure{Kind: result.KindOperationFailed, Message: msg, RetryAfter: 2 * time.Second}
}

func contextCause(err error) string {
	switch {
	case err == nil:
		return ""
	case isTimeout(err):
		return "timed out"
	}
	return ""
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; e = unwrap(e) {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		if e == context.DeadlineExceeded {
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// failureFromStatus maps a non-2xx provider status to the canonical outcome:
// 400/401/403 invalid credentials, 429 rate limited (with retry-after hint),
// anything else a transient broker fault.
func failureFromStatus(broker string, status int, retryAfterHeader string) *result.Failure {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return &result.Failure{
			Kind:    result.KindInvalidCredentials,
			Message: fmt.Sprintf("%s rejected the credentials", broker),
		}
	case http.StatusTooManyRequests:
		retryAfter := 5 * time.Second
		if secs, err := strconv.Atoi(retryAfterHeader); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &result.Failure{
			Kind:       result.KindRateLimitExceeded,
			Message:    fmt.Sprintf("%s rate limit exceeded", broker),
			RetryAfter: retryAfter,
		}
	}
	return &result.Failure{
		Kind:       result.KindOperationFailed,
		Message:    fmt.Sprintf("%s returned status %d", broker, status),
		RetryAfter: 2 * time.Second,
	}
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature (the broker signed it; we only need the horizon).
// Falls back to now+fallback when the token is not a parseable JWT.
func tokenExpiry(token string, fallback time.Duration, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Time.After(now) {
			return exp.Time
		}
	}
	return now.Add(fallback)
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(data, v)
}
