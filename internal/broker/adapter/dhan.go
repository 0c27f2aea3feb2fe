package adapter

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
)

const (
	dhanDefaultBaseURL = "https://api.dhan.co/v2"
	dhanProbePath      = "/fundlimit"
	dhanTokenTTL       = 24 * time.Hour
)

// DhanConfig configures the Dhan adapter.
type DhanConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Dhan implements the pre-issued session-token scheme: there is no login
// call; "authentication" probes a low-cost funds endpoint with a per-call
// checksum header of SHA-256(timestamp + clientID + token). 200 means valid,
// 401 expired/invalid, 429 rate-limited, other non-2xx a transient fault.
type Dhan struct {
	cfg    DhanConfig
	client *http.Client
	now    func() time.Time
}

// NewDhan returns the Dhan adapter.
func NewDhan(cfg DhanConfig) *Dhan {
	if cfg.BaseURL == "" {
		cfg.BaseURL = dhanDefaultBaseURL
	}
	return &Dhan{cfg: cfg, client: newHTTPClient(cfg.Timeout), now: time.Now}
}

func (d *Dhan) Name() string                      { return "dhan" }
func (d *Dhan) Supports(t domain.BrokerType) bool { return t == domain.Dhan }

func (d *Dhan) Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse] {
	creds, ok := req.Credentials.(domain.SessionToken)
	if !ok {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "dhan requires a pre-issued session token and client id")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.BaseURL+dhanProbePath, nil)
	if err != nil {
		return result.Err[domain.AuthResponse](result.KindSystemError, "dhan request could not be built")
	}
	ts := strconv.FormatInt(d.now().Unix(), 10)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("access-token", creds.AccessToken)
	httpReq.Header.Set("client-id", creds.ClientID)
	httpReq.Header.Set("X-Timestamp", ts)
	httpReq.Header.Set("X-Checksum", sha256Hex(ts, creds.ClientID, creds.AccessToken))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		log.Printf("dhan: probe transport fault: %v", err)
		return result.ErrFrom[domain.AuthResponse](transportFailure("dhan", err))
	}
	if _, err := readBody(resp); err != nil {
		return result.ErrFrom[domain.AuthResponse](transportFailure("dhan", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		now := d.now()
		log.Printf("dhan: validated token %s", domain.Mask(creds.AccessToken))
		return result.Ok(domain.AuthResponse{
			AccessToken: creds.AccessToken,
			BrokerType:  domain.Dhan,
			ExpiresAt:   tokenExpiry(creds.AccessToken, dhanTokenTTL, now),
			Success:     true,
			Message:     "session token validated",
		})
	case resp.StatusCode == http.StatusUnauthorized:
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "dhan session token expired or invalid")
	case resp.StatusCode == http.StatusTooManyRequests:
		return result.ErrFrom[domain.AuthResponse](failureFromStatus("dhan", resp.StatusCode, resp.Header.Get("Retry-After")))
	}
	return result.ErrFrom[domain.AuthResponse](failureFromStatus("dhan", resp.StatusCode, resp.Header.Get("Retry-After")))
}

// Refresh is not part of the Dhan scheme; tokens are re-issued out of band.
func (d *Dhan) Refresh(ctx context.Context, refreshToken string) result.Result[domain.AuthResponse] {
	return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "dhan does not issue refresh tokens; authenticate with a new session token")
}
