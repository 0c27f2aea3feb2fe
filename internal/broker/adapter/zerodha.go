package adapter

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
)

const (
	zerodhaDefaultBaseURL = "https://api.kite.trade"
	// Zerodha access tokens are valid until the end of the next trading day;
	// modeled as a 24h horizon.
	zerodhaTokenTTL = 24 * time.Hour
)

// ZerodhaConfig configures the Zerodha adapter. APIKey/APISecret are the
// app-level credentials used for refresh checksums; per-user authentication
// carries its own key pair in the request.
type ZerodhaConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Zerodha implements the API-key/secret plus one-time request-token
// handshake: checksum = SHA-256(apiKey + requestToken + apiSecret), POSTed
// to the session token endpoint.
type Zerodha struct {
	cfg    ZerodhaConfig
	client *http.Client
	now    func() time.Time
}

// NewZerodha returns the Zerodha adapter.
func NewZerodha(cfg ZerodhaConfig) *Zerodha {
	if cfg.BaseURL == "" {
		cfg.BaseURL = zerodhaDefaultBaseURL
	}
	return &Zerodha{cfg: cfg, client: newHTTPClient(cfg.Timeout), now: time.Now}
}

func (z *Zerodha) Name() string                        { return "zerodha" }
func (z *Zerodha) Supports(t domain.BrokerType) bool   { return t == domain.Zerodha }

type zerodhaEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		UserID       string `json:"user_id"`
	} `json:"data"`
}

func (z *Zerodha) Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse] {
	creds, ok := req.Credentials.(domain.APIKeySecret)
	if !ok {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "zerodha requires api key, secret and request token")
	}
	checksum := sha256Hex(creds.APIKey, creds.RequestToken, creds.APISecret)
	form := url.Values{
		"api_key":       {creds.APIKey},
		"request_token": {creds.RequestToken},
		"checksum":      {checksum},
	}
	return z.exchange(ctx, "/session/token", form)
}

func (z *Zerodha) Refresh(ctx context.Context, refreshToken string) result.Result[domain.AuthResponse] {
	if z.cfg.APIKey == "" || z.cfg.APISecret == "" {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "zerodha refresh requires configured app credentials")
	}
	checksum := sha256Hex(z.cfg.APIKey, refreshToken, z.cfg.APISecret)
	form := url.Values{
		"api_key":       {z.cfg.APIKey},
		"refresh_token": {refreshToken},
		"checksum":      {checksum},
	}
	return z.exchange(ctx, "/session/refresh_token", form)
}

func (z *Zerodha) exchange(ctx context.Context, path string, form url.Values) result.Result[domain.AuthResponse] {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return result.Err[domain.AuthResponse](result.KindSystemError, "zerodha request could not be built")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Kite-Version", "3")

	resp, err := z.client.Do(httpReq)
	if err != nil {
		log.Printf("zerodha: %s transport fault: %v", path, err)
		return result.ErrFrom[domain.AuthResponse](transportFailure("zerodha", err))
	}
	body, err := readBody(resp)
	if err != nil {
		return result.ErrFrom[domain.AuthResponse](transportFailure("zerodha", err))
	}
	if resp.StatusCode != http.StatusOK {
		return result.ErrFrom[domain.AuthResponse](failureFromStatus("zerodha", resp.StatusCode, resp.Header.Get("Retry-After")))
	}

	var env zerodhaEnvelope
	if err := decodeJSON(body, &env); err != nil {
		return result.Err[domain.AuthResponse](result.KindOperationFailed, "zerodha returned an unreadable response")
	}
	if env.Status != "success" || env.Data.AccessToken == "" {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "zerodha rejected the credentials")
	}

	now := z.now()
	log.Printf("zerodha: issued token %s", domain.Mask(env.Data.AccessToken))
	return result.Ok(domain.AuthResponse{
		AccessToken:  env.Data.AccessToken,
		RefreshToken: env.Data.RefreshToken,
		BrokerType:   domain.Zerodha,
		ExpiresAt:    now.Add(zerodhaTokenTTL),
		Success:      true,
		Message:      "authenticated",
	})
}
