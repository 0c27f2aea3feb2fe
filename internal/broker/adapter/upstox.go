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
	upstoxDefaultBaseURL = "https://api.upstox.com/v2"
	// Fallback horizon when the token carries no readable exp claim; Upstox
	// access tokens expire at 03:30 the next day.
	upstoxTokenTTL = 12 * time.Hour
)

// UpstoxConfig configures the Upstox adapter. ClientID/ClientSecret are used
// for the refresh_token grant; the authorization-code grant carries its own
// client pair in the request.
type UpstoxConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

// Upstox implements the OAuth2 authorization-code / client-credentials
// handshake: form-encoded POST, tokens returned as JSON, refresh via
// grant_type=refresh_token.
type Upstox struct {
	cfg    UpstoxConfig
	client *http.Client
	now    func() time.Time
}

// NewUpstox returns the Upstox adapter.
func NewUpstox(cfg UpstoxConfig) *Upstox {
	if cfg.BaseURL == "" {
		cfg.BaseURL = upstoxDefaultBaseURL
	}
	return &Upstox{cfg: cfg, client: newHTTPClient(cfg.Timeout), now: time.Now}
}

func (u *Upstox) Name() string                      { return "upstox" }
func (u *Upstox) Supports(t domain.BrokerType) bool { return t == domain.Upstox }

type upstoxTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (u *Upstox) Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse] {
	creds, ok := req.Credentials.(domain.OAuthCode)
	if !ok {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "upstox requires an oauth client id, secret and authorization code")
	}
	form := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	if creds.ClientCredentials {
		form.Set("grant_type", "client_credentials")
	} else {
		form.Set("grant_type", "authorization_code")
		form.Set("code", creds.Code)
		redirect := creds.RedirectURI
		if redirect == "" {
			redirect = u.cfg.RedirectURI
		}
		form.Set("redirect_uri", redirect)
	}
	return u.exchange(ctx, form)
}

func (u *Upstox) Refresh(ctx context.Context, refreshToken string) result.Result[domain.AuthResponse] {
	if u.cfg.ClientID == "" || u.cfg.ClientSecret == "" {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "upstox refresh requires configured client credentials")
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {u.cfg.ClientID},
		"client_secret": {u.cfg.ClientSecret},
	}
	return u.exchange(ctx, form)
}

func (u *Upstox) exchange(ctx context.Context, form url.Values) result.Result[domain.AuthResponse] {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.BaseURL+"/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return result.Err[domain.AuthResponse](result.KindSystemError, "upstox request could not be built")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(httpReq)
	if err != nil {
		log.Printf("upstox: token exchange transport fault: %v", err)
		return result.ErrFrom[domain.AuthResponse](transportFailure("upstox", err))
	}
	body, err := readBody(resp)
	if err != nil {
		return result.ErrFrom[domain.AuthResponse](transportFailure("upstox", err))
	}
	if resp.StatusCode != http.StatusOK {
		return result.ErrFrom[domain.AuthResponse](failureFromStatus("upstox", resp.StatusCode, resp.Header.Get("Retry-After")))
	}

	var tok upstoxTokenResponse
	if err := decodeJSON(body, &tok); err != nil {
		return result.Err[domain.AuthResponse](result.KindOperationFailed, "upstox returned an unreadable response")
	}
	if tok.AccessToken == "" {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "upstox rejected the credentials")
	}

	now := u.now()
	expiresAt := tokenExpiry(tok.AccessToken, upstoxTokenTTL, now)
	if tok.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	log.Printf("upstox: issued token %s", domain.Mask(tok.AccessToken))
	return result.Ok(domain.AuthResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		BrokerType:   domain.Upstox,
		ExpiresAt:    expiresAt,
		Success:      true,
		Message:      "authenticated",
	})
}
