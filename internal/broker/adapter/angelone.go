package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/broker/domain"
	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/result"
)

const (
	angelDefaultBaseURL = "https://apiconnect.angelbroking.com"
	angelLoginPath      = "/rest/auth/angelbroking/user/v1/loginByPassword"
	angelRefreshPath    = "/rest/auth/angelbroking/jwt/v1/generateTokens"
	// Angel One JWTs carry their own exp; fallback horizon if unreadable.
	angelTokenTTL = 8 * time.Hour

	// Angel One error code for a missing or wrong TOTP.
	angelErrInvalidTOTP = "AB1050"
)

// AngelOneConfig configures the Angel One adapter. APIKey is the app private
// key sent on every call.
type AngelOneConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// AngelOne implements the password + TOTP two-step handshake: a password
// login without TOTP yields an interim awaiting-TOTP response; the second
// step submits the TOTP code against the JWT-issuing endpoint.
type AngelOne struct {
	cfg    AngelOneConfig
	client *http.Client
	now    func() time.Time
}

// NewAngelOne returns the Angel One adapter.
func NewAngelOne(cfg AngelOneConfig) *AngelOne {
	if cfg.BaseURL == "" {
		cfg.BaseURL = angelDefaultBaseURL
	}
	return &AngelOne{cfg: cfg, client: newHTTPClient(cfg.Timeout), now: time.Now}
}

func (a *AngelOne) Name() string                      { return "angel_one" }
func (a *AngelOne) Supports(t domain.BrokerType) bool { return t == domain.AngelOne }

type angelEnvelope struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

func (a *AngelOne) Authenticate(ctx context.Context, req domain.AuthRequest) result.Result[domain.AuthResponse] {
	creds, ok := req.Credentials.(domain.PasswordTOTP)
	if !ok {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, "angel one requires client code, password and totp")
	}

	code := creds.TOTPCode
	if code == "" && creds.TOTPSecret != "" {
		generated, err := totp.GenerateCode(creds.TOTPSecret, a.now())
		if err != nil {
			return result.Err[domain.AuthResponse](result.KindInvalidTOTP, "totp secret is not valid")
		}
		code = generated
	}

	payload := map[string]string{
		"clientcode": creds.ClientCode,
		"password":   creds.Password,
		"totp":       code,
	}
	env, fail := a.post(ctx, angelLoginPath, creds.APIKey, payload)
	if fail != nil {
		return result.ErrFrom[domain.AuthResponse](fail)
	}

	if !env.Status {
		// Step 1 of the two-step flow: password accepted, TOTP outstanding.
		// An interim response, not a failure; no session is created from it.
		if code == "" && env.ErrorCode == angelErrInvalidTOTP {
			return result.Ok(domain.AuthResponse{
				BrokerType: domain.AngelOne,
				Success:    false,
				Message:    "awaiting TOTP: " + env.Message,
			})
		}
		if env.ErrorCode == angelErrInvalidTOTP {
			return result.Err[domain.AuthResponse](result.KindInvalidTOTP, env.Message)
		}
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, env.Message)
	}
	return a.issued(env)
}

func (a *AngelOne) Refresh(ctx context.Context, refreshToken string) result.Result[domain.AuthResponse] {
	payload := map[string]string{"refreshToken": refreshToken}
	env, fail := a.post(ctx, angelRefreshPath, a.cfg.APIKey, payload)
	if fail != nil {
		return result.ErrFrom[domain.AuthResponse](fail)
	}
	if !env.Status {
		return result.Err[domain.AuthResponse](result.KindInvalidCredentials, env.Message)
	}
	return a.issued(env)
}

func (a *AngelOne) issued(env *angelEnvelope) result.Result[domain.AuthResponse] {
	if env.Data.JWTToken == "" {
		return result.Err[domain.AuthResponse](result.KindOperationFailed, "angel one returned no token")
	}
	now := a.now()
	log.Printf("angel_one: issued token %s", domain.Mask(env.Data.JWTToken))
	return result.Ok(domain.AuthResponse{
		AccessToken:  env.Data.JWTToken,
		RefreshToken: env.Data.RefreshToken,
		BrokerType:   domain.AngelOne,
		ExpiresAt:    tokenExpiry(env.Data.JWTToken, angelTokenTTL, now),
		Success:      true,
		Message:      "authenticated",
	})
}

func (a *AngelOne) post(ctx context.Context, path, apiKey string, payload map[string]string) (*angelEnvelope, *result.Failure) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &result.Failure{Kind: result.KindSystemError, Message: "angel one request could not be built"}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, &result.Failure{Kind: result.KindSystemError, Message: "angel one request could not be built"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-UserType", "USER")
	httpReq.Header.Set("X-SourceID", "WEB")
	if apiKey != "" {
		httpReq.Header.Set("X-PrivateKey", apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		log.Printf("angel_one: %s transport fault: %v", path, err)
		return nil, transportFailure("angel one", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, transportFailure("angel one", err)
	}
	// Angel One reports credential rejections inside a 200 envelope; only
	// map transport-level statuses here.
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("angel one", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	var env angelEnvelope
	if err := decodeJSON(body, &env); err != nil {
		return nil, &result.Failure{Kind: result.KindOperationFailed, Message: "angel one returned an unreadable response"}
	}
	// Normalize the message so callers can match on it regardless of casing.
	env.Message = strings.TrimSpace(env.Message)
	return &env, nil
}
