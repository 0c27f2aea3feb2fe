// Package domain holds the protocol-neutral broker authentication types
// shared by the adapters, the registry, and the facade.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BrokerType identifies an external brokerage platform.
type BrokerType string

const (
	Zerodha  BrokerType = "ZERODHA"
	Upstox   BrokerType = "UPSTOX"
	AngelOne BrokerType = "ANGEL_ONE"
	Dhan     BrokerType = "DHAN"
)

// ParseBrokerType returns the BrokerType for s (case-insensitive), or an
// error for an unknown broker.
func ParseBrokerType(s string) (BrokerType, error) {
	switch BrokerType(strings.ToUpper(strings.TrimSpace(s))) {
	case Zerodha:
		return Zerodha, nil
	case Upstox:
		return Upstox, nil
	case AngelOne:
		return AngelOne, nil
	case Dhan:
		return Dhan, nil
	}
	return "", fmt.Errorf("unknown broker type %q", s)
}

// ErrMissingCredentials is returned by AuthRequest.Validate when required
// credential fields are absent. It signals a caller bug, not a runtime
// condition, and aborts before any broker call.
var ErrMissingCredentials = errors.New("required credential fields missing")

// Credentials is a sealed tagged variant: exactly one concrete credential
// shape per broker handshake. Selecting by populated fields is deliberately
// impossible; the variant carries the scheme.
type Credentials interface {
	// Scheme names the credential variant for diagnostics ("api_key_secret",
	// "oauth_code", "password_totp", "session_token").
	Scheme() string
	// Validate returns ErrMissingCredentials (wrapped) when a required field
	// is empty.
	Validate() error
}

// APIKeySecret authenticates with an API key/secret pair plus a one-time
// exchange (request) token obtained from the broker's login redirect.
type APIKeySecret struct {
	APIKey       string
	APISecret    string
	RequestToken string
}

func (c APIKeySecret) Scheme() string { return "api_key_secret" }

func (c APIKeySecret) Validate() error {
	if c.APIKey == "" || c.APISecret == "" || c.RequestToken == "" {
		return fmt.Errorf("api_key_secret: %w", ErrMissingCredentials)
	}
	return nil
}

// OAuthCode authenticates with an OAuth2 authorization code, or with client
// credentials alone when Code is empty and ClientCredentials is set.
type OAuthCode struct {
	ClientID          string
	ClientSecret      string
	Code              string
	RedirectURI       string
	ClientCredentials bool
}

func (c OAuthCode) Scheme() string { return "oauth_code" }

func (c OAuthCode) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("oauth_code: %w", ErrMissingCredentials)
	}
	if !c.ClientCredentials && c.Code == "" {
		return fmt.Errorf("oauth_code: %w", ErrMissingCredentials)
	}
	return nil
}

// PasswordTOTP authenticates with a client code and password, then a TOTP
// code. TOTPCode may be empty on the first step; the broker then answers
// with an interim awaiting-TOTP response. When TOTPSecret is set and
// TOTPCode is empty, the adapter generates the code itself.
type PasswordTOTP struct {
	ClientCode string
	Password   string
	TOTPCode   string
	TOTPSecret string
	APIKey     string
}

func (c PasswordTOTP) Scheme() string { return "password_totp" }

func (c PasswordTOTP) Validate() error {
	if c.ClientCode == "" || c.Password == "" {
		return fmt.Errorf("password_totp: %w", ErrMissingCredentials)
	}
	return nil
}

// SessionToken authenticates with a pre-issued broker access token; there is
// no login call, only a validation probe against a low-cost endpoint.
type SessionToken struct {
	AccessToken string
	ClientID    string
}

func (c SessionToken) Scheme() string { return "session_token" }

func (c SessionToken) Validate() error {
	if c.AccessToken == "" || c.ClientID == "" {
		return fmt.Errorf("session_token: %w", ErrMissingCredentials)
	}
	return nil
}

// AuthRequest is the protocol-neutral authentication request handed to an
// adapter via the registry.
type AuthRequest struct {
	UserID      string
	BrokerType  BrokerType
	Credentials Credentials
}

// Validate checks constructor-level invariants; a violation is a caller bug
// and aborts before the pipeline runs.
func (r AuthRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("auth request: user id: %w", ErrMissingCredentials)
	}
	if r.BrokerType == "" {
		return fmt.Errorf("auth request: broker type: %w", ErrMissingCredentials)
	}
	if r.Credentials == nil {
		return fmt.Errorf("auth request: %w", ErrMissingCredentials)
	}
	return r.Credentials.Validate()
}

// AuthResponse is the protocol-neutral outcome of an adapter call. Success
// false with a message and no tokens is a valid interim outcome (e.g.
// awaiting TOTP); transport and credential faults are reported as pipeline
// failures instead, never as a panic or raw error.
type AuthResponse struct {
	SessionID    string     `json:"session_id,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	BrokerType   BrokerType `json:"broker_type"`
	ExpiresAt    time.Time  `json:"expires_at,omitempty"`
	Success      bool       `json:"success"`
	Message      string     `json:"message,omitempty"`
}

// maskVisible is how many trailing characters of a token remain readable in
// diagnostics.
const maskVisible = 4

// Mask redacts a token for diagnostic output, keeping only the trailing
// characters. Short tokens are fully redacted.
func Mask(token string) string {
	if len(token) <= maskVisible {
		return "****"
	}
	return "****" + token[len(token)-maskVisible:]
}
