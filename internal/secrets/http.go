package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// HTTPStore reads and writes secrets over a KV HTTP API (Vault-style:
// GET/POST {base}/v1/{path} with a token header). Responses carry the value
// under data.value.
type HTTPStore struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPStore returns an HTTPStore for the given base URL and access token.
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type kvPayload struct {
	Data struct {
		Value string `json:"value"`
	} `json:"data"`
}

// Get fetches the secret at path. A "#v<N>" suffix is passed through as the
// version query parameter for versioned backends.
func (s *HTTPStore) Get(ctx context.Context, path string) (string, error) {
	p, version := splitVersion(path)
	u := s.BaseURL + "/v1/" + p
	if version != "" {
		u += "?version=" + url.QueryEscape(version)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Vault-Token", s.Token)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("secrets: get %s: status %d", p, resp.StatusCode)
	}
	var payload kvPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("secrets: get %s: decode: %w", p, err)
	}
	if payload.Data.Value == "" {
		return "", ErrNotFound
	}
	return payload.Data.Value, nil
}

// Put writes value at path.
func (s *HTTPStore) Put(ctx context.Context, path, value string) error {
	p, _ := splitVersion(path)
	var payload kvPayload
	payload.Data.Value = value
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/v1/"+p, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vault-Token", s.Token)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("secrets: put %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("secrets: put %s: status %d", p, resp.StatusCode)
	}
	return nil
}

// splitVersion splits "path#v3" into ("path", "3"). No suffix returns
// ("path", "").
func splitVersion(path string) (string, string) {
	i := strings.LastIndex(path, "#v")
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+2:]
}
