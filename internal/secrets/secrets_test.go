package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticStore(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]string{"broker-auth/encryption-key": "k1"})

	v, err := s.Get(ctx, "broker-auth/encryption-key")
	if err != nil || v != "k1" {
		t.Fatalf("Get = %q, %v", v, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing path err = %v", err)
	}
	if err := s.Put(ctx, "a/b", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _ := s.Get(ctx, "a/b"); v != "v" {
		t.Fatalf("after Put, Get = %q", v)
	}
}

func TestHTTPStoreGet(t *testing.T) {
	var gotToken, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Vault-Token")
		gotVersion = r.URL.Query().Get("version")
		if r.URL.Path != "/v1/broker-auth/encryption-key" {
			http.NotFound(w, r)
			return
		}
		var payload kvPayload
		payload.Data.Value = "super-secret"
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL, "tok-1")
	v, err := s.Get(context.Background(), "broker-auth/encryption-key#v2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "super-secret" {
		t.Fatalf("value = %q", v)
	}
	if gotToken != "tok-1" {
		t.Fatalf("token header = %q", gotToken)
	}
	if gotVersion != "2" {
		t.Fatalf("version query = %q", gotVersion)
	}
}

func TestHTTPStoreGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewHTTPStore(srv.URL, "tok")
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSplitVersion(t *testing.T) {
	p, v := splitVersion("a/b#v3")
	if p != "a/b" || v != "3" {
		t.Fatalf("splitVersion = %q, %q", p, v)
	}
	p, v = splitVersion("a/b")
	if p != "a/b" || v != "" {
		t.Fatalf("splitVersion no suffix = %q, %q", p, v)
	}
}
