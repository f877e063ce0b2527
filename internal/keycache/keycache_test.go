package keycache

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testServer(t *testing.T, pub *ecdsa.PublicKey, hits *int) *httptest.Server {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		_ = json.NewEncoder(w).Encode(keyResponse{PublicKeyDER: base64.StdEncoding.EncodeToString(der)})
	}))
}

func TestGetFetchesAndCaches(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var hits int
	srv := testServer(t, &priv.PublicKey, &hits)
	defer srv.Close()

	c := New(srv.URL, time.Second)
	uid := uuid.New()

	got, err := c.Get(context.Background(), uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(&priv.PublicKey) {
		t.Fatalf("returned public key does not match")
	}

	if _, err := c.Get(context.Background(), uid); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	if hits != 1 {
		t.Fatalf("key server was hit %d times, want 1 (second Get should be served from cache)", hits)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var hits int
	srv := testServer(t, &priv.PublicKey, &hits)
	defer srv.Close()

	c := New(srv.URL, time.Second)
	uid := uuid.New()

	if _, err := c.Get(context.Background(), uid); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate(uid)
	if _, err := c.Get(context.Background(), uid); err != nil {
		t.Fatalf("Get after Invalidate: %v", err)
	}

	if hits != 2 {
		t.Fatalf("key server was hit %d times, want 2", hits)
	}
}

func TestGetPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	if _, err := c.Get(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown device")
	}
}

func TestGetRejectsMalformedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(keyResponse{PublicKeyDER: base64.StdEncoding.EncodeToString([]byte("not a key"))})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	if _, err := c.Get(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for malformed public key")
	}
}
