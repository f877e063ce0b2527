package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/ubirch/suit-manifest-go/internal/keycache"
	"github.com/ubirch/suit-manifest-go/suit"
)

func newTestRouter(s *ManifestService) *chi.Mux {
	r := chi.NewRouter()
	r.Put(UUIDPath+"/key", s.registerKey())
	r.Post(UUIDPath+"/manifest", s.issueManifest())
	return r
}

func TestRegisterKeyStoresPublicKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}

	keys := keycache.New("", 0)
	service := &ManifestService{keys: keys}
	router := newTestRouter(service)

	uid := uuid.New()
	req := httptest.NewRequest(http.MethodPut, "/"+uid.String()+"/key", bytes.NewReader(der))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := keys.Get(req.Context(), uid)
	if err != nil {
		t.Fatalf("Get after Register: %v", err)
	}
	if !got.Equal(&priv.PublicKey) {
		t.Fatalf("cached key does not match registered key")
	}
}

func TestRegisterKeyRejectsMalformedBody(t *testing.T) {
	service := &ManifestService{keys: keycache.New("", 0)}
	router := newTestRouter(service)

	uid := uuid.New()
	req := httptest.NewRequest(http.MethodPut, "/"+uid.String()+"/key", bytes.NewReader([]byte("not a key")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIssueManifestWithoutSigningKeyReturns501(t *testing.T) {
	service := &ManifestService{keys: keycache.New("", 0)}
	router := newTestRouter(service)

	uid := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/"+uid.String()+"/manifest", bytes.NewReader([]byte("manifest")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestIssueManifestWrapsWithConfiguredKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	service := &ManifestService{keys: keycache.New("", 0), signingKey: priv}
	router := newTestRouter(service)

	rawManifest := []byte{0xa1, 0x01, 0x00} // minimal CBOR map, content is opaque to Wrap
	uid := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/"+uid.String()+"/manifest", bytes.NewReader(rawManifest))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/cbor" {
		t.Fatalf("expected application/cbor content type, got %q", ct)
	}

	manifest, err := suit.Unwrap(&priv.PublicKey, rec.Body.Bytes())
	if err != nil {
		t.Fatalf("unwrapping issued envelope: %v", err)
	}
	if string(manifest) != string(rawManifest) {
		t.Fatalf("round-tripped manifest does not match input")
	}
}
