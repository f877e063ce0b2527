// Copyright (c) 2021 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ubirch/suit-manifest-go/internal/keycache"
	"github.com/ubirch/suit-manifest-go/internal/store"
	"github.com/ubirch/suit-manifest-go/suit"
)

const (
	UUIDKey = "uuid"

	BackendRequestTimeout = 10 * time.Second
	MaxEnvelopeSize       = 1 << 20 // 1 MiB, generous for an embedded update manifest
)

var UUIDPath = fmt.Sprintf("/{%s}", UUIDKey)

// ManifestService accepts signed SUIT envelopes on behalf of devices,
// verifies and parses them, and enforces the sequence-number
// anti-rollback check before reporting the manifest's effect. It can
// also register device public keys and, if configured with a signing
// key, issue new envelopes around raw manifests.
type ManifestService struct {
	keys       *keycache.Cache
	sequences  store.SequenceStore
	signingKey *ecdsa.PrivateKey // nil if this deployment never issues envelopes
}

// componentSummary is the client-facing view of a single parsed
// component, used to report what a manifest would do without exposing
// the library's internal Context layout.
type componentSummary struct {
	Run             bool   `json:"run"`
	Size            uint64 `json:"size,omitempty"`
	URI             string `json:"uri,omitempty"`
	HasDigest       bool   `json:"hasDigest"`
	HasVendorID     bool   `json:"hasVendorId"`
	HasClassID      bool   `json:"hasClassId"`
	SourceComponent *int   `json:"sourceComponent,omitempty"`
}

type manifestSummary struct {
	SequenceNumber uint64             `json:"sequenceNumber"`
	Components     []componentSummary `json:"components"`
}

func (s *ManifestService) submitEnvelope() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := getUUID(r)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		timer := prometheus.NewTimer(manifestProcessingDuration)
		defer timer.ObserveDuration()

		envelope, err := readLimitedBody(r)
		if err != nil {
			manifestsRejectedCounter.WithLabelValues("body").Inc()
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), BackendRequestTimeout)
		defer cancel()

		summary, err := s.process(ctx, uid, envelope)
		if err != nil {
			code, reason := classifyError(err)
			manifestsRejectedCounter.WithLabelValues(reason).Inc()
			writeError(w, code, err)
			return
		}

		manifestsAcceptedCounter.Inc()
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *ManifestService) process(ctx context.Context, uid uuid.UUID, envelope []byte) (*manifestSummary, error) {
	pub, err := s.keys.Get(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("resolving public key for %s: %w", uid, err)
	}

	manifest, err := suit.Unwrap(pub, envelope)
	if err != nil {
		return nil, err
	}

	parsed, err := suit.ParseInit(manifest)
	if err != nil {
		return nil, err
	}

	if err := s.sequences.Advance(ctx, uid, parsed.SequenceNumber()); err != nil {
		return nil, err
	}

	return buildSummary(parsed), nil
}

func buildSummary(ctx *suit.Context) *manifestSummary {
	summary := &manifestSummary{
		SequenceNumber: ctx.SequenceNumber(),
		Components:     make([]componentSummary, ctx.ComponentCount()),
	}

	for i := 0; i < ctx.ComponentCount(); i++ {
		cs := componentSummary{
			Run:         ctx.MustRun(i),
			Size:        ctx.Size(i),
			URI:         ctx.URI(i),
			HasDigest:   ctx.HasDigest(i),
			HasVendorID: ctx.HasVendorID(i),
			HasClassID:  ctx.HasClassID(i),
		}
		if src, ok := ctx.SourceComponent(i); ok {
			cs.SourceComponent = &src
		}
		summary.Components[i] = cs
	}

	return summary
}

// classifyError maps an error from the library's rejection surface onto
// an HTTP status code and a metric label.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrRollback):
		return http.StatusConflict, "rollback"
	case errors.Is(err, suit.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// registerKey handles PUT /devices/{uuid}/key: the request body is a
// DER-encoded SubjectPublicKeyInfo for the device's current ECDSA
// P-256 public key, used for devices provisioned out of band from the
// configured key server.
func (s *ManifestService) registerKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := getUUID(r)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		der, err := readLimitedBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		parsed, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("parsing public key: %v", err))
			return
		}

		pub, ok := parsed.(*ecdsa.PublicKey)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("key for %s is not ECDSA", uid))
			return
		}

		s.keys.Register(uid, pub)
		w.WriteHeader(http.StatusNoContent)
	}
}

// issueManifest handles POST /devices/{uuid}/manifest: the request body
// is a raw (unsigned) SUIT manifest, which is wrapped into a new
// envelope using this deployment's configured signing key. It responds
// 501 if no signing key was configured.
func (s *ManifestService) issueManifest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signingKey == nil {
			writeError(w, http.StatusNotImplemented, errors.New("this deployment is not configured to issue envelopes"))
			return
		}

		if _, err := getUUID(r); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		manifest, err := readLimitedBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		envelope, err := suit.Wrap(s.signingKey, manifest)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		w.Header().Set("Content-Type", "application/cbor")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(envelope); err != nil {
			log.Errorf("unable to write response: %v", err)
		}
	}
}

func getUUID(r *http.Request) (uuid.UUID, error) {
	uuidParam := chi.URLParam(r, UUIDKey)
	uid, err := uuid.Parse(uuidParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %v", uuidParam, err)
	}
	return uid, nil
}

func readLimitedBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxEnvelopeSize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read request body: %v", err)
	}
	if len(body) > MaxEnvelopeSize {
		return nil, fmt.Errorf("envelope exceeds maximum size of %d bytes", MaxEnvelopeSize)
	}
	return body, nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	log.Warnf("%d: %v", code, err)
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("unable to write response: %v", err)
	}
}
