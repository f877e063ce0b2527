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

// Package keycache resolves a device's current ECDSA P-256 public key by
// UUID, caching lookups in memory and falling back to a remote key
// server on a miss.
package keycache

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const maxFetchAttempts = 5

// Cache resolves and caches device public keys fetched from a key
// server, keyed by device UUID.
type Cache struct {
	serverURL string
	client    *http.Client
	keys      sync.Map // uuid.UUID -> *ecdsa.PublicKey
}

// New returns a Cache that queries serverURL for keys not already held,
// bounding each request with timeout.
func New(serverURL string, timeout time.Duration) *Cache {
	return &Cache{
		serverURL: serverURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Get returns the public key currently on record for uid, fetching and
// caching it from the key server on first use.
func (c *Cache) Get(ctx context.Context, uid uuid.UUID) (*ecdsa.PublicKey, error) {
	if cached, ok := c.keys.Load(uid); ok {
		return cached.(*ecdsa.PublicKey), nil
	}

	pub, err := c.fetchWithRetry(ctx, uid)
	if err != nil {
		return nil, err
	}

	c.keys.Store(uid, pub)
	return pub, nil
}

// Invalidate drops any cached key for uid, forcing the next Get to
// re-fetch it. Call this after a device reports a key rotation.
func (c *Cache) Invalidate(uid uuid.UUID) {
	c.keys.Delete(uid)
}

// Register directly stores pub as the current key for uid, bypassing
// the key server. Used for devices provisioned out of band.
func (c *Cache) Register(uid uuid.UUID, pub *ecdsa.PublicKey) {
	c.keys.Store(uid, pub)
}

func (c *Cache) fetchWithRetry(ctx context.Context, uid uuid.UUID) (pub *ecdsa.PublicKey, err error) {
	for i := 0; i < maxFetchAttempts; i++ {
		pub, err = c.fetch(ctx, uid)
		if err != nil && isTransient(err) {
			log.Debugf("key server lookup for %s failed (%d of %d): %v", uid, i+1, maxFetchAttempts, err)
			continue
		}
		break
	}
	return pub, err
}

type keyResponse struct {
	PublicKeyDER string `json:"publicKeyDer"`
}

func (c *Cache) fetch(ctx context.Context, uid uuid.UUID) (*ecdsa.PublicKey, error) {
	endpoint, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid key server URL: %v", err)
	}
	endpoint.Path = path.Join(endpoint.Path, uid.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("key server response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key server returned %d: %s", resp.StatusCode, string(body))
	}

	var keyResp keyResponse
	if err := json.Unmarshal(body, &keyResp); err != nil {
		return nil, fmt.Errorf("decoding key server response: %v", err)
	}

	der, err := base64.StdEncoding.DecodeString(keyResp.PublicKeyDER)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %v", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %v", err)
	}

	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key server returned a non-ECDSA public key for %s", uid)
	}

	return pub, nil
}

// isTransient reports whether err is a network-level failure worth
// retrying, as opposed to a definitive rejection from the server.
func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
