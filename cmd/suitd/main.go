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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ubirch/suit-manifest-go/internal/config"
	"github.com/ubirch/suit-manifest-go/internal/keycache"
	"github.com/ubirch/suit-manifest-go/internal/store"
)

// shutdown blocks until SIGINT or SIGTERM, then cancels the service
// context so in-flight goroutines can wind down.
func shutdown(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	log.Infof("shutting down after receiving: %v", sig)

	cancel()
}

var (
	// Version is replaced with the tagged version during build.
	Version = "local build"
	// Revision is replaced with the commit hash during build.
	Revision = "unknown"
)

func main() {
	const (
		serviceName = "suitd"
		configFile  = "config.json"
	)

	var (
		configDir string
		serverID  = fmt.Sprintf("%s/%s", serviceName, Version)
	)

	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	log.SetFormatter(&log.JSONFormatter{})
	log.Printf("suitd (version=%s, revision=%s)", Version, Revision)

	conf := &config.Config{}
	if err := conf.Load(configDir, configFile); err != nil {
		log.Fatalf("ERROR: unable to load configuration: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	go shutdown(cancel)

	reg := prometheus.NewRegistry()

	sequences, err := store.NewPostgres(conf.PostgresDSN, store.PoolParams(conf.DbParams()), reg)
	if err != nil {
		log.Fatalf("ERROR: unable to open sequence store: %s", err)
	}
	defer sequences.Close()

	keys := keycache.New(conf.KeyServerURL, conf.KeyServerTimeout())

	var signingKey *ecdsa.PrivateKey
	if conf.SigningKeyFile != "" {
		signingKey, err = loadSigningKey(conf.SigningKeyFile)
		if err != nil {
			log.Fatalf("ERROR: unable to load signing key: %s", err)
		}
	}

	service := &ManifestService{keys: keys, sequences: sequences, signingKey: signingKey}

	httpServer := &HTTPServer{
		Router:   NewRouter(),
		Addr:     conf.TCPAddr,
		TLS:      conf.TLS,
		CertFile: conf.TLSCert,
		KeyFile:  conf.TLSKey,
	}

	serverReadyCtx, serverReady := context.WithCancel(context.Background())
	g.Go(func() error {
		return httpServer.Serve(ctx, serverReady)
	})
	<-serverReadyCtx.Done()

	initPromMetrics(httpServer.Router, reg)

	httpServer.Router.Get("/healthz", health(serverID))
	httpServer.Router.Get("/readiness", health(serverID))

	httpServer.Router.Post("/devices"+UUIDPath+"/envelope", service.submitEnvelope())
	httpServer.Router.Put("/devices"+UUIDPath+"/key", service.registerKey())
	httpServer.Router.Post("/devices"+UUIDPath+"/manifest", service.issueManifest())

	log.Info("ready")

	if err := g.Wait(); err != nil {
		log.Error(err)
	}

	log.Debug("shut down")
}
