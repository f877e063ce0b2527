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
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"
)

const (
	GatewayTimeout  = 20 * time.Second // time after which the client sees a 504 if no timely response was produced
	ShutdownTimeout = 25 * time.Second // time after which the server is shut down forcefully
	ReadTimeout     = 5 * time.Second  // manifests are small, but not as small as a signature request
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 60 * time.Second
)

// HTTPServer wraps a chi router with the graceful-shutdown and timeout
// conventions the rest of the ambient stack uses.
type HTTPServer struct {
	Router   *chi.Mux
	Addr     string
	TLS      bool
	CertFile string
	KeyFile  string
}

// NewRouter returns a chi.Mux with the gateway timeout middleware
// already attached.
func NewRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.Timeout(GatewayTimeout))
	return router
}

// Serve runs the HTTP server until ctx is canceled, then attempts a
// graceful shutdown bounded by ShutdownTimeout. ready is closed once the
// listener is about to start accepting connections.
func (srv *HTTPServer) Serve(ctx context.Context, ready context.CancelFunc) error {
	server := &http.Server{
		Addr:         srv.Addr,
		Handler:      srv.Router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	go func() {
		<-ctx.Done()
		server.SetKeepAlivesEnabled(false)

		shutdownWithTimeoutCtx, cancel := context.WithTimeout(shutdownCtx, ShutdownTimeout)
		defer cancel()
		defer shutdownCancel()

		if err := server.Shutdown(shutdownWithTimeoutCtx); err != nil {
			log.Warnf("could not gracefully shut down server: %s", err)
		} else {
			log.Debug("shut down HTTP server")
		}
	}()

	log.Infof("starting HTTP server on %s", srv.Addr)
	ready()

	var err error
	if srv.TLS {
		err = server.ListenAndServeTLS(srv.CertFile, srv.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("error starting HTTP server: %v", err)
	}

	<-shutdownCtx.Done()
	return nil
}
