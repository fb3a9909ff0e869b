/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

// TLS configures the listener of an HTTP server.
type TLS struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	ClientCertRequired bool
	ClientCACertFiles  []string
}

// Config returns the server TLS configuration, or nil when TLS is disabled.
func (t TLS) Config() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load server key pair")
	}
	caCertPool := x509.NewCertPool()
	for _, caPath := range t.ClientCACertFiles {
		caPem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read client ca %s", caPath)
		}
		if !caCertPool.AppendCertsFromPEM(caPem) {
			return nil, errors.Errorf("no certificates found in %s", caPath)
		}
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}
	if t.ClientCertRequired {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

type Options struct {
	Logger        *flogging.FabricLogger
	ListenAddress string
	TLS           TLS
}

// HTTPServer is a mux backed HTTP server that can be run as an ifrit
// process.
type HTTPServer struct {
	logger     *flogging.FabricLogger
	options    Options
	httpServer *http.Server
	mux        *http.ServeMux
	addr       string
}

func NewHTTPServer(o Options) *HTTPServer {
	logger := o.Logger
	if logger == nil {
		logger = flogging.MustGetLogger("console.server")
	}
	mux := http.NewServeMux()
	return &HTTPServer{
		logger:  logger,
		options: o,
		mux:     mux,
		httpServer: &http.Server{
			Addr:         o.ListenAddress,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
	}
}

// Run starts the server, signals readiness and serves until a signal
// arrives.
func (s *HTTPServer) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	if err := s.Start(); err != nil {
		return err
	}
	close(ready)
	<-signals
	return s.Stop()
}

func (s *HTTPServer) Start() error {
	listener, err := s.Listen()
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.logger.Infof("Console server listening on %s", s.addr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Console server stopped: %s", err)
		}
	}()
	return nil
}

func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once the server has started.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// RegisterHandler mounts handler at pattern. Secure handlers reject
// clients that did not present a verified certificate when TLS is on.
func (s *HTTPServer) RegisterHandler(pattern string, handler http.Handler, secure bool) {
	if secure && s.options.TLS.Enabled {
		handler = requireCert(handler)
	}
	s.mux.Handle(pattern, handler)
}

func (s *HTTPServer) Listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.options.ListenAddress)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := s.options.TLS.Config()
	if err != nil {
		listener.Close()
		return nil, err
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	return listener, nil
}

func requireCert(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
