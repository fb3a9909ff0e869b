/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Configuration defaults
var (
	// Max send and receive bytes for grpc clients
	MaxRecvMsgSize = 100 * 1024 * 1024
	MaxSendMsgSize = 100 * 1024 * 1024
	// Default keepalive options
	DefaultKeepaliveOptions = KeepaliveOptions{
		ClientInterval: time.Duration(1) * time.Minute,
		ClientTimeout:  time.Duration(20) * time.Second,
	}
	// DefaultConnectionTimeout is the default connection timeout
	DefaultConnectionTimeout = 3 * time.Second
)

// ClientConfig defines the parameters for configuring a GRPCClient instance
type ClientConfig struct {
	// SecOpts defines the security parameters
	SecOpts SecureOptions
	// KaOpts defines the keepalive parameters
	KaOpts KeepaliveOptions
	// DialTimeout controls how long the client can block when attempting to
	// establish a connection to a server
	DialTimeout time.Duration
	// AsyncConnect makes connection creation non blocking
	AsyncConnect bool
	// Logger, when set, logs every client call
	Logger *zap.Logger
}

// DialOptions converts the configuration into grpc dial options.
func (cc ClientConfig) DialOptions() []grpc.DialOption {
	var dialOpts []grpc.DialOption
	dialOpts = append(dialOpts, cc.KaOpts.ClientKeepaliveOptions()...)
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(MaxRecvMsgSize),
		grpc.MaxCallSendMsgSize(MaxSendMsgSize),
	))
	if !cc.AsyncConnect {
		dialOpts = append(dialOpts, grpc.WithBlock())
	}
	if cc.Logger != nil {
		dialOpts = append(dialOpts,
			grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(grpc_zap.UnaryClientInterceptor(cc.Logger))),
			grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(grpc_zap.StreamClientInterceptor(cc.Logger))),
		)
	}
	return dialOpts
}

// SecureOptions defines the TLS security parameters for a GRPCClient.
type SecureOptions struct {
	// PEM-encoded X509 public key to be used for TLS communication
	Certificate []byte
	// PEM-encoded private key to be used for TLS communication
	Key []byte
	// Set of PEM-encoded X509 certificate authorities used by clients to
	// verify server certificates
	ServerRootCAs [][]byte
	// Whether or not to use TLS for communication
	UseTLS bool
	// Whether or not TLS client must present certificates for authentication
	RequireClientCert bool
}

// TLSConfig returns the TLS configuration for the options, or nil when TLS
// is disabled.
func (so SecureOptions) TLSConfig() (*tls.Config, error) {
	if !so.UseTLS {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	certPool := x509.NewCertPool()
	for _, certBytes := range so.ServerRootCAs {
		if !certPool.AppendCertsFromPEM(certBytes) {
			return nil, errors.New("error adding root certificate")
		}
	}
	tlsConfig.RootCAs = certPool

	if so.RequireClientCert {
		if so.Key == nil || so.Certificate == nil {
			return nil, errors.New("both Key and Certificate are required when using mutual TLS")
		}
		cert, err := tls.X509KeyPair(so.Certificate, so.Key)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load client certificate")
		}
		tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	}

	return tlsConfig, nil
}

// KeepaliveOptions is used to set the gRPC keepalive settings for clients.
type KeepaliveOptions struct {
	// ClientInterval is the duration after which if the client does not see
	// any activity from the server it pings the server to see if it is alive
	ClientInterval time.Duration
	// ClientTimeout is the duration the client waits for a response
	// from the server after sending a ping before closing the connection
	ClientTimeout time.Duration
}

// ClientKeepaliveOptions returns gRPC keepalive dial options for clients.
func (ka KeepaliveOptions) ClientKeepaliveOptions() []grpc.DialOption {
	// set keepalive options
	var dialOpts []grpc.DialOption
	kap := keepalive.ClientParameters{
		Time:                ka.ClientInterval,
		Timeout:             ka.ClientTimeout,
		PermitWithoutStream: true,
	}
	dialOpts = append(dialOpts, grpc.WithKeepaliveParams(kap))
	return dialOpts
}
