/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func selfSignedPEM(t *testing.T) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "tlsca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestSecureOptionsTLSConfig(t *testing.T) {
	tlsConfig, err := SecureOptions{}.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	tlsConfig, err = SecureOptions{UseTLS: true, ServerRootCAs: [][]byte{selfSignedPEM(t)}}.TLSConfig()
	require.NoError(t, err)
	require.NotNil(t, tlsConfig.RootCAs)

	_, err = SecureOptions{UseTLS: true, ServerRootCAs: [][]byte{[]byte("garbage")}}.TLSConfig()
	assert.EqualError(t, err, "error adding root certificate")

	_, err = SecureOptions{UseTLS: true, RequireClientCert: true}.TLSConfig()
	assert.EqualError(t, err, "both Key and Certificate are required when using mutual TLS")
}

func TestClientKeepaliveOptions(t *testing.T) {
	opts := DefaultKeepaliveOptions.ClientKeepaliveOptions()
	require.Len(t, opts, 1)
}

func TestNewConnection(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := grpc.NewServer()
	go server.Serve(lis)
	defer server.Stop()

	client, err := NewGRPCClient(ClientConfig{
		KaOpts:      DefaultKeepaliveOptions,
		DialTimeout: 5 * time.Second,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	conn, err := client.NewConnection(context.Background(), lis.Addr().String(), "")
	require.NoError(t, err)
	conn.Close()
}

func TestNewConnectionTimeout(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := lis.Addr().String()
	lis.Close()

	client, err := NewGRPCClient(ClientConfig{DialTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.NewConnection(context.Background(), address, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create new connection")
}
