/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperledger/fabric-console/internal/console/localconfig"
	"github.com/hyperledger/fabric-console/internal/console/restapi"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tedsuo/ifrit"
)

func testConfig(t *testing.T) *localconfig.TopLevel {
	conf := localconfig.Defaults
	conf.General.ListenAddress = "127.0.0.1:0"
	conf.General.ConsoleURL = "https://console.org1.example.com"
	conf.Ledger.Orderers = []localconfig.Endpoint{{Address: "127.0.0.1:7050"}}
	conf.Members.Static = []membership.Member{
		{MSPID: "Org1MSP", ConsoleURL: "https://console.org1.example.com", Certificates: []string{"cert1"}},
	}
	conf.Notify.Log = false
	return &conf
}

func TestConsoleRun(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)

	process := ifrit.Invoke(c)
	defer func() {
		process.Signal(os.Interrupt)
		select {
		case err := <-process.Wait():
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("console did not stop")
		}
	}()

	base := "http://" + c.HTTP.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "OK", health["status"])

	resp, err = http.Get(base + restapi.URLSignatureCollections)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsoleSeedsMembers(t *testing.T) {
	c, err := New(testConfig(t))
	require.NoError(t, err)
	defer c.close()

	m, err := (&membership.StoreDirectory{Store: c.Store}).Resolve(context.Background(), "Org1MSP")
	require.NoError(t, err)
	assert.Equal(t, "https://console.org1.example.com", m.ConsoleURL)
}

func TestConsoleListenFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	conf := testConfig(t)
	conf.General.ListenAddress = listener.Addr().String()
	c, err := New(conf)
	require.NoError(t, err)

	process := ifrit.Invoke(c)
	select {
	case err := <-process.Wait():
		assert.Contains(t, err.Error(), "address already in use")
	case <-time.After(5 * time.Second):
		t.Fatal("console did not fail")
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*localconfig.TopLevel)
		errMsg string
	}{
		{
			name:   "unknown store",
			modify: func(c *localconfig.TopLevel) { c.Store.Type = "couchdb" },
			errMsg: "unknown store type 'couchdb'",
		},
		{
			name:   "no orderers",
			modify: func(c *localconfig.TopLevel) { c.Ledger.Orderers = nil },
			errMsg: "at least one orderer endpoint is required",
		},
		{
			name: "missing identity",
			modify: func(c *localconfig.TopLevel) {
				c.Identities = []localconfig.Identity{{MSPID: "Org1MSP", CertFile: "missing.pem", KeyFile: "missing.key"}}
			},
			errMsg: "failed to load identity for Org1MSP",
		},
		{
			name: "missing root ca",
			modify: func(c *localconfig.TopLevel) {
				c.Ledger.TLS.Enabled = true
				c.Ledger.TLS.RootCAs = []string{"missing-ca.pem"}
			},
			errMsg: "failed to read root ca missing-ca.pem",
		},
		{
			name: "bad kafka version",
			modify: func(c *localconfig.TopLevel) {
				c.Notify.Kafka.Enabled = true
				c.Notify.Kafka.Version = "banana"
			},
			errMsg: "invalid kafka version 'banana'",
		},
		{
			name: "bad redis url",
			modify: func(c *localconfig.TopLevel) {
				c.Notify.Redis.Enabled = true
				c.Notify.Redis.URL = "ftp://nope"
			},
			errMsg: "invalid redis url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testConfig(t)
			tt.modify(conf)
			_, err := New(conf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	for _, conf := range []localconfig.Store{
		{Type: "memory"},
		{Type: "leveldb", Path: filepath.Join(dir, "leveldb")},
		{Type: "badger", Path: filepath.Join(dir, "badger")},
		{Type: "sqlite", Path: filepath.Join(dir, "console.db")},
	} {
		t.Run(conf.Type, func(t *testing.T) {
			st, err := openStore(conf)
			require.NoError(t, err)
			if closer, ok := st.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			ctx := context.Background()
			require.NoError(t, st.HealthCheck(ctx))
			_, err = st.Get(ctx, "nothing")
			assert.True(t, store.IsNotFound(err))
		})
	}
}

func TestTLSConfig(t *testing.T) {
	cfg, err := TLS{}.Config()
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = TLS{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"}.Config()
	assert.ErrorContains(t, err, "failed to load server key pair")
}
