/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package localconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir, err := filepath.Abs("testdata")
	require.NoError(t, err)

	conf, err := LoadFile(filepath.Join(dir, "console.yaml"))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:3000", conf.General.ListenAddress)
	require.Equal(t, 30*24*time.Hour, conf.General.InactivityWindow)
	require.Equal(t, Defaults.General.MaxRetries, conf.General.MaxRetries)
	require.Equal(t, filepath.Join(dir, "tls/server.crt"), conf.General.TLS.CertFile)
	require.Equal(t, "prometheus", conf.Operations.MetricsProvider)
	require.Equal(t, filepath.Join(dir, "data/console"), conf.Store.Path)

	require.Len(t, conf.Ledger.Orderers, 1)
	require.Equal(t, "orderer0", conf.Ledger.Orderers[0].ServerNameOverride)
	require.Equal(t, 5*time.Second, conf.Ledger.DialTimeout)
	require.Equal(t, []string{filepath.Join(dir, "tls/ca.crt")}, conf.Ledger.TLS.RootCAs)

	require.Len(t, conf.Identities, 1)
	require.Equal(t, filepath.Join(dir, "msp/admin.pem"), conf.Identities[0].CertFile)
	require.Equal(t, "/etc/console/admin.key", conf.Identities[0].KeyFile)

	require.Len(t, conf.Members.Static, 2)
	require.Equal(t, "Org1MSP", conf.Members.Static[0].MSPID)
	require.Equal(t, []string{"cert1"}, conf.Members.Static[0].Certificates)
	require.Equal(t, "https://console.org2.example.com", conf.Members.Static[1].ConsoleURL)
	require.Equal(t, time.Minute, conf.Members.CacheTTL)

	require.True(t, conf.Notify.Kafka.Enabled)
	require.Equal(t, Defaults.Notify.Kafka.Topic, conf.Notify.Kafka.Topic)
	require.Equal(t, Defaults.Notify.QueueSize, conf.Notify.QueueSize)
	require.False(t, conf.Notify.Redis.Enabled)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("CONSOLE_GENERAL_CONSOLEURL", "https://other.example.com")
	t.Setenv("CONSOLE_STORE_TYPE", "badger")

	conf, err := LoadFile(filepath.Join("testdata", "console.yaml"))
	require.NoError(t, err)
	require.Equal(t, "https://other.example.com", conf.General.ConsoleURL)
	require.Equal(t, "badger", conf.Store.Type)
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "console.yaml"), []byte("General:\n    ConsoleURL: https://c\n"), 0o644))
	t.Setenv("CONSOLE_CFG_PATH", dir)

	conf, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://c", conf.General.ConsoleURL)
	require.Equal(t, Defaults.General.ListenAddress, conf.General.ListenAddress)
	require.Equal(t, "memory", conf.Store.Type)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join("testdata", "missing.yaml"))
	require.ErrorContains(t, err, "error reading configuration")

	dir := t.TempDir()
	file := filepath.Join(dir, "console.yaml")
	require.NoError(t, os.WriteFile(file, []byte("General:\n    Bogus: true\n"), 0o644))
	_, err = LoadFile(file)
	require.ErrorContains(t, err, "error unmarshalling config into struct")
}
