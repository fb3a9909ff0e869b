/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/hyperledger/fabric-console/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	s, err := Open(DialectSQLite, filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newSQLiteStore(t)
	})
}

func TestSQLStoreHealthCheck(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestUnsupportedDialect(t *testing.T) {
	_, err := Open("oracle", "")
	assert.EqualError(t, err, "unsupported sql dialect 'oracle'")
}
