/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store_test

import (
	"testing"

	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/hyperledger/fabric-console/internal/store/storetest"
	"github.com/stretchr/testify/assert"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemStore()
	})
}

func TestNextRev(t *testing.T) {
	r1 := store.NextRev("", []byte("a"))
	assert.Regexp(t, `^1-[0-9a-f]{16}$`, r1)
	r2 := store.NextRev(r1, []byte("a"))
	assert.Regexp(t, `^2-[0-9a-f]{16}$`, r2)
	assert.Regexp(t, `^1-`, store.NextRev("garbage", []byte("a")))
}
