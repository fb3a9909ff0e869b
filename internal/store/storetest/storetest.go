/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package storetest holds the behavior every store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a backend created fresh for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateGetDelete", func(t *testing.T) { testCreateGetDelete(t, newStore(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
}

func doc(id, channel, status string, body string) *store.Doc {
	return &store.Doc{
		ID:         id,
		Type:       "signature_collection",
		Channel:    channel,
		Status:     status,
		Visibility: "inbox",
		Body:       json.RawMessage(body),
	}
}

func testCreateGetDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "tx1")
	require.ErrorIs(t, err, store.ErrNotFound)

	written, err := s.Write(ctx, doc("tx1", "ch1", "open", `{"a":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, written.Rev)

	got, err := s.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, written.Rev, got.Rev)
	assert.Equal(t, "ch1", got.Channel)
	assert.JSONEq(t, `{"a":1}`, string(got.Body))

	require.NoError(t, s.Delete(ctx, "tx1"))
	_, err = s.Get(ctx, "tx1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "tx1"), store.ErrNotFound)
}

func testCompareAndSwap(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.Write(ctx, doc("tx1", "ch1", "open", `{"v":1}`))
	require.NoError(t, err)

	_, err = s.Write(ctx, doc("tx1", "ch1", "open", `{"v":1}`))
	require.ErrorIs(t, err, store.ErrConflict, "creating an existing document must conflict")

	update := first.Clone()
	update.Body = json.RawMessage(`{"v":2}`)
	second, err := s.Write(ctx, update)
	require.NoError(t, err)
	assert.NotEqual(t, first.Rev, second.Rev)

	stale := first.Clone()
	stale.Body = json.RawMessage(`{"v":3}`)
	_, err = s.Write(ctx, stale)
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := s.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Body))

	missing := doc("tx2", "ch1", "open", `{}`)
	missing.Rev = "1-abc"
	_, err = s.Write(ctx, missing)
	require.ErrorIs(t, err, store.ErrConflict)
}

func testQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, d := range []*store.Doc{
		doc("tx3", "ch1", "open", `{}`),
		doc("tx1", "ch1", "open", `{}`),
		doc("tx2", "ch1", "closed", `{}`),
		doc("tx4", "ch2", "open", `{}`),
	} {
		_, err := s.Write(ctx, d)
		require.NoError(t, err)
	}

	ids := func(docs []*store.Doc) []string {
		var out []string
		for _, d := range docs {
			out = append(out, d.ID)
		}
		return out
	}

	docs, err := s.Query(ctx, store.Query{Channel: "ch1", Status: "open"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx3"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Type: "signature_collection"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx2", "tx3", "tx4"}, ids(docs))

	current, err := s.Get(ctx, "tx1")
	require.NoError(t, err)
	current.Status = "closed"
	_, err = s.Write(ctx, current)
	require.NoError(t, err)

	docs, err = s.Query(ctx, store.Query{Channel: "ch1", Status: "closed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tx1", "tx2"}, ids(docs))

	docs, err = s.Query(ctx, store.Query{Visibility: "archive"})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testConcurrentWriters(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Write(ctx, doc("tx1", "ch1", "open", `{"n":0}`))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				current, err := s.Get(ctx, "tx1")
				if err != nil {
					t.Errorf("get failed: %s", err)
					return
				}
				var body struct{ N int }
				if err := json.Unmarshal(current.Body, &body); err != nil {
					t.Errorf("bad body: %s", err)
					return
				}
				current.Body, _ = json.Marshal(map[string]int{"n": body.N + 1})
				_, err = s.Write(ctx, current)
				if store.IsConflict(err) {
					continue
				}
				if err != nil {
					t.Errorf("write failed: %s", err)
					return
				}
				mutex.Lock()
				successes++
				mutex.Unlock()
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, successes)
	final, err := s.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":8}`, string(final.Body))
}
