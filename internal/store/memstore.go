/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore keeps documents in process memory.
type MemStore struct {
	mutex sync.RWMutex
	docs  map[string]*Doc
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{docs: map[string]*Doc{}}
}

func (m *MemStore) Get(ctx context.Context, id string) (*Doc, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemStore) Write(ctx context.Context, doc *Doc) (*Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	current, exists := m.docs[doc.ID]
	switch {
	case exists && current.Rev != doc.Rev:
		return nil, ErrConflict
	case !exists && doc.Rev != "":
		return nil, ErrConflict
	}

	stored := doc.Clone()
	stored.Rev = NextRev(doc.Rev, doc.Body)
	m.docs[doc.ID] = stored
	return stored.Clone(), nil
}

func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *MemStore) Query(ctx context.Context, q Query) ([]*Doc, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var result []*Doc
	for _, d := range m.docs {
		if q.Matches(d) {
			result = append(result, d.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// HealthCheck always succeeds.
func (m *MemStore) HealthCheck(context.Context) error {
	return nil
}
