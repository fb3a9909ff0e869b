/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package leveldbstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/hyperledger/fabric-console/common/ledger/util/leveldbhelper"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	docPrefix   = []byte("d\x00")
	indexPrefix = []byte("i\x00")
	sep         = []byte{0x00}
)

// Store keeps documents in a LevelDB database. LevelDB holds a file lock so
// a Store is owned by a single process; revisions are checked under mutex.
type Store struct {
	db    *leveldbhelper.DB
	mutex sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db := leveldbhelper.CreateDB(&leveldbhelper.Conf{DBPath: path})
	if err := db.Open(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() {
	s.db.Close()
}

func docKey(id string) []byte {
	return append(append([]byte{}, docPrefix...), id...)
}

func indexKey(d *store.Doc) []byte {
	return bytes.Join([][]byte{
		indexPrefix[:1], []byte(d.Type), []byte(d.Channel), []byte(d.Status), []byte(d.Visibility), []byte(d.ID),
	}, sep)
}

// indexScanPrefix returns the longest index prefix fixed by q.
func indexScanPrefix(q store.Query) []byte {
	prefix := append([]byte{}, indexPrefix...)
	for _, field := range []string{q.Type, q.Channel, q.Status, q.Visibility} {
		if field == "" {
			break
		}
		prefix = append(append(prefix, field...), sep...)
	}
	return prefix
}

func (s *Store) load(id string) (*store.Doc, error) {
	raw, err := s.db.Get(docKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	d := &store.Doc{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, errors.Wrapf(err, "corrupt document %s", id)
	}
	return d, nil
}

func (s *Store) Get(ctx context.Context, id string) (*store.Doc, error) {
	return s.load(id)
}

func (s *Store) Write(ctx context.Context, doc *store.Doc) (*store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, err := s.load(doc.ID)
	switch {
	case store.IsNotFound(err):
		if doc.Rev != "" {
			return nil, store.ErrConflict
		}
		current = nil
	case err != nil:
		return nil, err
	case current.Rev != doc.Rev:
		return nil, store.ErrConflict
	}

	stored := doc.Clone()
	stored.Rev = store.NextRev(doc.Rev, doc.Body)
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal document %s", doc.ID)
	}

	batch := &leveldb.Batch{}
	if current != nil {
		batch.Delete(indexKey(current))
	}
	batch.Put(indexKey(stored), nil)
	batch.Put(docKey(stored.ID), raw)
	if err := s.db.Commit(batch); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, err := s.load(id)
	if err != nil {
		return err
	}
	batch := &leveldb.Batch{}
	batch.Delete(indexKey(current))
	batch.Delete(docKey(id))
	return s.db.Commit(batch)
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Doc, error) {
	itr, err := s.db.PrefixIterator(indexScanPrefix(q))
	if err != nil {
		return nil, err
	}
	var ids []string
	for itr.Next() {
		fields := bytes.Split(itr.Key(), sep)
		ids = append(ids, string(fields[len(fields)-1]))
	}
	itr.Release()
	if err := itr.Error(); err != nil {
		return nil, errors.Wrap(err, "error scanning leveldb index")
	}

	var result []*store.Doc
	for _, id := range ids {
		d, err := s.load(id)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.Matches(d) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// HealthCheck verifies the database can be read.
func (s *Store) HealthCheck(context.Context) error {
	return s.db.Ping()
}
