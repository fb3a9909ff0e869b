/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hyperledger/fabric-console/common/ledger/util/badgerdbhelper"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/pkg/errors"
)

const (
	docPrefix   = "doc/"
	indexPrefix = "idx/"
	sep         = "\x00"
)

// Store keeps documents in Badger. Revision checks run inside Badger
// transactions, so concurrent writers racing on one document are resolved
// by Badger's conflict detection.
type Store struct {
	db *badgerdbhelper.DB
}

// Open opens or creates the database described by conf.
func Open(conf *badgerdbhelper.Conf) (*Store, error) {
	db := badgerdbhelper.CreateDB(conf)
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
	return []byte(docPrefix + id)
}

func indexKey(d *store.Doc) []byte {
	return []byte(indexPrefix + strings.Join([]string{d.Type, d.Channel, d.Status, d.Visibility, d.ID}, sep))
}

// indexScanPrefix returns the longest index prefix fixed by q.
func indexScanPrefix(q store.Query) []byte {
	prefix := indexPrefix
	for _, field := range []string{q.Type, q.Channel, q.Status, q.Visibility} {
		if field == "" {
			break
		}
		prefix += field + sep
	}
	return []byte(prefix)
}

func load(txn *badger.Txn, id string) (*store.Doc, error) {
	item, err := txn.Get(docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading document %s", id)
	}
	d := &store.Doc{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, d)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt document %s", id)
	}
	return d, nil
}

func translate(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*store.Doc, error) {
	var d *store.Doc
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		d, err = load(txn, id)
		return err
	})
	return d, err
}

func (s *Store) Write(ctx context.Context, doc *store.Doc) (*store.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := doc.Clone()
	stored.Rev = store.NextRev(doc.Rev, doc.Body)
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal document %s", doc.ID)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := load(txn, doc.ID)
		switch {
		case store.IsNotFound(err):
			if doc.Rev != "" {
				return store.ErrConflict
			}
		case err != nil:
			return err
		case current.Rev != doc.Rev:
			return store.ErrConflict
		default:
			if err := txn.Delete(indexKey(current)); err != nil {
				return err
			}
		}
		if err := txn.Set(indexKey(stored), nil); err != nil {
			return err
		}
		return txn.Set(docKey(stored.ID), raw)
	})
	if err != nil {
		return nil, translate(err)
	}
	return stored, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := load(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(current)); err != nil {
			return err
		}
		return txn.Delete(docKey(id))
	})
	return translate(err)
}

// Query resolves q through the index, then loads the matching documents.
func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Doc, error) {
	var ids []string
	err := s.db.ScanPrefix(indexScanPrefix(q), func(key, _ []byte) error {
		ids = append(ids, string(key[bytes.LastIndexByte(key, sep[0])+1:]))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "error scanning badger index")
	}

	var result []*store.Doc
	err = s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			d, err := load(txn, id)
			if store.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if q.Matches(d) {
				result = append(result, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// HealthCheck verifies the database can be read.
func (s *Store) HealthCheck(context.Context) error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}
