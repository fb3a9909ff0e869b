/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package badgerdbhelper

import (
	"os"
	"path/filepath"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hyperledger/fabric-console/internal/fileutil"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("badgerdbhelper")

// ManifestFilename marks a directory as holding a badger database.
const ManifestFilename = "MANIFEST"

// Conf configures a DB. An InMemory db ignores DBPath.
type Conf struct {
	DBPath   string
	InMemory bool
}

// DB wraps a badger database. Transactions share a lock; Close waits for
// them to finish.
type DB struct {
	conf  *Conf
	db    *badger.DB
	mutex sync.RWMutex
}

// CreateDB constructs a `DB`
func CreateDB(conf *Conf) *DB {
	return &DB{conf: conf}
}

func (dbInst *DB) options() (badger.Options, error) {
	if dbInst.conf.InMemory {
		return badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), nil
	}

	dbPath := dbInst.conf.DBPath
	dirEmpty, err := fileutil.CreateDirIfMissing(dbPath)
	if err != nil {
		return badger.Options{}, errors.WithMessage(err, "error creating dir if missing")
	}
	if !dirEmpty {
		if _, err := os.Stat(filepath.Join(dbPath, ManifestFilename)); err != nil {
			return badger.Options{}, errors.Wrapf(err, "%s is not a badgerdb directory", dbPath)
		}
	}
	return badger.DefaultOptions(dbPath).WithLogger(nil), nil
}

// Open opens the underlying db. Opening an open db is a no-op.
func (dbInst *DB) Open() error {
	dbInst.mutex.Lock()
	defer dbInst.mutex.Unlock()
	if dbInst.db != nil {
		return nil
	}
	opts, err := dbInst.options()
	if err != nil {
		return err
	}
	db, err := badger.Open(opts)
	if err != nil {
		return errors.Wrapf(err, "error opening badgerdb at %s", dbInst.conf.DBPath)
	}
	dbInst.db = db
	return nil
}

// Close closes the underlying db. Closing a closed db is a no-op.
func (dbInst *DB) Close() {
	dbInst.mutex.Lock()
	defer dbInst.mutex.Unlock()
	if dbInst.db == nil {
		return
	}
	if err := dbInst.db.Close(); err != nil {
		logger.Errorf("Error closing badgerdb at %s: %s", dbInst.conf.DBPath, err)
	}
	dbInst.db = nil
}

func (dbInst *DB) withDB(fn func(db *badger.DB) error) error {
	dbInst.mutex.RLock()
	defer dbInst.mutex.RUnlock()
	if dbInst.db == nil {
		return errors.Errorf("badgerdb at path [%s] is not open", dbInst.conf.DBPath)
	}
	return fn(dbInst.db)
}

// View runs fn in a read-only transaction.
func (dbInst *DB) View(fn func(txn *badger.Txn) error) error {
	return dbInst.withDB(func(db *badger.DB) error { return db.View(fn) })
}

// Update runs fn in a read-write transaction. Badger detects conflicting
// concurrent transactions at commit time and returns badger.ErrConflict.
func (dbInst *DB) Update(fn func(txn *badger.Txn) error) error {
	return dbInst.withDB(func(db *badger.DB) error { return db.Update(fn) })
}

// ScanPrefix calls fn for every key starting with prefix, in key order.
func (dbInst *DB) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	return dbInst.View(func(txn *badger.Txn) error {
		itr := txn.NewIterator(badger.DefaultIteratorOptions)
		defer itr.Close()
		for itr.Seek(prefix); itr.ValidForPrefix(prefix); itr.Next() {
			item := itr.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}
