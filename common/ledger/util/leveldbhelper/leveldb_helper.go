/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package leveldbhelper

import (
	"sync"

	"github.com/hyperledger/fabric-console/internal/fileutil"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	goleveldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

var logger = flogging.MustGetLogger("leveldbhelper")

// Conf configures a DB.
type Conf struct {
	DBPath string
}

// DB wraps a LevelDB database. Reads share a lock with each other; Close
// waits for them. Every batch is written synchronously.
type DB struct {
	conf  *Conf
	db    *leveldb.DB
	mutex sync.RWMutex

	readOpts  *opt.ReadOptions
	writeOpts *opt.WriteOptions
}

// CreateDB constructs a `DB`
func CreateDB(conf *Conf) *DB {
	return &DB{
		conf:      conf,
		readOpts:  &opt.ReadOptions{},
		writeOpts: &opt.WriteOptions{Sync: true},
	}
}

// Open opens the underlying db, creating its directory on first use. A
// non-empty directory must already hold a database. Opening an open db is a
// no-op.
func (dbInst *DB) Open() error {
	dbInst.mutex.Lock()
	defer dbInst.mutex.Unlock()
	if dbInst.db != nil {
		return nil
	}
	dbPath := dbInst.conf.DBPath
	dirEmpty, err := fileutil.CreateDirIfMissing(dbPath)
	if err != nil {
		return errors.WithMessage(err, "error creating dir if missing")
	}
	db, err := leveldb.OpenFile(dbPath, &opt.Options{ErrorIfMissing: !dirEmpty})
	if err != nil {
		return errors.Wrapf(err, "error opening leveldb at %s", dbPath)
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
		logger.Errorf("Error closing leveldb at %s: %s", dbInst.conf.DBPath, err)
	}
	dbInst.db = nil
}

func (dbInst *DB) withDB(fn func(db *leveldb.DB) error) error {
	dbInst.mutex.RLock()
	defer dbInst.mutex.RUnlock()
	if dbInst.db == nil {
		return errors.Errorf("leveldb at path [%s] is not open", dbInst.conf.DBPath)
	}
	return fn(dbInst.db)
}

// Ping reads the first key of the database to prove it is usable.
func (dbInst *DB) Ping() error {
	return dbInst.withDB(func(db *leveldb.DB) error {
		itr := db.NewIterator(&goleveldbutil.Range{}, dbInst.readOpts)
		defer itr.Release()
		itr.First()
		return errors.Wrapf(itr.Error(), "leveldb at path [%s] is unreadable", dbInst.conf.DBPath)
	})
}

// Get returns the value for the given key, nil when the key is absent.
func (dbInst *DB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := dbInst.withDB(func(db *leveldb.DB) error {
		var err error
		value, err = db.Get(key, dbInst.readOpts)
		if err == leveldb.ErrNotFound {
			value, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "error retrieving leveldb key [%#v]", key)
	}
	return value, nil
}

// PrefixIterator returns an iterator over all keys starting with prefix.
// The caller releases it.
func (dbInst *DB) PrefixIterator(prefix []byte) (iterator.Iterator, error) {
	var itr iterator.Iterator
	err := dbInst.withDB(func(db *leveldb.DB) error {
		itr = db.NewIterator(goleveldbutil.BytesPrefix(prefix), dbInst.readOpts)
		return nil
	})
	return itr, err
}

// Commit writes batch atomically.
func (dbInst *DB) Commit(batch *leveldb.Batch) error {
	return dbInst.withDB(func(db *leveldb.DB) error {
		return errors.Wrap(db.Write(batch, dbInst.writeOpts), "error writing batch to leveldb")
	})
}
