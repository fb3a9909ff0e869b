/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sqlstore

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type document struct {
	ID         string `gorm:"primaryKey;size:128"`
	Rev        string `gorm:"size:64;not null"`
	Type       string `gorm:"size:64;index:idx_console_documents_query,priority:1"`
	Channel    string `gorm:"size:128;index:idx_console_documents_query,priority:2"`
	Status     string `gorm:"size:32;index:idx_console_documents_query,priority:3"`
	Visibility string `gorm:"size:32;index:idx_console_documents_query,priority:4"`
	Body       []byte
	UpdatedAt  time.Time
}

func (document) TableName() string {
	return "console_documents"
}

func (d *document) toDoc() *store.Doc {
	return &store.Doc{
		ID:         d.ID,
		Rev:        d.Rev,
		Type:       d.Type,
		Channel:    d.Channel,
		Status:     d.Status,
		Visibility: d.Visibility,
		Body:       append([]byte(nil), d.Body...),
	}
}

// Store keeps documents in a SQL database through gorm. The revision check
// is part of the UPDATE statement, so the store can be shared by several
// console processes.
type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported sql dialect '%s'", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s database", dialect)
	}
	if dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "could not access sqlite connection pool")
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate console_documents")
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, id string) (*store.Doc, error) {
	var rec document
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read document %s", id)
	}
	return rec.toDoc(), nil
}

func (s *Store) Write(ctx context.Context, doc *store.Doc) (*store.Doc, error) {
	rec := &document{
		ID:         doc.ID,
		Rev:        store.NextRev(doc.Rev, doc.Body),
		Type:       doc.Type,
		Channel:    doc.Channel,
		Status:     doc.Status,
		Visibility: doc.Visibility,
		Body:       doc.Body,
		UpdatedAt:  time.Now(),
	}

	if doc.Rev == "" {
		err := s.db.WithContext(ctx).Create(rec).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, store.ErrConflict
		}
		if err != nil {
			if _, getErr := s.Get(ctx, doc.ID); getErr == nil {
				return nil, store.ErrConflict
			}
			return nil, errors.Wrapf(err, "could not create document %s", doc.ID)
		}
		return rec.toDoc(), nil
	}

	result := s.db.WithContext(ctx).Model(&document{}).
		Where("id = ? AND rev = ?", doc.ID, doc.Rev).
		Updates(map[string]interface{}{
			"rev":        rec.Rev,
			"type":       rec.Type,
			"channel":    rec.Channel,
			"status":     rec.Status,
			"visibility": rec.Visibility,
			"body":       rec.Body,
			"updated_at": rec.UpdatedAt,
		})
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "could not update document %s", doc.ID)
	}
	if result.RowsAffected == 0 {
		return nil, store.ErrConflict
	}
	return rec.toDoc(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&document{})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "could not delete document %s", id)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]*store.Doc, error) {
	var recs []document
	// zero valued fields of a struct condition are ignored by gorm
	err := s.db.WithContext(ctx).
		Where(&document{Type: q.Type, Channel: q.Channel, Status: q.Status, Visibility: q.Visibility}).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not query documents")
	}

	result := make([]*store.Doc, 0, len(recs))
	for i := range recs {
		result = append(result, recs[i].toDoc())
	}
	return result, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
