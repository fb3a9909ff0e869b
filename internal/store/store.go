/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package store defines the document store that holds approval requests
// and the other console documents. Every write is a compare-and-swap on the
// document revision, which is the only synchronization point between
// independently operated consoles sharing a store.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write carries a stale revision.
	ErrConflict = errors.New("document update conflict")
)

// Doc is a stored document. The index fields duplicate values held in Body
// so that backends can answer queries without decoding it.
type Doc struct {
	ID         string          `json:"_id"`
	Rev        string          `json:"_rev,omitempty"`
	Type       string          `json:"type"`
	Channel    string          `json:"channel,omitempty"`
	Status     string          `json:"status,omitempty"`
	Visibility string          `json:"visibility,omitempty"`
	Body       json.RawMessage `json:"body"`
}

// Clone returns a deep copy of d.
func (d *Doc) Clone() *Doc {
	c := *d
	c.Body = append(json.RawMessage(nil), d.Body...)
	return &c
}

// Query selects documents by their index fields. Empty fields match
// anything.
type Query struct {
	Type       string
	Channel    string
	Status     string
	Visibility string
}

// Matches reports whether d satisfies q.
func (q Query) Matches(d *Doc) bool {
	return match(q.Type, d.Type) &&
		match(q.Channel, d.Channel) &&
		match(q.Status, d.Status) &&
		match(q.Visibility, d.Visibility)
}

func match(want, got string) bool {
	return want == "" || want == got
}

// Store is a revisioned document store.
type Store interface {
	// Get returns the current revision of a document or ErrNotFound.
	Get(ctx context.Context, id string) (*Doc, error)
	// Write stores doc if doc.Rev is the current revision (empty for a new
	// document) and returns the document with its new revision. A stale
	// revision yields ErrConflict.
	Write(ctx context.Context, doc *Doc) (*Doc, error)
	// Delete removes a document or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// Query returns the documents matching q ordered by id.
	Query(ctx context.Context, q Query) ([]*Doc, error)
}

// NextRev derives the revision that follows prev for body. Revisions are
// "<generation>-<digest>".
func NextRev(prev string, body []byte) string {
	gen := 0
	if prev != "" {
		if i := strings.IndexByte(prev, '-'); i > 0 {
			gen, _ = strconv.Atoi(prev[:i])
		}
	}
	sum := sha256.Sum256(body)
	return strconv.Itoa(gen+1) + "-" + hex.EncodeToString(sum[:8])
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
