/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package membership resolves organizations to the admin identities and
// consoles that sign on their behalf.
package membership

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/pkg/errors"
)

// DocType is the store document type holding member records.
const DocType = "msp"

// ErrUnknownMember is returned when an msp id has no record.
var ErrUnknownMember = errors.New("unknown member")

// Member is an organization known to the console.
type Member struct {
	MSPID        string   `json:"msp_id" mapstructure:"msp_id"`
	ConsoleURL   string   `json:"optools_url" mapstructure:"optools_url"`
	Certificates []string `json:"certificates" mapstructure:"certificates"`
	Peers        []string `json:"peers,omitempty" mapstructure:"peers"`
}

// AdminCertificate returns the first admin certificate, if any.
func (m Member) AdminCertificate() string {
	if len(m.Certificates) == 0 {
		return ""
	}
	return m.Certificates[0]
}

// Directory resolves msp ids to members.
type Directory interface {
	Resolve(ctx context.Context, mspID string) (Member, error)
}

// Members resolves every msp id in order, failing on the first unknown.
func Members(ctx context.Context, d Directory, mspIDs []string) ([]Member, error) {
	members := make([]Member, 0, len(mspIDs))
	for _, id := range mspIDs {
		m, err := d.Resolve(ctx, id)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to resolve %s", id)
		}
		members = append(members, m)
	}
	return members, nil
}

// Static is a fixed directory, typically loaded from configuration.
type Static map[string]Member

// NewStatic indexes members by msp id.
func NewStatic(members ...Member) Static {
	s := Static{}
	for _, m := range members {
		s[m.MSPID] = m
	}
	return s
}

func (s Static) Resolve(_ context.Context, mspID string) (Member, error) {
	m, ok := s[mspID]
	if !ok {
		return Member{}, errors.Wrap(ErrUnknownMember, mspID)
	}
	return m, nil
}

// IDs returns the sorted msp ids in the directory.
func (s Static) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultMaxRetries bounds Put's compare-and-swap attempts when
// StoreDirectory.MaxRetries is unset.
const DefaultMaxRetries = 10

// StoreDirectory keeps member records as documents in a store.
type StoreDirectory struct {
	Store      store.Store
	MaxRetries int
}

func docID(mspID string) string {
	return DocType + ":" + mspID
}

func (d *StoreDirectory) Resolve(ctx context.Context, mspID string) (Member, error) {
	doc, err := d.Store.Get(ctx, docID(mspID))
	if store.IsNotFound(err) {
		return Member{}, errors.Wrap(ErrUnknownMember, mspID)
	}
	if err != nil {
		return Member{}, err
	}
	var m Member
	if err := json.Unmarshal(doc.Body, &m); err != nil {
		return Member{}, errors.Wrapf(err, "corrupt member record for %s", mspID)
	}
	return m, nil
}

// Put creates or replaces a member record.
func (d *StoreDirectory) Put(ctx context.Context, m Member) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	maxRetries := d.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := &store.Doc{ID: docID(m.MSPID), Type: DocType, Body: body}
		existing, err := d.Store.Get(ctx, doc.ID)
		switch {
		case err == nil:
			doc.Rev = existing.Rev
		case !store.IsNotFound(err):
			return err
		}
		_, err = d.Store.Write(ctx, doc)
		if !store.IsConflict(err) {
			return err
		}
		if attempt >= maxRetries {
			return errors.WithMessagef(err, "member %s kept changing after %d attempts", m.MSPID, attempt+1)
		}
	}
}

// List returns every member record.
func (d *StoreDirectory) List(ctx context.Context) ([]Member, error) {
	docs, err := d.Store.Query(ctx, store.Query{Type: DocType})
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, len(docs))
	for _, doc := range docs {
		var m Member
		if err := json.Unmarshal(doc.Body, &m); err != nil {
			return nil, errors.Wrapf(err, "corrupt member record %s", doc.ID)
		}
		members = append(members, m)
	}
	return members, nil
}
