/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import (
	"encoding/json"

	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/pkg/errors"
)

// DocType is the store document type of approval requests.
const DocType = "signature_collection"

// SchemaVersion is written on every request this package persists. Older
// records predate consenter tracking in the diff.
const SchemaVersion = 2

type Status string

const (
	Open   Status = "open"
	Closed Status = "closed"
)

type Visibility string

const (
	Inbox   Visibility = "inbox"
	Archive Visibility = "archive"
)

// Policy is the approval threshold captured when the request was created.
type Policy struct {
	NumberOfSignatures        int `json:"number_of_signatures"`
	NumberOfOrdererSignatures int `json:"number_of_orderer_signatures,omitempty"`
}

// SignerEntry is one organization's slot in a request. Each organization
// only ever writes its own slot.
type SignerEntry struct {
	MSPID       string   `json:"msp_id"`
	ConsoleURL  string   `json:"optools_url"`
	Certificate string   `json:"certificate,omitempty"`
	Signature   []byte   `json:"signature,omitempty"`
	Admin       bool     `json:"admin"`
	Timestamp   int64    `json:"timestamp"`
	Peers       []string `json:"peers,omitempty"`
}

func (e *SignerEntry) Signed() bool {
	return len(e.Signature) > 0
}

// Request is a persisted signature collection for one configuration update
// or chaincode definition.
type Request struct {
	TxID          string                      `json:"tx_id"`
	Channel       string                      `json:"channel"`
	OriginatorMSP string                      `json:"originator_msp"`
	Status        Status                      `json:"status"`
	Visibility    Visibility                  `json:"visibility"`
	CurrentPolicy Policy                      `json:"current_policy"`
	Orgs2Sign     []*SignerEntry              `json:"orgs2sign"`
	Orderers2Sign []*SignerEntry              `json:"orderers2sign,omitempty"`
	Proposal      []byte                      `json:"proposal,omitempty"`
	CCD           *ledger.ChaincodeDefinition `json:"ccd,omitempty"`
	Diff          *configdiff.Diff            `json:"json_diff"`
	Timestamp     int64                       `json:"timestamp"`
	LastTimestamp int64                       `json:"lastTimestamp"`
	SchemaVersion int                         `json:"schema_version,omitempty"`
	Submitted     bool                        `json:"submitted,omitempty"`
	SubmittedAt   int64                       `json:"submitted_at,omitempty"`

	// Derived on every read.
	SignatureCount        int  `json:"signature_count"`
	OrdererSignatureCount int  `json:"orderer_signature_count"`
	NeedsAttention        bool `json:"needsAttention"`

	rev string
}

// EffectiveStatus is the stored status, except that configuration update
// records written before consenters were tracked always read as closed.
func (r *Request) EffectiveStatus() Status {
	if r.CCD == nil && r.SchemaVersion < SchemaVersion {
		return Closed
	}
	return r.Status
}

func (r *Request) entries() []*SignerEntry {
	all := make([]*SignerEntry, 0, len(r.Orgs2Sign)+len(r.Orderers2Sign))
	all = append(all, r.Orgs2Sign...)
	return append(all, r.Orderers2Sign...)
}

// voting reports whether a signed entry counts toward the org threshold.
func (r *Request) voting(e *SignerEntry) bool {
	return e.Admin || r.CCD != nil
}

func (r *Request) touch(now int64) {
	if now > r.LastTimestamp {
		r.LastTimestamp = now
	}
}

func decode(doc *store.Doc) (*Request, error) {
	r := &Request{}
	if err := json.Unmarshal(doc.Body, r); err != nil {
		return nil, errors.Wrapf(err, "corrupt approval request %s", doc.ID)
	}
	r.rev = doc.Rev
	return r, nil
}

func encode(r *Request) (*store.Doc, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode approval request %s", r.TxID)
	}
	return &store.Doc{
		ID:         r.TxID,
		Rev:        r.rev,
		Type:       DocType,
		Channel:    r.Channel,
		Status:     string(r.Status),
		Visibility: string(r.Visibility),
		Body:       body,
	}, nil
}
