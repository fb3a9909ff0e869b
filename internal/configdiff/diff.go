/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package configdiff

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

var logger = flogging.MustGetLogger("configdiff")

// Snapshot is a channel configuration in console form, usually decoded
// from JSON.
type Snapshot map[string]interface{}

// Snapshot section keys.
const (
	KeyReaders           = "readers"
	KeyWriters           = "writers"
	KeyAdmins            = "admins"
	KeyACLs              = "acls"
	KeyBlockParams       = "block_params"
	KeyRaftParams        = "raft_params"
	KeyCapabilities      = "capabilities"
	KeyConsenters        = "consenters"
	KeyMSPs              = "msps"
	KeyPolicy            = "policy"
	KeyChaincodePolicies = "chaincode_policies"
	KeyOrdererMSPs       = "orderer_msps"
)

// Change lists what was added, updated and removed within one concern.
// Added and updated values are the new canonical values, removed values the
// old ones.
type Change struct {
	Added   map[string]interface{} `json:"added,omitempty"`
	Updated map[string]interface{} `json:"updated,omitempty"`
	Removed map[string]interface{} `json:"removed,omitempty"`
}

// Empty reports whether the concern is unchanged.
func (c *Change) Empty() bool {
	return c == nil || (len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0)
}

// Diff is the categorized difference between two snapshots. An unchanged
// concern is nil and encodes as null.
type Diff struct {
	Membership        *Change `json:"membership"`
	ACLs              *Change `json:"acls"`
	BlockParams       *Change `json:"block_params"`
	RaftParams        *Change `json:"raft_params"`
	Capabilities      *Change `json:"capabilities"`
	Consenters        *Change `json:"consenters"`
	MSPs              *Change `json:"msps"`
	Policy            *Change `json:"policy"`
	ChaincodePolicies *Change `json:"chaincode_policies"`
	OrdererMSPs       *Change `json:"orderer_msps"`

	OnlyOrderingAuthoritySignatureRequired bool `json:"onlyOrderingAuthoritySignatureRequired"`
}

type concern struct {
	name    string
	compute func(current, updated Snapshot) (*Change, error)
	target  func(d *Diff) **Change
}

var concerns = []concern{
	{"membership", diffMembership, func(d *Diff) **Change { return &d.Membership }},
	{KeyACLs, diffStringMap(KeyACLs), func(d *Diff) **Change { return &d.ACLs }},
	{KeyBlockParams, diffBlockParams, func(d *Diff) **Change { return &d.BlockParams }},
	{KeyRaftParams, diffRaftParams, func(d *Diff) **Change { return &d.RaftParams }},
	{KeyCapabilities, diffCapabilities, func(d *Diff) **Change { return &d.Capabilities }},
	{KeyConsenters, diffConsenters, func(d *Diff) **Change { return &d.Consenters }},
	{KeyMSPs, diffMSPs, func(d *Diff) **Change { return &d.MSPs }},
	{KeyPolicy, diffPolicy, func(d *Diff) **Change { return &d.Policy }},
	{KeyChaincodePolicies, diffStringMap(KeyChaincodePolicies), func(d *Diff) **Change { return &d.ChaincodePolicies }},
	{KeyOrdererMSPs, diffOrdererMSPs, func(d *Diff) **Change { return &d.OrdererMSPs }},
}

// Compute compares the current and updated snapshots concern by concern.
// Values are normalized (bytes, milliseconds, semantic versions, unordered
// sets) before they are compared.
func Compute(current, updated Snapshot) (*Diff, error) {
	d := &Diff{}
	for _, c := range concerns {
		change, err := c.compute(current, updated)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid %s", c.name)
		}
		if !change.Empty() {
			*c.target(d) = change
		}
	}

	d.OnlyOrderingAuthoritySignatureRequired = d.Membership.Empty() &&
		d.ACLs.Empty() &&
		d.Policy.Empty() &&
		d.Capabilities.Empty() &&
		d.ChaincodePolicies.Empty() &&
		d.Consenters.Empty()

	if logger.IsEnabledFor(zapcore.DebugLevel) {
		logger.Debugf("Computed configuration diff: %s", spew.Sdump(d))
	}
	return d, nil
}

// OrdererSignatureNeeded reports whether the diff touches configuration owned
// by the ordering service.
func (d *Diff) OrdererSignatureNeeded() bool {
	return !d.BlockParams.Empty() ||
		!d.RaftParams.Empty() ||
		!d.Capabilities.Empty() ||
		!d.Consenters.Empty() ||
		!d.OrdererMSPs.Empty()
}

// Changed returns the names of the concerns that differ.
func (d *Diff) Changed() []string {
	var changed []string
	for _, c := range concerns {
		if !(*c.target(d)).Empty() {
			changed = append(changed, c.name)
		}
	}
	return changed
}
