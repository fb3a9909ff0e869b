/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proposal decides how a proposed change is authorized: signed and
// submitted at once when a single signature suffices, or fanned out to the
// other organizations as an approval request.
package proposal

import (
	"context"
	"fmt"

	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/approval"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("console.proposal")

// Proposal is a change proposed by OriginatorMSP. Exactly one of Payload and
// CCD is set. Current and Updated are the console snapshots the diff is
// computed from; without them the request is a plain creation.
type Proposal struct {
	TxID          string
	Channel       string
	OriginatorMSP string

	// CurrentPolicy is the policy in force before the change.
	CurrentPolicy *policies.Descriptor
	OrdererPolicy *policies.Descriptor

	OrgMSPIDs      []string
	OrdererMSPIDs  []string
	ObserverMSPIDs []string

	Current configdiff.Snapshot
	Updated configdiff.Snapshot

	Payload []byte
	CCD     *ledger.ChaincodeDefinition
}

// Outcome reports what Propose did. Request is nil when the change was
// submitted on the fast path.
type Outcome struct {
	Diff                   *configdiff.Diff
	RequiredSignatures     int
	OrdererSignatureNeeded bool
	Submitted              bool
	Request                *approval.Request
}

type Orchestrator struct {
	Manager   *approval.Manager
	Ledger    ledger.Client
	Directory membership.Directory
}

func distinct(ids []string) []string {
	seen := map[string]bool{}
	var result []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	return result
}

func contains(ids []string, id string) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

// localSigners picks the supplied identities that take part in p, with the
// originator first.
func localSigners(p Proposal, identities []identity.MSPSigner) (originator identity.MSPSigner, orgs, orderers []identity.MSPSigner) {
	for _, id := range identities {
		if id.MSPID() == p.OriginatorMSP && originator == nil {
			originator = id
		}
	}
	seen := map[string]bool{}
	for _, id := range append([]identity.MSPSigner{originator}, identities...) {
		if id == nil || seen[id.MSPID()] {
			continue
		}
		seen[id.MSPID()] = true
		if contains(p.OrgMSPIDs, id.MSPID()) {
			orgs = append(orgs, id)
		}
		if contains(p.OrdererMSPIDs, id.MSPID()) {
			orderers = append(orderers, id)
		}
	}
	return originator, orgs, orderers
}

func validationErrorf(format string, args ...interface{}) error {
	return &approval.ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Propose validates p and either submits it directly or creates an approval
// request for it. identities are the signing identities held by this
// console; the originator's identity must be among them for anything to be
// signed. When a new request cannot be submitted yet, the outcome carrying
// the stored request is returned along with the error.
func (o *Orchestrator) Propose(ctx context.Context, p Proposal, identities []identity.MSPSigner) (*Outcome, error) {
	if p.Channel == "" {
		return nil, validationErrorf("channel is required")
	}
	if (len(p.Payload) == 0) == (p.CCD == nil) {
		return nil, validationErrorf("exactly one of proposal and chaincode definition is required")
	}
	if p.Updated != nil {
		if err := ValidateBounds(p.Updated); err != nil {
			return nil, err
		}
	}

	out := &Outcome{}
	if p.CCD == nil && (p.Current != nil || p.Updated != nil) {
		d, err := configdiff.Compute(p.Current, p.Updated)
		if err != nil {
			return nil, &approval.ValidationError{Msg: err.Error()}
		}
		out.Diff = d
	}

	orgs := distinct(p.OrgMSPIDs)
	out.RequiredSignatures = policies.RequiredApprovals(p.CurrentPolicy, len(orgs))

	originator, orgSigners, ordererSigners := localSigners(p, identities)
	var orderers []string
	if out.Diff != nil && out.Diff.OrdererSignatureNeeded() {
		orderers = distinct(p.OrdererMSPIDs)
		required := policies.RequiredApprovals(p.OrdererPolicy, len(orderers))
		if required < 1 {
			required = 1
		}
		// local ordering admins co-sign on the spot
		out.OrdererSignatureNeeded = len(ordererSigners) < required
	} else {
		// the ordering authority only co-signs changes to its own sections
		ordererSigners = nil
	}

	logger.Infow("Proposing change",
		"channel", p.Channel,
		"originator", p.OriginatorMSP,
		"required", out.RequiredSignatures,
		"ordererSignatureNeeded", out.OrdererSignatureNeeded,
		"localIdentity", originator != nil,
	)

	if originator != nil && out.RequiredSignatures == 1 && !out.OrdererSignatureNeeded {
		if err := o.submitDirect(ctx, p, originator, orgSigners, ordererSigners); err != nil {
			return nil, err
		}
		out.Submitted = true
		return out, nil
	}

	var signatures map[string][]byte
	if originator != nil && p.CCD == nil {
		var err error
		if signatures, err = o.signAll(ctx, p.Payload, append(orgSigners, ordererSigners...)); err != nil {
			return nil, err
		}
	}

	r, err := o.Manager.Create(ctx, approval.CreateRequest{
		TxID:           p.TxID,
		Channel:        p.Channel,
		OriginatorMSP:  p.OriginatorMSP,
		Policy:         p.CurrentPolicy,
		OrdererPolicy:  p.OrdererPolicy,
		OrgMSPIDs:      orgs,
		OrdererMSPIDs:  orderers,
		ObserverMSPIDs: distinct(p.ObserverMSPIDs),
		Proposal:       p.Payload,
		CCD:            p.CCD,
		Diff:           out.Diff,
		Signatures:     signatures,
	})
	if err != nil {
		return nil, err
	}

	if originator != nil && p.CCD != nil && len(orgSigners) > 0 {
		if r, err = o.Manager.Sign(ctx, r.TxID, orgSigners, nil); err != nil {
			return nil, err
		}
	}
	out.Request = r

	if !o.Manager.Evaluate(r).Ready || originator == nil {
		return out, nil
	}

	submitted, err := o.Manager.Submit(ctx, r.TxID, originator)
	if err != nil {
		var rejected *ledger.RejectedError
		if errors.As(err, &rejected) {
			logger.Warnf("Deleting rejected approval request %s", r.TxID)
			if derr := o.Manager.Delete(ctx, r.TxID); derr != nil {
				logger.Errorf("Failed deleting rejected approval request %s: %s", r.TxID, derr)
			}
			return nil, err
		}
		return out, err
	}
	out.Request = submitted
	out.Submitted = true
	return out, nil
}

func (o *Orchestrator) signAll(ctx context.Context, payload []byte, signers []identity.MSPSigner) (map[string][]byte, error) {
	signatures := map[string][]byte{}
	for _, signer := range signers {
		if _, ok := signatures[signer.MSPID()]; ok {
			continue
		}
		sig, err := o.Ledger.SignConfigUpdate(ctx, payload, signer)
		if err != nil {
			var signingErr *ledger.SigningError
			if errors.As(err, &signingErr) {
				return nil, err
			}
			return nil, &ledger.SigningError{MSPID: signer.MSPID(), Err: err}
		}
		signatures[signer.MSPID()] = sig
	}
	return signatures, nil
}

// submitDirect signs and submits without an approval request. A change the
// network already has counts as submitted.
func (o *Orchestrator) submitDirect(ctx context.Context, p Proposal, originator identity.MSPSigner, orgSigners, ordererSigners []identity.MSPSigner) error {
	var err error
	if p.CCD != nil {
		err = o.commitDirect(ctx, p, originator, orgSigners)
	} else {
		var signatures map[string][]byte
		signers := append(orgSigners, ordererSigners...)
		if signatures, err = o.signAll(ctx, p.Payload, signers); err != nil {
			return err
		}
		sigs := make([][]byte, 0, len(signatures))
		seen := map[string]bool{}
		for _, s := range signers {
			if !seen[s.MSPID()] {
				seen[s.MSPID()] = true
				sigs = append(sigs, signatures[s.MSPID()])
			}
		}
		err = o.Ledger.SubmitConfigUpdate(ctx, p.Channel, p.Payload, sigs, originator)
	}

	if ledger.IsConflict(err) {
		logger.Infof("Change on channel %s was already applied: %s", p.Channel, err)
		return nil
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to submit change on channel %s", p.Channel)
	}
	logger.Infof("Submitted change on channel %s signed by %s", p.Channel, p.OriginatorMSP)
	return nil
}

func (o *Orchestrator) commitDirect(ctx context.Context, p Proposal, originator identity.MSPSigner, orgSigners []identity.MSPSigner) error {
	var all []string
	for _, signer := range orgSigners {
		var peers []string
		if o.Directory != nil {
			m, err := o.Directory.Resolve(ctx, signer.MSPID())
			if err != nil {
				return errors.WithMessagef(err, "failed to resolve %s", signer.MSPID())
			}
			peers = m.Peers
		}
		err := o.Ledger.ApproveChaincodeDefinition(ctx, p.Channel, p.CCD, peers, signer)
		if err != nil && !ledger.IsConflict(err) {
			return errors.WithMessagef(err, "failed to approve chaincode definition for %s", signer.MSPID())
		}
		all = append(all, peers...)
	}
	return o.Ledger.CommitChaincodeDefinition(ctx, p.Channel, p.CCD, distinct(all), originator)
}
