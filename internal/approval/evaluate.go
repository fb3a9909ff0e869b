/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import (
	"time"
)

// Evaluation is the derived state of a request as seen by one console.
type Evaluation struct {
	SignatureCount            int
	OrdererSignatureCount     int
	RequiredSignatures        int
	RequiredOrdererSignatures int
	NeedsAttention            bool
	Ready                     bool
	Satisfiable               bool
	Status                    Status
}

// Evaluator evaluates requests on behalf of the console at ConsoleURL.
type Evaluator struct {
	ConsoleURL       string
	InactivityWindow time.Duration
}

func distinctSigned(entries []*SignerEntry, counts func(*SignerEntry) bool) int {
	seen := map[string]struct{}{}
	for _, e := range entries {
		if e.Signed() && counts(e) {
			seen[e.MSPID] = struct{}{}
		}
	}
	return len(seen)
}

func distinctEligible(entries []*SignerEntry, counts func(*SignerEntry) bool) int {
	seen := map[string]struct{}{}
	for _, e := range entries {
		if counts(e) {
			seen[e.MSPID] = struct{}{}
		}
	}
	return len(seen)
}

func always(*SignerEntry) bool { return true }

// Evaluate derives counts, readiness and attention for r at time now.
func (ev Evaluator) Evaluate(r *Request, now time.Time) Evaluation {
	e := Evaluation{
		Status:                    r.EffectiveStatus(),
		SignatureCount:            distinctSigned(r.Orgs2Sign, r.voting),
		OrdererSignatureCount:     distinctSigned(r.Orderers2Sign, always),
		RequiredSignatures:        r.CurrentPolicy.NumberOfSignatures,
		RequiredOrdererSignatures: r.CurrentPolicy.NumberOfOrdererSignatures,
	}

	ordererNeeded := len(r.Orderers2Sign) > 0
	if ordererNeeded && e.RequiredOrdererSignatures < 1 {
		e.RequiredOrdererSignatures = 1
	}
	if !ordererNeeded {
		e.RequiredOrdererSignatures = 0
	}

	// A change confined to the ordering service with a single nominal org
	// signature waits only on the ordering authority.
	onlyOrdering := r.Diff != nil && r.Diff.OnlyOrderingAuthoritySignatureRequired && e.RequiredSignatures == 1
	orgReady := onlyOrdering || e.SignatureCount >= e.RequiredSignatures
	ordererReady := e.OrdererSignatureCount >= e.RequiredOrdererSignatures

	e.Satisfiable = (onlyOrdering || distinctEligible(r.Orgs2Sign, r.voting) >= e.RequiredSignatures) &&
		distinctEligible(r.Orderers2Sign, always) >= e.RequiredOrdererSignatures
	e.Ready = e.Status == Open && orgReady && ordererReady

	switch {
	case e.Status != Open:
	case r.Visibility == Archive:
	case ev.InactivityWindow > 0 && now.Sub(time.UnixMilli(r.LastTimestamp)) > ev.InactivityWindow:
	case e.Ready:
		e.NeedsAttention = true
	default:
		e.NeedsAttention = (!orgReady && ev.canSign(r.Orgs2Sign, r.voting)) ||
			(!ordererReady && ev.canSign(r.Orderers2Sign, always))
	}

	return e
}

// canSign reports whether a pending entry belongs to this console.
func (ev Evaluator) canSign(entries []*SignerEntry, counts func(*SignerEntry) bool) bool {
	for _, e := range entries {
		if counts(e) && !e.Signed() && e.ConsoleURL == ev.ConsoleURL {
			return true
		}
	}
	return false
}

// Apply copies the derived fields of e onto r.
func (e Evaluation) Apply(r *Request) {
	r.Status = e.Status
	r.SignatureCount = e.SignatureCount
	r.OrdererSignatureCount = e.OrdererSignatureCount
	r.NeedsAttention = e.NeedsAttention
}
