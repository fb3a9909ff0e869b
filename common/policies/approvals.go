/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package policies

import (
	cb "github.com/hyperledger/fabric-protos-go/common"
)

// Display keys returned by Describe.
const (
	LabelExplicit = "policy_explicit_n"
	LabelMajority = "policy_majority"
	LabelAll      = "policy_all"
	LabelAny      = "policy_any"
	LabelUnknown  = "policy_unknown"
)

// Descriptor is the console form of a channel policy. Type carries the
// numeric value of cb.Policy_PolicyType, N the threshold of an explicit
// signature policy and Rule the name of an implicit meta rule.
type Descriptor struct {
	Type int32  `json:"type" mapstructure:"type"`
	N    int    `json:"n,omitempty" mapstructure:"n"`
	Rule string `json:"rule,omitempty" mapstructure:"rule"`
}

// Explicit returns a signature policy descriptor requiring n signatures.
func Explicit(n int) *Descriptor {
	return &Descriptor{Type: int32(cb.Policy_SIGNATURE), N: n}
}

// ImplicitMeta returns an implicit meta policy descriptor for rule.
func ImplicitMeta(rule cb.ImplicitMetaPolicy_Rule) *Descriptor {
	return &Descriptor{Type: int32(cb.Policy_IMPLICIT_META), Rule: rule.String()}
}

func (d *Descriptor) rule() (cb.ImplicitMetaPolicy_Rule, bool) {
	v, ok := cb.ImplicitMetaPolicy_Rule_value[d.Rule]
	return cb.ImplicitMetaPolicy_Rule(v), ok
}

// RequiredApprovals returns how many of totalEligible organizations must
// approve a change governed by p. Anything it does not recognize, a nil
// descriptor included, requires a single approval.
func RequiredApprovals(p *Descriptor, totalEligible int) int {
	if p == nil {
		return 1
	}

	switch cb.Policy_PolicyType(p.Type) {
	case cb.Policy_SIGNATURE:
		return p.N
	case cb.Policy_IMPLICIT_META:
		rule, ok := p.rule()
		if !ok {
			return 1
		}
		switch rule {
		case cb.ImplicitMetaPolicy_MAJORITY:
			return totalEligible/2 + 1
		case cb.ImplicitMetaPolicy_ALL:
			return totalEligible
		case cb.ImplicitMetaPolicy_ANY:
			return 1
		}
	}

	return 1
}

// Describe maps p to the display key of its shape.
func Describe(p *Descriptor) string {
	if p == nil {
		return LabelUnknown
	}

	switch cb.Policy_PolicyType(p.Type) {
	case cb.Policy_SIGNATURE:
		return LabelExplicit
	case cb.Policy_IMPLICIT_META:
		rule, ok := p.rule()
		if !ok {
			return LabelUnknown
		}
		switch rule {
		case cb.ImplicitMetaPolicy_MAJORITY:
			return LabelMajority
		case cb.ImplicitMetaPolicy_ALL:
			return LabelAll
		case cb.ImplicitMetaPolicy_ANY:
			return LabelAny
		}
	}

	return LabelUnknown
}
