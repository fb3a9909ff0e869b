/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package policies

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/golang/protobuf/proto"
	cb "github.com/hyperledger/fabric-protos-go/common"
	mb "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
)

// Gate names accepted by SignaturePolicyFromString, in any of the three
// spellings registered below.
const (
	GateAnd   = "And"
	GateOr    = "Or"
	GateOutOf = "OutOf"
)

var principalRegexp = regexp.MustCompile(`^([[:alnum:].-]+)([.])(admin|member|client|peer)$`)

var roles = map[string]mb.MSPRole_MSPRoleType{
	"admin":  mb.MSPRole_ADMIN,
	"member": mb.MSPRole_MEMBER,
	"client": mb.MSPRole_CLIENT,
	"peer":   mb.MSPRole_PEER,
}

type dslContext struct {
	principals []*mb.MSPPrincipal
	index      map[string]int32
}

func (c *dslContext) rule(arg interface{}) (*cb.SignaturePolicy, error) {
	switch t := arg.(type) {
	case *cb.SignaturePolicy:
		return t, nil
	case string:
		return c.signedBy(t)
	default:
		return nil, errors.Errorf("unexpected type %T in policy expression", arg)
	}
}

func (c *dslContext) signedBy(principal string) (*cb.SignaturePolicy, error) {
	if idx, ok := c.index[principal]; ok {
		return &cb.SignaturePolicy{Type: &cb.SignaturePolicy_SignedBy{SignedBy: idx}}, nil
	}

	subm := principalRegexp.FindAllStringSubmatch(principal, -1)
	if subm == nil || len(subm[0]) != 4 {
		return nil, errors.Errorf("error parsing principal %s", principal)
	}

	role, err := proto.Marshal(&mb.MSPRole{MspIdentifier: subm[0][1], Role: roles[subm[0][3]]})
	if err != nil {
		return nil, errors.Wrapf(err, "error marshaling msp role for principal %s", principal)
	}

	idx := int32(len(c.principals))
	c.principals = append(c.principals, &mb.MSPPrincipal{
		PrincipalClassification: mb.MSPPrincipal_ROLE,
		Principal:               role,
	})
	c.index[principal] = idx
	return &cb.SignaturePolicy{Type: &cb.SignaturePolicy_SignedBy{SignedBy: idx}}, nil
}

func (c *dslContext) nOutOf(n int, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, errors.New("a gate requires at least one argument")
	}
	if n < 1 || n > len(args) {
		return nil, errors.Errorf("invalid threshold %d for %d rules", n, len(args))
	}

	rules := make([]*cb.SignaturePolicy, 0, len(args))
	for _, arg := range args {
		r, err := c.rule(arg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	return &cb.SignaturePolicy{
		Type: &cb.SignaturePolicy_NOutOf_{
			NOutOf: &cb.SignaturePolicy_NOutOf{N: int32(n), Rules: rules},
		},
	}, nil
}

func (c *dslContext) functions() map[string]govaluate.ExpressionFunction {
	and := func(args ...interface{}) (interface{}, error) { return c.nOutOf(len(args), args) }
	or := func(args ...interface{}) (interface{}, error) { return c.nOutOf(1, args) }
	outof := func(args ...interface{}) (interface{}, error) {
		if len(args) < 2 {
			return nil, errors.Errorf("expected at least two arguments to OutOf, got %d", len(args))
		}
		n, ok := args[0].(float64)
		if !ok {
			return nil, errors.Errorf("unexpected type %T for OutOf threshold", args[0])
		}
		return c.nOutOf(int(n), args[1:])
	}

	fns := map[string]govaluate.ExpressionFunction{}
	for name, fn := range map[string]govaluate.ExpressionFunction{GateAnd: and, GateOr: or, GateOutOf: outof} {
		fns[name] = fn
		fns[strings.ToLower(name)] = fn
		fns[strings.ToUpper(name)] = fn
	}
	return fns
}

// SignaturePolicyFromString parses the policy language used by channel
// administrators, for example "OutOf(2, 'Org1.admin', 'Org2.admin', 'Org3.admin')".
func SignaturePolicyFromString(policy string) (*cb.SignaturePolicyEnvelope, error) {
	c := &dslContext{index: map[string]int32{}}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(policy, c.functions())
	if err != nil {
		return nil, errors.Wrapf(err, "unrecognized policy '%s'", policy)
	}

	res, err := expr.Evaluate(map[string]interface{}{})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid policy '%s'", policy)
	}

	rule, err := c.rule(res)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid policy '%s'", policy)
	}

	return &cb.SignaturePolicyEnvelope{
		Version:    0,
		Rule:       rule,
		Identities: c.principals,
	}, nil
}

// MinimumSignatures returns the smallest number of signatures that can
// satisfy the root rule of env, assuming no principal overlap between
// sibling rules.
func MinimumSignatures(env *cb.SignaturePolicyEnvelope) int {
	if env == nil || env.Rule == nil {
		return 1
	}
	return minimum(env.Rule)
}

func minimum(sp *cb.SignaturePolicy) int {
	switch t := sp.Type.(type) {
	case *cb.SignaturePolicy_SignedBy:
		return 1
	case *cb.SignaturePolicy_NOutOf_:
		costs := make([]int, 0, len(t.NOutOf.Rules))
		for _, r := range t.NOutOf.Rules {
			costs = append(costs, minimum(r))
		}
		sort.Ints(costs)
		total := 0
		for i := 0; i < int(t.NOutOf.N) && i < len(costs); i++ {
			total += costs[i]
		}
		return total
	default:
		panic(fmt.Sprintf("invalid policy type %T", t))
	}
}

// DescriptorFromSignaturePolicy converts a parsed signature policy into an
// explicit descriptor.
func DescriptorFromSignaturePolicy(env *cb.SignaturePolicyEnvelope) *Descriptor {
	return Explicit(MinimumSignatures(env))
}
