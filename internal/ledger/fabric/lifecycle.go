/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fabric

import (
	"context"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/protoutil"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	lb "github.com/hyperledger/fabric-protos-go/peer/lifecycle"
	"github.com/pkg/errors"
)

const (
	lifecycleName              = "_lifecycle"
	approveFuncName            = "ApproveChaincodeDefinitionForMyOrg"
	commitFuncName             = "CommitChaincodeDefinition"
	defaultEndorsementPlugin   = "escc"
	defaultValidationPlugin    = "vscc"
	channelPolicyRefPrefix     = "/Channel/"
	unchangedDefinitionMessage = "unchanged content"
)

// validationParameter encodes the endorsement policy. Policy references
// start with /Channel/, anything else is parsed as a signature policy.
func validationParameter(policy string) ([]byte, error) {
	if policy == "" {
		return nil, nil
	}
	ap := &pb.ApplicationPolicy{}
	if strings.HasPrefix(policy, channelPolicyRefPrefix) {
		ap.Type = &pb.ApplicationPolicy_ChannelConfigPolicyReference{ChannelConfigPolicyReference: policy}
	} else {
		env, err := policies.SignaturePolicyFromString(policy)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid endorsement policy")
		}
		ap.Type = &pb.ApplicationPolicy_SignaturePolicy{SignaturePolicy: env}
	}
	return proto.Marshal(ap)
}

func plugins(ccd *ledger.ChaincodeDefinition) (string, string) {
	ep, vp := ccd.EndorsementPlugin, ccd.ValidationPlugin
	if ep == "" {
		ep = defaultEndorsementPlugin
	}
	if vp == "" {
		vp = defaultValidationPlugin
	}
	return ep, vp
}

func approveArgs(ccd *ledger.ChaincodeDefinition) (proto.Message, error) {
	vparam, err := validationParameter(ccd.EndorsementPolicy)
	if err != nil {
		return nil, err
	}
	ep, vp := plugins(ccd)
	source := &lb.ChaincodeSource{
		Type: &lb.ChaincodeSource_Unavailable_{Unavailable: &lb.ChaincodeSource_Unavailable{}},
	}
	if ccd.PackageID != "" {
		source.Type = &lb.ChaincodeSource_LocalPackage{
			LocalPackage: &lb.ChaincodeSource_Local{PackageId: ccd.PackageID},
		}
	}
	return &lb.ApproveChaincodeDefinitionForMyOrgArgs{
		Name:                ccd.Name,
		Version:             ccd.Version,
		Sequence:            ccd.Sequence,
		EndorsementPlugin:   ep,
		ValidationPlugin:    vp,
		ValidationParameter: vparam,
		InitRequired:        ccd.InitRequired,
		Source:              source,
	}, nil
}

func commitArgs(ccd *ledger.ChaincodeDefinition) (proto.Message, error) {
	vparam, err := validationParameter(ccd.EndorsementPolicy)
	if err != nil {
		return nil, err
	}
	ep, vp := plugins(ccd)
	return &lb.CommitChaincodeDefinitionArgs{
		Name:                ccd.Name,
		Version:             ccd.Version,
		Sequence:            ccd.Sequence,
		EndorsementPlugin:   ep,
		ValidationPlugin:    vp,
		ValidationParameter: vparam,
		InitRequired:        ccd.InitRequired,
	}, nil
}

func (c *Client) ApproveChaincodeDefinition(ctx context.Context, channel string, ccd *ledger.ChaincodeDefinition, peers []string, signer identity.MSPSigner) error {
	args, err := approveArgs(ccd)
	if err != nil {
		return err
	}
	return c.invokeLifecycle(ctx, channel, approveFuncName, args, peers, signer)
}

func (c *Client) CommitChaincodeDefinition(ctx context.Context, channel string, ccd *ledger.ChaincodeDefinition, peers []string, signer identity.MSPSigner) error {
	args, err := commitArgs(ccd)
	if err != nil {
		return err
	}
	return c.invokeLifecycle(ctx, channel, commitFuncName, args, peers, signer)
}

func (c *Client) invokeLifecycle(ctx context.Context, channel, function string, args proto.Message, peers []string, signer identity.MSPSigner) error {
	if len(peers) == 0 {
		return errors.Errorf("no endorsing peers for %s on channel %s", function, channel)
	}

	argBytes, err := proto.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "failed to marshal lifecycle arguments")
	}
	creator, err := signer.Serialize()
	if err != nil {
		return &ledger.SigningError{MSPID: signer.MSPID(), Err: err}
	}

	prop, txID, err := protoutil.CreateChaincodeProposal(channel, lifecycleName, [][]byte{[]byte(function), argBytes}, creator)
	if err != nil {
		return errors.WithMessage(err, "failed to create proposal")
	}
	signedProp, err := protoutil.GetSignedProposal(prop, signer)
	if err != nil {
		return &ledger.SigningError{MSPID: signer.MSPID(), Err: err}
	}

	responses := make([]*pb.ProposalResponse, 0, len(peers))
	for _, address := range peers {
		resp, err := c.endorse(ctx, address, signedProp)
		if err != nil {
			return err
		}
		if resp.Response == nil || resp.Response.Status >= 400 {
			msg := ""
			if resp.Response != nil {
				msg = resp.Response.Message
			}
			if strings.Contains(msg, unchangedDefinitionMessage) {
				return &ledger.ConflictError{Info: msg}
			}
			return &ledger.RejectedError{Status: "ENDORSEMENT_FAILURE", Info: address + ": " + msg}
		}
		responses = append(responses, resp)
	}

	env, err := protoutil.CreateSignedTx(prop, signer, responses...)
	if err != nil {
		return errors.WithMessage(err, "failed to assemble transaction")
	}

	logger.Infof("Submitting %s transaction %s on channel %s", function, txID, channel)
	return c.broadcast(ctx, env)
}

func (c *Client) endorse(ctx context.Context, address string, signedProp *pb.SignedProposal) (*pb.ProposalResponse, error) {
	endpoint, ok := c.peers[address]
	if !ok {
		endpoint = Endpoint{Address: address}
	}
	conn, err := c.dialer.NewConnection(ctx, endpoint.Address, endpoint.ServerNameOverride)
	if err != nil {
		return nil, &ledger.LeaderUnavailableError{Info: "peer " + address + ": " + err.Error()}
	}
	defer conn.Close()

	resp, err := pb.NewEndorserClient(conn).ProcessProposal(ctx, signedProp)
	if err != nil {
		return nil, translateRPCError(err)
	}
	return resp, nil
}
