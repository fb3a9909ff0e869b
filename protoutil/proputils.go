/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const nonceSize = 24

// Signer signs messages and serializes the identity behind the signature.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Serialize() ([]byte, error)
}

// CreateChaincodeProposal creates an endorser transaction proposal invoking
// the named chaincode with args. It returns the proposal and the
// transaction id associated to the proposal.
func CreateChaincodeProposal(channelID, chaincodeName string, args [][]byte, creator []byte) (*peer.Proposal, string, error) {
	nonce, err := getRandomNonce()
	if err != nil {
		return nil, "", err
	}
	txid := ComputeTxID(nonce, creator)

	cis := &peer.ChaincodeInvocationSpec{
		ChaincodeSpec: &peer.ChaincodeSpec{
			ChaincodeId: &peer.ChaincodeID{Name: chaincodeName},
			Input:       &peer.ChaincodeInput{Args: args},
		},
	}

	return createProposal(txid, channelID, cis, nonce, creator)
}

func createProposal(txid, channelID string, cis *peer.ChaincodeInvocationSpec, nonce, creator []byte) (*peer.Proposal, string, error) {
	ccHdrExtBytes, err := proto.Marshal(&peer.ChaincodeHeaderExtension{ChaincodeId: cis.ChaincodeSpec.ChaincodeId})
	if err != nil {
		return nil, "", errors.Wrap(err, "error marshaling ChaincodeHeaderExtension")
	}

	cisBytes, err := proto.Marshal(cis)
	if err != nil {
		return nil, "", errors.Wrap(err, "error marshaling ChaincodeInvocationSpec")
	}

	ccPropPayloadBytes, err := proto.Marshal(&peer.ChaincodeProposalPayload{Input: cisBytes})
	if err != nil {
		return nil, "", errors.Wrap(err, "error marshaling ChaincodeProposalPayload")
	}

	timestamp := timestamppb.New(time.Now().UTC())

	hdr := &common.Header{
		ChannelHeader: MarshalOrPanic(
			&common.ChannelHeader{
				Type:      int32(common.HeaderType_ENDORSER_TRANSACTION),
				TxId:      txid,
				Timestamp: timestamp,
				ChannelId: channelID,
				Extension: ccHdrExtBytes,
			},
		),
		SignatureHeader: MarshalOrPanic(
			&common.SignatureHeader{
				Nonce:   nonce,
				Creator: creator,
			},
		),
	}

	hdrBytes, err := proto.Marshal(hdr)
	if err != nil {
		return nil, "", err
	}

	return &peer.Proposal{Header: hdrBytes, Payload: ccPropPayloadBytes}, txid, nil
}

// GetSignedProposal returns a signed proposal given a Proposal message and
// a signing identity
func GetSignedProposal(prop *peer.Proposal, signer Signer) (*peer.SignedProposal, error) {
	if prop == nil {
		return nil, errors.New("proposal cannot be nil")
	}
	if signer == nil {
		return nil, errors.New("signer cannot be nil")
	}

	propBytes, err := proto.Marshal(prop)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling proposal")
	}

	signature, err := signer.Sign(propBytes)
	if err != nil {
		return nil, err
	}

	return &peer.SignedProposal{ProposalBytes: propBytes, Signature: signature}, nil
}

// CreateSignedTx assembles an Envelope message from proposal, endorsements,
// and a signer.
func CreateSignedTx(proposal *peer.Proposal, signer Signer, resps ...*peer.ProposalResponse) (*common.Envelope, error) {
	if len(resps) == 0 {
		return nil, errors.New("at least one proposal response is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required when creating a signed transaction")
	}

	hdr := &common.Header{}
	if err := proto.Unmarshal(proposal.Header, hdr); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling Header")
	}
	pPayl := &peer.ChaincodeProposalPayload{}
	if err := proto.Unmarshal(proposal.Payload, pPayl); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling ChaincodeProposalPayload")
	}
	shdr := &common.SignatureHeader{}
	if err := proto.Unmarshal(hdr.SignatureHeader, shdr); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling SignatureHeader")
	}

	signerBytes, err := signer.Serialize()
	if err != nil {
		return nil, err
	}
	if string(signerBytes) != string(shdr.Creator) {
		return nil, errors.New("signer must be the same as the one referenced in the header")
	}

	// all actions must be successful and bitwise equal
	var a1 []byte
	endorsements := make([]*peer.Endorsement, len(resps))
	for n, r := range resps {
		if r.Response == nil || r.Response.Status < 200 || r.Response.Status >= 400 {
			status, msg := int32(0), ""
			if r.Response != nil {
				status, msg = r.Response.Status, r.Response.Message
			}
			return nil, errors.Errorf("proposal response was not successful, error code %d, msg %s", status, msg)
		}
		if n == 0 {
			a1 = r.Payload
		} else if string(a1) != string(r.Payload) {
			return nil, errors.New("ProposalResponsePayloads do not match")
		}
		endorsements[n] = r.Endorsement
	}

	// the transient map never reaches the ledger
	propPayloadBytes, err := proto.Marshal(&peer.ChaincodeProposalPayload{Input: pPayl.Input})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling ChaincodeProposalPayload")
	}

	capBytes, err := proto.Marshal(&peer.ChaincodeActionPayload{
		ChaincodeProposalPayload: propPayloadBytes,
		Action: &peer.ChaincodeEndorsedAction{
			ProposalResponsePayload: resps[0].Payload,
			Endorsements:            endorsements,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling ChaincodeActionPayload")
	}

	txBytes, err := proto.Marshal(&peer.Transaction{
		Actions: []*peer.TransactionAction{{Header: hdr.SignatureHeader, Payload: capBytes}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling Transaction")
	}

	paylBytes, err := proto.Marshal(&common.Payload{Header: hdr, Data: txBytes})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling Payload")
	}

	sig, err := signer.Sign(paylBytes)
	if err != nil {
		return nil, err
	}

	return &common.Envelope{Payload: paylBytes, Signature: sig}, nil
}

// ComputeTxID computes TxID as the Hash computed
// over the concatenation of nonce and creator.
func ComputeTxID(nonce, creator []byte) string {
	hasher := sha256.New()
	hasher.Write(nonce)
	hasher.Write(creator)
	return hex.EncodeToString(hasher.Sum(nil))
}

// CheckTxID checks that txid is equal to the Hash computed
// over the concatenation of nonce and creator.
func CheckTxID(txid string, nonce, creator []byte) error {
	computedTxID := ComputeTxID(nonce, creator)

	if txid != computedTxID {
		return errors.Errorf("invalid txid. got [%s], expected [%s]", txid, computedTxID)
	}

	return nil
}

// MarshalOrPanic serializes a protobuf message and panics if this
// operation fails
func MarshalOrPanic(pb proto.Message) []byte {
	data, err := proto.Marshal(pb)
	if err != nil {
		panic(err)
	}
	return data
}

func getRandomNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "error getting random bytes")
	}
	return nonce, nil
}
