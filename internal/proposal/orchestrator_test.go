/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proposal_test

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/approval"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/ledger/mocks"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/internal/proposal"
	"github.com/hyperledger/fabric-console/internal/store"
	cb "github.com/hyperledger/fabric-protos-go/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

type fakeSigner struct {
	msp string
}

func (f fakeSigner) Sign([]byte) ([]byte, error) { return []byte("sig-" + f.msp), nil }
func (f fakeSigner) Serialize() ([]byte, error)  { return []byte("id-" + f.msp), nil }
func (f fakeSigner) MSPID() string               { return f.msp }

func identities(msps ...string) []identity.MSPSigner {
	var ids []identity.MSPSigner
	for _, m := range msps {
		ids = append(ids, fakeSigner{msp: m})
	}
	return ids
}

func consoleOf(msp string) string {
	return "https://console." + msp + ".example.com"
}

func sig(msp string) []byte {
	return []byte("sig-" + msp)
}

func signedBy(msp string) interface{} {
	return mock.MatchedBy(func(s identity.MSPSigner) bool { return s.MSPID() == msp })
}

var payload = []byte("config update")

var _ = Describe("Orchestrator", func() {
	var (
		ctx          context.Context
		ledgerClient *mocks.Client
		st           store.Store
		manager      *approval.Manager
		orchestrator *proposal.Orchestrator
		current      configdiff.Snapshot
		orgs         []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		ledgerClient = &mocks.Client{}
		st = store.NewMemStore()
		orgs = []string{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP"}

		dir := membership.Static{}
		for _, msp := range append(orgs, "OrdererMSP") {
			dir[msp] = membership.Member{
				MSPID:        msp,
				ConsoleURL:   consoleOf(msp),
				Certificates: []string{"cert-" + msp},
				Peers:        []string{"peer0." + msp + ":7051"},
			}
		}

		clk := fakeclock.NewFakeClock(time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC))
		manager = approval.NewManager(approval.Config{ConsoleURL: consoleOf("Org1MSP")}, st, ledgerClient, dir, nil, clk, nil)
		orchestrator = &proposal.Orchestrator{
			Manager:   manager,
			Ledger:    ledgerClient,
			Directory: dir,
		}

		current = configdiff.Snapshot{
			"readers": []interface{}{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP"},
			"writers": []interface{}{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP"},
			"admins":  []interface{}{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP"},
			"raft_params": map[string]interface{}{
				"tick_interval":  "500ms",
				"election_tick":  10,
				"heartbeat_tick": 1,
			},
			"block_params": map[string]interface{}{
				"max_message_count":  500,
				"absolute_max_bytes": "10 MB",
				"timeout":            "2s",
			},
		}
	})

	AfterEach(func() {
		ledgerClient.AssertExpectations(GinkgoT())
	})

	updated := func(mutate func(s configdiff.Snapshot)) configdiff.Snapshot {
		s := configdiff.Snapshot{}
		for k, v := range current {
			s[k] = v
		}
		mutate(s)
		return s
	}

	tickInterval := func(s configdiff.Snapshot) {
		s["raft_params"] = map[string]interface{}{
			"tick_interval":  "250ms",
			"election_tick":  10,
			"heartbeat_tick": 1,
		}
	}

	addOrg5 := func(s configdiff.Snapshot) {
		s["admins"] = []interface{}{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP", "Org5MSP"}
	}

	newProposal := func(policy *policies.Descriptor, mutate func(s configdiff.Snapshot)) proposal.Proposal {
		return proposal.Proposal{
			TxID:          "tx1",
			Channel:       "mychannel",
			OriginatorMSP: "Org1MSP",
			CurrentPolicy: policy,
			OrgMSPIDs:     orgs,
			OrdererMSPIDs: []string{"OrdererMSP"},
			Current:       current,
			Updated:       updated(mutate),
			Payload:       payload,
		}
	}

	stored := func() []*approval.Request {
		requests, err := manager.List(ctx, approval.Filter{})
		Expect(err).NotTo(HaveOccurred())
		return requests
	}

	Describe("parameter bounds", func() {
		It("rejects out of range values before anything is signed or stored", func() {
			p := newProposal(policies.Explicit(1), func(s configdiff.Snapshot) {
				s["block_params"] = map[string]interface{}{
					"max_message_count":   6000,
					"absolute_max_bytes":  "10 MB",
					"preferred_max_bytes": "20 MB",
					"timeout":             "10m",
				}
			})

			_, err := orchestrator.Propose(ctx, p, identities("Org1MSP"))
			Expect(err).To(MatchError(ContainSubstring("max_message_count 6000 is out of range [1, 5000]")))
			Expect(err).To(MatchError(ContainSubstring("preferred_max_bytes 20971520 is out of range [1, 10485760]")))
			Expect(err).To(MatchError(ContainSubstring("timeout 10m0s is out of range [1ms, 5m0s]")))
			Expect(approval.IsValidation(err)).To(BeTrue())
			Expect(stored()).To(BeEmpty())
		})

		It("rejects an election tick that does not exceed the heartbeat", func() {
			p := newProposal(policies.Explicit(1), func(s configdiff.Snapshot) {
				s["raft_params"] = map[string]interface{}{"election_tick": 1, "heartbeat_tick": 1}
			})

			_, err := orchestrator.Propose(ctx, p, identities("Org1MSP"))
			Expect(err).To(MatchError(ContainSubstring("election_tick 1 must be greater than heartbeat_tick 1")))
		})
	})

	Context("when only the tick interval changes and one signature is required", func() {
		It("signs and submits without an approval request when the console holds an ordering admin", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("Org1MSP")).Return(sig("Org1MSP"), nil).Once()
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("OrdererMSP")).Return(sig("OrdererMSP"), nil).Once()
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload,
				[][]byte{sig("Org1MSP"), sig("OrdererMSP")}, signedBy("Org1MSP")).Return(nil).Once()

			out, err := orchestrator.Propose(ctx, newProposal(policies.Explicit(1), tickInterval), identities("Org1MSP", "OrdererMSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Diff.OnlyOrderingAuthoritySignatureRequired).To(BeTrue())
			Expect(out.RequiredSignatures).To(Equal(1))
			Expect(out.OrdererSignatureNeeded).To(BeFalse())
			Expect(out.Submitted).To(BeTrue())
			Expect(out.Request).To(BeNil())
			Expect(stored()).To(BeEmpty())
		})

		It("fans out to the ordering authority when no ordering admin is local", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("Org1MSP")).Return(sig("Org1MSP"), nil).Once()

			out, err := orchestrator.Propose(ctx, newProposal(policies.Explicit(1), tickInterval), identities("Org1MSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.OrdererSignatureNeeded).To(BeTrue())
			Expect(out.Submitted).To(BeFalse())
			Expect(out.Request).NotTo(BeNil())
			Expect(out.Request.Status).To(Equal(approval.Open))
			Expect(out.Request.SignatureCount).To(Equal(1))
			Expect(out.Request.OrdererSignatureCount).To(Equal(0))
			Expect(out.Request.Orderers2Sign).To(HaveLen(1))
		})

		It("treats an already applied change as submitted", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, mock.Anything).Return(sig("Org1MSP"), nil)
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload, mock.Anything, mock.Anything).
				Return(&ledger.ConflictError{Info: "update would have no effect"}).Once()

			out, err := orchestrator.Propose(ctx, newProposal(policies.Explicit(1), tickInterval), identities("Org1MSP", "OrdererMSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Submitted).To(BeTrue())
		})

		It("surfaces a leader outage without creating a request", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, mock.Anything).Return(sig("Org1MSP"), nil)
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload, mock.Anything, mock.Anything).
				Return(&ledger.LeaderUnavailableError{}).Once()

			_, err := orchestrator.Propose(ctx, newProposal(policies.Explicit(1), tickInterval), identities("Org1MSP", "OrdererMSP"))
			Expect(ledger.IsRetryable(err)).To(BeTrue())
			Expect(stored()).To(BeEmpty())
		})
	})

	Context("when a membership change needs a majority", func() {
		It("creates a request pre-signed by the originator", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("Org1MSP")).Return(sig("Org1MSP"), nil).Once()

			out, err := orchestrator.Propose(ctx, newProposal(policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY), addOrg5), identities("Org1MSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.RequiredSignatures).To(Equal(3))
			Expect(out.OrdererSignatureNeeded).To(BeFalse())
			Expect(out.Request.CurrentPolicy.NumberOfSignatures).To(Equal(3))
			Expect(out.Request.SignatureCount).To(Equal(1))
			Expect(out.Request.Orgs2Sign[0].Signature).To(Equal(sig("Org1MSP")))
			Expect(out.Request.Orderers2Sign).To(BeEmpty())
			Expect(out.Request.NeedsAttention).To(BeFalse())
		})

		It("creates an unsigned request when the console holds no identity", func() {
			out, err := orchestrator.Propose(ctx, newProposal(policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY), addOrg5), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Request.SignatureCount).To(Equal(0))
			Expect(out.Request.NeedsAttention).To(BeTrue())
			ledgerClient.AssertNotCalled(GinkgoT(), "SignConfigUpdate", mock.Anything, mock.Anything, mock.Anything)
		})

		It("does not create a request when signing fails", func() {
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, mock.Anything).Return(nil, context.DeadlineExceeded).Once()

			_, err := orchestrator.Propose(ctx, newProposal(policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY), addOrg5), identities("Org1MSP"))
			var signingErr *ledger.SigningError
			Expect(err).To(BeAssignableToTypeOf(signingErr))
			Expect(stored()).To(BeEmpty())
		})
	})

	Context("when the local identities already satisfy the policy", func() {
		var p proposal.Proposal

		BeforeEach(func() {
			p = newProposal(policies.Explicit(2), addOrg5)
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("Org1MSP")).Return(sig("Org1MSP"), nil).Once()
			ledgerClient.On("SignConfigUpdate", mock.Anything, payload, signedBy("Org2MSP")).Return(sig("Org2MSP"), nil).Once()
		})

		It("submits the new request at once", func() {
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload,
				[][]byte{sig("Org1MSP"), sig("Org2MSP")}, signedBy("Org1MSP")).Return(nil).Once()

			out, err := orchestrator.Propose(ctx, p, identities("Org2MSP", "Org1MSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Submitted).To(BeTrue())
			Expect(out.Request.Status).To(Equal(approval.Closed))
			Expect(out.Request.Submitted).To(BeTrue())
		})

		It("deletes the request when the ordering service rejects it", func() {
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload, mock.Anything, mock.Anything).
				Return(&ledger.RejectedError{Status: "BAD_REQUEST", Info: "bad signature"}).Once()

			_, err := orchestrator.Propose(ctx, p, identities("Org1MSP", "Org2MSP"))
			Expect(err).To(MatchError(ContainSubstring("submission rejected with status BAD_REQUEST")))
			Expect(stored()).To(BeEmpty())
		})

		It("keeps the request open when the leader is unavailable", func() {
			ledgerClient.On("SubmitConfigUpdate", mock.Anything, "mychannel", payload, mock.Anything, mock.Anything).
				Return(&ledger.LeaderUnavailableError{}).Once()

			out, err := orchestrator.Propose(ctx, p, identities("Org1MSP", "Org2MSP"))
			Expect(ledger.IsRetryable(err)).To(BeTrue())
			Expect(out).NotTo(BeNil())
			Expect(out.Submitted).To(BeFalse())
			requests := stored()
			Expect(requests).To(HaveLen(1))
			Expect(out.Request.TxID).To(Equal(requests[0].TxID))
			Expect(requests[0].Status).To(Equal(approval.Open))
			Expect(requests[0].SignatureCount).To(Equal(2))
		})
	})

	It("creates a plain request closed when there is nothing to diff", func() {
		p := newProposal(policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY), addOrg5)
		p.Current, p.Updated = nil, nil

		out, err := orchestrator.Propose(ctx, p, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Diff).To(BeNil())
		Expect(out.Request.Status).To(Equal(approval.Closed))
	})

	Describe("chaincode definitions", func() {
		var ccd *ledger.ChaincodeDefinition

		BeforeEach(func() {
			ccd = &ledger.ChaincodeDefinition{ID: "marbles-1", Name: "marbles", Version: "1.0", Sequence: 1}
		})

		It("approves and commits directly when one approval is enough", func() {
			ledgerClient.On("ApproveChaincodeDefinition", mock.Anything, "mychannel", ccd, []string{"peer0.Org1MSP:7051"}, signedBy("Org1MSP")).
				Return(nil).Once()
			ledgerClient.On("CommitChaincodeDefinition", mock.Anything, "mychannel", ccd, []string{"peer0.Org1MSP:7051"}, signedBy("Org1MSP")).
				Return(nil).Once()

			out, err := orchestrator.Propose(ctx, proposal.Proposal{
				Channel:       "mychannel",
				OriginatorMSP: "Org1MSP",
				CurrentPolicy: policies.ImplicitMeta(cb.ImplicitMetaPolicy_ANY),
				OrgMSPIDs:     orgs,
				CCD:           ccd,
			}, identities("Org1MSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Submitted).To(BeTrue())
			Expect(out.Request).To(BeNil())
		})

		It("creates a request approved by the originator otherwise", func() {
			ledgerClient.On("ApproveChaincodeDefinition", mock.Anything, "mychannel", mock.Anything, []string{"peer0.Org1MSP:7051"}, signedBy("Org1MSP")).
				Return(nil).Once()

			out, err := orchestrator.Propose(ctx, proposal.Proposal{
				TxID:          "cc1",
				Channel:       "mychannel",
				OriginatorMSP: "Org1MSP",
				CurrentPolicy: policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY),
				OrgMSPIDs:     orgs,
				CCD:           ccd,
			}, identities("Org1MSP"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Submitted).To(BeFalse())
			Expect(out.Request.Status).To(Equal(approval.Open))
			Expect(out.Request.SignatureCount).To(Equal(1))
			Expect(out.Request.Orgs2Sign[0].Signature).To(Equal([]byte("id-Org1MSP")))
		})
	})

	It("requires exactly one of a payload and a chaincode definition", func() {
		p := newProposal(policies.Explicit(1), addOrg5)
		p.CCD = &ledger.ChaincodeDefinition{Name: "marbles"}

		_, err := orchestrator.Propose(ctx, p, identities("Org1MSP"))
		Expect(approval.IsValidation(err)).To(BeTrue())
	})
})
