/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/notify"
	"github.com/hyperledger/fabric-console/internal/store"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var allOrgs = []string{"Org1MSP", "Org2MSP", "Org3MSP", "Org4MSP"}

func majorityRequest(txID string) CreateRequest {
	return CreateRequest{
		TxID:          txID,
		Channel:       "mychannel",
		OriginatorMSP: "Org1MSP",
		Policy:        policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY),
		OrgMSPIDs:     allOrgs,
		Proposal:      proposal,
		Diff:          membershipDiff(),
	}
}

func TestMajorityOfFour(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	managers := map[string]*Manager{}
	for _, msp := range allOrgs {
		managers[msp] = h.manager(consoleOf(msp))
	}
	outsider := h.manager("https://console.elsewhere.example.com")

	r, err := managers["Org1MSP"].Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)
	require.Equal(t, 3, r.CurrentPolicy.NumberOfSignatures)
	require.Equal(t, Open, r.Status)
	require.Equal(t, 0, r.SignatureCount)
	require.True(t, r.NeedsAttention)

	for _, msp := range []string{"Org1MSP", "Org2MSP"} {
		h.expectSign(msp).Once()
		r, err = managers[msp].Sign(ctx, "tx1", signers(msp), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, r.SignatureCount)

	for msp, m := range managers {
		r, err := m.Get(ctx, "tx1")
		require.NoError(t, err)
		expected := msp == "Org3MSP" || msp == "Org4MSP"
		require.Equal(t, expected, r.NeedsAttention, msp)
		require.False(t, m.Evaluate(r).Ready)
	}
	r, err = outsider.Get(ctx, "tx1")
	require.NoError(t, err)
	require.False(t, r.NeedsAttention)

	h.expectSign("Org3MSP").Once()
	r, err = managers["Org3MSP"].Sign(ctx, "tx1", signers("Org3MSP"), []string{"Org3MSP"})
	require.NoError(t, err)
	require.Equal(t, 3, r.SignatureCount)
	require.True(t, managers["Org3MSP"].Evaluate(r).Ready)
	for _, m := range []*Manager{managers["Org4MSP"], outsider} {
		r, err := m.Get(ctx, "tx1")
		require.NoError(t, err)
		require.True(t, r.NeedsAttention)
	}

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal,
		[][]byte{sig("Org1MSP"), sig("Org2MSP"), sig("Org3MSP")}, mock.Anything).Return(nil).Once()
	r, err = managers["Org3MSP"].Submit(ctx, "tx1", fakeSigner{msp: "Org3MSP"})
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	require.True(t, r.Submitted)
	require.False(t, r.NeedsAttention)

	_, err = managers["Org4MSP"].Sign(ctx, "tx1", signers("Org4MSP"), nil)
	require.True(t, IsStale(err))
	_, err = managers["Org3MSP"].Submit(ctx, "tx1", fakeSigner{msp: "Org3MSP"})
	require.True(t, IsStale(err))
	require.EqualError(t, err, "approval request tx1 is closed")

	require.Equal(t, []notify.EventType{
		notify.Created, notify.Signed, notify.Signed, notify.Signed, notify.Submitted, notify.Closed,
	}, h.events.types())
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()

	cr := majorityRequest("tx1")
	cr.Channel = ""
	_, err := m.Create(ctx, cr)
	require.True(t, IsValidation(err))

	cr = majorityRequest("tx1")
	cr.CCD = &ledger.ChaincodeDefinition{Name: "marbles"}
	_, err = m.Create(ctx, cr)
	require.EqualError(t, err, "exactly one of proposal and chaincode definition is required")

	cr = majorityRequest("tx1")
	cr.Proposal = nil
	_, err = m.Create(ctx, cr)
	require.True(t, IsValidation(err))

	cr = majorityRequest("tx1")
	cr.OrgMSPIDs = []string{"Org1MSP", "Org2MSP"}
	cr.Policy = policies.Explicit(3)
	_, err = m.Create(ctx, cr)
	require.EqualError(t, err, "policy policy_explicit_n requires 3 signatures but only 2 organizations can sign")

	cr = majorityRequest("tx1")
	cr.OrgMSPIDs = []string{"Org1MSP", "Org9MSP"}
	_, err = m.Create(ctx, cr)
	require.True(t, IsValidation(err))

	cr = majorityRequest("tx1")
	cr.OrgMSPIDs = nil
	_, err = m.Create(ctx, cr)
	require.EqualError(t, err, "at least one signing organization is required")

	_, err = m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)
	_, err = m.Create(ctx, majorityRequest("tx1"))
	require.EqualError(t, err, "approval request tx1 already exists")
}

func TestCreateWithoutDiffIsClosed(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()

	cr := majorityRequest("")
	cr.Diff = nil
	r, err := m.Create(ctx, cr)
	require.NoError(t, err)
	require.Len(t, r.TxID, 32)
	require.Equal(t, Closed, r.Status)
	require.False(t, r.NeedsAttention)

	_, err = m.Sign(ctx, r.TxID, signers("Org1MSP"), nil)
	require.True(t, IsStale(err))
}

func TestCreatePreSigned(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))

	cr := majorityRequest("tx1")
	cr.Signatures = map[string][]byte{"Org1MSP": sig("Org1MSP")}
	r, err := m.Create(context.Background(), cr)
	require.NoError(t, err)
	require.Equal(t, 1, r.SignatureCount)
	require.Equal(t, sig("Org1MSP"), r.Orgs2Sign[0].Signature)
	require.False(t, r.Orgs2Sign[1].Signed())
	require.Equal(t, "cert-Org2MSP", r.Orgs2Sign[1].Certificate)
}

func TestSignIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	h.expectSign("Org1MSP").Once()
	r, err := m.Sign(ctx, "tx1", signers("Org1MSP"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, r.SignatureCount)
	first := r.LastTimestamp

	h.clock.Increment(time.Minute)
	r, err = m.Sign(ctx, "tx1", signers("Org1MSP"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, r.SignatureCount)
	require.Equal(t, first, r.LastTimestamp)
	h.ledger.AssertNumberOfCalls(t, "SignConfigUpdate", 1)
}

func TestSignValidation(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	_, err = m.Sign(ctx, "tx1", nil, nil)
	require.EqualError(t, err, "no signing identities supplied")

	_, err = m.Sign(ctx, "tx1", signers("Org1MSP"), []string{"Org2MSP"})
	require.EqualError(t, err, "no local identity for Org2MSP")

	_, err = m.Sign(ctx, "tx1", signers("Org9MSP"), nil)
	require.EqualError(t, err, "Org9MSP is not a signer of approval request tx1")

	_, err = m.Sign(ctx, "tx1", signers("Org2MSP"), nil)
	require.EqualError(t, err, "Org2MSP must sign approval request tx1 from https://console.Org2MSP.example.com")

	_, err = m.Sign(ctx, "missing", signers("Org1MSP"), nil)
	require.EqualError(t, err, "approval request missing is deleted")
}

func TestSigningErrorLeavesRequestUntouched(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	h.ledger.On("SignConfigUpdate", mock.Anything, proposal, mock.Anything).Return(nil, errors.New("hsm offline")).Once()
	_, err = m.Sign(ctx, "tx1", signers("Org1MSP"), nil)
	var signingErr *ledger.SigningError
	require.ErrorAs(t, err, &signingErr)
	require.Equal(t, "Org1MSP", signingErr.MSPID)
	require.True(t, ledger.IsRetryable(err))

	r, err := m.Get(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, 0, r.SignatureCount)
	require.Equal(t, []notify.EventType{notify.Created}, h.events.types())
}

func readyRequest(t *testing.T, h *harness, m *Manager) {
	cr := majorityRequest("tx1")
	cr.Policy = policies.Explicit(1)
	cr.Signatures = map[string][]byte{"Org1MSP": sig("Org1MSP")}
	r, err := m.Create(context.Background(), cr)
	require.NoError(t, err)
	require.True(t, m.Evaluate(r).Ready)
}

func TestSubmitLeaderUnavailableThenRetry(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	readyRequest(t, h, m)

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal, [][]byte{sig("Org1MSP")}, mock.Anything).
		Return(&ledger.LeaderUnavailableError{Info: "no Raft leader"}).Once()
	_, err := m.Submit(ctx, "tx1", fakeSigner{msp: "Org1MSP"})
	require.True(t, ledger.IsRetryable(err))
	require.EqualError(t, err, "failed to submit approval request tx1: ordering service leader unavailable: no Raft leader")

	r, err := m.Get(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, Open, r.Status)
	require.Equal(t, 1, r.SignatureCount)
	require.True(t, r.NeedsAttention)

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal, [][]byte{sig("Org1MSP")}, mock.Anything).
		Return(nil).Once()
	r, err = m.Submit(ctx, "tx1", fakeSigner{msp: "Org1MSP"})
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	h.ledger.AssertNumberOfCalls(t, "SignConfigUpdate", 0)
}

func TestSubmitRejectedStaysOpen(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	readyRequest(t, h, m)

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal, mock.Anything, mock.Anything).
		Return(&ledger.RejectedError{Status: "FORBIDDEN", Info: "policy not satisfied"}).Once()
	_, err := m.Submit(ctx, "tx1", fakeSigner{msp: "Org1MSP"})
	var rejected *ledger.RejectedError
	require.ErrorAs(t, err, &rejected)

	r, err := m.Get(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, Open, r.Status)
}

func TestSubmitConflictCountsAsSuccess(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	readyRequest(t, h, m)

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal, mock.Anything, mock.Anything).
		Return(&ledger.ConflictError{Info: "update would have no effect"}).Once()
	r, err := m.Submit(ctx, "tx1", fakeSigner{msp: "Org1MSP"})
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	require.True(t, r.Submitted)
}

func TestSubmitNotReady(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	_, err = m.Submit(ctx, "tx1", fakeSigner{msp: "Org1MSP"})
	require.True(t, IsValidation(err))
	require.EqualError(t, err, "approval request tx1 is not ready: 0 of 3 signatures, 0 of 0 orderer signatures")
}

func TestOrderingOnlyChangeWaitsOnOrderer(t *testing.T) {
	h := newHarness(t)
	org1 := h.manager(consoleOf("Org1MSP"))
	orderer := h.manager(consoleOf("OrdererMSP"))
	ctx := context.Background()

	r, err := org1.Create(ctx, CreateRequest{
		TxID:          "tx1",
		Channel:       "mychannel",
		OriginatorMSP: "Org1MSP",
		Policy:        policies.Explicit(1),
		OrgMSPIDs:     []string{"Org1MSP", "Org2MSP"},
		OrdererMSPIDs: []string{"OrdererMSP"},
		Proposal:      proposal,
		Diff:          raftOnlyDiff(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, r.CurrentPolicy.NumberOfOrdererSignatures)
	require.False(t, r.NeedsAttention)

	r, err = orderer.Get(ctx, "tx1")
	require.NoError(t, err)
	require.True(t, r.NeedsAttention)

	h.expectSign("OrdererMSP").Once()
	r, err = orderer.Sign(ctx, "tx1", signers("OrdererMSP"), nil)
	require.NoError(t, err)
	require.Equal(t, 0, r.SignatureCount)
	require.Equal(t, 1, r.OrdererSignatureCount)
	require.True(t, orderer.Evaluate(r).Ready)

	h.ledger.On("SubmitConfigUpdate", mock.Anything, "mychannel", proposal, [][]byte{sig("OrdererMSP")}, mock.Anything).
		Return(nil).Once()
	r, err = orderer.Submit(ctx, "tx1", fakeSigner{msp: "OrdererMSP"})
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
}

func TestLegacyRecordReadsClosed(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()

	legacy := map[string]interface{}{
		"tx_id":          "legacy",
		"channel":        "mychannel",
		"status":         "open",
		"visibility":     "inbox",
		"current_policy": map[string]interface{}{"number_of_signatures": 1},
		"orgs2sign": []interface{}{
			map[string]interface{}{"msp_id": "Org1MSP", "optools_url": consoleOf("Org1MSP"), "admin": true},
		},
		"proposal":      "AAE=",
		"json_diff":     map[string]interface{}{"membership": map[string]interface{}{}},
		"timestamp":     epoch.UnixMilli(),
		"lastTimestamp": epoch.UnixMilli(),
	}
	body, err := json.Marshal(legacy)
	require.NoError(t, err)
	_, err = h.store.Write(ctx, &store.Doc{ID: "legacy", Type: DocType, Channel: "mychannel", Status: "open", Visibility: "inbox", Body: body})
	require.NoError(t, err)

	r, err := m.Get(ctx, "legacy")
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	require.False(t, r.NeedsAttention)

	open, err := m.List(ctx, Filter{Status: Open})
	require.NoError(t, err)
	require.Empty(t, open)

	_, err = m.Sign(ctx, "legacy", signers("Org1MSP"), nil)
	require.True(t, IsStale(err))
}

func TestInactivityWindow(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	h.clock.Increment(29 * 24 * time.Hour)
	r, err := m.Get(ctx, "tx1")
	require.NoError(t, err)
	require.True(t, r.NeedsAttention)

	h.clock.Increment(2 * 24 * time.Hour)
	r, err = m.Get(ctx, "tx1")
	require.NoError(t, err)
	require.False(t, r.NeedsAttention)
	require.Equal(t, Open, r.Status)
}

func TestCloseArchiveDeleteList(t *testing.T) {
	h := newHarness(t)
	m := h.manager(consoleOf("Org1MSP"))
	ctx := context.Background()

	for _, tx := range []string{"tx1", "tx2", "tx3"} {
		cr := majorityRequest(tx)
		if tx == "tx3" {
			cr.Channel = "otherchannel"
		}
		_, err := m.Create(ctx, cr)
		require.NoError(t, err)
	}

	r, err := m.Archive(ctx, "tx2")
	require.NoError(t, err)
	require.Equal(t, Archive, r.Visibility)
	require.False(t, r.NeedsAttention)
	_, err = m.Archive(ctx, "tx2")
	require.NoError(t, err)

	list, err := m.List(ctx, Filter{Channel: "mychannel"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = m.List(ctx, Filter{Visibility: Inbox})
	require.NoError(t, err)
	require.Equal(t, []string{"tx1", "tx3"}, txIDs(list))

	r, err = m.Close(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	require.False(t, r.Submitted)

	list, err = m.List(ctx, Filter{Status: Open})
	require.NoError(t, err)
	require.Equal(t, []string{"tx2", "tx3"}, txIDs(list))

	_, err = m.Close(ctx, "tx1")
	require.True(t, IsStale(err))

	r, err = m.Archive(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)
	require.Equal(t, Archive, r.Visibility)

	list, err = m.List(ctx, Filter{Visibility: Inbox})
	require.NoError(t, err)
	require.Equal(t, []string{"tx3"}, txIDs(list))

	require.NoError(t, m.Delete(ctx, "tx1"))
	_, err = m.Get(ctx, "tx1")
	require.True(t, store.IsNotFound(err))
	require.True(t, store.IsNotFound(m.Delete(ctx, "tx1")))

	types := h.events.types()
	require.Equal(t, notify.Deleted, types[len(types)-1])
}

func txIDs(requests []*Request) []string {
	var ids []string
	for _, r := range requests {
		ids = append(ids, r.TxID)
	}
	return ids
}

// racingStore lets another console write first the first time an existing
// document is updated.
type racingStore struct {
	store.Store
	race  func()
	raced bool
}

func (s *racingStore) Write(ctx context.Context, doc *store.Doc) (*store.Doc, error) {
	if doc.Rev != "" && !s.raced {
		s.raced = true
		s.race()
	}
	return s.Store.Write(ctx, doc)
}

func TestSignRetriesOnConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	org2 := h.manager(consoleOf("Org2MSP"))
	racing := &racingStore{Store: h.store}
	racing.race = func() {
		h.expectSign("Org2MSP").Once()
		_, err := org2.Sign(ctx, "tx1", signers("Org2MSP"), nil)
		require.NoError(t, err)
	}
	org1 := h.managerWithStore(consoleOf("Org1MSP"), racing)

	_, err := org1.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	h.expectSign("Org1MSP").Once()
	r, err := org1.Sign(ctx, "tx1", signers("Org1MSP"), nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.SignatureCount)
	require.True(t, racing.raced)
}

type conflictingStore struct {
	store.Store
}

func (s *conflictingStore) Write(ctx context.Context, doc *store.Doc) (*store.Doc, error) {
	if doc.Rev != "" {
		return nil, store.ErrConflict
	}
	return s.Store.Write(ctx, doc)
}

func TestSignGivesUpAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	m := NewManager(Config{ConsoleURL: consoleOf("Org1MSP"), MaxRetries: 2}, &conflictingStore{Store: h.store}, h.ledger, h.dir, h.events, h.clock, nil)
	ctx := context.Background()
	_, err := m.Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	h.expectSign("Org1MSP").Once()
	_, err = m.Sign(ctx, "tx1", signers("Org1MSP"), nil)
	require.True(t, store.IsConflict(err))
	require.EqualError(t, err, "approval request tx1 kept changing after 3 attempts: document update conflict")
}

func TestConcurrentSignersOnDifferentEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.manager(consoleOf("Org1MSP")).Create(ctx, majorityRequest("tx1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, msp := range allOrgs {
		h.expectSign(msp).Once()
		wg.Add(1)
		go func(msp string) {
			defer wg.Done()
			_, err := h.manager(consoleOf(msp)).Sign(ctx, "tx1", signers(msp), nil)
			assert.NoError(t, err)
		}(msp)
	}
	wg.Wait()

	r, err := h.manager(consoleOf("Org1MSP")).Get(ctx, "tx1")
	require.NoError(t, err)
	require.Equal(t, 4, r.SignatureCount)
}

func TestChaincodeDefinitionRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	org1 := h.manager(consoleOf("Org1MSP"))
	org2 := h.manager(consoleOf("Org2MSP"))
	ccd := &ledger.ChaincodeDefinition{ID: "marbles-1", Name: "marbles", Version: "1.0", Sequence: 1}

	for _, tx := range []string{"cc1", "cc2"} {
		r, err := org1.Create(ctx, CreateRequest{
			TxID:          tx,
			Channel:       "mychannel",
			OriginatorMSP: "Org1MSP",
			Policy:        policies.ImplicitMeta(cb.ImplicitMetaPolicy_MAJORITY),
			OrgMSPIDs:     []string{"Org1MSP", "Org2MSP"},
			CCD:           ccd,
		})
		require.NoError(t, err)
		require.Equal(t, Open, r.Status)
		require.Equal(t, 2, r.CurrentPolicy.NumberOfSignatures)
	}
	require.Equal(t, []string{"peer0.org1.example.com:7051"}, org1.peers["cc1"]["Org1MSP"])

	h.ledger.On("ApproveChaincodeDefinition", mock.Anything, "mychannel", mock.Anything, []string{"peer0.org1.example.com:7051"}, mock.Anything).
		Return(nil).Once()
	r, err := org1.Sign(ctx, "cc1", signers("Org1MSP"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("id-Org1MSP"), r.Orgs2Sign[0].Signature)

	h.ledger.On("ApproveChaincodeDefinition", mock.Anything, "mychannel", mock.Anything, []string{"peer0.org2.example.com:7051"}, mock.Anything).
		Return(&ledger.ConflictError{Info: "unchanged content"}).Once()
	r, err = org2.Sign(ctx, "cc1", signers("Org2MSP"), nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.SignatureCount)

	h.ledger.On("CommitChaincodeDefinition", mock.Anything, "mychannel", mock.Anything,
		[]string{"peer0.org1.example.com:7051", "peer0.org2.example.com:7051"}, mock.Anything).Return(nil).Once()
	r, err = org1.Submit(ctx, "cc1", fakeSigner{msp: "Org1MSP"})
	require.NoError(t, err)
	require.Equal(t, Closed, r.Status)

	_, err = org1.Get(ctx, "cc2")
	require.True(t, store.IsNotFound(err))

	require.NoError(t, org1.Delete(ctx, "cc1"))
	require.NotContains(t, org1.peers, "cc1")
	require.NotContains(t, org1.peers, "cc2")
}

func TestChaincodeApprovalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	org1 := h.manager(consoleOf("Org1MSP"))
	_, err := org1.Create(ctx, CreateRequest{
		TxID:      "cc1",
		Channel:   "mychannel",
		OrgMSPIDs: []string{"Org1MSP"},
		CCD:       &ledger.ChaincodeDefinition{ID: "marbles-1", Name: "marbles"},
	})
	require.NoError(t, err)

	h.ledger.On("ApproveChaincodeDefinition", mock.Anything, "mychannel", mock.Anything, mock.Anything, mock.Anything).
		Return(&ledger.RejectedError{Status: "ENDORSEMENT_FAILURE", Info: "peer0: chaincode not installed"}).Once()
	_, err = org1.Sign(ctx, "cc1", signers("Org1MSP"), nil)
	var rejected *ledger.RejectedError
	require.ErrorAs(t, err, &rejected)

	r, err := org1.Get(ctx, "cc1")
	require.NoError(t, err)
	require.Equal(t, 0, r.SignatureCount)
}
