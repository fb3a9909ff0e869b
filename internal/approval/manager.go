/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package approval manages the lifecycle of multi-party signature
// collections for channel configuration updates and chaincode definitions.
//
// Every organization runs its own console. Consoles coordinate only through
// the shared request document, and each one writes only its own signer
// entries using revisioned compare-and-swap writes.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/notify"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("console.approval")

const (
	DefaultInactivityWindow = 30 * 24 * time.Hour
	DefaultMaxRetries       = 10
)

type Config struct {
	// ConsoleURL identifies this console in signer entries.
	ConsoleURL string
	// InactivityWindow after which an untouched request no longer needs
	// attention. Negative disables the window.
	InactivityWindow time.Duration
	// MaxRetries bounds compare-and-swap retries per mutation.
	MaxRetries int
}

// CreateRequest describes a new approval request. Members may be given
// directly or as msp ids resolved through the directory.
type CreateRequest struct {
	TxID          string
	Channel       string
	OriginatorMSP string

	Policy        *policies.Descriptor
	OrdererPolicy *policies.Descriptor

	Orgs           []membership.Member
	OrgMSPIDs      []string
	Orderers       []membership.Member
	OrdererMSPIDs  []string
	Observers      []membership.Member
	ObserverMSPIDs []string

	Proposal []byte
	CCD      *ledger.ChaincodeDefinition
	Diff     *configdiff.Diff

	// Signatures pre-signs the entries of the given msp ids.
	Signatures map[string][]byte
}

// Filter selects requests in List. Empty fields match anything.
type Filter struct {
	Channel    string
	Status     Status
	Visibility Visibility
}

type noopPublisher struct{}

func (noopPublisher) Publish(notify.Event) {}

type Manager struct {
	store      store.Store
	ledger     ledger.Client
	directory  membership.Directory
	publisher  notify.Publisher
	clock      clock.Clock
	metrics    *Metrics
	evaluator  Evaluator
	maxRetries int

	mutex sync.Mutex
	peers map[string]map[string][]string
}

func NewManager(
	config Config,
	st store.Store,
	lc ledger.Client,
	dir membership.Directory,
	pub notify.Publisher,
	clk clock.Clock,
	provider metrics.Provider,
) *Manager {
	if config.InactivityWindow == 0 {
		config.InactivityWindow = DefaultInactivityWindow
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	if provider == nil {
		provider = &disabled.Provider{}
	}
	return &Manager{
		store:      st,
		ledger:     lc,
		directory:  dir,
		publisher:  pub,
		clock:      clk,
		metrics:    NewMetrics(provider),
		evaluator:  Evaluator{ConsoleURL: config.ConsoleURL, InactivityWindow: config.InactivityWindow},
		maxRetries: config.MaxRetries,
		peers:      map[string]map[string][]string{},
	}
}

func (m *Manager) now() int64 {
	return m.clock.Now().UnixMilli()
}

func newTxID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate transaction id")
	}
	return hex.EncodeToString(b), nil
}

func (m *Manager) resolve(ctx context.Context, members []membership.Member, mspIDs []string) ([]membership.Member, error) {
	if len(mspIDs) == 0 {
		return members, nil
	}
	resolved, err := membership.Members(ctx, m.directory, mspIDs)
	if err != nil {
		if errors.Is(err, membership.ErrUnknownMember) {
			return nil, &ValidationError{Msg: err.Error()}
		}
		return nil, err
	}
	return append(append([]membership.Member(nil), members...), resolved...), nil
}

func newEntries(members []membership.Member, admin bool, signatures map[string][]byte, now int64) []*SignerEntry {
	entries := make([]*SignerEntry, 0, len(members))
	for _, mem := range members {
		e := &SignerEntry{
			MSPID:       mem.MSPID,
			ConsoleURL:  mem.ConsoleURL,
			Certificate: mem.AdminCertificate(),
			Admin:       admin,
			Timestamp:   now,
			Peers:       mem.Peers,
		}
		if admin {
			e.Signature = signatures[mem.MSPID]
		}
		entries = append(entries, e)
	}
	return entries
}

// Create persists a new request. Requests without a diff describe changes
// that are already agreed and are created closed.
func (m *Manager) Create(ctx context.Context, cr CreateRequest) (*Request, error) {
	if cr.Channel == "" {
		return nil, validationErrorf("channel is required")
	}
	if (len(cr.Proposal) == 0) == (cr.CCD == nil) {
		return nil, validationErrorf("exactly one of proposal and chaincode definition is required")
	}

	orgs, err := m.resolve(ctx, cr.Orgs, cr.OrgMSPIDs)
	if err != nil {
		return nil, err
	}
	orderers, err := m.resolve(ctx, cr.Orderers, cr.OrdererMSPIDs)
	if err != nil {
		return nil, err
	}
	observers, err := m.resolve(ctx, cr.Observers, cr.ObserverMSPIDs)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 && len(orderers) == 0 {
		return nil, validationErrorf("at least one signing organization is required")
	}

	txID := cr.TxID
	if txID == "" {
		if txID, err = newTxID(); err != nil {
			return nil, err
		}
	}

	now := m.now()
	r := &Request{
		TxID:          txID,
		Channel:       cr.Channel,
		OriginatorMSP: cr.OriginatorMSP,
		Status:        Closed,
		Visibility:    Inbox,
		Proposal:      cr.Proposal,
		CCD:           cr.CCD,
		Diff:          cr.Diff,
		Timestamp:     now,
		LastTimestamp: now,
		SchemaVersion: SchemaVersion,
	}
	if cr.Diff != nil || cr.CCD != nil {
		r.Status = Open
	}
	r.Orgs2Sign = append(newEntries(orgs, true, cr.Signatures, now), newEntries(observers, false, nil, now)...)
	r.Orderers2Sign = newEntries(orderers, true, cr.Signatures, now)

	r.CurrentPolicy.NumberOfSignatures = policies.RequiredApprovals(cr.Policy, distinctEligible(r.Orgs2Sign, r.voting))
	if len(r.Orderers2Sign) > 0 {
		r.CurrentPolicy.NumberOfOrdererSignatures = policies.RequiredApprovals(cr.OrdererPolicy, distinctEligible(r.Orderers2Sign, always))
	}

	ev := m.evaluator.Evaluate(r, m.clock.Now())
	if !ev.Satisfiable {
		return nil, validationErrorf("policy %s requires %d signatures but only %d organizations can sign",
			policies.Describe(cr.Policy), ev.RequiredSignatures, distinctEligible(r.Orgs2Sign, r.voting))
	}

	doc, err := encode(r)
	if err != nil {
		return nil, err
	}
	stored, err := m.store.Write(ctx, doc)
	if store.IsConflict(err) {
		return nil, validationErrorf("approval request %s already exists", txID)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to persist approval request %s", txID)
	}
	r.rev = stored.Rev

	if r.CCD != nil {
		m.rememberPeers(r)
	}
	m.metrics.Created.With("channel", r.Channel).Add(1)
	m.publish(notify.Created, r, cr.OriginatorMSP)
	logger.Infof("Created approval request %s on channel %s requiring %d signatures", txID, r.Channel, r.CurrentPolicy.NumberOfSignatures)

	return m.evaluated(r), nil
}

// Evaluate derives the state of r for this console.
func (m *Manager) Evaluate(r *Request) Evaluation {
	return m.evaluator.Evaluate(r, m.clock.Now())
}

func (m *Manager) evaluated(r *Request) *Request {
	m.Evaluate(r).Apply(r)
	return r
}

func (m *Manager) Get(ctx context.Context, txID string) (*Request, error) {
	doc, err := m.store.Get(ctx, txID)
	if err != nil {
		return nil, errors.WithMessagef(err, "approval request %s", txID)
	}
	r, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return m.evaluated(r), nil
}

func (m *Manager) List(ctx context.Context, f Filter) ([]*Request, error) {
	docs, err := m.store.Query(ctx, store.Query{
		Type:       DocType,
		Channel:    f.Channel,
		Visibility: string(f.Visibility),
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to query approval requests")
	}
	var requests []*Request
	for _, doc := range docs {
		r, err := decode(doc)
		if err != nil {
			logger.Warnf("Skipping unreadable approval request: %s", err)
			continue
		}
		if f.Status != "" && r.EffectiveStatus() != f.Status {
			continue
		}
		requests = append(requests, m.evaluated(r))
	}
	return requests, nil
}

func (m *Manager) load(ctx context.Context, txID string) (*Request, error) {
	doc, err := m.store.Get(ctx, txID)
	if store.IsNotFound(err) {
		return nil, &StaleRequestError{TxID: txID, Reason: "deleted"}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "approval request %s", txID)
	}
	return decode(doc)
}

func (m *Manager) loadOpen(ctx context.Context, txID string) (*Request, error) {
	r, err := m.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	if r.EffectiveStatus() != Open {
		return nil, &StaleRequestError{TxID: txID, Reason: "closed"}
	}
	return r, nil
}

// update applies mutate to the freshest revision of an open request and
// retries on revision conflicts. mutate reports whether it changed r.
func (m *Manager) update(ctx context.Context, txID string, mutate func(r *Request) (bool, error)) (*Request, error) {
	return m.modify(ctx, txID, m.loadOpen, mutate)
}

func (m *Manager) modify(ctx context.Context, txID string, load func(context.Context, string) (*Request, error), mutate func(r *Request) (bool, error)) (*Request, error) {
	for attempt := 0; ; attempt++ {
		r, err := load(ctx, txID)
		if err != nil {
			return nil, err
		}
		changed, err := mutate(r)
		if err != nil {
			return nil, err
		}
		if !changed {
			return r, nil
		}
		doc, err := encode(r)
		if err != nil {
			return nil, err
		}
		stored, err := m.store.Write(ctx, doc)
		if err == nil {
			r.rev = stored.Rev
			return r, nil
		}
		if !store.IsConflict(err) {
			return nil, errors.WithMessagef(err, "failed to persist approval request %s", txID)
		}
		if attempt >= m.maxRetries {
			return nil, errors.WithMessagef(err, "approval request %s kept changing after %d attempts", txID, attempt+1)
		}
		m.metrics.CASRetries.Add(1)
		logger.Debugf("Revision conflict writing approval request %s, retrying", txID)
	}
}

// Sign signs the pending entries of mspIDs with the matching identities and
// records the signatures. With no mspIDs every supplied identity signs.
// Entries that are already signed are left alone.
func (m *Manager) Sign(ctx context.Context, txID string, identities []identity.MSPSigner, mspIDs []string) (*Request, error) {
	r, err := m.loadOpen(ctx, txID)
	if err != nil {
		return nil, err
	}

	byMSP := map[string]identity.MSPSigner{}
	for _, id := range identities {
		byMSP[id.MSPID()] = id
	}
	if len(mspIDs) == 0 {
		for id := range byMSP {
			mspIDs = append(mspIDs, id)
		}
		sort.Strings(mspIDs)
	}
	if len(mspIDs) == 0 {
		return nil, validationErrorf("no signing identities supplied")
	}

	signatures := map[string][]byte{}
	for _, mspID := range mspIDs {
		signer, ok := byMSP[mspID]
		if !ok {
			return nil, validationErrorf("no local identity for %s", mspID)
		}
		pending, err := m.pendingEntries(r, mspID)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			continue
		}
		sig, err := m.sign(ctx, r, mspID, signer)
		if err != nil {
			return nil, err
		}
		signatures[mspID] = sig
	}

	if len(signatures) == 0 {
		return m.evaluated(r), nil
	}

	now := m.now()
	applied := 0
	updated, err := m.update(ctx, txID, func(r *Request) (bool, error) {
		applied = 0
		for _, e := range r.entries() {
			sig, ok := signatures[e.MSPID]
			if !ok || e.Signed() {
				continue
			}
			e.Signature = sig
			e.Timestamp = now
			applied++
		}
		if applied > 0 {
			r.touch(now)
		}
		return applied > 0, nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.Signatures.With("channel", updated.Channel).Add(float64(applied))
	signed := make([]string, 0, len(signatures))
	for mspID := range signatures {
		signed = append(signed, mspID)
	}
	sort.Strings(signed)
	for _, mspID := range signed {
		m.publish(notify.Signed, updated, mspID)
	}
	logger.Infof("Recorded %d signatures on approval request %s for %v", applied, txID, signed)

	return m.evaluated(updated), nil
}

func (m *Manager) pendingEntries(r *Request, mspID string) ([]*SignerEntry, error) {
	var found bool
	var pending []*SignerEntry
	for _, e := range r.entries() {
		if e.MSPID != mspID {
			continue
		}
		found = true
		if e.Signed() {
			continue
		}
		if e.ConsoleURL != "" && e.ConsoleURL != m.evaluator.ConsoleURL {
			return nil, validationErrorf("%s must sign approval request %s from %s", mspID, r.TxID, e.ConsoleURL)
		}
		pending = append(pending, e)
	}
	if !found {
		return nil, validationErrorf("%s is not a signer of approval request %s", mspID, r.TxID)
	}
	return pending, nil
}

func (m *Manager) sign(ctx context.Context, r *Request, mspID string, signer identity.MSPSigner) ([]byte, error) {
	if r.CCD == nil {
		sig, err := m.ledger.SignConfigUpdate(ctx, r.Proposal, signer)
		if err != nil {
			var signingErr *ledger.SigningError
			if errors.As(err, &signingErr) {
				return nil, err
			}
			return nil, &ledger.SigningError{MSPID: mspID, Err: err}
		}
		return sig, nil
	}

	err := m.ledger.ApproveChaincodeDefinition(ctx, r.Channel, r.CCD, m.entryPeers(r, mspID), signer)
	if err != nil && !ledger.IsConflict(err) {
		return nil, errors.WithMessagef(err, "failed to approve chaincode definition for %s", mspID)
	}
	// the approving identity stands in for a signature
	creator, err := signer.Serialize()
	if err != nil {
		return nil, &ledger.SigningError{MSPID: mspID, Err: err}
	}
	return creator, nil
}

// collectSignatures returns one signature per voting org followed by one
// per orderer org, without duplicates.
func collectSignatures(r *Request) [][]byte {
	var sigs [][]byte
	seen := map[string]bool{}
	add := func(entries []*SignerEntry, counts func(*SignerEntry) bool) {
		byMSP := map[string]bool{}
		for _, e := range entries {
			if !e.Signed() || !counts(e) || byMSP[e.MSPID] || seen[string(e.Signature)] {
				continue
			}
			byMSP[e.MSPID] = true
			seen[string(e.Signature)] = true
			sigs = append(sigs, e.Signature)
		}
	}
	add(r.Orgs2Sign, r.voting)
	add(r.Orderers2Sign, always)
	return sigs
}

func submitOutcome(err error) string {
	var leader *ledger.LeaderUnavailableError
	var rejected *ledger.RejectedError
	switch {
	case err == nil:
		return "success"
	case ledger.IsConflict(err):
		return "conflict"
	case errors.As(err, &leader):
		return "leader_unavailable"
	case errors.As(err, &rejected):
		return "rejected"
	default:
		return "error"
	}
}

// Submit sends a ready request to the network and closes it. A change the
// network reports as already applied counts as success. Any other failure
// leaves the request open with its signatures so it can be submitted again.
func (m *Manager) Submit(ctx context.Context, txID string, signer identity.MSPSigner) (*Request, error) {
	r, err := m.loadOpen(ctx, txID)
	if err != nil {
		return nil, err
	}
	ev := m.Evaluate(r)
	if !ev.Ready {
		return nil, validationErrorf("approval request %s is not ready: %d of %d signatures, %d of %d orderer signatures",
			txID, ev.SignatureCount, ev.RequiredSignatures, ev.OrdererSignatureCount, ev.RequiredOrdererSignatures)
	}

	if r.CCD != nil {
		err = m.ledger.CommitChaincodeDefinition(ctx, r.Channel, r.CCD, m.allPeers(r), signer)
	} else {
		err = m.ledger.SubmitConfigUpdate(ctx, r.Channel, r.Proposal, collectSignatures(r), signer)
	}
	outcome := submitOutcome(err)
	m.metrics.Submissions.With("channel", r.Channel, "outcome", outcome).Add(1)
	switch outcome {
	case "success":
	case "conflict":
		logger.Infof("Approval request %s was already applied: %s", txID, err)
	default:
		logger.Warnf("Submitting approval request %s failed: %s", txID, err)
		return nil, errors.WithMessagef(err, "failed to submit approval request %s", txID)
	}

	now := m.now()
	closed, err := m.update(ctx, txID, func(r *Request) (bool, error) {
		r.Status = Closed
		r.Submitted = true
		r.SubmittedAt = now
		r.touch(now)
		return true, nil
	})
	if IsStale(err) {
		// closed by another console while we were submitting
		return m.Get(ctx, txID)
	}
	if err != nil {
		return nil, err
	}

	m.publish(notify.Submitted, closed, signer.MSPID())
	m.publish(notify.Closed, closed, signer.MSPID())
	if closed.CCD != nil {
		m.deleteSuperseded(ctx, closed)
	}
	return m.evaluated(closed), nil
}

// deleteSuperseded removes other open requests for the same chaincode
// definition once one of them has been committed.
func (m *Manager) deleteSuperseded(ctx context.Context, r *Request) {
	if r.CCD.ID == "" {
		return
	}
	docs, err := m.store.Query(ctx, store.Query{Type: DocType, Channel: r.Channel, Status: string(Open)})
	if err != nil {
		logger.Warnf("Failed looking up duplicates of approval request %s: %s", r.TxID, err)
		return
	}
	for _, doc := range docs {
		other, err := decode(doc)
		if err != nil || other.TxID == r.TxID || other.CCD == nil || other.CCD.ID != r.CCD.ID {
			continue
		}
		if err := m.Delete(ctx, other.TxID); err != nil && !store.IsNotFound(err) {
			logger.Warnf("Failed deleting superseded approval request %s: %s", other.TxID, err)
			continue
		}
		logger.Infof("Deleted approval request %s superseded by %s", other.TxID, r.TxID)
	}
}

// Close closes an open request without submitting it.
func (m *Manager) Close(ctx context.Context, txID string) (*Request, error) {
	now := m.now()
	r, err := m.update(ctx, txID, func(r *Request) (bool, error) {
		r.Status = Closed
		r.touch(now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(notify.Closed, r, "")
	return m.evaluated(r), nil
}

// Archive moves a request out of the inbox, whether it is open or closed.
func (m *Manager) Archive(ctx context.Context, txID string) (*Request, error) {
	r, err := m.modify(ctx, txID, m.load, func(r *Request) (bool, error) {
		if r.Visibility == Archive {
			return false, nil
		}
		r.Visibility = Archive
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(notify.Archived, r, "")
	return m.evaluated(r), nil
}

// Delete removes a request in any state along with its cached peer
// bookkeeping.
func (m *Manager) Delete(ctx context.Context, txID string) error {
	var channel string
	if doc, err := m.store.Get(ctx, txID); err == nil {
		channel = doc.Channel
	}
	if err := m.store.Delete(ctx, txID); err != nil {
		return errors.WithMessagef(err, "approval request %s", txID)
	}
	m.forgetPeers(txID)
	m.publisher.Publish(notify.Event{
		Type:      notify.Deleted,
		TxID:      txID,
		Channel:   channel,
		Timestamp: m.clock.Now(),
	})
	logger.Infof("Deleted approval request %s", txID)
	return nil
}

func (m *Manager) publish(t notify.EventType, r *Request, mspID string) {
	m.publisher.Publish(notify.Event{
		Type:      t,
		TxID:      r.TxID,
		Channel:   r.Channel,
		MSPID:     mspID,
		Status:    string(r.EffectiveStatus()),
		Timestamp: m.clock.Now(),
	})
}

func (m *Manager) rememberPeers(r *Request) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	byMSP := map[string][]string{}
	for _, e := range r.entries() {
		if len(e.Peers) > 0 {
			byMSP[e.MSPID] = append(byMSP[e.MSPID], e.Peers...)
		}
	}
	m.peers[r.TxID] = byMSP
}

func (m *Manager) forgetPeers(txID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.peers, txID)
}

func (m *Manager) entryPeers(r *Request, mspID string) []string {
	var peers []string
	for _, e := range r.entries() {
		if e.MSPID == mspID {
			peers = append(peers, e.Peers...)
		}
	}
	if len(peers) > 0 {
		return peers
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.peers[r.TxID][mspID]
}

func (m *Manager) allPeers(r *Request) []string {
	seen := map[string]bool{}
	var peers []string
	for _, e := range r.entries() {
		for _, p := range m.entryPeers(r, e.MSPID) {
			if !seen[p] {
				seen[p] = true
				peers = append(peers, p)
			}
		}
	}
	return peers
}
