/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger/mocks"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/notify"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/stretchr/testify/mock"
)

var (
	proposal = []byte("marshaled config update")
	epoch    = time.Date(2020, time.March, 1, 12, 0, 0, 0, time.UTC)
)

type fakeSigner struct {
	msp string
}

func (f fakeSigner) Sign([]byte) ([]byte, error) { return []byte("sig-" + f.msp), nil }
func (f fakeSigner) Serialize() ([]byte, error)  { return []byte("id-" + f.msp), nil }
func (f fakeSigner) MSPID() string               { return f.msp }

func signers(msps ...string) []identity.MSPSigner {
	var ids []identity.MSPSigner
	for _, m := range msps {
		ids = append(ids, fakeSigner{msp: m})
	}
	return ids
}

func consoleOf(msp string) string {
	return "https://console." + msp + ".example.com"
}

func member(msp string, peers ...string) membership.Member {
	return membership.Member{
		MSPID:        msp,
		ConsoleURL:   consoleOf(msp),
		Certificates: []string{"cert-" + msp},
		Peers:        peers,
	}
}

func sig(msp string) []byte {
	return []byte("sig-" + msp)
}

type recorder struct {
	mutex  sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(evt notify.Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []notify.EventType {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var types []notify.EventType
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// membershipDiff is a diff with only a membership change, as Compute
// returns it.
func membershipDiff() *configdiff.Diff {
	return &configdiff.Diff{
		Membership: &configdiff.Change{Added: map[string]interface{}{"Org5MSP": "arw"}},
	}
}

func roundTrip(d *configdiff.Diff) *configdiff.Diff {
	b, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	out := &configdiff.Diff{}
	if err := json.Unmarshal(b, out); err != nil {
		panic(err)
	}
	return out
}

func raftOnlyDiff() *configdiff.Diff {
	return &configdiff.Diff{
		RaftParams: &configdiff.Change{Updated: map[string]interface{}{"tick_interval": int64(250)}},

		OnlyOrderingAuthoritySignatureRequired: true,
	}
}

type harness struct {
	t      *testing.T
	store  store.Store
	ledger *mocks.Client
	clock  *fakeclock.FakeClock
	events *recorder
	dir    membership.Static
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:      t,
		store:  store.NewMemStore(),
		ledger: mocks.NewClient(t),
		clock:  fakeclock.NewFakeClock(epoch),
		events: &recorder{},
		dir: membership.NewStatic(
			member("Org1MSP", "peer0.org1.example.com:7051"),
			member("Org2MSP", "peer0.org2.example.com:7051"),
			member("Org3MSP"),
			member("Org4MSP"),
			member("OrdererMSP"),
		),
	}
}

func (h *harness) manager(consoleURL string) *Manager {
	return h.managerWithStore(consoleURL, h.store)
}

func (h *harness) managerWithStore(consoleURL string, st store.Store) *Manager {
	return NewManager(Config{ConsoleURL: consoleURL}, st, h.ledger, h.dir, h.events, h.clock, nil)
}

func (h *harness) expectSign(msp string) *mock.Call {
	return h.ledger.On("SignConfigUpdate", mock.Anything, proposal, mock.MatchedBy(func(s identity.MSPSigner) bool {
		return s.MSPID() == msp
	})).Return(sig(msp), nil)
}
