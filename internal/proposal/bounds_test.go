/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proposal_test

import (
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/proposal"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("ValidateBounds",
	func(s configdiff.Snapshot, expected string) {
		err := proposal.ValidateBounds(s)
		if expected == "" {
			Expect(err).NotTo(HaveOccurred())
			return
		}
		Expect(err).To(MatchError(ContainSubstring(expected)))
	},
	Entry("empty snapshot", configdiff.Snapshot{}, ""),
	Entry("values at the limits", configdiff.Snapshot{
		"block_params": map[string]interface{}{
			"max_message_count":   5000,
			"absolute_max_bytes":  "100 MB",
			"preferred_max_bytes": "100 MB",
			"timeout":             "5m",
		},
		"raft_params": map[string]interface{}{
			"tick_interval":          "1ms",
			"snapshot_interval_size": 1,
			"max_inflight_blocks":    1,
		},
	}, ""),
	Entry("zero messages", configdiff.Snapshot{
		"block_params": map[string]interface{}{"max_message_count": 0},
	}, "max_message_count 0 is out of range"),
	Entry("oversized blocks", configdiff.Snapshot{
		"block_params": map[string]interface{}{"absolute_max_bytes": "101 MB"},
	}, "absolute_max_bytes 105906176 is out of range"),
	Entry("slow ticks", configdiff.Snapshot{
		"raft_params": map[string]interface{}{"tick_interval": "6m"},
	}, "tick_interval 6m0s is out of range"),
	Entry("no inflight blocks", configdiff.Snapshot{
		"raft_params": map[string]interface{}{"max_inflight_blocks": 0},
	}, "max_inflight_blocks must be at least 1"),
	Entry("negative inflight blocks", configdiff.Snapshot{
		"raft_params": map[string]interface{}{"max_inflight_blocks": float64(-1)},
	}, "value -1 must not be negative"),
	Entry("negative heartbeat", configdiff.Snapshot{
		"raft_params": map[string]interface{}{"election_tick": float64(10), "heartbeat_tick": float64(-1)},
	}, "value -1 must not be negative"),
	Entry("negative message count", configdiff.Snapshot{
		"block_params": map[string]interface{}{"max_message_count": float64(-5)},
	}, "value -5 must not be negative"),
	Entry("malformed section", configdiff.Snapshot{
		"block_params": "big",
	}, "could not decode block_params"),
)
