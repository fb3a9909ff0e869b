/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proposal

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperledger/fabric-console/internal/approval"
	"github.com/hyperledger/fabric-console/internal/configdiff"
)

// Fixed ranges for the orderer parameters a proposal may set.
const (
	MinMessageCount = 1
	MaxMessageCount = 5000

	MinBlockBytes = 1
	MaxBlockBytes = 100 * 1024 * 1024

	MinBatchTimeout = time.Millisecond
	MaxBatchTimeout = 5 * time.Minute

	MinTickInterval = time.Millisecond
	MaxTickInterval = 5 * time.Minute

	MinSnapshotIntervalSize = 1
	MaxSnapshotIntervalSize = 100 * 1024 * 1024
)

type violations []string

func (v *violations) add(format string, args ...interface{}) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

func (v *violations) uintRange(name string, val *uint64, min, max uint64) {
	if val != nil && (*val < min || *val > max) {
		v.add("%s %d is out of range [%d, %d]", name, *val, min, max)
	}
}

func (v *violations) durationRange(name string, val *time.Duration, min, max time.Duration) {
	if val != nil && (*val < min || *val > max) {
		v.add("%s %s is out of range [%s, %s]", name, *val, min, max)
	}
}

// ValidateBounds checks the block cutting and raft parameters of an updated
// snapshot. Parameters the snapshot does not set are not checked.
func ValidateBounds(s configdiff.Snapshot) error {
	block, err := s.BlockParams()
	if err != nil {
		return &approval.ValidationError{Msg: err.Error()}
	}
	raft, err := s.RaftParams()
	if err != nil {
		return &approval.ValidationError{Msg: err.Error()}
	}

	var v violations
	v.uintRange("max_message_count", block.MaxMessageCount, MinMessageCount, MaxMessageCount)
	v.uintRange("absolute_max_bytes", block.AbsoluteMaxBytes, MinBlockBytes, MaxBlockBytes)
	maxPreferred := uint64(MaxBlockBytes)
	if block.AbsoluteMaxBytes != nil && *block.AbsoluteMaxBytes < maxPreferred {
		maxPreferred = *block.AbsoluteMaxBytes
	}
	v.uintRange("preferred_max_bytes", block.PreferredMaxBytes, MinBlockBytes, maxPreferred)
	v.durationRange("timeout", block.Timeout, MinBatchTimeout, MaxBatchTimeout)

	v.durationRange("tick_interval", raft.TickInterval, MinTickInterval, MaxTickInterval)
	v.uintRange("snapshot_interval_size", raft.SnapshotIntervalSize, MinSnapshotIntervalSize, MaxSnapshotIntervalSize)
	if raft.MaxInflightBlocks != nil && *raft.MaxInflightBlocks < 1 {
		v.add("max_inflight_blocks must be at least 1")
	}
	if raft.HeartbeatTick != nil && *raft.HeartbeatTick < 1 {
		v.add("heartbeat_tick must be at least 1")
	}
	if raft.ElectionTick != nil && raft.HeartbeatTick != nil && *raft.ElectionTick <= *raft.HeartbeatTick {
		v.add("election_tick %d must be greater than heartbeat_tick %d", *raft.ElectionTick, *raft.HeartbeatTick)
	}

	if len(v) > 0 {
		return &approval.ValidationError{Msg: "invalid orderer parameters: " + strings.Join(v, "; ")}
	}
	return nil
}
