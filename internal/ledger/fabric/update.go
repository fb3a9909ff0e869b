/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fabric

import (
	"bytes"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-config/protolator"
	"github.com/hyperledger/fabric-console/internal/ledger"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
)

// ComputeUpdate computes the marshaled ConfigUpdate turning current into
// updated. Both configs are in the protolator JSON form emitted by
// configtxlator. An update with no differences is a ConflictError.
func ComputeUpdate(channel string, currentJSON, updatedJSON []byte) ([]byte, error) {
	current := &cb.Config{}
	if err := protolator.DeepUnmarshalJSON(bytes.NewReader(currentJSON), current); err != nil {
		return nil, errors.Wrap(err, "malformed current config")
	}
	updated := &cb.Config{}
	if err := protolator.DeepUnmarshalJSON(bytes.NewReader(updatedJSON), updated); err != nil {
		return nil, errors.Wrap(err, "malformed updated config")
	}

	c := configtx.New(current)
	target := c.UpdatedConfig()
	target.Reset()
	proto.Merge(target, updated)

	update, err := c.ComputeMarshaledUpdate(channel)
	if err != nil {
		if strings.Contains(err.Error(), "no differences detected") {
			return nil, &ledger.ConflictError{Info: err.Error()}
		}
		return nil, err
	}
	return update, nil
}

// DecodeUpdate renders a marshaled ConfigUpdate as protolator JSON.
func DecodeUpdate(payload []byte) ([]byte, error) {
	update := &cb.ConfigUpdate{}
	if err := proto.Unmarshal(payload, update); err != nil {
		return nil, errors.Wrap(err, "malformed config update")
	}
	buf := &bytes.Buffer{}
	if err := protolator.DeepMarshalJSON(buf, update); err != nil {
		return nil, errors.Wrap(err, "failed to encode config update")
	}
	return buf.Bytes(), nil
}
