/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package configdiff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-version"
	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/common/viperutil"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// BlockParams are the block cutting parameters of the orderer section.
type BlockParams struct {
	AbsoluteMaxBytes  *uint64        `mapstructure:"absolute_max_bytes"`
	MaxMessageCount   *uint64        `mapstructure:"max_message_count"`
	PreferredMaxBytes *uint64        `mapstructure:"preferred_max_bytes"`
	Timeout           *time.Duration `mapstructure:"timeout"`
}

// RaftParams are the etcdraft tuning options.
type RaftParams struct {
	TickInterval         *time.Duration `mapstructure:"tick_interval"`
	ElectionTick         *uint64        `mapstructure:"election_tick"`
	HeartbeatTick        *uint64        `mapstructure:"heartbeat_tick"`
	MaxInflightBlocks    *uint64        `mapstructure:"max_inflight_blocks"`
	SnapshotIntervalSize *uint64        `mapstructure:"snapshot_interval_size"`
}

// Consenter is one member of the consenter set.
type Consenter struct {
	Host          string `mapstructure:"host"`
	Port          uint32 `mapstructure:"port"`
	ClientTLSCert string `mapstructure:"client_tls_cert"`
	ServerTLSCert string `mapstructure:"server_tls_cert"`
	MSPID         string `mapstructure:"msp_id"`
}

// Key identifies the consenter endpoint.
func (c Consenter) Key() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MSPDefinition holds the identity material of one organization.
type MSPDefinition struct {
	RootCerts                     []string      `mapstructure:"root_certs" json:"root_certs,omitempty"`
	IntermediateCerts             []string      `mapstructure:"intermediate_certs" json:"intermediate_certs,omitempty"`
	Admins                        []string      `mapstructure:"admins" json:"admins,omitempty"`
	TLSRootCerts                  []string      `mapstructure:"tls_root_certs" json:"tls_root_certs,omitempty"`
	TLSIntermediateCerts          []string      `mapstructure:"tls_intermediate_certs" json:"tls_intermediate_certs,omitempty"`
	OrganizationalUnitIdentifiers []interface{} `mapstructure:"organizational_unit_identifiers" json:"organizational_unit_identifiers,omitempty"`
	RevocationList                []string      `mapstructure:"revocation_list" json:"revocation_list,omitempty"`
}

func decode(section interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			viperutil.UnsignedDecodeHook,
			viperutil.MillisecondsDecodeHook,
			viperutil.ByteSizeDecodeHook,
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(section)
}

func section(s Snapshot, key string, out interface{}) error {
	raw, ok := s[key]
	if !ok || raw == nil {
		return nil
	}
	return errors.Wrapf(decode(raw, out), "could not decode %s", key)
}

// structToCanonical flattens a struct of optional fields into a map keyed by
// the mapstructure tag. Durations become milliseconds.
func structToCanonical(v interface{}) map[string]interface{} {
	result := map[string]interface{}{}
	rv := reflect.ValueOf(v).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rv.Field(i)
		if f.IsNil() {
			continue
		}
		key := rt.Field(i).Tag.Get("mapstructure")
		switch val := f.Elem().Interface().(type) {
		case time.Duration:
			result[key] = val.Milliseconds()
		default:
			result[key] = val
		}
	}
	return result
}

func keySet(m map[string]interface{}) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for k := range m {
		s.Add(k)
	}
	return s
}

// diffMaps compares two canonical maps by key set and value equality.
func diffMaps(current, updated map[string]interface{}) *Change {
	change := &Change{}
	oldKeys, newKeys := keySet(current), keySet(updated)

	for _, k := range newKeys.Difference(oldKeys).ToSlice() {
		if change.Added == nil {
			change.Added = map[string]interface{}{}
		}
		change.Added[k] = updated[k]
	}
	for _, k := range oldKeys.Difference(newKeys).ToSlice() {
		if change.Removed == nil {
			change.Removed = map[string]interface{}{}
		}
		change.Removed[k] = current[k]
	}
	for _, k := range oldKeys.Intersect(newKeys).ToSlice() {
		if reflect.DeepEqual(current[k], updated[k]) {
			continue
		}
		if change.Updated == nil {
			change.Updated = map[string]interface{}{}
		}
		change.Updated[k] = updated[k]
	}
	return change
}

func stringSet(values []string) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, v := range values {
		s.Add(strings.TrimSpace(v))
	}
	return s
}

func sortedSlice(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}

func diffMembership(current, updated Snapshot) (*Change, error) {
	perms := func(s Snapshot) (map[string]interface{}, error) {
		roles := map[string]mapset.Set[string]{}
		for _, key := range []string{KeyAdmins, KeyReaders, KeyWriters} {
			var ids []string
			if err := section(s, key, &ids); err != nil {
				return nil, err
			}
			roles[key] = stringSet(ids)
		}

		all := roles[KeyAdmins].Union(roles[KeyReaders]).Union(roles[KeyWriters])
		result := map[string]interface{}{}
		for _, id := range all.ToSlice() {
			perm := ""
			if roles[KeyAdmins].Contains(id) {
				perm += "a"
			}
			if roles[KeyReaders].Contains(id) {
				perm += "r"
			}
			if roles[KeyWriters].Contains(id) {
				perm += "w"
			}
			result[id] = perm
		}
		return result, nil
	}

	oldPerms, err := perms(current)
	if err != nil {
		return nil, err
	}
	newPerms, err := perms(updated)
	if err != nil {
		return nil, err
	}
	return diffMaps(oldPerms, newPerms), nil
}

func diffStringMap(key string) func(current, updated Snapshot) (*Change, error) {
	return func(current, updated Snapshot) (*Change, error) {
		var oldMap, newMap map[string]string
		if err := section(current, key, &oldMap); err != nil {
			return nil, err
		}
		if err := section(updated, key, &newMap); err != nil {
			return nil, err
		}
		return diffMaps(toInterfaceMap(oldMap), toInterfaceMap(newMap)), nil
	}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// BlockParams decodes the block cutting parameters of s. Fields absent from
// the snapshot are nil.
func (s Snapshot) BlockParams() (*BlockParams, error) {
	params := &BlockParams{}
	if err := section(s, KeyBlockParams, params); err != nil {
		return nil, err
	}
	return params, nil
}

// RaftParams decodes the etcdraft options of s.
func (s Snapshot) RaftParams() (*RaftParams, error) {
	params := &RaftParams{}
	if err := section(s, KeyRaftParams, params); err != nil {
		return nil, err
	}
	return params, nil
}

func diffBlockParams(current, updated Snapshot) (*Change, error) {
	var oldParams, newParams BlockParams
	if err := section(current, KeyBlockParams, &oldParams); err != nil {
		return nil, err
	}
	if err := section(updated, KeyBlockParams, &newParams); err != nil {
		return nil, err
	}
	return diffMaps(structToCanonical(&oldParams), structToCanonical(&newParams)), nil
}

func diffRaftParams(current, updated Snapshot) (*Change, error) {
	var oldParams, newParams RaftParams
	if err := section(current, KeyRaftParams, &oldParams); err != nil {
		return nil, err
	}
	if err := section(updated, KeyRaftParams, &newParams); err != nil {
		return nil, err
	}
	return diffMaps(structToCanonical(&oldParams), structToCanonical(&newParams)), nil
}

// CanonicalCapability coerces a capability token such as "V2_0" or "v1_4_3"
// into a semantic version string. Tokens that are not versions are returned
// unchanged.
func CanonicalCapability(token string) string {
	raw := strings.TrimSpace(token)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "V"), "v")
	raw = strings.ReplaceAll(raw, "_", ".")
	v, err := version.NewVersion(raw)
	if err != nil {
		return token
	}
	return v.String()
}

func diffCapabilities(current, updated Snapshot) (*Change, error) {
	canonical := func(s Snapshot) (map[string]interface{}, error) {
		var caps map[string]string
		if err := section(s, KeyCapabilities, &caps); err != nil {
			return nil, err
		}
		result := map[string]interface{}{}
		for k, v := range caps {
			if v == "" {
				continue
			}
			result[k] = CanonicalCapability(v)
		}
		return result, nil
	}

	oldCaps, err := canonical(current)
	if err != nil {
		return nil, err
	}
	newCaps, err := canonical(updated)
	if err != nil {
		return nil, err
	}
	return diffMaps(oldCaps, newCaps), nil
}

func diffConsenters(current, updated Snapshot) (*Change, error) {
	keyed := func(s Snapshot) (map[string]interface{}, error) {
		var consenters []Consenter
		if err := section(s, KeyConsenters, &consenters); err != nil {
			return nil, err
		}
		result := map[string]interface{}{}
		for _, c := range consenters {
			result[c.Key()] = map[string]interface{}{
				"client_tls_cert": strings.TrimSpace(c.ClientTLSCert),
				"server_tls_cert": strings.TrimSpace(c.ServerTLSCert),
				"msp_id":          c.MSPID,
			}
		}
		return result, nil
	}

	oldSet, err := keyed(current)
	if err != nil {
		return nil, err
	}
	newSet, err := keyed(updated)
	if err != nil {
		return nil, err
	}
	return diffMaps(oldSet, newSet), nil
}

func ouSet(ous []interface{}) (mapset.Set[string], error) {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, ou := range ous {
		if str, ok := ou.(string); ok {
			s.Add(str)
			continue
		}
		b, err := json.Marshal(ou)
		if err != nil {
			return nil, errors.Wrap(err, "invalid organizational unit identifier")
		}
		s.Add(string(b))
	}
	return s, nil
}

func (m *MSPDefinition) sets() (map[string]mapset.Set[string], error) {
	ous, err := ouSet(m.OrganizationalUnitIdentifiers)
	if err != nil {
		return nil, err
	}
	return map[string]mapset.Set[string]{
		"root_certs":                      stringSet(m.RootCerts),
		"intermediate_certs":              stringSet(m.IntermediateCerts),
		"admins":                          stringSet(m.Admins),
		"tls_root_certs":                  stringSet(m.TLSRootCerts),
		"tls_intermediate_certs":          stringSet(m.TLSIntermediateCerts),
		"organizational_unit_identifiers": ous,
		"revocation_list":                 stringSet(m.RevocationList),
	}, nil
}

func diffMSPs(current, updated Snapshot) (*Change, error) {
	var oldMSPs, newMSPs map[string]*MSPDefinition
	if err := section(current, KeyMSPs, &oldMSPs); err != nil {
		return nil, err
	}
	if err := section(updated, KeyMSPs, &newMSPs); err != nil {
		return nil, err
	}

	change := &Change{}
	oldIDs := mapset.NewThreadUnsafeSet[string]()
	for id := range oldMSPs {
		oldIDs.Add(id)
	}
	newIDs := mapset.NewThreadUnsafeSet[string]()
	for id := range newMSPs {
		newIDs.Add(id)
	}

	for _, id := range newIDs.Difference(oldIDs).ToSlice() {
		if change.Added == nil {
			change.Added = map[string]interface{}{}
		}
		change.Added[id] = newMSPs[id]
	}
	for _, id := range oldIDs.Difference(newIDs).ToSlice() {
		if change.Removed == nil {
			change.Removed = map[string]interface{}{}
		}
		change.Removed[id] = oldMSPs[id]
	}
	for _, id := range oldIDs.Intersect(newIDs).ToSlice() {
		oldDef, newDef := oldMSPs[id], newMSPs[id]
		if oldDef == nil {
			oldDef = &MSPDefinition{}
		}
		if newDef == nil {
			newDef = &MSPDefinition{}
		}
		oldSets, err := oldDef.sets()
		if err != nil {
			return nil, errors.WithMessagef(err, "msp %s", id)
		}
		newSets, err := newDef.sets()
		if err != nil {
			return nil, errors.WithMessagef(err, "msp %s", id)
		}

		fields := map[string]interface{}{}
		for field, oldSet := range oldSets {
			if !oldSet.Equal(newSets[field]) {
				fields[field] = sortedSlice(newSets[field])
			}
		}
		if len(fields) == 0 {
			continue
		}
		if change.Updated == nil {
			change.Updated = map[string]interface{}{}
		}
		change.Updated[id] = fields
	}
	return change, nil
}

func diffPolicy(current, updated Snapshot) (*Change, error) {
	canonical := func(s Snapshot) (map[string]interface{}, error) {
		var d *policies.Descriptor
		if err := section(s, KeyPolicy, &d); err != nil {
			return nil, err
		}
		if d == nil {
			return map[string]interface{}{}, nil
		}
		result := map[string]interface{}{"type": d.Type}
		if d.N != 0 {
			result["n"] = d.N
		}
		if d.Rule != "" {
			result["rule"] = strings.ToUpper(d.Rule)
		}
		return result, nil
	}

	oldPolicy, err := canonical(current)
	if err != nil {
		return nil, err
	}
	newPolicy, err := canonical(updated)
	if err != nil {
		return nil, err
	}
	return diffMaps(oldPolicy, newPolicy), nil
}

func diffOrdererMSPs(current, updated Snapshot) (*Change, error) {
	membership := func(s Snapshot) (map[string]interface{}, error) {
		var ids []string
		if err := section(s, KeyOrdererMSPs, &ids); err != nil {
			return nil, err
		}
		result := map[string]interface{}{}
		for _, id := range ids {
			result[strings.TrimSpace(id)] = true
		}
		return result, nil
	}

	oldIDs, err := membership(current)
	if err != nil {
		return nil, err
	}
	newIDs, err := membership(updated)
	if err != nil {
		return nil, err
	}
	return diffMaps(oldIDs, newIDs), nil
}
