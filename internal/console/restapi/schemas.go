/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package restapi

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const policySchema = `{
	"type": "object",
	"properties": {
		"type": {"type": "integer", "minimum": 0},
		"n":    {"type": "integer", "minimum": 0},
		"rule": {"type": "string", "enum": ["ANY", "ALL", "MAJORITY"]}
	},
	"required": ["type"]
}`

const mspListSchema = `{"type": "array", "items": {"type": "string", "minLength": 1}}`

var proposeSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"tx_id":          {"type": "string"},
		"channel":        {"type": "string", "minLength": 1},
		"originator_msp": {"type": "string", "minLength": 1},
		"current_policy": ` + policySchema + `,
		"orderer_policy": ` + policySchema + `,
		"orgs":           ` + mspListSchema + `,
		"orderers":       ` + mspListSchema + `,
		"observers":      ` + mspListSchema + `,
		"current":        {"type": "object"},
		"updated":        {"type": "object"},
		"proposal":       {"type": "string", "minLength": 1},
		"ccd": {
			"type": "object",
			"properties": {
				"chaincode_id":       {"type": "string", "minLength": 1},
				"chaincode_version":  {"type": "string"},
				"chaincode_sequence": {"type": "integer", "minimum": 1}
			},
			"required": ["chaincode_id"]
		}
	},
	"required": ["channel", "originator_msp", "orgs"],
	"oneOf": [
		{"required": ["proposal"]},
		{"required": ["ccd"]}
	]
}`)

var signSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"msp_ids": ` + mspListSchema + `
	}
}`)

var submitSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"msp_id": {"type": "string"}
	}
}`)

var configDiffSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"current": {"type": "object"},
		"updated": {"type": "object"}
	},
	"required": ["current", "updated"]
}`)

func mustSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(err)
	}
	return s
}

// validate checks body against schema. An empty body is validated as an
// empty object.
func validate(schema *gojsonschema.Schema, body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	if result.Valid() {
		return nil
	}
	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.Errorf("invalid request body: %s", strings.Join(msgs, "; "))
}
