/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperledger/fabric-console/common/policies"
	"github.com/hyperledger/fabric-console/internal/configdiff"
	"github.com/hyperledger/fabric-console/internal/ledger/fabric"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	diffErrorMessage   = "Config Diff Error: "
	quorumErrorMessage = "Quorum Error: "
	updateErrorMessage = "Config Update Error: "
)

var (
	app = kingpin.New("configdiff", "Channel configuration diff utility")

	diff        = app.Command("diff", "Categorize the differences between two channel configuration snapshots.")
	currentPath = diff.Arg("current", "Current snapshot JSON file.").Required().String()
	updatedPath = diff.Arg("updated", "Updated snapshot JSON file.").Required().String()

	quorum      = app.Command("quorum", "Compute the approvals a channel policy requires.")
	policyExpr  = quorum.Arg("policy", "Policy such as 'MAJORITY Admins' or \"OutOf(2, 'Org1.admin', 'Org2.admin')\".").Required().String()
	quorumTotal = quorum.Flag("total", "Number of eligible organizations.").Short('t').Default("1").Int()

	update        = app.Command("update", "Compute the config update between two channel configs in configtxlator JSON form.")
	updateChannel = update.Arg("channel", "Channel name.").Required().String()
	updateCurrent = update.Arg("current", "Current config JSON file.").Required().String()
	updateUpdated = update.Arg("updated", "Updated config JSON file.").Required().String()
	updateOutput  = update.Flag("output", "File receiving the marshaled ConfigUpdate.").Short('o').Required().String()

	decode     = app.Command("decode", "Print a marshaled ConfigUpdate as JSON.")
	decodePath = decode.Arg("update", "Marshaled ConfigUpdate file.").Required().String()

	args = os.Args[1:]
)

func main() {
	kingpin.Version("0.0.1")

	command, err := app.Parse(args)
	if err != nil {
		kingpin.Fatalf("parsing arguments: %s. Try --help", err)
		return
	}

	switch command {
	case diff.FullCommand():
		if err := runDiff(os.Stdout, *currentPath, *updatedPath); err != nil {
			fmt.Printf("%s%s\n", diffErrorMessage, err)
			os.Exit(1)
		}

	case quorum.FullCommand():
		if err := runQuorum(os.Stdout, *policyExpr, *quorumTotal); err != nil {
			fmt.Printf("%s%s\n", quorumErrorMessage, err)
			os.Exit(1)
		}

	case update.FullCommand():
		if err := runUpdate(*updateChannel, *updateCurrent, *updateUpdated, *updateOutput); err != nil {
			fmt.Printf("%s%s\n", updateErrorMessage, err)
			os.Exit(1)
		}
		fmt.Printf("Config update written to %s\n", *updateOutput)

	case decode.FullCommand():
		if err := runDecode(os.Stdout, *decodePath); err != nil {
			fmt.Printf("%s%s\n", updateErrorMessage, err)
			os.Exit(1)
		}
	}
}

func readSnapshot(path string) (configdiff.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read snapshot")
	}
	var s configdiff.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not decode snapshot %s", path)
	}
	return s, nil
}

func runDiff(w io.Writer, current, updated string) error {
	cs, err := readSnapshot(current)
	if err != nil {
		return err
	}
	us, err := readSnapshot(updated)
	if err != nil {
		return err
	}

	d, err := configdiff.Compute(cs, us)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

type quorumResult struct {
	Label    string `json:"label"`
	Required int    `json:"required"`
	Total    int    `json:"total"`
}

func parsePolicy(expr string) (*policies.Descriptor, error) {
	expr = strings.TrimSpace(expr)
	for _, rule := range []string{"ANY ", "ALL ", "MAJORITY "} {
		if strings.HasPrefix(expr, rule) {
			imp, err := policies.ImplicitMetaFromString(expr)
			if err != nil {
				return nil, err
			}
			return policies.DescriptorFromImplicitMeta(imp), nil
		}
	}
	env, err := policies.SignaturePolicyFromString(expr)
	if err != nil {
		return nil, err
	}
	return policies.DescriptorFromSignaturePolicy(env), nil
}

func runQuorum(w io.Writer, expr string, total int) error {
	if total < 1 {
		return errors.Errorf("total must be at least 1, got %d", total)
	}
	p, err := parsePolicy(expr)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(quorumResult{
		Label:    policies.Describe(p),
		Required: policies.RequiredApprovals(p, total),
		Total:    total,
	})
}

func runUpdate(channel, current, updated, output string) error {
	currentJSON, err := os.ReadFile(current)
	if err != nil {
		return errors.Wrap(err, "could not read current config")
	}
	updatedJSON, err := os.ReadFile(updated)
	if err != nil {
		return errors.Wrap(err, "could not read updated config")
	}
	payload, err := fabric.ComputeUpdate(channel, currentJSON, updatedJSON)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(output, payload, 0o644), "could not write config update")
}

func runDecode(w io.Writer, path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "could not read config update")
	}
	out, err := fabric.DecodeUpdate(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
