/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package approval

import "github.com/hyperledger/fabric-lib-go/common/metrics"

var (
	createdOpts = metrics.CounterOpts{
		Namespace:    "console",
		Subsystem:    "approval",
		Name:         "requests_created",
		Help:         "The number of approval requests created.",
		LabelNames:   []string{"channel"},
		StatsdFormat: "%{#fqname}.%{channel}",
	}
	signaturesOpts = metrics.CounterOpts{
		Namespace:    "console",
		Subsystem:    "approval",
		Name:         "signatures_applied",
		Help:         "The number of signatures written to approval requests.",
		LabelNames:   []string{"channel"},
		StatsdFormat: "%{#fqname}.%{channel}",
	}
	submissionsOpts = metrics.CounterOpts{
		Namespace:    "console",
		Subsystem:    "approval",
		Name:         "submissions",
		Help:         "The number of approval request submissions by outcome.",
		LabelNames:   []string{"channel", "outcome"},
		StatsdFormat: "%{#fqname}.%{channel}.%{outcome}",
	}
	casRetriesOpts = metrics.CounterOpts{
		Namespace: "console",
		Subsystem: "approval",
		Name:      "cas_retries",
		Help:      "The number of approval request writes retried after a revision conflict.",
	}
)

type Metrics struct {
	Created     metrics.Counter
	Signatures  metrics.Counter
	Submissions metrics.Counter
	CASRetries  metrics.Counter
}

func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		Created:     p.NewCounter(createdOpts),
		Signatures:  p.NewCounter(signaturesOpts),
		Submissions: p.NewCounter(submissionsOpts),
		CASRetries:  p.NewCounter(casRetriesOpts),
	}
}
