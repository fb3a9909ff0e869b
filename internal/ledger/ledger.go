/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledger defines the boundary between the console and the Fabric
// network it administers.
package ledger

import (
	"context"

	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/pkg/errors"
)

//go:generate mockery --name Client --output mocks --case underscore

// Client signs and submits channel configuration updates and chaincode
// definitions on behalf of a local admin identity.
type Client interface {
	// SignConfigUpdate returns the serialized ConfigSignature over a
	// marshaled ConfigUpdate.
	SignConfigUpdate(ctx context.Context, payload []byte, signer identity.MSPSigner) ([]byte, error)
	// SubmitConfigUpdate wraps the update and the collected signatures in a
	// signed envelope and broadcasts it to the ordering service.
	SubmitConfigUpdate(ctx context.Context, channel string, payload []byte, signatures [][]byte, signer identity.MSPSigner) error
	// ApproveChaincodeDefinition approves a chaincode definition for the
	// signer's organization, endorsed by the given peers.
	ApproveChaincodeDefinition(ctx context.Context, channel string, ccd *ChaincodeDefinition, peers []string, signer identity.MSPSigner) error
	// CommitChaincodeDefinition commits an approved chaincode definition.
	CommitChaincodeDefinition(ctx context.Context, channel string, ccd *ChaincodeDefinition, peers []string, signer identity.MSPSigner) error
}

// ChaincodeDefinition is the subset of a _lifecycle chaincode definition
// the console collects approvals for.
type ChaincodeDefinition struct {
	ID                string `json:"id"`
	Name              string `json:"chaincode_id"`
	Version           string `json:"chaincode_version"`
	Sequence          int64  `json:"chaincode_sequence"`
	PackageID         string `json:"package_id,omitempty"`
	InitRequired      bool   `json:"init_required,omitempty"`
	EndorsementPolicy string `json:"endorsement_policy,omitempty"`
	EndorsementPlugin string `json:"endorsement_plugin,omitempty"`
	ValidationPlugin  string `json:"validation_plugin,omitempty"`
}

// SigningError reports a failure of the cryptographic signing capability.
// The request being signed is left untouched.
type SigningError struct {
	MSPID string
	Err   error
}

func (e *SigningError) Error() string {
	return "failed to sign for " + e.MSPID + ": " + e.Err.Error()
}

func (e *SigningError) Unwrap() error { return e.Err }

// LeaderUnavailableError reports that the ordering service could not
// accept the submission right now.
type LeaderUnavailableError struct {
	Info string
}

func (e *LeaderUnavailableError) Error() string {
	if e.Info == "" {
		return "ordering service leader unavailable"
	}
	return "ordering service leader unavailable: " + e.Info
}

// RejectedError reports a hard rejection by the network.
type RejectedError struct {
	Status string
	Info   string
}

func (e *RejectedError) Error() string {
	return "submission rejected with status " + e.Status + ": " + e.Info
}

// ConflictError reports that an equivalent change is already in effect.
// Callers treat it as success.
type ConflictError struct {
	Info string
}

func (e *ConflictError) Error() string {
	return "change already applied: " + e.Info
}

// IsRetryable reports whether err may succeed if the same submission is
// attempted again later.
func IsRetryable(err error) bool {
	var leader *LeaderUnavailableError
	var signing *SigningError
	return errors.As(err, &leader) || errors.As(err, &signing)
}

// IsConflict reports whether err signals an already applied change.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
