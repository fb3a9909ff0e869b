/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package identity

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-config/configtx"
	cb "github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
)

// Local is an MSP admin identity whose key material is held by the
// console process.
type Local struct {
	signer  configtx.SigningIdentity
	certPEM []byte
}

// NewLocal builds a Local identity from a PEM encoded certificate and a
// PEM encoded PKCS8 or SEC1 ECDSA private key.
func NewLocal(mspID string, certPEM, keyPEM []byte) (*Local, error) {
	if mspID == "" {
		return nil, errors.New("msp id is required")
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.Errorf("no certificate found for %s", mspID)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse certificate for %s", mspID)
	}

	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.Errorf("no private key found for %s", mspID)
	}
	var key interface{}
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, errors.Errorf("unexpected key type %q for %s", block.Type, mspID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse private key for %s", mspID)
	}

	return &Local{
		signer: configtx.SigningIdentity{
			Certificate: cert,
			PrivateKey:  key,
			MSPID:       mspID,
		},
		certPEM: certPEM,
	}, nil
}

// LoadLocal reads the certificate and key from disk.
func LoadLocal(mspID, certPath, keyPath string) (*Local, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read certificate for %s", mspID)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read private key for %s", mspID)
	}
	return NewLocal(mspID, certPEM, keyPEM)
}

func (l *Local) MSPID() string {
	return l.signer.MSPID
}

// Sign returns a low-S ECDSA signature over the SHA256 digest of msg.
func (l *Local) Sign(msg []byte) ([]byte, error) {
	return l.signer.Sign(rand.Reader, msg, nil)
}

// Serialize returns the protobuf encoding of an msp.SerializedIdentity.
func (l *Local) Serialize() ([]byte, error) {
	return proto.Marshal(&msp.SerializedIdentity{
		Mspid:   l.signer.MSPID,
		IdBytes: l.certPEM,
	})
}

// CreateConfigSignature signs a marshaled config update.
func (l *Local) CreateConfigSignature(marshaledUpdate []byte) (*cb.ConfigSignature, error) {
	return l.signer.CreateConfigSignature(marshaledUpdate)
}

// SignEnvelope sets the creator and signature of an envelope in place.
func (l *Local) SignEnvelope(env *cb.Envelope) error {
	return l.signer.SignEnvelope(env)
}
