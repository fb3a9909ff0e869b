/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fabric

import (
	"context"
	"math/rand"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-console/internal/ledger"
	"github.com/hyperledger/fabric-console/internal/pkg/comm"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger = flogging.MustGetLogger("ledger.fabric")

// Fabric reports an already applied config update with this suffix.
const noEffectMarker = "update would have no effect"

// Endpoint is a gRPC address of an orderer or peer.
type Endpoint struct {
	Address            string
	ServerNameOverride string
}

type dialer interface {
	NewConnection(ctx context.Context, address string, serverNameOverride string) (*grpc.ClientConn, error)
}

// configSigner is implemented by identities able to produce Fabric config
// signatures, such as identity.Local.
type configSigner interface {
	CreateConfigSignature(marshaledUpdate []byte) (*cb.ConfigSignature, error)
	SignEnvelope(env *cb.Envelope) error
}

// Client talks to Fabric orderers and peers over gRPC.
type Client struct {
	dialer   dialer
	orderers []Endpoint
	peers    map[string]Endpoint
}

// NewClient creates a ledger client. Peers not listed in peerOverrides are
// dialled without a TLS server name override.
func NewClient(config comm.ClientConfig, orderers []Endpoint, peers []Endpoint) (*Client, error) {
	if len(orderers) == 0 {
		return nil, errors.New("at least one orderer endpoint is required")
	}
	if config.Logger == nil {
		config.Logger = logger.Zap()
	}
	gc, err := comm.NewGRPCClient(config)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create grpc client")
	}
	c := &Client{
		dialer:   gc,
		orderers: orderers,
		peers:    map[string]Endpoint{},
	}
	for _, p := range peers {
		c.peers[p.Address] = p
	}
	return c, nil
}

var _ ledger.Client = (*Client)(nil)

func asConfigSigner(signer identity.MSPSigner) (configSigner, error) {
	cs, ok := signer.(configSigner)
	if !ok {
		return nil, &ledger.SigningError{
			MSPID: signer.MSPID(),
			Err:   errors.Errorf("identity of type %T cannot sign configuration updates", signer),
		}
	}
	return cs, nil
}

func (c *Client) SignConfigUpdate(ctx context.Context, payload []byte, signer identity.MSPSigner) ([]byte, error) {
	cs, err := asConfigSigner(signer)
	if err != nil {
		return nil, err
	}
	sig, err := cs.CreateConfigSignature(payload)
	if err != nil {
		return nil, &ledger.SigningError{MSPID: signer.MSPID(), Err: err}
	}
	return proto.Marshal(sig)
}

func (c *Client) SubmitConfigUpdate(ctx context.Context, channel string, payload []byte, signatures [][]byte, signer identity.MSPSigner) error {
	update := &cb.ConfigUpdate{}
	if err := proto.Unmarshal(payload, update); err != nil {
		return errors.Wrap(err, "malformed config update")
	}
	if update.ChannelId != channel {
		return errors.Errorf("config update is for channel %s, not %s", update.ChannelId, channel)
	}

	configSigs := make([]*cb.ConfigSignature, 0, len(signatures))
	for i, raw := range signatures {
		cs := &cb.ConfigSignature{}
		if err := proto.Unmarshal(raw, cs); err != nil {
			return errors.Wrapf(err, "malformed config signature at index %d", i)
		}
		configSigs = append(configSigs, cs)
	}

	env, err := configtx.NewEnvelope(payload, configSigs...)
	if err != nil {
		return errors.WithMessage(err, "failed to create config update envelope")
	}

	cs, err := asConfigSigner(signer)
	if err != nil {
		return err
	}
	if err := cs.SignEnvelope(env); err != nil {
		return &ledger.SigningError{MSPID: signer.MSPID(), Err: err}
	}

	logger.Infof("Submitting config update for channel %s with %d signatures", channel, len(configSigs))
	return c.broadcast(ctx, env)
}

// broadcast sends env to the orderers in random order until one accepts
// it or returns a terminal error.
func (c *Client) broadcast(ctx context.Context, env *cb.Envelope) error {
	var lastErr error
	for _, i := range rand.Perm(len(c.orderers)) {
		endpoint := c.orderers[i]
		err := c.broadcastTo(ctx, endpoint, env)
		if err == nil {
			return nil
		}
		var leader *ledger.LeaderUnavailableError
		if !errors.As(err, &leader) || ctx.Err() != nil {
			return err
		}
		logger.Warnf("Orderer %s unavailable: %s", endpoint.Address, err)
		lastErr = err
	}
	return lastErr
}

func (c *Client) broadcastTo(ctx context.Context, endpoint Endpoint, env *cb.Envelope) error {
	conn, err := c.dialer.NewConnection(ctx, endpoint.Address, endpoint.ServerNameOverride)
	if err != nil {
		return &ledger.LeaderUnavailableError{Info: err.Error()}
	}
	defer conn.Close()

	stream, err := ab.NewAtomicBroadcastClient(conn).Broadcast(ctx)
	if err != nil {
		return translateRPCError(err)
	}
	if err := stream.Send(env); err != nil {
		return translateRPCError(err)
	}
	resp, err := stream.Recv()
	if err != nil {
		return translateRPCError(err)
	}
	stream.CloseSend()

	return translateBroadcastResponse(resp)
}

// translateRPCError maps transport failures to the ledger error kinds.
// Codes that leave the outcome unknown are retryable.
func translateRPCError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted, codes.Aborted, codes.Unknown, codes.Internal:
		return &ledger.LeaderUnavailableError{Info: err.Error()}
	default:
		return &ledger.RejectedError{Status: status.Code(err).String(), Info: err.Error()}
	}
}

func translateBroadcastResponse(resp *ab.BroadcastResponse) error {
	switch resp.Status {
	case cb.Status_SUCCESS:
		return nil
	case cb.Status_SERVICE_UNAVAILABLE:
		return &ledger.LeaderUnavailableError{Info: resp.Info}
	case cb.Status_BAD_REQUEST:
		if strings.Contains(resp.Info, noEffectMarker) {
			return &ledger.ConflictError{Info: resp.Info}
		}
	}
	return &ledger.RejectedError{Status: resp.Status.String(), Info: resp.Info}
}
