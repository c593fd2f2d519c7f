// Command relayd bootstraps one listener/sender/auth stack per configured
// chain and runs them concurrently, with every component's state threaded
// through an explicit value rather than held in package-level globals.
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/account"
	"github.com/whiteflag/relay/chainrelay/auth"
	"github.com/whiteflag/relay/chainrelay/bus"
	"github.com/whiteflag/relay/chainrelay/chainstate"
	"github.com/whiteflag/relay/chainrelay/evmchain"
	"github.com/whiteflag/relay/chainrelay/listener"
	"github.com/whiteflag/relay/chainrelay/metrics"
	"github.com/whiteflag/relay/chainrelay/rpc"
	"github.com/whiteflag/relay/chainrelay/sender"
	"github.com/whiteflag/relay/chainrelay/substratechain"
)

// chainFamily selects which variant backs a chain's crypto operations.
// spec.md's Transaction data model only describes two shapes (EVM-style
// nonce/gasPrice/gasLimit and substrate-style extrinsic blobs), so these
// two values are exhaustive for this relay's scope.
type chainFamily string

const (
	familyEVM       chainFamily = "evm"
	familySubstrate chainFamily = "substrate"
)

// chainSpec is the bootstrap-time description of one chain: its config plus
// enough to pick and construct the right variant. It is wiring-only and
// never crosses into chainrelay itself.
type chainSpec struct {
	Config           chainstate.Config
	Family           chainFamily
	SubstrateNetwork uint8 // SS58 network byte, used only when Family == familySubstrate
}

// ChainContext bundles one chain's logger, its config, and handles to C4
// through C8; the state and secret stores are passed to those components
// rather than held here.
// It is the single value passed around instead of package-level globals.
type ChainContext struct {
	Name   string
	Config chainstate.Config
	Logger *zap.Logger

	Node     *rpc.NodeClient
	Accounts *account.Manager
	Sender   *sender.Sender
	Auth     *auth.Signer
	Listener *listener.Listener
	Metrics  *metrics.InMemory
}

// NewChainContext wires one chain's full C4-C8 stack. state, secrets, and
// msgBus are external collaborators (spec.md §1 excludes their concrete
// implementations from this module's scope); callers typically back them
// with a real database, secret manager, and protocol event bus in
// production and with chainstate's in-memory references only for
// examples/tests.
func NewChainContext(ctx context.Context, spec chainSpec, state chainstate.StateStore, secrets chainstate.SecretStore, msgBus bus.Bus, baseLogger *zap.Logger) (*ChainContext, error) {
	log := baseLogger.With(zap.String("chain", spec.Config.Name))

	rpcClient, err := rpc.NewHTTPClient([]string{spec.Config.RPCURL()}, spec.Config.RPCTimeout, nil, log)
	if err != nil {
		return nil, fmt.Errorf("relayd: %s: build rpc client: %w", spec.Config.Name, err)
	}

	node := rpc.NewNodeClient(rpcClient, spec.Config.ChainID, spec.Config.RPCTimeout, log)
	if err := node.Init(ctx); err != nil {
		return nil, fmt.Errorf("relayd: %s: init node client: %w", spec.Config.Name, err)
	}

	m := metrics.NewInMemory()
	node.SetMetrics(m)

	cc := &ChainContext{
		Name:    spec.Config.Name,
		Config:  spec.Config,
		Logger:  log,
		Node:    node,
		Metrics: m,
	}

	switch spec.Family {
	case familyEVM:
		variant := evmchain.New(spec.Config.ChainID)
		cc.Accounts = account.New(spec.Config.Name, variant, state, secrets, node, log)
		cc.Sender = sender.New(spec.Config.Name, variant, node, cc.Accounts, log)
		cc.Auth = auth.New(variant, cc.Accounts, cc.Accounts, log)
		cc.Listener = listener.New(spec.Config.Name, node, state, msgBus, m, variant, spec.Config, log)
	case familySubstrate:
		variant := substratechain.New(spec.SubstrateNetwork)
		cc.Accounts = account.New(spec.Config.Name, variant, state, secrets, node, log)
		cc.Sender = sender.New(spec.Config.Name, variant, node, cc.Accounts, log)
		cc.Auth = auth.New(variant, cc.Accounts, cc.Accounts, log)
		// substratechain.Variant has no public-key-recovery step; the
		// listener is built with a nil recoverer and leaves
		// OriginatorPubKey empty for every decoded message on this chain.
		cc.Listener = listener.New(spec.Config.Name, node, state, msgBus, m, nil, spec.Config, log)
	default:
		return nil, fmt.Errorf("relayd: %s: unknown chain family %q", spec.Config.Name, spec.Family)
	}
	cc.Sender.SetMetrics(m)

	cc.Accounts.StartRefresh(ctx)

	if spec.Config.CreateAccount {
		if _, err := cc.Accounts.Create(ctx, nil); err != nil {
			return nil, fmt.Errorf("relayd: %s: create initial account: %w", spec.Config.Name, err)
		}
	}

	node.StartRefreshers(ctx, func(info rpc.NodeInfo) {
		log.Debug("node info refreshed", zap.String("protocolVersion", info.ProtocolVersion))
	}, func(status rpc.NodeStatus) {
		log.Debug("node status refreshed", zap.Uint64("blockNumber", status.BlockNumber))
	})

	return cc, nil
}

// Run starts the chain's block listener and blocks until ctx is cancelled
// or the listener exits. Callers typically run one Run per chain in its
// own goroutine.
func (c *ChainContext) Run(ctx context.Context) error {
	defer c.Node.StopRefreshers()
	defer c.Accounts.StopRefresh()
	return c.Listener.Run(ctx)
}
