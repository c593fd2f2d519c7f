package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whiteflag/relay/chainrelay/chainstate"
)

// logBus is the wiring-time stand-in for the protocol event bus, whose
// concrete implementation spec.md §1 places outside this module. It just
// logs every emitted message; a real deployment supplies its own Bus
// backed by whatever the boundary API actually publishes to.
type logBus struct {
	log *zap.Logger
}

func (b logBus) Emit(event string, payload interface{}) {
	b.log.Info("bus event", zap.String("event", event), zap.Any("payload", payload))
}

// exampleChainSpecs is the wiring-time chain list. Real deployments build
// this from whatever configuration source they choose; spec.md §1
// explicitly excludes config-file loading from this module's scope, so no
// parser lives here.
func exampleChainSpecs() []chainSpec {
	return []chainSpec{
		{
			Family: familyEVM,
			Config: chainstate.Config{
				Name:                   "ethereum-mainnet",
				RPCProtocol:            "https",
				RPCHost:                "localhost",
				RPCPort:                8545,
				RPCTimeout:             10 * time.Second,
				ChainID:                "0x1",
				BlockRetrievalStart:    0,
				BlockRetrievalRestart:  64,
				BlockRetrievalInterval: 5 * time.Second,
				BlockMaxRetries:        8,
				TransactionBatchSize:   16,
			},
		},
		{
			Family:           familySubstrate,
			SubstrateNetwork: 42,
			Config: chainstate.Config{
				Name:                   "substrate-local",
				RPCProtocol:            "http",
				RPCHost:                "localhost",
				RPCPort:                9933,
				RPCTimeout:             10 * time.Second,
				ChainID:                "substrate-local",
				BlockRetrievalStart:    0,
				BlockRetrievalRestart:  64,
				BlockRetrievalInterval: 6 * time.Second,
				BlockMaxRetries:        8,
				TransactionBatchSize:   16,
			},
		},
	}
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	runID := uuid.New().String()
	log = log.With(zap.String("runId", runID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := chainstate.NewMemoryStateStore()
	secrets := chainstate.NewMemorySecretStore()
	msgBus := logBus{log: log}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range exampleChainSpecs() {
		spec := spec
		cc, err := NewChainContext(gctx, spec, state, secrets, msgBus, log)
		if err != nil {
			log.Error("failed to bootstrap chain", zap.String("chain", spec.Config.Name), zap.Error(err))
			continue
		}
		g.Go(func() error {
			return cc.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error("relayd exited with error", zap.Error(err))
		os.Exit(1)
	}
}
