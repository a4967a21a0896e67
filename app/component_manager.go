package app

import (
	"fmt"
	"sync/atomic"

	"github.com/dposnet/dposd/app/peerapi"
	"github.com/dposnet/dposd/domain"
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/domain/forging"
	"github.com/dposnet/dposd/domain/txpool"
	"github.com/dposnet/dposd/infrastructure/config"
	infrastructuredatabase "github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/dposnet/dposd/util/mstime"
	"github.com/dposnet/dposd/util/panics"
)

// ComponentManager is a wrapper for all the dposd services
type ComponentManager struct {
	cfg            *config.Config
	domain         domain.Domain
	server         *peer.Server
	client         *peer.Client
	peerAPIManager *peerapi.Manager
	synchronizer   *blocks.Synchronizer
	forger         *forging.Forger

	started, shutdown int32
}

// Start launches all the dposd services.
func (a *ComponentManager) Start() {
	// Already started?
	if atomic.AddInt32(&a.started, 1) != 1 {
		return
	}

	log.Trace("Starting dposd")

	if !a.cfg.NoListen {
		err := a.server.Listen(a.cfg.Listen)
		if err != nil {
			panics.Exit(log, fmt.Sprintf("Error starting the peer API: %+v", err))
		}
	}

	a.domain.Pool().Start()
	a.synchronizer.Start()
	a.forger.Start()
}

// Stop gracefully shuts down all the dposd services. Block processing is
// drained before Stop returns so the database can be closed afterwards.
func (a *ComponentManager) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Infof("Dposd is already in the process of shutting down")
		return
	}

	log.Warnf("Dposd shutting down")

	a.forger.Stop()
	a.synchronizer.Stop()
	a.domain.Pool().Stop()

	if !a.cfg.NoListen {
		a.server.Stop()
	}
	a.client.Close()

	a.domain.Chain().Cleanup()
}

// NewComponentManager returns a new ComponentManager instance.
// Use Start() to begin all services within this ComponentManager
func NewComponentManager(cfg *config.Config, db infrastructuredatabase.Database) (*ComponentManager, error) {
	params := cfg.NetParams()
	poolConfig := txpool.DefaultConfig(params)
	if cfg.MaxTxsPerQueue > 0 {
		poolConfig.MaxTxsPerQueue = cfg.MaxTxsPerQueue
	}
	if cfg.MaxSharedTxs > 0 {
		poolConfig.MaxSharedTxs = cfg.MaxSharedTxs
	}
	if cfg.UnconfirmedTimeout > 0 {
		poolConfig.UnconfirmedTimeout = cfg.UnconfirmedTimeout
	}

	domain, err := domain.New(params, db, mstime.SystemTimeSource(), poolConfig)
	if err != nil {
		return nil, err
	}

	nonce := peer.NewNonce()
	server := peer.NewServer(nonce)
	client := peer.NewClient(nonce, cfg.Dial)
	peers := func() []string { return cfg.Peers }
	peerAPIManager := peerapi.NewManager(domain, server, client, peers)

	synchronizer := blocks.NewSynchronizer(params, domain.Store(), domain.Logic(), domain.Chain(),
		domain.Processor(), client, peers)
	domain.Processor().SetSyncing(synchronizer.IsSyncing)
	domain.Pool().SetSyncing(synchronizer.IsSyncing)

	forger, err := forging.New(domain, cfg.ForgingKeyPairs)
	if err != nil {
		return nil, err
	}
	forger.SetGuards(synchronizer.IsSyncing, synchronizer.PoorConsensus)

	return &ComponentManager{
		cfg:            cfg,
		domain:         domain,
		server:         server,
		client:         client,
		peerAPIManager: peerAPIManager,
		synchronizer:   synchronizer,
		forger:         forger,
	}, nil
}

// Domain returns the chain components of this ComponentManager
func (a *ComponentManager) Domain() domain.Domain {
	return a.domain
}
