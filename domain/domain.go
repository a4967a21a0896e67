package domain

import (
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/hooks"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/domain/txpool"
	infrastructuredatabase "github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/mstime"
	"github.com/dposnet/dposd/util/prioritylock"
)

// Domain provides a reference to the chain components of a node
type Domain interface {
	Params() *chainconfig.Params
	Store() *ledger.Store
	Slots() *dpos.Slots
	Registry() *transactions.Registry
	Delegates() *dpos.Delegates
	Hooks() *hooks.Hooks
	Pool() *txpool.Pool
	Logic() *blocks.Logic
	Chain() *blocks.Chain
	Verifier() *blocks.Verifier
	Processor() *blocks.Processor
}

type domain struct {
	params    *chainconfig.Params
	store     *ledger.Store
	slots     *dpos.Slots
	registry  *transactions.Registry
	delegates *dpos.Delegates
	hooks     *hooks.Hooks
	pool      *txpool.Pool
	logic     *blocks.Logic
	chain     *blocks.Chain
	verifier  *blocks.Verifier
	processor *blocks.Processor
}

func (d *domain) Params() *chainconfig.Params      { return d.params }
func (d *domain) Store() *ledger.Store             { return d.store }
func (d *domain) Slots() *dpos.Slots               { return d.slots }
func (d *domain) Registry() *transactions.Registry { return d.registry }
func (d *domain) Delegates() *dpos.Delegates       { return d.delegates }
func (d *domain) Hooks() *hooks.Hooks              { return d.hooks }
func (d *domain) Pool() *txpool.Pool               { return d.pool }
func (d *domain) Logic() *blocks.Logic             { return d.logic }
func (d *domain) Chain() *blocks.Chain             { return d.chain }
func (d *domain) Verifier() *blocks.Verifier       { return d.verifier }
func (d *domain) Processor() *blocks.Processor     { return d.processor }

// New wires the chain components over db and bootstraps the chain: the
// genesis block is applied to an empty database, and the last block is
// loaded from a populated one. A nil poolConfig uses the defaults of params.
func New(params *chainconfig.Params, db infrastructuredatabase.Database, timeSource mstime.TimeSource,
	poolConfig *txpool.Config) (Domain, error) {

	if poolConfig == nil {
		poolConfig = txpool.DefaultConfig(params)
	}

	store := ledger.New(db)
	slots := dpos.NewSlots(params, timeSource)
	registry := transactions.New(params, store, slots)
	delegates, err := dpos.NewDelegates(params, store, slots)
	if err != nil {
		return nil, err
	}
	chainHooks := hooks.New()
	dpos.NewRounds(params, store, delegates).RegisterHooks(chainHooks)

	balancesLock := prioritylock.New()
	pool := txpool.New(poolConfig, registry, store, slots, balancesLock, timeSource)
	logic := blocks.NewLogic(params, registry)
	genesis, err := blocks.BuildGenesisBlock(params, registry, logic)
	if err != nil {
		return nil, err
	}
	chain := blocks.NewChain(store, registry, pool, chainHooks, balancesLock, genesis)
	verifier := blocks.NewVerifier(params, store, logic, delegates)
	processor := blocks.NewProcessor(store, registry, verifier, chain, chainHooks)

	err = chain.Bootstrap()
	if err != nil {
		return nil, err
	}
	lastBlock := chain.LastBlock()
	log.Infof("Chain of %s loaded, last block %s at height %d", params.Name, lastBlock.ID, lastBlock.Height)

	return &domain{
		params:    params,
		store:     store,
		slots:     slots,
		registry:  registry,
		delegates: delegates,
		hooks:     chainHooks,
		pool:      pool,
		logic:     logic,
		chain:     chain,
		verifier:  verifier,
		processor: processor,
	}, nil
}
