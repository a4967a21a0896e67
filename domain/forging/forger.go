package forging

import (
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dposnet/dposd/domain"
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/domain/txpool"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// Forger forges the blocks of the slots owned by the local delegates.
type Forger struct {
	params    *chainconfig.Params
	store     *ledger.Store
	slots     *dpos.Slots
	delegates *dpos.Delegates
	pool      *txpool.Pool
	registry  *transactions.Registry
	logic     *blocks.Logic
	chain     *blocks.Chain
	processor *blocks.Processor

	// keyPairs is keyed by hex encoded public key.
	keyPairs map[string]*keys.KeyPair

	guardMtx      sync.RWMutex
	syncing       func() bool
	poorConsensus func() bool

	lastSlot int64

	started  int32
	shutdown int32
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New returns a Forger for keyPairs. Key pairs that do not belong to a
// registered delegate are dropped with a warning.
func New(d domain.Domain, keyPairs []*keys.KeyPair) (*Forger, error) {
	f := &Forger{
		params:    d.Params(),
		store:     d.Store(),
		slots:     d.Slots(),
		delegates: d.Delegates(),
		pool:      d.Pool(),
		registry:  d.Registry(),
		logic:     d.Logic(),
		chain:     d.Chain(),
		processor: d.Processor(),
		keyPairs:  make(map[string]*keys.KeyPair, len(keyPairs)),
		lastSlot:  -1,
		quit:      make(chan struct{}),
	}

	for _, keyPair := range keyPairs {
		address := model.AddressFromPublicKey(keyPair.PublicKey)
		account, err := f.store.GetAccount(f.store.DB(), address)
		if database.IsNotFoundError(err) {
			log.Warnf("Account %s of forging secret not found, not forging with it", address)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !account.IsDelegate {
			log.Warnf("Account %s is not a delegate, not forging with it", address)
			continue
		}
		f.keyPairs[hex.EncodeToString(keyPair.PublicKey)] = keyPair
		log.Infof("Forging enabled on account %s (%s)", address, account.Username)
	}
	return f, nil
}

// SetGuards sets the functions reporting whether the node is syncing and
// whether too few peers agree with our chain. No block is forged while
// syncing, nor on a stale chain with a poor consensus.
func (f *Forger) SetGuards(syncing, poorConsensus func() bool) {
	f.guardMtx.Lock()
	defer f.guardMtx.Unlock()
	f.syncing = syncing
	f.poorConsensus = poorConsensus
}

func (f *Forger) guards() (syncing bool, poorConsensus bool) {
	f.guardMtx.RLock()
	defer f.guardMtx.RUnlock()
	return f.syncing != nil && f.syncing(), f.poorConsensus != nil && f.poorConsensus()
}

// Delegates returns the addresses of the local delegates.
func (f *Forger) Delegates() []string {
	addresses := make([]string, 0, len(f.keyPairs))
	for _, keyPair := range f.keyPairs {
		addresses = append(addresses, model.AddressFromPublicKey(keyPair.PublicKey))
	}
	return addresses
}

func (f *Forger) isStale(lastBlock *model.Block) bool {
	now := f.slots.Now()
	if lastBlock.Timestamp >= now {
		return false
	}
	return time.Duration(now-lastBlock.Timestamp)*time.Second > f.params.StaleAgeThreshold
}

// ForgeSlot forges and processes the block of slot when a local delegate
// owns it. It returns nil when there is nothing to forge.
func (f *Forger) ForgeSlot(slot int64) (*model.Block, error) {
	lastBlock := f.chain.LastBlock()
	if lastBlock == nil {
		return nil, errors.Wrapf(blocks.ErrMissingBlock, "the chain is not bootstrapped")
	}
	if slot <= f.slots.GetSlotNumber(lastBlock.Timestamp) {
		log.Debugf("Slot %d is not after the last block slot", slot)
		return nil, nil
	}

	owner, err := f.delegates.SlotOwner(f.store.DB(), lastBlock.Height+1, slot)
	if err != nil {
		return nil, err
	}
	keyPair, ok := f.keyPairs[hex.EncodeToString(owner)]
	if !ok {
		return nil, nil
	}

	txs, err := f.blockTransactions()
	if err != nil {
		return nil, err
	}
	block, err := f.logic.Create(keyPair, lastBlock, f.slots.GetSlotTime(slot), txs)
	if err != nil {
		return nil, err
	}
	log.Infof("Forged new block %s at height %d slot %d with %d transactions", block.ID, block.Height, slot,
		len(block.Transactions))

	err = f.processor.ProcessBlock(block, true, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to process forged block %s", block.ID)
	}
	return block, nil
}

// blockTransactions fills the pool and returns its unconfirmed
// transactions, without the ones conflicting with earlier ones.
func (f *Forger) blockTransactions() ([]*model.Transaction, error) {
	f.pool.FillPool()
	txs := f.pool.UnconfirmedList(f.params.MaxTxsPerBlock)

	conflicts, err := f.registry.FindConflicts(txs)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return txs, nil
	}
	excluded := make(map[string]struct{}, len(conflicts))
	for _, tx := range conflicts {
		excluded[tx.ID] = struct{}{}
	}
	filtered := txs[:0]
	for _, tx := range txs {
		if _, ok := excluded[tx.ID]; !ok {
			filtered = append(filtered, tx)
		}
	}
	log.Debugf("Left %d conflicting transactions out of the block", len(conflicts))
	return filtered, nil
}

func (f *Forger) tick() {
	if len(f.keyPairs) == 0 {
		return
	}
	syncing, poorConsensus := f.guards()
	if syncing {
		log.Debugf("Client is syncing, not forging")
		return
	}
	lastBlock := f.chain.LastBlock()
	if poorConsensus && f.isStale(lastBlock) {
		log.Debugf("Chain is stale and the consensus is poor, not forging")
		return
	}

	slot := f.slots.CurrentSlot()
	if slot == f.lastSlot {
		return
	}
	f.lastSlot = slot

	_, err := f.ForgeSlot(slot)
	if err != nil {
		log.Errorf("Failed to forge slot %d: %s", slot, err)
	}
}

// Start checks for a slot to forge every second until Stop.
func (f *Forger) Start() {
	if atomic.AddInt32(&f.started, 1) != 1 {
		return
	}
	f.wg.Add(1)
	spawn("Forger.loop", f.loop)
}

// Stop stops the loop started by Start and waits for it.
func (f *Forger) Stop() {
	if atomic.AddInt32(&f.shutdown, 1) != 1 {
		return
	}
	close(f.quit)
	f.wg.Wait()
}

func (f *Forger) loop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.tick()
		case <-f.quit:
			return
		}
	}
}
