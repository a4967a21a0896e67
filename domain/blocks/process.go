package blocks

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/dposnet/dposd/domain/hooks"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// Processor verifies blocks and feeds them to the chain. Blocks received
// from peers are checked for forks first.
type Processor struct {
	store    *ledger.Store
	registry *transactions.Registry
	verifier *Verifier
	chain    *Chain
	hooks    *hooks.Hooks

	receiveMtx sync.Mutex

	syncingMtx sync.RWMutex
	syncing    func() bool
}

// NewProcessor returns a Processor.
func NewProcessor(store *ledger.Store, registry *transactions.Registry, verifier *Verifier, chain *Chain,
	hooks *hooks.Hooks) *Processor {

	return &Processor{
		store:    store,
		registry: registry,
		verifier: verifier,
		chain:    chain,
		hooks:    hooks,
	}
}

// SetSyncing sets the function reporting whether the node is downloading
// blocks. Received blocks are ignored while it reports true.
func (p *Processor) SetSyncing(syncing func() bool) {
	p.syncingMtx.Lock()
	defer p.syncingMtx.Unlock()
	p.syncing = syncing
}

func (p *Processor) isSyncing() bool {
	p.syncingMtx.RLock()
	defer p.syncingMtx.RUnlock()
	return p.syncing != nil && p.syncing()
}

// ProcessBlock verifies block against the last block and applies it.
func (p *Processor) ProcessBlock(block *model.Block, broadcast, saveBlock bool) error {
	lastBlock := p.chain.LastBlock()
	if lastBlock == nil {
		return errors.Wrapf(ErrMissingBlock, "the chain is not bootstrapped")
	}
	err := p.verifier.VerifyBlock(p.store.DB(), block, lastBlock)
	if err != nil {
		log.Errorf("Block %s verification failed: %s", block.ID, err)
		return err
	}
	accounts, err := p.checkTransactions(block)
	if err != nil {
		log.Errorf("Block %s transaction check failed: %s", block.ID, err)
		return err
	}
	return p.chain.ApplyBlock(block, broadcast, saveBlock, accounts)
}

// checkTransactions verifies every transaction of block against the
// current state of its sender, including the cosigner signatures a
// multisignature sender requires. It returns the senders that are not
// stored yet.
func (p *Processor) checkTransactions(block *model.Block) (map[string]*model.Account, error) {
	conflicts, err := p.registry.FindConflicts(block.Transactions)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, errors.Wrapf(ruleerrors.ErrConflictingTransactions,
			"Block contains %d conflicting transactions, first %s", len(conflicts), conflicts[0].ID)
	}

	accessor := p.store.DB()
	accounts := make(map[string]*model.Account)
	for _, tx := range block.Transactions {
		confirmed, err := p.store.TransactionExists(accessor, tx.ID)
		if err != nil {
			return nil, err
		}
		if confirmed {
			return nil, errors.Wrapf(ruleerrors.ErrDuplicateTx, "Transaction is already confirmed: %s", tx.ID)
		}

		sender, ok := accounts[tx.SenderID]
		if !ok {
			sender, err = p.store.GetAccount(accessor, tx.SenderID)
			if database.IsNotFoundError(err) {
				sender = model.NewAccount(tx.SenderID)
				accounts[tx.SenderID] = sender
			} else if err != nil {
				return nil, err
			}
		}
		err = p.registry.Verify(accessor, tx, sender, block.Height)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %s", tx.ID)
		}
		if block.Height == 1 {
			continue
		}
		ready, err := p.registry.Ready(tx, sender)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, errors.Wrapf(ruleerrors.ErrMultisignature, "transaction %s lacks cosigner signatures", tx.ID)
		}
	}
	return accounts, nil
}

// compareIDs orders block ids numerically.
func compareIDs(a, b string) int {
	aNumber, aErr := strconv.ParseUint(a, 10, 64)
	bNumber, bErr := strconv.ParseUint(b, 10, 64)
	if aErr != nil || bErr != nil {
		return bytes.Compare([]byte(a), []byte(b))
	}
	switch {
	case aNumber < bNumber:
		return -1
	case aNumber > bNumber:
		return 1
	}
	return 0
}

// receivedWins returns whether the received block takes precedence over
// ours: the earlier timestamp wins, then the lower id.
func receivedWins(received, ours *model.Block) bool {
	if received.Timestamp != ours.Timestamp {
		return received.Timestamp < ours.Timestamp
	}
	return compareIDs(received.ID, ours.ID) < 0
}

// OnReceiveBlock handles a block relayed by a peer. A block extending the
// last block is processed. A competing block either replaces our tip or is
// discarded, depending on which one wins.
func (p *Processor) OnReceiveBlock(block *model.Block) error {
	if p.isSyncing() {
		log.Debugf("Client is syncing. Can't receive block %s at this time", block.ID)
		return nil
	}
	p.receiveMtx.Lock()
	defer p.receiveMtx.Unlock()

	lastBlock := p.chain.LastBlock()
	if lastBlock == nil {
		return errors.Wrapf(ErrMissingBlock, "the chain is not bootstrapped")
	}

	switch {
	case block.ID == lastBlock.ID:
		log.Debugf("Block %s already processed", block.ID)
		return nil

	case block.PreviousBlockID == lastBlock.ID && block.Height == lastBlock.Height+1:
		log.Infof("Received new block %s at height %d with %d transactions", block.ID, block.Height,
			len(block.Transactions))
		return p.ProcessBlock(block, true, true)

	case block.PreviousBlockID != lastBlock.ID && block.Height == lastBlock.Height+1:
		return p.handleDifferentPrevious(block, lastBlock)

	case block.PreviousBlockID == lastBlock.PreviousBlockID && block.Height == lastBlock.Height:
		return p.handleSameHeight(block, lastBlock)

	default:
		log.Debugf("Discarded block that does not match with current chain: %s height: %d", block.ID,
			block.Height)
		return nil
	}
}

func logDoubleForging(block, lastBlock *model.Block) {
	if bytes.Equal(block.GeneratorPublicKey, lastBlock.GeneratorPublicKey) {
		log.Warnf("Delegate %s is forging on multiple nodes", hex.EncodeToString(block.GeneratorPublicKey))
	}
}

// handleDifferentPrevious handles a block at our next height built on
// another block than our last one. When the received block wins, our last
// two blocks are deleted so the sync can fetch the other branch.
func (p *Processor) handleDifferentPrevious(block, lastBlock *model.Block) error {
	p.hooks.OnFork(block, hooks.ForkDifferentPrevious)
	log.Infof("Fork detected: block %s has previous block %s, our last block is %s", block.ID,
		block.PreviousBlockID, lastBlock.ID)
	logDoubleForging(block, lastBlock)

	if !receivedWins(block, lastBlock) {
		log.Infof("Last block %s stands", lastBlock.ID)
		return nil
	}
	err := p.verifier.VerifyReceipt(block)
	if err != nil {
		log.Errorf("Received block %s is invalid: %s", block.ID, err)
		return err
	}
	log.Infof("Last block %s and parent loses", lastBlock.ID)
	for i := 0; i < 2; i++ {
		_, err := p.chain.DeleteLastBlock()
		if err != nil {
			if errors.Is(err, ErrDeleteGenesis) {
				return nil
			}
			log.Errorf("Failed to delete last block while resolving fork: %s", err)
			return err
		}
	}
	return nil
}

// handleSameHeight handles a block competing with our last block for the
// same previous block. When the received block wins it replaces our last
// block.
func (p *Processor) handleSameHeight(block, lastBlock *model.Block) error {
	p.hooks.OnFork(block, hooks.ForkSameHeight)
	log.Infof("Fork detected: block %s competes with our last block %s at height %d", block.ID,
		lastBlock.ID, block.Height)
	logDoubleForging(block, lastBlock)

	if !receivedWins(block, lastBlock) {
		log.Infof("Last block %s stands", lastBlock.ID)
		return nil
	}
	err := p.verifier.VerifyReceipt(block)
	if err != nil {
		log.Errorf("Received block %s is invalid: %s", block.ID, err)
		return err
	}
	log.Infof("Last block %s loses", lastBlock.ID)
	_, err = p.chain.DeleteLastBlock()
	if err != nil {
		log.Errorf("Failed to delete last block while resolving fork: %s", err)
		return err
	}
	return p.ProcessBlock(block, true, true)
}
