package blocks

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dposnet/dposd/domain/hooks"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/domain/txpool"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/locks"
	"github.com/dposnet/dposd/util/prioritylock"
	"github.com/pkg/errors"
)

var (
	// ErrCleaning is returned for block applications requested after
	// Cleanup started.
	ErrCleaning = errors.New("the chain is shutting down")

	// ErrDeleteGenesis is returned for attempts to delete the genesis block.
	ErrDeleteGenesis = errors.New("Cannot delete genesis block")

	// ErrMissingBlock indicates a block the chain relies on is not stored.
	ErrMissingBlock = errors.New("missing block")
)

// Chain applies blocks to the ledger and rolls them back. One block
// application or rollback runs at a time.
type Chain struct {
	store        *ledger.Store
	registry     *transactions.Registry
	pool         *txpool.Pool
	hooks        *hooks.Hooks
	balancesLock *prioritylock.Mutex
	genesis      *model.Block

	mtx        sync.Mutex
	cleaning   uint32
	processing *locks.WaitGroup

	// lastBlock holds an immutable *model.Block.
	lastBlock atomic.Value

	broadcastMtx sync.RWMutex
	broadcaster  func(block *model.Block)
}

// NewChain returns a Chain whose first block is genesis. balancesLock must
// be the one shared with pool.
func NewChain(store *ledger.Store, registry *transactions.Registry, pool *txpool.Pool, hooks *hooks.Hooks,
	balancesLock *prioritylock.Mutex, genesis *model.Block) *Chain {

	return &Chain{
		store:        store,
		registry:     registry,
		pool:         pool,
		hooks:        hooks,
		balancesLock: balancesLock,
		genesis:      genesis,
		processing:   locks.NewWaitGroup(),
	}
}

// LastBlock returns the last applied block. The returned block is shared
// and must not be modified.
func (c *Chain) LastBlock() *model.Block {
	block, _ := c.lastBlock.Load().(*model.Block)
	return block
}

func (c *Chain) setLastBlock(block *model.Block) {
	c.lastBlock.Store(block.Clone())
}

// SetBroadcaster sets the function relaying blocks applied with the
// broadcast flag.
func (c *Chain) SetBroadcaster(broadcaster func(block *model.Block)) {
	c.broadcastMtx.Lock()
	defer c.broadcastMtx.Unlock()
	c.broadcaster = broadcaster
}

func (c *Chain) broadcast(block *model.Block) {
	c.broadcastMtx.RLock()
	broadcaster := c.broadcaster
	c.broadcastMtx.RUnlock()
	if broadcaster != nil {
		spawn("Chain.broadcast", func() { broadcaster(block) })
	}
}

// Genesis returns the genesis block of the chain.
func (c *Chain) Genesis() *model.Block {
	return c.genesis
}

// IsCleaning returns whether Cleanup was called.
func (c *Chain) IsCleaning() bool {
	return atomic.LoadUint32(&c.cleaning) == 1
}

// Cleanup stops new block applications and waits for the one in flight.
func (c *Chain) Cleanup() {
	atomic.StoreUint32(&c.cleaning, 1)
	log.Infof("Waiting for block processing to finish")
	c.processing.Wait()
}

// begin registers an operation that mutates the chain. The returned
// function must be called when it is done.
func (c *Chain) begin() (func(), error) {
	c.processing.Add()
	if c.IsCleaning() {
		c.processing.Done()
		return nil, ErrCleaning
	}
	c.mtx.Lock()
	c.balancesLock.HighPriorityLock()
	return func() {
		c.balancesLock.HighPriorityUnlock()
		c.mtx.Unlock()
		c.processing.Done()
	}, nil
}

// sender returns the current state of the sender of tx. accounts supplies
// the senders that are not stored yet.
func (c *Chain) sender(accessor database.DataAccessor, tx *model.Transaction,
	accounts map[string]*model.Account) (*model.Account, error) {

	account, err := c.store.GetAccount(accessor, tx.SenderID)
	if err == nil {
		return account, nil
	}
	if !database.IsNotFoundError(err) {
		return nil, err
	}
	if account, ok := accounts[tx.SenderID]; ok {
		return account, nil
	}
	return model.NewAccount(tx.SenderID), nil
}

// opsRecorder performs ops inside a database transaction as they are
// computed, so every op sees the effects of the ones before it, and keeps
// them for logging.
type opsRecorder struct {
	store    *ledger.Store
	accessor database.DataAccessor
	ops      []*ledger.DBOp
}

func (r *opsRecorder) perform(ops []*ledger.DBOp) error {
	err := r.store.PerformOps(r.accessor, ops)
	if err != nil {
		return err
	}
	r.ops = append(r.ops, ops...)
	return nil
}

// performFiltered threads the recorded ops through filter and performs the
// ops the filter appended.
func (r *opsRecorder) performFiltered(
	filter func(ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error),
	block, previous *model.Block) error {

	recorded := make([]*ledger.DBOp, len(r.ops))
	copy(recorded, r.ops)
	filtered, err := filter(recorded, block, previous)
	if err != nil {
		return err
	}
	if len(filtered) < len(r.ops) {
		return errors.Errorf("block filters dropped %d recorded ops", len(r.ops)-len(filtered))
	}
	return r.perform(filtered[len(r.ops):])
}

// ApplyBlock applies block on top of the last block in one database
// transaction. Unconfirmed pool transactions missing from block are
// reverted first and requeued once the block is committed. The block row
// is stored when saveBlock is set. accounts supplies the senders loaded
// while verifying block that are not stored yet.
func (c *Chain) ApplyBlock(block *model.Block, broadcast, saveBlock bool,
	accounts map[string]*model.Account) error {

	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()
	return c.applyBlockNoLock(block, broadcast, saveBlock, accounts)
}

func (c *Chain) applyBlockNoLock(block *model.Block, broadcast, saveBlock bool,
	accounts map[string]*model.Account) error {

	lastBlock := c.LastBlock()
	if lastBlock == nil {
		return errors.Wrapf(ErrMissingBlock, "the chain is not bootstrapped")
	}
	if block.PreviousBlockID != lastBlock.ID || block.Height != lastBlock.Height+1 {
		return errors.Wrapf(ruleerrors.ErrInvalidPreviousBlock,
			"block %s at height %d does not extend the last block %s", block.ID, block.Height, lastBlock.ID)
	}
	log.Debugf("Applying block %s at height %d with %d transactions", block.ID, block.Height,
		len(block.Transactions))

	inBlock := make(map[string]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		inBlock[tx.ID] = struct{}{}
	}
	unconfirmed := c.pool.UnconfirmedList(0)
	inUnconfirmed := make(map[string]struct{}, len(unconfirmed))
	var overlapping []*model.Transaction
	for _, tx := range unconfirmed {
		inUnconfirmed[tx.ID] = struct{}{}
		if _, ok := inBlock[tx.ID]; !ok {
			overlapping = append(overlapping, tx)
		}
	}

	err := c.commitBlock(block, saveBlock, accounts, overlapping, inUnconfirmed)
	if err != nil {
		resetErr := c.registry.ResetPending(unconfirmed)
		if resetErr != nil {
			log.Errorf("Failed to reset pending registrations: %s", resetErr)
		}
		return err
	}

	c.hooks.OnBlockApplied(c.LastBlock())
	if broadcast {
		c.broadcast(c.LastBlock())
	}

	for _, tx := range block.Transactions {
		c.pool.RemoveFromPool(tx.ID)
	}
	overlappingIDs := make([]string, len(overlapping))
	for i, tx := range overlapping {
		overlappingIDs[i] = tx.ID
	}
	c.pool.RequeueUnconfirmed(overlappingIDs)
	return nil
}

func (c *Chain) commitBlock(block *model.Block, saveBlock bool, accounts map[string]*model.Account,
	overlapping []*model.Transaction, inUnconfirmed map[string]struct{}) error {

	dbTx, err := c.store.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()
	recorder := &opsRecorder{store: c.store, accessor: dbTx}

	for i := len(overlapping) - 1; i >= 0; i-- {
		tx := overlapping[i]
		sender, err := c.sender(dbTx, tx, accounts)
		if err != nil {
			return err
		}
		ops, err := c.registry.UndoUnconfirmed(dbTx, tx, sender)
		if err != nil {
			return err
		}
		err = recorder.perform(ops)
		if err != nil {
			return err
		}
	}

	err = recorder.perform(recipientOps(block.Transactions))
	if err != nil {
		return err
	}

	for _, tx := range block.Transactions {
		if _, ok := inUnconfirmed[tx.ID]; ok {
			continue
		}
		sender, err := c.sender(dbTx, tx, accounts)
		if err != nil {
			return err
		}
		ops, err := c.registry.ApplyUnconfirmed(dbTx, tx, sender)
		if err != nil {
			return err
		}
		err = recorder.perform(ops)
		if err != nil {
			return err
		}
	}

	for _, tx := range block.Transactions {
		sender, err := c.sender(dbTx, tx, accounts)
		if err != nil {
			return err
		}
		ops, err := c.registry.Apply(dbTx, tx, block, sender)
		if err != nil {
			return err
		}
		err = recorder.perform(ops)
		if err != nil {
			return err
		}
	}

	err = recorder.performFiltered(c.hooks.ApplyBlockDBOps, block, c.LastBlock())
	if err != nil {
		return err
	}

	if saveBlock {
		err = c.saveBlock(dbTx, block)
		if err != nil {
			log.Errorf("Failed to save block %s: %s", block.ID, err)
			return err
		}
		log.Debugf("Block %s applied correctly with %d transactions", block.ID, len(block.Transactions))
	}

	err = c.hooks.OnPostApplyBlock(dbTx, block)
	if err != nil {
		return err
	}
	err = dbTx.Commit()
	if err != nil {
		return err
	}
	log.Tracef("Block %s committed %d ops", block.ID, len(recorder.ops))

	c.setLastBlock(block)
	return nil
}

// recipientOps returns the ops creating the recipients of txs that are not
// stored yet, in address order.
func recipientOps(txs []*model.Transaction) []*ledger.DBOp {
	seen := make(map[string]struct{})
	var recipients []string
	for _, tx := range txs {
		if tx.RecipientID == "" {
			continue
		}
		if _, ok := seen[tx.RecipientID]; ok {
			continue
		}
		seen[tx.RecipientID] = struct{}{}
		recipients = append(recipients, tx.RecipientID)
	}
	sort.Strings(recipients)

	ops := make([]*ledger.DBOp, len(recipients))
	for i, recipient := range recipients {
		ops[i] = ledger.UpsertAccount(recipient, nil)
	}
	return ops
}

// SaveBlock stores the row of block and its transactions through accessor.
func (c *Chain) SaveBlock(accessor database.DataAccessor, block *model.Block) error {
	return c.saveBlock(accessor, block)
}

func (c *Chain) saveBlock(accessor database.DataAccessor, block *model.Block) error {
	ops := []*ledger.DBOp{ledger.CreateBlock(block)}
	for _, tx := range block.Transactions {
		txOps, err := c.registry.DBSave(tx, block.ID, block.Height)
		if err != nil {
			return err
		}
		ops = append(ops, txOps...)
	}
	err := c.store.PerformOps(accessor, ops)
	if err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		err := c.registry.AfterSave(tx)
		if err != nil {
			return errors.Wrapf(err, "Blocks#saveBlock error")
		}
	}
	return nil
}

// DeleteLastBlock rolls back the last block and returns the new last
// block. The genesis block cannot be deleted.
func (c *Chain) DeleteLastBlock() (*model.Block, error) {
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return c.deleteLastBlockNoLock()
}

func (c *Chain) deleteLastBlockNoLock() (*model.Block, error) {
	lastBlock := c.LastBlock()
	if lastBlock == nil {
		return nil, errors.Wrapf(ErrMissingBlock, "the chain has no last block")
	}
	log.Warnf("Deleting last block %s at height %d", lastBlock.ID, lastBlock.Height)
	if lastBlock.Height == 1 {
		return nil, ErrDeleteGenesis
	}

	reverted, previous, err := c.popLastBlock(lastBlock)
	if err != nil {
		return nil, err
	}
	c.pool.ReturnToPool(reverted.Transactions)
	return previous, nil
}

// popLastBlock reverts lastBlock in one database transaction and makes its
// predecessor the last block. It returns the reverted block with its
// transactions and the new last block.
func (c *Chain) popLastBlock(lastBlock *model.Block) (reverted, previous *model.Block, err error) {
	reverted, err = c.loadBlock(c.store.DB(), lastBlock.ID)
	if err != nil {
		return nil, nil, err
	}
	previous, err = c.loadBlock(c.store.DB(), reverted.PreviousBlockID)
	if err != nil {
		return nil, nil, err
	}

	dbTx, err := c.store.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer dbTx.RollbackUnlessClosed()
	recorder := &opsRecorder{store: c.store, accessor: dbTx}

	for i := len(reverted.Transactions) - 1; i >= 0; i-- {
		tx := reverted.Transactions[i]
		sender, err := c.sender(dbTx, tx, nil)
		if err != nil {
			return nil, nil, err
		}
		ops, err := c.registry.Undo(dbTx, tx, reverted, sender)
		if err != nil {
			return nil, nil, err
		}
		err = recorder.perform(ops)
		if err != nil {
			return nil, nil, err
		}
		sender, err = c.sender(dbTx, tx, nil)
		if err != nil {
			return nil, nil, err
		}
		ops, err = c.registry.UndoUnconfirmed(dbTx, tx, sender)
		if err != nil {
			return nil, nil, err
		}
		err = recorder.perform(ops)
		if err != nil {
			return nil, nil, err
		}
	}

	err = recorder.performFiltered(c.hooks.RollbackBlockDBOps, reverted, previous)
	if err != nil {
		return nil, nil, err
	}
	err = recorder.perform([]*ledger.DBOp{ledger.RemoveBlock(reverted.ID)})
	if err != nil {
		return nil, nil, err
	}
	err = dbTx.Commit()
	if err != nil {
		return nil, nil, err
	}

	c.setLastBlock(previous)
	c.hooks.OnDestroyBlock(reverted)
	return reverted, previous, nil
}

// loadBlock reads the stored block with the given id and its transactions.
func (c *Chain) loadBlock(accessor database.DataAccessor, id string) (*model.Block, error) {
	row, err := c.store.BlockByID(accessor, id)
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(ErrMissingBlock, "block %s is not stored", id)
		}
		return nil, err
	}
	block := row.Block
	block.Transactions, err = c.registry.LoadTransactions(accessor, row.TransactionIDs)
	if err != nil {
		return nil, err
	}
	return block, nil
}

// RecoverChain deletes the last block once. A failure is returned, since
// the chain state then needs an operator.
func (c *Chain) RecoverChain() error {
	newLastBlock, err := c.DeleteLastBlock()
	if err != nil {
		log.Errorf("Recovery failed: %s", err)
		return err
	}
	log.Errorf("Recovery complete, new last block %s", newLastBlock.ID)
	return nil
}

// LoadLastBlock reads the highest stored block into the last block
// pointer.
func (c *Chain) LoadLastBlock() (*model.Block, error) {
	row, err := c.store.LastBlock(c.store.DB())
	if err != nil {
		return nil, err
	}
	block, err := c.loadBlock(c.store.DB(), row.Block.ID)
	if err != nil {
		return nil, err
	}
	c.setLastBlock(block)
	return c.LastBlock(), nil
}

// CommonBlock returns the header of the highest stored block among ids, or
// nil when none is stored.
func (c *Chain) CommonBlock(ids []string) (*model.Block, error) {
	var common *model.Block
	for _, id := range ids {
		row, err := c.store.BlockByID(c.store.DB(), id)
		if database.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if common == nil || row.Block.Height > common.Height {
			common = row.Block
		}
	}
	return common, nil
}

// BlocksAfter returns up to limit stored blocks following the block with
// the given id, with their transactions.
func (c *Chain) BlocksAfter(lastBlockID string, limit int) ([]*model.Block, error) {
	row, err := c.store.BlockByID(c.store.DB(), lastBlockID)
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(ErrMissingBlock, "block %s is not stored", lastBlockID)
		}
		return nil, err
	}
	rows, err := c.store.BlocksAfterHeight(c.store.DB(), row.Block.Height, limit)
	if err != nil {
		return nil, err
	}
	blocks := make([]*model.Block, len(rows))
	for i, row := range rows {
		block := row.Block
		block.Transactions, err = c.registry.LoadTransactions(c.store.DB(), row.TransactionIDs)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
	}
	return blocks, nil
}
