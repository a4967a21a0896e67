package txpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/mstime"
	"github.com/dposnet/dposd/util/prioritylock"
	"github.com/pkg/errors"
)

// Pool stages transactions until they are included in a block. Admitted
// transactions wait in the bundled queue until they are verified, then in
// the queued or multisignature queue until FillPool applies them as
// unconfirmed.
type Pool struct {
	cfg          *Config
	registry     *transactions.Registry
	store        *ledger.Store
	slots        *dpos.Slots
	balancesLock *prioritylock.Mutex
	timeSource   mstime.TimeSource

	syncing   func() bool
	broadcast func(tx *model.Transaction)

	mtx    sync.RWMutex
	queues map[QueueType]*queue

	started, shutdown int32
	quit              chan struct{}
	wg                sync.WaitGroup
}

// New returns an empty Pool. balancesLock is shared with the chain so that
// pool paths touching balances never interleave with a block application.
func New(cfg *Config, registry *transactions.Registry, store *ledger.Store, slots *dpos.Slots,
	balancesLock *prioritylock.Mutex, timeSource mstime.TimeSource) *Pool {

	queues := make(map[QueueType]*queue, len(allQueueTypes))
	for _, queueType := range allQueueTypes {
		queues[queueType] = newQueue(queueType)
	}
	return &Pool{
		cfg:          cfg,
		registry:     registry,
		store:        store,
		slots:        slots,
		balancesLock: balancesLock,
		timeSource:   timeSource,
		queues:       queues,
		quit:         make(chan struct{}),
	}
}

// SetSyncing installs the function FillPool consults before promoting
// transactions.
func (p *Pool) SetSyncing(syncing func() bool) {
	p.syncing = syncing
}

// SetBroadcaster installs the function relaying newly admitted transactions
// to peers.
func (p *Pool) SetBroadcaster(broadcast func(tx *model.Transaction)) {
	p.broadcast = broadcast
}

// sender returns the account of the sender of tx, or a fresh account if the
// sender was never seen.
func (p *Pool) sender(accessor database.DataAccessor, tx *model.Transaction) (*model.Account, error) {
	account, err := p.store.GetAccount(accessor, tx.SenderID)
	if database.IsNotFoundError(err) {
		return model.NewAccount(tx.SenderID), nil
	}
	return account, err
}

// nextHeight returns the height the next block will have.
func (p *Pool) nextHeight(accessor database.DataAccessor) (uint64, error) {
	row, err := p.store.LastBlock(accessor)
	if database.IsNotFoundError(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Block.Height + 1, nil
}

// classify picks the queue a non-bundled transaction waits in.
func (p *Pool) classify(tx *model.Transaction, sender *model.Account) (QueueType, Payload, error) {
	payload := Payload{ReceivedAt: p.timeSource.Now()}
	if tx.Type != model.TransactionTypeMultisignature && len(tx.Signatures) == 0 && !sender.IsMultisignature() {
		return QueueQueued, payload, nil
	}
	ready, err := p.registry.Ready(tx, sender)
	if err != nil {
		return 0, Payload{}, err
	}
	payload.Ready = ready
	return QueueMultisignature, payload, nil
}

// QueueTransaction admits tx to the bundled queue when bundled is set, and
// otherwise to the queued or multisignature queue.
func (p *Pool) QueueTransaction(tx *model.Transaction, bundled bool) error {
	target, payload := QueueBundled, Payload{ReceivedAt: p.timeSource.Now()}
	if !bundled {
		sender, err := p.sender(p.store.DB(), tx)
		if err != nil {
			return err
		}
		target, payload, err = p.classify(tx, sender)
		if err != nil {
			return err
		}
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.insertNoLock(tx, target, payload)
}

func (p *Pool) insertNoLock(tx *model.Transaction, target QueueType, payload Payload) error {
	if queueType, ok := p.whatQueueNoLock(tx.ID); ok {
		return txRuleError(RejectDuplicate,
			fmt.Sprintf("Transaction %s is already in the %s queue", tx.ID, queueType))
	}
	if p.queues[target].count() >= p.cfg.MaxTxsPerQueue {
		return txRuleError(RejectPoolFull, fmt.Sprintf("Transaction pool is full: the %s queue holds %d transactions",
			target, p.cfg.MaxTxsPerQueue))
	}
	p.queues[target].add(tx, payload)
	log.Tracef("Transaction %s added to the %s queue", tx.ID, target)
	return nil
}

// ProcessNewTransaction admits a transaction received from a peer or a
// client. It is staged as bundled and relayed when broadcast is set.
func (p *Pool) ProcessNewTransaction(tx *model.Transaction, broadcast bool) error {
	err := p.registry.ObjectNormalize(tx)
	if err != nil {
		return RuleError{Err: err}
	}
	id, err := p.registry.ID(tx)
	if err != nil {
		return RuleError{Err: err}
	}
	if tx.ID == "" {
		tx.ID = id
	}
	if tx.ID != id {
		return txRuleError(RejectInvalid, fmt.Sprintf("Transaction id %s does not match its contents", tx.ID))
	}
	if p.TransactionInPool(tx.ID) {
		return txRuleError(RejectDuplicate, fmt.Sprintf("Transaction is already processed: %s", tx.ID))
	}
	confirmed, err := p.store.TransactionExists(p.store.DB(), tx.ID)
	if err != nil {
		return err
	}
	if confirmed {
		return txRuleError(RejectDuplicate, fmt.Sprintf("Transaction is already confirmed: %s", tx.ID))
	}
	if p.isExpired(tx, p.slots.RealTime(tx.Timestamp), p.timeSource.Now()) {
		return txRuleError(RejectExpired, fmt.Sprintf("Transaction %s is expired", tx.ID))
	}

	err = p.QueueTransaction(tx, true)
	if err != nil {
		return err
	}
	if broadcast && p.broadcast != nil {
		p.broadcast(tx)
	}
	return nil
}

// TransactionInPool returns whether the transaction with the given id is in
// any queue.
func (p *Pool) TransactionInPool(id string) bool {
	_, ok := p.WhatQueue(id)
	return ok
}

// WhatQueue returns the queue holding the transaction with the given id.
func (p *Pool) WhatQueue(id string) (QueueType, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.whatQueueNoLock(id)
}

func (p *Pool) whatQueueNoLock(id string) (QueueType, bool) {
	for _, queueType := range allQueueTypes {
		if p.queues[queueType].has(id) {
			return queueType, true
		}
	}
	return 0, false
}

// Get returns the pooled transaction with the given id.
func (p *Pool) Get(id string) (*model.Transaction, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	for _, queueType := range allQueueTypes {
		if e, ok := p.queues[queueType].get(id); ok {
			return e.tx, true
		}
	}
	return nil, false
}

// RemoveFromPool drops the transaction with the given id from every queue.
// It does not revert the unconfirmed state of the transaction.
func (p *Pool) RemoveFromPool(id string) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.removeNoLock(id)
}

func (p *Pool) removeNoLock(id string) bool {
	removed := false
	for _, queueType := range allQueueTypes {
		if _, ok := p.queues[queueType].remove(id); ok {
			removed = true
		}
	}
	return removed
}

// MoveTx moves the transaction with the given id between queues, keeping
// its payload.
func (p *Pool) MoveTx(id string, from, to QueueType) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.moveNoLock(id, from, to)
}

func (p *Pool) moveNoLock(id string, from, to QueueType) error {
	e, ok := p.queues[from].remove(id)
	if !ok {
		return errors.Errorf("transaction %s is not in the %s queue", id, from)
	}
	p.queues[to].add(e.tx, e.payload)
	return nil
}

// UnconfirmedIDs returns the ids of the unconfirmed transactions in the
// order they were applied.
func (p *Pool) UnconfirmedIDs() []string {
	txs := p.UnconfirmedList(0)
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return ids
}

// UnconfirmedList returns up to limit unconfirmed transactions in the order
// they were applied. A limit of zero or less returns all of them.
func (p *Pool) UnconfirmedList(limit int) []*model.Transaction {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return transactionsOf(p.queues[QueueUnconfirmed].list(limit, nil))
}

// Counts holds the size of every queue.
type Counts struct {
	Unconfirmed    int
	Bundled        int
	Queued         int
	Multisignature int
}

// Total returns the number of pooled transactions.
func (c Counts) Total() int {
	return c.Unconfirmed + c.Bundled + c.Queued + c.Multisignature
}

// Count returns the size of every queue.
func (p *Pool) Count() Counts {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return Counts{
		Unconfirmed:    p.queues[QueueUnconfirmed].count(),
		Bundled:        p.queues[QueueBundled].count(),
		Queued:         p.queues[QueueQueued].count(),
		Multisignature: p.queues[QueueMultisignature].count(),
	}
}

func isReady(e *entry) bool {
	return e.payload.Ready
}

// GetMergedTransactionList returns the transactions to share with peers:
// unconfirmed ones first, then ready multisignature ones, then queued ones.
// limit is capped by MaxSharedTxs.
func (p *Pool) GetMergedTransactionList(limit int) []*model.Transaction {
	if limit <= 0 || limit > p.cfg.MaxSharedTxs {
		limit = p.cfg.MaxSharedTxs
	}
	perQueue := func() int {
		if limit < p.cfg.MaxTxsPerBlock {
			return limit
		}
		return p.cfg.MaxTxsPerBlock
	}

	p.mtx.RLock()
	defer p.mtx.RUnlock()

	merged := transactionsOf(p.queues[QueueUnconfirmed].list(perQueue(), nil))
	limit -= len(merged)
	if limit <= 0 {
		return merged
	}
	multisignature := transactionsOf(p.queues[QueueMultisignature].list(perQueue(), isReady))
	merged = append(merged, multisignature...)
	limit -= len(multisignature)
	if limit <= 0 {
		return merged
	}
	return append(merged, transactionsOf(p.queues[QueueQueued].list(limit, nil))...)
}

// Start runs bundled processing and expiry in the background until Stop.
func (p *Pool) Start() {
	if atomic.AddInt32(&p.started, 1) != 1 {
		return
	}
	p.wg.Add(1)
	spawn("txpool.Pool.loop", p.loop)
}

// Stop stops the background loop and waits for it to exit.
func (p *Pool) Stop() {
	if atomic.AddInt32(&p.shutdown, 1) != 1 {
		return
	}
	close(p.quit)
	p.wg.Wait()
}

func (p *Pool) loop() {
	defer p.wg.Done()

	bundledTicker := time.NewTicker(p.cfg.ProcessBundledInterval)
	defer bundledTicker.Stop()
	expireTicker := time.NewTicker(p.cfg.ExpireInterval)
	defer expireTicker.Stop()

	for {
		select {
		case <-bundledTicker.C:
			p.ProcessBundled()
		case <-expireTicker.C:
			ids, err := p.ExpireTransactions()
			if err != nil {
				log.Errorf("Failed to expire transactions: %s", err)
			}
			if len(ids) > 0 {
				log.Infof("Expired %d transactions", len(ids))
			}
		case <-p.quit:
			return
		}
	}
}
