package txpool

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/pkg/errors"
)

// isExpired returns whether tx, received at receivedAt, outlived its
// timeout at now. Multisignature registrations live for their lifetime in
// hours, and transactions collecting cosigner signatures live longer than
// plain ones.
func (p *Pool) isExpired(tx *model.Transaction, receivedAt, now time.Time) bool {
	timeout := p.cfg.UnconfirmedTimeout
	if asset, ok := tx.Asset.(*model.MultisignatureAsset); ok && tx.Type == model.TransactionTypeMultisignature {
		timeout = time.Duration(asset.Lifetime) * time.Hour
	} else if len(tx.Signatures) > 0 {
		timeout *= signedTimeoutMultiplier
	}
	return now.Sub(receivedAt) > timeout
}

// applyUnconfirmed verifies tx against the current state and applies it as
// unconfirmed in its own database transaction.
func (p *Pool) applyUnconfirmed(tx *model.Transaction) error {
	dbTx, err := p.store.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	confirmed, err := p.store.TransactionExists(dbTx, tx.ID)
	if err != nil {
		return err
	}
	if confirmed {
		return txRuleError(RejectDuplicate, fmt.Sprintf("Transaction is already confirmed: %s", tx.ID))
	}
	sender, err := p.sender(dbTx, tx)
	if err != nil {
		return err
	}
	height, err := p.nextHeight(dbTx)
	if err != nil {
		return err
	}
	err = p.registry.Verify(dbTx, tx, sender, height)
	if err != nil {
		return RuleError{Err: err}
	}
	ready, err := p.registry.Ready(tx, sender)
	if err != nil {
		return RuleError{Err: err}
	}
	if !ready {
		return RuleError{Err: errors.Wrapf(ruleerrors.ErrMultisignature,
			"Transaction %s is missing cosigner signatures", tx.ID)}
	}

	ops, err := p.registry.ApplyUnconfirmed(dbTx, tx, sender)
	if err != nil {
		return RuleError{Err: err}
	}
	err = p.store.PerformOps(dbTx, ops)
	if err == nil {
		err = dbTx.Commit()
	}
	if err != nil {
		// Reset the in-memory pending flags set by ApplyUnconfirmed.
		if _, undoErr := p.registry.UndoUnconfirmed(dbTx, tx, sender); undoErr != nil {
			log.Warnf("Failed to reset pending state of transaction %s: %s", tx.ID, undoErr)
		}
		return err
	}
	return nil
}

// ApplyUnconfirmedList applies txs as unconfirmed in order and moves each
// applied one to the unconfirmed queue. Transactions that fail are dropped
// from the pool. It returns the ids of the applied transactions.
func (p *Pool) ApplyUnconfirmedList(txs []*model.Transaction) []string {
	p.balancesLock.LowPriorityLock()
	defer p.balancesLock.LowPriorityUnlock()

	applied := make([]string, 0, len(txs))
	for _, tx := range txs {
		if queueType, ok := p.WhatQueue(tx.ID); ok && queueType == QueueUnconfirmed {
			continue
		}
		err := p.applyUnconfirmed(tx)
		if err != nil {
			log.Debugf("Failed to apply unconfirmed transaction %s: %s", tx.ID, err)
			p.RemoveFromPool(tx.ID)
			continue
		}
		p.markUnconfirmed(tx)
		applied = append(applied, tx.ID)
	}
	return applied
}

// markUnconfirmed moves tx to the unconfirmed queue from wherever it waits.
func (p *Pool) markUnconfirmed(tx *model.Transaction) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	queueType, ok := p.whatQueueNoLock(tx.ID)
	if !ok {
		p.queues[QueueUnconfirmed].add(tx, Payload{ReceivedAt: p.timeSource.Now(), Ready: true})
		return
	}
	err := p.moveNoLock(tx.ID, queueType, QueueUnconfirmed)
	if err != nil {
		log.Errorf("Failed to move transaction %s to the unconfirmed queue: %s", tx.ID, err)
	}
}

// FillPool promotes ready multisignature transactions and then queued ones
// to the unconfirmed queue until it holds a block worth of transactions.
func (p *Pool) FillPool() []string {
	if p.syncing != nil && p.syncing() {
		log.Debugf("Skipping pool fill while syncing")
		return nil
	}

	p.mtx.RLock()
	spare := p.cfg.MaxTxsPerBlock - p.queues[QueueUnconfirmed].count()
	var candidates []*model.Transaction
	if spare > 0 {
		candidates = transactionsOf(p.queues[QueueMultisignature].list(spare, isReady))
		if remaining := spare - len(candidates); remaining > 0 {
			candidates = append(candidates, transactionsOf(p.queues[QueueQueued].list(remaining, nil))...)
		}
	}
	p.mtx.RUnlock()

	if len(candidates) == 0 {
		return nil
	}
	applied := p.ApplyUnconfirmedList(candidates)
	log.Debugf("Filled the pool with %d of %d candidate transactions", len(applied), len(candidates))
	return applied
}

// ProcessBundled verifies up to BundleLimit bundled transactions and moves
// the valid ones to the queued or multisignature queue.
func (p *Pool) ProcessBundled() {
	p.mtx.RLock()
	bundled := transactionsOf(p.queues[QueueBundled].list(p.cfg.BundleLimit, nil))
	p.mtx.RUnlock()

	for _, tx := range bundled {
		target, payload, err := p.verifyBundled(tx)
		if err != nil {
			log.Debugf("Dropping bundled transaction %s: %s", tx.ID, err)
			p.RemoveFromPool(tx.ID)
			continue
		}
		p.promoteBundled(tx, target, payload)
	}
}

func (p *Pool) verifyBundled(tx *model.Transaction) (QueueType, Payload, error) {
	accessor := p.store.DB()
	confirmed, err := p.store.TransactionExists(accessor, tx.ID)
	if err != nil {
		return 0, Payload{}, err
	}
	if confirmed {
		return 0, Payload{}, txRuleError(RejectDuplicate, fmt.Sprintf("Transaction is already confirmed: %s", tx.ID))
	}
	sender, err := p.sender(accessor, tx)
	if err != nil {
		return 0, Payload{}, err
	}
	height, err := p.nextHeight(accessor)
	if err != nil {
		return 0, Payload{}, err
	}
	err = p.registry.Verify(accessor, tx, sender, height)
	if err != nil {
		return 0, Payload{}, RuleError{Err: err}
	}
	return p.classify(tx, sender)
}

func (p *Pool) promoteBundled(tx *model.Transaction, target QueueType, payload Payload) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	e, ok := p.queues[QueueBundled].get(tx.ID)
	if !ok {
		return
	}
	if p.queues[target].count() >= p.cfg.MaxTxsPerQueue {
		log.Debugf("Dropping bundled transaction %s: the %s queue is full", tx.ID, target)
		p.queues[QueueBundled].remove(tx.ID)
		return
	}
	payload.ReceivedAt = e.payload.ReceivedAt
	p.queues[QueueBundled].remove(tx.ID)
	p.queues[target].add(tx, payload)
}

// ExpireTransactions drops the transactions that outlived their timeout,
// reverting the unconfirmed state of expired unconfirmed ones. It returns
// the ids of the dropped transactions.
func (p *Pool) ExpireTransactions() ([]string, error) {
	p.balancesLock.LowPriorityLock()
	defer p.balancesLock.LowPriorityUnlock()

	now := p.timeSource.Now()
	expiredFilter := func(e *entry) bool {
		return p.isExpired(e.tx, e.payload.ReceivedAt, now)
	}

	p.mtx.RLock()
	expired := make(map[QueueType][]*model.Transaction, len(allQueueTypes))
	for _, queueType := range allQueueTypes {
		expired[queueType] = transactionsOf(p.queues[queueType].list(0, expiredFilter))
	}
	p.mtx.RUnlock()

	if len(expired[QueueUnconfirmed]) > 0 {
		err := p.undoUnconfirmed(expired[QueueUnconfirmed])
		if err != nil {
			return nil, err
		}
	}

	var ids []string
	for _, queueType := range allQueueTypes {
		for _, tx := range expired[queueType] {
			if p.RemoveFromPool(tx.ID) {
				log.Debugf("Expired transaction %s from the %s queue", tx.ID, queueType)
				ids = append(ids, tx.ID)
			}
		}
	}
	return ids, nil
}

// undoUnconfirmed reverts the unconfirmed state of txs, latest first, in a
// single database transaction.
func (p *Pool) undoUnconfirmed(txs []*model.Transaction) error {
	dbTx, err := p.store.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		sender, err := p.sender(dbTx, tx)
		if err != nil {
			return err
		}
		ops, err := p.registry.UndoUnconfirmed(dbTx, tx, sender)
		if err != nil {
			return err
		}
		err = p.store.PerformOps(dbTx, ops)
		if err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// RequeueUnconfirmed moves the unconfirmed transactions with the given ids
// back to the queue they wait in before promotion. Their unconfirmed state
// must already be reverted.
func (p *Pool) RequeueUnconfirmed(ids []string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, id := range ids {
		e, ok := p.queues[QueueUnconfirmed].get(id)
		if !ok {
			continue
		}
		target := QueueQueued
		if e.tx.Type == model.TransactionTypeMultisignature || len(e.tx.Signatures) > 0 {
			target = QueueMultisignature
		}
		err := p.moveNoLock(id, QueueUnconfirmed, target)
		if err != nil {
			log.Errorf("Failed to requeue transaction %s: %s", id, err)
		}
	}
}

// ReturnToPool queues txs of a reverted block so they can be confirmed
// again. Transactions the pool rejects are dropped.
func (p *Pool) ReturnToPool(txs []*model.Transaction) {
	for _, tx := range txs {
		clone := tx.Clone()
		clone.BlockID = ""
		clone.Height = 0
		err := p.QueueTransaction(clone, false)
		if err != nil {
			log.Debugf("Failed to return transaction %s to the pool: %s", tx.ID, err)
		}
	}
}

// AddSignature adds a cosigner signature to the pooled multisignature
// transaction with the given id.
func (p *Pool) AddSignature(txID string, signature []byte) error {
	p.mtx.RLock()
	e, ok := p.queues[QueueMultisignature].get(txID)
	p.mtx.RUnlock()
	if !ok {
		return errors.Errorf("transaction %s is not waiting for signatures", txID)
	}
	tx := e.tx

	for _, existing := range tx.Signatures {
		if bytes.Equal(existing, signature) {
			return RuleError{Err: errors.Wrapf(ruleerrors.ErrMultisignature,
				"Signature already exists in transaction %s", txID)}
		}
	}
	sender, err := p.sender(p.store.DB(), tx)
	if err != nil {
		return err
	}
	publicKeys, err := p.registry.CosignerKeys(tx, sender)
	if err != nil {
		return RuleError{Err: err}
	}
	verified := false
	for _, publicKey := range publicKeys {
		verified, err = p.registry.VerifySignature(tx, publicKey, signature)
		if err != nil {
			return err
		}
		if verified {
			break
		}
	}
	if !verified {
		return RuleError{Err: errors.Wrapf(ruleerrors.ErrMultisignature,
			"Failed to verify signature for transaction %s", txID)}
	}

	signed := tx.Clone()
	signed.Signatures = append(signed.Signatures, signature)
	ready, err := p.registry.Ready(signed, sender)
	if err != nil {
		return RuleError{Err: err}
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	current, ok := p.queues[QueueMultisignature].get(txID)
	if !ok || current.tx != tx {
		return errors.Errorf("transaction %s changed while adding a signature", txID)
	}
	current.tx = signed
	current.payload.Ready = ready
	log.Debugf("Added signature to transaction %s, ready: %t", txID, ready)
	return nil
}
