// Package hooks holds the extension points of block application and
// rollback. Subscribers are kept in explicit ordered lists and invoked
// synchronously in registration order.
package hooks

import (
	"sync"

	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// BlockOpsFilter receives the DBOps computed so far for block and returns
// the ops to continue with. previous is the block before block.
type BlockOpsFilter func(ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error)

// PostApplyAction runs inside the database transaction of a block
// application. An error fails the whole application.
type PostApplyAction func(accessor database.DataAccessor, block *model.Block) error

// BlockAction is notified after a block was committed or deleted.
type BlockAction func(block *model.Block) error

// ForkCause names the kind of a detected fork.
type ForkCause uint8

// Fork causes.
const (
	// ForkDifferentPrevious is a received block at our next height whose
	// previous block differs from our last block.
	ForkDifferentPrevious ForkCause = 1

	// ForkSameHeight is a received block with our last block's previous
	// block and height, but another id.
	ForkSameHeight ForkCause = 5
)

// ForkAction is notified when a fork is detected.
type ForkAction func(block *model.Block, cause ForkCause) error

type namedFilter struct {
	name   string
	filter BlockOpsFilter
}

type namedAction struct {
	name   string
	action BlockAction
}

// Hooks is the registry of every extension point.
type Hooks struct {
	mtx sync.RWMutex

	applyBlockDBOps    []namedFilter
	rollbackBlockDBOps []namedFilter
	onPostApplyBlock   []PostApplyAction
	onBlockApplied     []namedAction
	onDestroyBlock     []namedAction
	onFork             []ForkAction
}

// New returns an empty Hooks.
func New() *Hooks {
	return &Hooks{}
}

// RegisterApplyBlockDBOps subscribes filter to the ops of every applied
// block.
func (h *Hooks) RegisterApplyBlockDBOps(name string, filter BlockOpsFilter) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.applyBlockDBOps = append(h.applyBlockDBOps, namedFilter{name: name, filter: filter})
}

// RegisterRollbackBlockDBOps subscribes filter to the ops of every rolled
// back block.
func (h *Hooks) RegisterRollbackBlockDBOps(name string, filter BlockOpsFilter) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.rollbackBlockDBOps = append(h.rollbackBlockDBOps, namedFilter{name: name, filter: filter})
}

// RegisterOnPostApplyBlock subscribes action to every block application.
func (h *Hooks) RegisterOnPostApplyBlock(action PostApplyAction) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.onPostApplyBlock = append(h.onPostApplyBlock, action)
}

// RegisterOnBlockApplied subscribes action to committed block applications.
func (h *Hooks) RegisterOnBlockApplied(name string, action BlockAction) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.onBlockApplied = append(h.onBlockApplied, namedAction{name: name, action: action})
}

// RegisterOnDestroyBlock subscribes action to committed block deletions.
func (h *Hooks) RegisterOnDestroyBlock(name string, action BlockAction) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.onDestroyBlock = append(h.onDestroyBlock, namedAction{name: name, action: action})
}

// RegisterOnFork subscribes action to detected forks.
func (h *Hooks) RegisterOnFork(action ForkAction) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.onFork = append(h.onFork, action)
}

// ApplyBlockDBOps threads ops through every apply filter. Nil ops returned
// by a filter are dropped.
func (h *Hooks) ApplyBlockDBOps(ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error) {
	h.mtx.RLock()
	filters := h.applyBlockDBOps
	h.mtx.RUnlock()
	return runFilters(filters, ops, block, previous)
}

// RollbackBlockDBOps threads ops through every rollback filter. Nil ops
// returned by a filter are dropped.
func (h *Hooks) RollbackBlockDBOps(ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error) {
	h.mtx.RLock()
	filters := h.rollbackBlockDBOps
	h.mtx.RUnlock()
	return runFilters(filters, ops, block, previous)
}

func runFilters(filters []namedFilter, ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error) {
	for _, f := range filters {
		var err error
		ops, err = f.filter(ops, block, previous)
		if err != nil {
			return nil, errors.Wrapf(err, "filter %s failed", f.name)
		}
		ops = compact(ops)
	}
	return ops, nil
}

func compact(ops []*ledger.DBOp) []*ledger.DBOp {
	result := make([]*ledger.DBOp, 0, len(ops))
	for _, op := range ops {
		if op != nil {
			result = append(result, op)
		}
	}
	return result
}

// OnPostApplyBlock runs every post-apply action inside the block's
// database transaction. The first failure is returned.
func (h *Hooks) OnPostApplyBlock(accessor database.DataAccessor, block *model.Block) error {
	h.mtx.RLock()
	actions := h.onPostApplyBlock
	h.mtx.RUnlock()
	for _, action := range actions {
		err := action(accessor, block)
		if err != nil {
			return err
		}
	}
	return nil
}

// OnBlockApplied notifies the subscribers of a committed block. Failures
// are logged only.
func (h *Hooks) OnBlockApplied(block *model.Block) {
	h.mtx.RLock()
	actions := h.onBlockApplied
	h.mtx.RUnlock()
	runActions("OnBlockApplied", actions, block)
}

// OnDestroyBlock notifies the subscribers of a deleted block. Failures are
// logged only.
func (h *Hooks) OnDestroyBlock(block *model.Block) {
	h.mtx.RLock()
	actions := h.onDestroyBlock
	h.mtx.RUnlock()
	runActions("OnDestroyBlock", actions, block)
}

func runActions(point string, actions []namedAction, block *model.Block) {
	for _, a := range actions {
		err := a.action(block)
		if err != nil {
			log.Errorf("%s subscriber %s failed for block %s: %+v", point, a.name, block.ID, err)
		}
	}
}

// OnFork notifies the subscribers of a fork. Failures are logged only.
func (h *Hooks) OnFork(block *model.Block, cause ForkCause) {
	h.mtx.RLock()
	actions := h.onFork
	h.mtx.RUnlock()
	for _, action := range actions {
		err := action(block, cause)
		if err != nil {
			log.Errorf("OnFork subscriber failed for block %s: %+v", block.ID, err)
		}
	}
}
