package dpos

import (
	"encoding/hex"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/hooks"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// Rounds keeps the per-delegate forging statistics and refreshes delegate
// votes at the end of every round.
type Rounds struct {
	params    *chainconfig.Params
	store     *ledger.Store
	delegates *Delegates
}

// NewRounds returns a Rounds.
func NewRounds(params *chainconfig.Params, store *ledger.Store, delegates *Delegates) *Rounds {
	return &Rounds{params: params, store: store, delegates: delegates}
}

// RegisterHooks subscribes r to block application and rollback.
func (r *Rounds) RegisterHooks(h *hooks.Hooks) {
	h.RegisterApplyBlockDBOps("rounds", func(ops []*ledger.DBOp, block, _ *model.Block) ([]*ledger.DBOp, error) {
		return append(ops, r.Tick(block)...), nil
	})
	h.RegisterRollbackBlockDBOps("rounds", func(ops []*ledger.DBOp, block, previous *model.Block) ([]*ledger.DBOp, error) {
		return append(ops, r.BackwardTick(block, previous)...), nil
	})
	h.RegisterOnBlockApplied("rounds", func(block *model.Block) error {
		if r.tallies(block.Height) {
			r.delegates.Purge()
		}
		return nil
	})
	h.RegisterOnDestroyBlock("rounds", func(block *model.Block) error {
		r.delegates.Purge()
		return nil
	})
}

func (r *Rounds) tallies(height uint64) bool {
	return height == 1 || IsLastOfRound(height, r.params.ActiveDelegates)
}

// Tick returns the ops accounting block to its generator, plus the round
// tally when block closes a round.
func (r *Rounds) Tick(block *model.Block) []*ledger.DBOp {
	ops := []*ledger.DBOp{r.generatorOp(block, 1)}
	if !r.tallies(block.Height) {
		return ops
	}
	round := RoundOf(block.Height, r.params.ActiveDelegates)
	return append(ops, ledger.CustomOp("finish round", func(accessor database.DataAccessor) error {
		return r.finishRound(accessor, round, block)
	}))
}

// BackwardTick returns the exact inverse of Tick(block).
func (r *Rounds) BackwardTick(block, previous *model.Block) []*ledger.DBOp {
	ops := []*ledger.DBOp{r.generatorOp(block, -1)}
	if !r.tallies(block.Height) {
		return ops
	}
	round := RoundOf(block.Height, r.params.ActiveDelegates)
	return append(ops, ledger.CustomOp("reopen round", func(accessor database.DataAccessor) error {
		return r.reopenRound(accessor, round, block)
	}))
}

func (r *Rounds) generatorOp(block *model.Block, direction int64) *ledger.DBOp {
	earned := block.TotalFee + block.Reward
	return ledger.UpsertAccount(model.AddressFromPublicKey(block.GeneratorPublicKey), map[string]interface{}{
		ledger.FieldPublicKey:      block.GeneratorPublicKey,
		ledger.FieldBalance:        ledger.Arithmetic{Field: ledger.FieldBalance, Delta: direction * earned},
		ledger.FieldUBalance:       ledger.Arithmetic{Field: ledger.FieldUBalance, Delta: direction * earned},
		ledger.FieldFees:           ledger.Arithmetic{Field: ledger.FieldFees, Delta: direction * block.TotalFee},
		ledger.FieldRewards:        ledger.Arithmetic{Field: ledger.FieldRewards, Delta: direction * block.Reward},
		ledger.FieldProducedBlocks: ledger.Arithmetic{Field: ledger.FieldProducedBlocks, Delta: direction},
	})
}

func (r *Rounds) finishRound(accessor database.DataAccessor, round uint64, block *model.Block) error {
	log.Debugf("Finishing round %d at block %s", round, block.ID)

	if block.Height > 1 {
		err := r.markMissedBlocks(accessor, round, block, 1)
		if err != nil {
			return err
		}
	}

	delegates, err := r.store.Delegates(accessor)
	if err != nil {
		return err
	}
	snapshot := make(map[string]int64, len(delegates))
	for _, delegate := range delegates {
		snapshot[delegate.Address] = delegate.Vote
	}
	err = r.store.SaveRoundVotes(accessor, round, snapshot)
	if err != nil {
		return err
	}

	votes, err := r.tallyVotes(accessor)
	if err != nil {
		return err
	}
	var ops []*ledger.DBOp
	for _, delegate := range delegates {
		vote := votes[hex.EncodeToString(delegate.PublicKey)]
		if vote == delegate.Vote {
			continue
		}
		ops = append(ops, ledger.UpdateAccount(delegate.Address, map[string]interface{}{ledger.FieldVote: vote}))
	}
	return r.store.PerformOps(accessor, ops)
}

func (r *Rounds) reopenRound(accessor database.DataAccessor, round uint64, block *model.Block) error {
	log.Debugf("Reopening round %d at block %s", round, block.ID)

	snapshot, err := r.store.RoundVotes(accessor, round)
	if err != nil {
		return err
	}
	delegates, err := r.store.Delegates(accessor)
	if err != nil {
		return err
	}
	var ops []*ledger.DBOp
	for _, delegate := range delegates {
		vote := snapshot[delegate.Address]
		if vote == delegate.Vote {
			continue
		}
		ops = append(ops, ledger.UpdateAccount(delegate.Address, map[string]interface{}{ledger.FieldVote: vote}))
	}
	err = r.store.PerformOps(accessor, ops)
	if err != nil {
		return err
	}
	err = r.store.DeleteRoundVotes(accessor, round)
	if err != nil {
		return err
	}

	if block.Height > 1 {
		return r.markMissedBlocks(accessor, round, block, -1)
	}
	return nil
}

// tallyVotes sums the confirmed balances of every voter per delegate public
// key.
func (r *Rounds) tallyVotes(accessor database.DataAccessor) (map[string]int64, error) {
	votes := make(map[string]int64)
	err := r.store.ForEachAccount(accessor, func(account *model.Account) error {
		for _, delegateKey := range account.Delegates {
			votes[delegateKey] += account.Balance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return votes, nil
}

// markMissedBlocks adds direction to the missed blocks of every delegate of
// round that forged none of its blocks. block is the last block of round
// and may not be stored yet.
func (r *Rounds) markMissedBlocks(accessor database.DataAccessor, round uint64, block *model.Block,
	direction int64) error {

	list, err := r.delegates.GenerateDelegateList(accessor, block.Height)
	if err != nil {
		return err
	}
	forgers, err := r.roundForgers(accessor, round, block)
	if err != nil {
		return err
	}

	var ops []*ledger.DBOp
	for _, key := range list {
		if _, ok := forgers[string(key)]; ok {
			continue
		}
		ops = append(ops, ledger.UpdateAccount(model.AddressFromPublicKey(key), map[string]interface{}{
			ledger.FieldMissedBlocks: ledger.Arithmetic{Field: ledger.FieldMissedBlocks, Delta: direction},
		}))
	}
	return r.store.PerformOps(accessor, ops)
}

func (r *Rounds) roundForgers(accessor database.DataAccessor, round uint64,
	block *model.Block) (map[string]struct{}, error) {

	forgers := map[string]struct{}{string(block.GeneratorPublicKey): {}}
	for height := FirstHeightOfRound(round, r.params.ActiveDelegates); height < block.Height; height++ {
		row, err := r.store.BlockByHeight(accessor, height)
		if err != nil {
			return nil, errors.Wrapf(err, "missing block %d of round %d", height, round)
		}
		forgers[string(row.Block.GeneratorPublicKey)] = struct{}{}
	}
	return forgers, nil
}
