package blocks

import (
	"bytes"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// Verifier checks blocks against the consensus rules.
type Verifier struct {
	params    *chainconfig.Params
	store     *ledger.Store
	logic     *Logic
	delegates *dpos.Delegates
}

// NewVerifier returns a Verifier.
func NewVerifier(params *chainconfig.Params, store *ledger.Store, logic *Logic, delegates *dpos.Delegates) *Verifier {
	return &Verifier{params: params, store: store, logic: logic, delegates: delegates}
}

// checkBlockSanity runs the checks that depend on block alone.
func (v *Verifier) checkBlockSanity(block *model.Block) error {
	err := v.logic.ObjectNormalize(block)
	if err != nil {
		return err
	}
	if block.Version != BlockVersion {
		return errors.Wrapf(ruleerrors.ErrInvalidVersion, "Invalid block version %d", block.Version)
	}
	if block.Height != 1 && block.PreviousBlockID == "" {
		return errors.Wrapf(ruleerrors.ErrInvalidPreviousBlock, "Invalid previous block")
	}
	if reward := v.logic.CalculateReward(block.Height); block.Reward != reward {
		return errors.Wrapf(ruleerrors.ErrInvalidReward, "Invalid block reward: %d expected: %d",
			block.Reward, reward)
	}
	id, err := v.logic.ID(block)
	if err != nil {
		return err
	}
	if block.ID != id {
		return errors.Wrapf(ruleerrors.ErrInvalidBlockID, "Block id %s is corrupted, expected %s", block.ID, id)
	}
	valid, err := v.logic.VerifySignature(block)
	if err != nil {
		return err
	}
	if !valid {
		return errors.Wrapf(ruleerrors.ErrBadSignature, "Failed to verify block signature")
	}
	return v.checkPayload(block)
}

func (v *Verifier) checkPayload(block *model.Block) error {
	if block.PayloadLength > uint32(v.params.MaxPayloadLength) {
		return errors.Wrapf(ruleerrors.ErrPayload, "Payload length is too long")
	}
	if len(block.Transactions) > v.params.MaxTxsPerBlock {
		return errors.Wrapf(ruleerrors.ErrPayload, "Number of transactions exceeds maximum per block")
	}

	seen := make(map[string]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		if _, ok := seen[tx.ID]; ok {
			return errors.Wrapf(ruleerrors.ErrDuplicateTx, "Encountered duplicate transaction: %s", tx.ID)
		}
		seen[tx.ID] = struct{}{}
	}

	p, err := v.logic.computePayload(block.Transactions)
	if err != nil {
		return err
	}
	if !bytes.Equal(p.hash, block.PayloadHash) {
		return errors.Wrapf(ruleerrors.ErrPayload, "Invalid payload hash")
	}
	if p.length != block.PayloadLength {
		return errors.Wrapf(ruleerrors.ErrPayload, "Invalid payload length")
	}
	if p.totalAmount != block.TotalAmount {
		return errors.Wrapf(ruleerrors.ErrPayload, "Invalid total amount")
	}
	if p.totalFee != block.TotalFee {
		return errors.Wrapf(ruleerrors.ErrPayload, "Invalid total fee")
	}
	return nil
}

// VerifyReceipt checks a block received from the network before it is
// compared with the last block: its sanity and its slot window.
func (v *Verifier) VerifyReceipt(block *model.Block) error {
	err := v.checkBlockSanity(block)
	if err != nil {
		return err
	}
	return v.delegates.VerifyBlockSlotWindow(block)
}

// VerifyBlock checks that block can extend lastBlock.
func (v *Verifier) VerifyBlock(accessor database.DataAccessor, block, lastBlock *model.Block) error {
	err := v.checkBlockSanity(block)
	if err != nil {
		return err
	}
	if block.PreviousBlockID != lastBlock.ID {
		return errors.Wrapf(ruleerrors.ErrInvalidPreviousBlock,
			"Invalid previous block: %s expected: %s", block.PreviousBlockID, lastBlock.ID)
	}
	if block.Height != lastBlock.Height+1 {
		return errors.Wrapf(ruleerrors.ErrInvalidHeight,
			"Invalid block height: %d expected: %d", block.Height, lastBlock.Height+1)
	}
	err = v.delegates.VerifyBlockSlot(block, lastBlock)
	if err != nil {
		return err
	}
	exists, err := v.store.BlockExists(accessor, block.ID)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(ruleerrors.ErrDuplicateBlock, "Block %s already exists", block.ID)
	}
	return v.delegates.AssertValidBlockSlot(accessor, block)
}
