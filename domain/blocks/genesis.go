package blocks

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// GenesisAccountKeyPair returns the key pair of the account credited with
// the total supply of the network.
func GenesisAccountKeyPair(params *chainconfig.Params) (*keys.KeyPair, error) {
	return keys.FromMnemonic(params.Genesis.Mnemonic)
}

func genesisSeed(params *chainconfig.Params, suffix ...byte) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(params.Genesis.Mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid genesis mnemonic")
	}
	return append(seed, suffix...), nil
}

// genesisIssuerKeyPair signs the genesis block and funds the genesis
// account. Its balance is the negated total supply.
func genesisIssuerKeyPair(params *chainconfig.Params) (*keys.KeyPair, error) {
	seed, err := genesisSeed(params, []byte("issuer")...)
	if err != nil {
		return nil, err
	}
	return keys.FromSeed(seed)
}

// GenesisDelegateKeyPair returns the key pair of the index-th delegate
// registered in the genesis block.
func GenesisDelegateKeyPair(params *chainconfig.Params, index int) (*keys.KeyPair, error) {
	if index < 0 || index >= params.Genesis.Delegates {
		return nil, errors.Errorf("genesis delegate index %d out of range [0, %d)", index, params.Genesis.Delegates)
	}
	seed, err := genesisSeed(params, 'd', byte(index>>8), byte(index))
	if err != nil {
		return nil, err
	}
	return keys.FromSeed(seed)
}

// GenesisDelegateUsername returns the username of the index-th genesis
// delegate.
func GenesisDelegateUsername(index int) string {
	return fmt.Sprintf("genesis_%d", index+1)
}

// BuildGenesisBlock derives the genesis block of params. The same params
// always yield the same block id.
func BuildGenesisBlock(params *chainconfig.Params, registry *transactions.Registry, logic *Logic) (*model.Block, error) {
	issuer, err := genesisIssuerKeyPair(params)
	if err != nil {
		return nil, err
	}
	account, err := GenesisAccountKeyPair(params)
	if err != nil {
		return nil, err
	}

	txs := []*model.Transaction{{
		Type:        model.TransactionTypeSend,
		Timestamp:   params.Genesis.Timestamp,
		RecipientID: model.AddressFromPublicKey(account.PublicKey),
		Amount:      params.Genesis.TotalAmount,
	}}
	signers := []*keys.KeyPair{issuer}
	for i := 0; i < params.Genesis.Delegates; i++ {
		delegate, err := GenesisDelegateKeyPair(params, i)
		if err != nil {
			return nil, err
		}
		address := model.AddressFromPublicKey(delegate.PublicKey)
		txs = append(txs, &model.Transaction{
			Type:      model.TransactionTypeDelegate,
			Timestamp: params.Genesis.Timestamp,
			Asset:     &model.DelegateAsset{Username: GenesisDelegateUsername(i)},
		}, &model.Transaction{
			Type:        model.TransactionTypeVote,
			Timestamp:   params.Genesis.Timestamp,
			RecipientID: address,
			Asset:       &model.VoteAsset{Votes: []string{"+" + hex.EncodeToString(delegate.PublicKey)}},
		})
		signers = append(signers, delegate, delegate)
	}
	for i, tx := range txs {
		err := registry.Sign(signers[i], tx)
		if err != nil {
			return nil, err
		}
		tx.Height = 1
	}
	sortForBlock(txs)

	p, err := logic.computePayload(txs)
	if err != nil {
		return nil, err
	}
	block := &model.Block{
		Version:              BlockVersion,
		Height:               1,
		Timestamp:            params.Genesis.Timestamp,
		NumberOfTransactions: uint32(len(txs)),
		TotalAmount:          p.totalAmount,
		TotalFee:             p.totalFee,
		Reward:               logic.CalculateReward(1),
		PayloadLength:        p.length,
		PayloadHash:          p.hash,
		Transactions:         txs,
	}
	err = logic.Sign(issuer, block)
	if err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions {
		tx.BlockID = block.ID
	}
	return block, nil
}

// genesisOrder returns the transactions of block with votes last, since a
// vote needs its delegate registered.
func genesisOrder(block *model.Block) []*model.Transaction {
	ordered := make([]*model.Transaction, len(block.Transactions))
	copy(ordered, block.Transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		iVote := ordered[i].Type == model.TransactionTypeVote
		jVote := ordered[j].Type == model.TransactionTypeVote
		return !iVote && jVote
	})
	return ordered
}

// Bootstrap prepares the chain for use. A stored chain is checked against
// the genesis block and its last block is loaded. An empty store gets the
// genesis block saved and applied atomically.
func (c *Chain) Bootstrap() error {
	storedID, err := c.store.BlockIDByHeight(c.store.DB(), 1)
	if err != nil && !database.IsNotFoundError(err) {
		return err
	}
	if err == nil {
		if storedID != c.genesis.ID {
			return errors.Errorf("the stored genesis block %s does not match the network genesis block %s",
				storedID, c.genesis.ID)
		}
		lastBlock, err := c.LoadLastBlock()
		if err != nil {
			return err
		}
		log.Infof("Loaded chain with last block %s at height %d", lastBlock.ID, lastBlock.Height)
		return nil
	}

	log.Infof("Applying genesis block %s", c.genesis.ID)
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()
	return c.applyGenesisNoLock(c.genesis, true)
}

// SaveGenesisBlock stores the genesis block row unless it is stored
// already. It does not touch account state.
func (c *Chain) SaveGenesisBlock() error {
	exists, err := c.store.BlockExists(c.store.DB(), c.genesis.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	dbTx, err := c.store.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()
	err = c.saveBlock(dbTx, c.genesis)
	if err != nil {
		return err
	}
	return dbTx.Commit()
}

// ApplyGenesisBlock applies the state changes of block as the first block
// of the chain. Balance checks do not apply to it.
func (c *Chain) ApplyGenesisBlock(block *model.Block) error {
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()
	return c.applyGenesisNoLock(block, false)
}

func (c *Chain) applyGenesisNoLock(block *model.Block, saveBlock bool) error {
	if block.Height != 1 {
		return errors.Errorf("block %s at height %d is not a genesis block", block.ID, block.Height)
	}
	dbTx, err := c.store.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()
	recorder := &opsRecorder{store: c.store, accessor: dbTx}

	for _, tx := range genesisOrder(block) {
		tx.Height = 1
		if tx.RecipientID != "" {
			err := recorder.perform([]*ledger.DBOp{ledger.UpsertAccount(tx.RecipientID, nil)})
			if err != nil {
				return err
			}
		}
		sender, err := c.sender(dbTx, tx, nil)
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
		sender, err = c.sender(dbTx, tx, nil)
		if err != nil {
			return err
		}
		ops, err = c.registry.Apply(dbTx, tx, block, sender)
		if err != nil {
			return err
		}
		err = recorder.perform(ops)
		if err != nil {
			return err
		}
	}

	err = recorder.performFiltered(c.hooks.ApplyBlockDBOps, block, nil)
	if err != nil {
		return err
	}
	if saveBlock {
		err = c.saveBlock(dbTx, block)
		if err != nil {
			return err
		}
	}
	err = c.hooks.OnPostApplyBlock(dbTx, block)
	if err != nil {
		return err
	}
	err = dbTx.Commit()
	if err != nil {
		return err
	}

	c.setLastBlock(block)
	c.hooks.OnBlockApplied(c.LastBlock())
	return nil
}
