package transactions

import (
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
)

// TransactionType holds the rules of one kind of transaction. Apply and
// Undo work on confirmed account fields; ApplyUnconfirmed and
// UndoUnconfirmed work on their unconfirmed shadows. The returned ops only
// cover the type specific effects; the Registry adds the balance effects
// shared by every type.
type TransactionType interface {
	Type() model.TransactionType

	CalculateMinFee(tx *model.Transaction, sender *model.Account, height uint64) int64

	Verify(accessor database.DataAccessor, tx *model.Transaction, sender *model.Account) error

	// FindConflicts returns the transactions of txs that cannot be
	// included in the same block as an earlier one of txs.
	FindConflicts(txs []*model.Transaction) []*model.Transaction

	Apply(accessor database.DataAccessor, tx *model.Transaction, block *model.Block,
		sender *model.Account) ([]*ledger.DBOp, error)
	Undo(accessor database.DataAccessor, tx *model.Transaction, block *model.Block,
		sender *model.Account) ([]*ledger.DBOp, error)
	ApplyUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
		sender *model.Account) ([]*ledger.DBOp, error)
	UndoUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
		sender *model.Account) ([]*ledger.DBOp, error)

	ObjectNormalize(tx *model.Transaction) error

	AssetBytes(tx *model.Transaction) ([]byte, error)
	ReadAssetFromBytes(data []byte) (interface{}, error)

	// DBSave returns the ops storing type specific data of a confirmed
	// transaction besides its row.
	DBSave(tx *model.Transaction) []*ledger.DBOp
	AfterSave(tx *model.Transaction) error

	// Ready returns whether tx carries enough signatures to be included in
	// a block.
	Ready(tx *model.Transaction, sender *model.Account) bool

	AttachAssets(txs []*model.Transaction) error

	// MaxBytesSize returns the largest asset this type serializes to.
	MaxBytesSize() int
}

// baseType holds the defaults shared by the transaction types.
type baseType struct{}

func (baseType) FindConflicts([]*model.Transaction) []*model.Transaction {
	return nil
}

func (baseType) DBSave(*model.Transaction) []*ledger.DBOp {
	return nil
}

func (baseType) AfterSave(*model.Transaction) error {
	return nil
}

func (baseType) Ready(*model.Transaction, *model.Account) bool {
	return true
}

func noOps() ([]*ledger.DBOp, error) {
	return nil, nil
}
