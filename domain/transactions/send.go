package transactions

import (
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// sendType moves Amount from the sender to the recipient.
type sendType struct {
	baseType
	params *chainconfig.Params
}

func newSendType(params *chainconfig.Params) *sendType {
	return &sendType{params: params}
}

func (t *sendType) Type() model.TransactionType {
	return model.TransactionTypeSend
}

func (t *sendType) CalculateMinFee(*model.Transaction, *model.Account, uint64) int64 {
	return t.params.Fees.Send
}

func (t *sendType) Verify(_ database.DataAccessor, tx *model.Transaction, _ *model.Account) error {
	if tx.RecipientID == "" {
		return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Missing recipient")
	}
	if tx.Amount <= 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}
	return nil
}

func (t *sendType) Apply(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	_ *model.Account) ([]*ledger.DBOp, error) {

	return t.credit(tx, tx.Amount), nil
}

func (t *sendType) Undo(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	_ *model.Account) ([]*ledger.DBOp, error) {

	return t.credit(tx, -tx.Amount), nil
}

// credit moves amount into both balances of the recipient, creating it when
// it has never been seen.
func (t *sendType) credit(tx *model.Transaction, amount int64) []*ledger.DBOp {
	ops := []*ledger.DBOp{ledger.UpsertAccount(tx.RecipientID, nil)}
	return append(ops, ledger.MergeBalanceDiff(tx.RecipientID, map[string]interface{}{
		ledger.FieldBalance:  amount,
		ledger.FieldUBalance: amount,
	})...)
}

func (t *sendType) ApplyUnconfirmed(database.DataAccessor, *model.Transaction, *model.Account) ([]*ledger.DBOp, error) {
	return noOps()
}

func (t *sendType) UndoUnconfirmed(database.DataAccessor, *model.Transaction, *model.Account) ([]*ledger.DBOp, error) {
	return noOps()
}

func (t *sendType) ObjectNormalize(tx *model.Transaction) error {
	if tx.Asset != nil {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Send transactions carry no asset")
	}
	return nil
}

func (t *sendType) AssetBytes(*model.Transaction) ([]byte, error) {
	return nil, nil
}

func (t *sendType) ReadAssetFromBytes(data []byte) (interface{}, error) {
	if len(data) != 0 {
		return nil, errors.Errorf("unexpected %d asset bytes in a send transaction", len(data))
	}
	return nil, nil
}

func (t *sendType) AttachAssets([]*model.Transaction) error {
	return nil
}

func (t *sendType) MaxBytesSize() int {
	return 0
}
