package transactions

import (
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// secondSignatureType registers a second public key that must co-sign every
// later transaction of the sender.
type secondSignatureType struct {
	baseType
	params *chainconfig.Params
}

func newSecondSignatureType(params *chainconfig.Params) *secondSignatureType {
	return &secondSignatureType{params: params}
}

func (t *secondSignatureType) Type() model.TransactionType {
	return model.TransactionTypeSecondSignature
}

func (t *secondSignatureType) CalculateMinFee(*model.Transaction, *model.Account, uint64) int64 {
	return t.params.Fees.SecondSignature
}

func signatureAsset(tx *model.Transaction) (*model.SignatureAsset, error) {
	asset, ok := tx.Asset.(*model.SignatureAsset)
	if !ok || asset == nil {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid transaction asset")
	}
	return asset, nil
}

func (t *secondSignatureType) Verify(_ database.DataAccessor, tx *model.Transaction, _ *model.Account) error {
	asset, err := signatureAsset(tx)
	if err != nil {
		return err
	}
	if tx.RecipientID != "" {
		return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient")
	}
	if tx.Amount != 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}
	if len(asset.PublicKey) != keys.PublicKeySize {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid public key")
	}
	return nil
}

// FindConflicts keeps the first registration of every sender.
func (t *secondSignatureType) FindConflicts(txs []*model.Transaction) []*model.Transaction {
	return laterDuplicates(txs, func(tx *model.Transaction) string {
		return tx.SenderID
	})
}

func (t *secondSignatureType) Apply(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := signatureAsset(tx)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldSecondPublicKey:  asset.PublicKey,
		ledger.FieldSecondSignature:  true,
		ledger.FieldUSecondSignature: false,
	})}, nil
}

func (t *secondSignatureType) Undo(_ database.DataAccessor, _ *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldSecondPublicKey:  []byte(nil),
		ledger.FieldSecondSignature:  false,
		ledger.FieldUSecondSignature: true,
	})}, nil
}

func (t *secondSignatureType) ApplyUnconfirmed(_ database.DataAccessor, _ *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	if sender.USecondSignature || sender.SecondSignature {
		return nil, errors.Wrapf(ruleerrors.ErrSecondSignature, "Second signature already enabled")
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUSecondSignature: true,
	})}, nil
}

func (t *secondSignatureType) UndoUnconfirmed(_ database.DataAccessor, _ *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUSecondSignature: false,
	})}, nil
}

func (t *secondSignatureType) ObjectNormalize(tx *model.Transaction) error {
	asset, err := signatureAsset(tx)
	if err != nil {
		return err
	}
	if len(asset.PublicKey) != keys.PublicKeySize {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid public key")
	}
	return nil
}

func (t *secondSignatureType) AssetBytes(tx *model.Transaction) ([]byte, error) {
	asset, err := signatureAsset(tx)
	if err != nil {
		return nil, err
	}
	return asset.PublicKey, nil
}

func (t *secondSignatureType) ReadAssetFromBytes(data []byte) (interface{}, error) {
	if len(data) != keys.PublicKeySize {
		return nil, errors.Errorf("second signature asset of %d bytes", len(data))
	}
	publicKey := make([]byte, len(data))
	copy(publicKey, data)
	return &model.SignatureAsset{PublicKey: publicKey}, nil
}

func (t *secondSignatureType) AttachAssets(txs []*model.Transaction) error {
	return requireAssets(txs, "signatures")
}

func (t *secondSignatureType) MaxBytesSize() int {
	return keys.PublicKeySize
}
