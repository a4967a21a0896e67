package transactions

import (
	"bytes"
	"encoding/hex"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// multisignatureType turns the sender into a multisignature account whose
// transactions need Min cosigner signatures within Lifetime hours.
type multisignatureType struct {
	baseType
	params   *chainconfig.Params
	registry *Registry

	// pending holds the senders with a registration applied as unconfirmed.
	pending *pendingSet
}

func newMultisignatureType(params *chainconfig.Params, registry *Registry) *multisignatureType {
	return &multisignatureType{
		params:   params,
		registry: registry,
		pending:  newPendingSet(),
	}
}

func (t *multisignatureType) Type() model.TransactionType {
	return model.TransactionTypeMultisignature
}

func (t *multisignatureType) CalculateMinFee(tx *model.Transaction, _ *model.Account, _ uint64) int64 {
	return t.params.Fees.Multisignature
}

func multisignatureAsset(tx *model.Transaction) (*model.MultisignatureAsset, error) {
	asset, ok := tx.Asset.(*model.MultisignatureAsset)
	if !ok || asset == nil {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid transaction asset")
	}
	return asset, nil
}

func (t *multisignatureType) Verify(_ database.DataAccessor, tx *model.Transaction, sender *model.Account) error {
	asset, err := multisignatureAsset(tx)
	if err != nil {
		return err
	}
	if len(asset.Keysgroup) == 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid multisignature keysgroup. Must not be empty")
	}
	if len(asset.Keysgroup) > t.params.MultisigKeysgroupMax {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset,
			"Invalid multisignature keysgroup. Must not contain more than %d keys", t.params.MultisigKeysgroupMax)
	}
	for _, key := range asset.Keysgroup {
		if len(key) != 1+2*keys.PublicKeySize {
			return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid member in keysgroup")
		}
	}

	minRange, lifetimeRange := t.params.MultisigMinRange, t.params.MultisigLifetimeRange
	if int(asset.Min) < minRange[0] || int(asset.Min) > minRange[1] {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid multisignature min. Must be between %d and %d",
			minRange[0], minRange[1])
	}
	if int(asset.Min) > len(asset.Keysgroup) {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset,
			"Invalid multisignature min. Must be less than or equal to keysgroup size")
	}
	if int(asset.Lifetime) < lifetimeRange[0] || int(asset.Lifetime) > lifetimeRange[1] {
		return errors.Wrapf(ruleerrors.ErrInvalidAsset,
			"Invalid multisignature lifetime. Must be between %d and %d", lifetimeRange[0], lifetimeRange[1])
	}
	if tx.RecipientID != "" {
		return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient")
	}
	if tx.Amount != 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}

	if t.Ready(tx, sender) {
		err := t.verifyKeysgroupSignatures(tx, asset)
		if err != nil {
			return err
		}
	}

	senderKey := "+" + hex.EncodeToString(tx.SenderPublicKey)
	seen := make(map[string]struct{}, len(asset.Keysgroup))
	for _, key := range asset.Keysgroup {
		if key == senderKey {
			return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid multisignature keysgroup. Cannot contain sender")
		}
		if key[0] != '+' {
			return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid math operator in multisignature keysgroup")
		}
		if _, err := decodeHexKey(key[1:]); err != nil {
			return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid publicKey in multisignature keysgroup")
		}
		if _, ok := seen[key]; ok {
			return errors.Wrapf(ruleerrors.ErrInvalidAsset,
				"Encountered duplicate public key in multisignature keysgroup")
		}
		seen[key] = struct{}{}
	}
	return nil
}

// verifyKeysgroupSignatures checks that every member of the keysgroup
// cosigned the registration.
func (t *multisignatureType) verifyKeysgroupSignatures(tx *model.Transaction, asset *model.MultisignatureAsset) error {
	for _, key := range asset.Keysgroup {
		valid := false
		if key[0] == '+' || key[0] == '-' {
			publicKey, err := hex.DecodeString(key[1:])
			if err != nil {
				return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid publicKey in multisignature keysgroup")
			}
			for _, signature := range tx.Signatures {
				valid, err = t.registry.VerifySignature(tx, publicKey, signature)
				if err != nil {
					return err
				}
				if valid {
					break
				}
			}
		}
		if !valid {
			return errors.Wrapf(ruleerrors.ErrMultisignature, "Failed to verify signature in multisignature keysgroup")
		}
	}
	return nil
}

func (t *multisignatureType) Apply(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := multisignatureAsset(tx)
	if err != nil {
		return nil, err
	}
	t.pending.remove(sender.Address)
	return calcMultisignatureOps(sender.Address, asset, true)
}

// Undo restores the configuration of the previous confirmed registration of
// the sender, or clears it if there is none.
func (t *multisignatureType) Undo(accessor database.DataAccessor, tx *model.Transaction, block *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset := &model.MultisignatureAsset{}
	row, err := t.registry.store.LastTransactionBySenderAndType(accessor, sender.Address,
		model.TransactionTypeMultisignature, block.Height)
	if err != nil {
		return nil, err
	}
	if row != nil && row.ID != tx.ID {
		previous, err := t.registry.FromRow(row)
		if err != nil {
			return nil, err
		}
		asset, err = multisignatureAsset(previous)
		if err != nil {
			return nil, errors.Errorf("Couldn't restore asset for Signature tx: %s", row.ID)
		}
	}
	t.pending.set(sender.Address)
	return calcMultisignatureOps(sender.Address, asset, true)
}

func (t *multisignatureType) ApplyUnconfirmed(_ database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := multisignatureAsset(tx)
	if err != nil {
		return nil, err
	}
	if !t.pending.add(sender.Address) {
		return nil, errors.Wrapf(ruleerrors.ErrPendingConfirmation, "Signature on this account is pending confirmation")
	}
	return calcMultisignatureOps(sender.Address, asset, false)
}

// UndoUnconfirmed copies the confirmed configuration over the unconfirmed
// one.
func (t *multisignatureType) UndoUnconfirmed(_ database.DataAccessor, _ *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	t.pending.remove(sender.Address)
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUMultisignatures: ledger.ColumnRef{Field: ledger.FieldMultisignatures},
		ledger.FieldUMultiMin:        ledger.ColumnRef{Field: ledger.FieldMultiMin},
		ledger.FieldUMultiLifetime:   ledger.ColumnRef{Field: ledger.FieldMultiLifetime},
	})}, nil
}

func (t *multisignatureType) resetPending() {
	t.pending.reset()
}

func (t *multisignatureType) markPending(tx *model.Transaction) error {
	t.pending.set(tx.SenderID)
	return nil
}

// calcMultisignatureOps returns the ops setting the configuration of asset
// on address and creating the cosigner accounts. confirmed selects the
// confirmed fields over their unconfirmed shadows.
func calcMultisignatureOps(address string, asset *model.MultisignatureAsset,
	confirmed bool) ([]*ledger.DBOp, error) {

	fieldKeys, fieldMin, fieldLifetime := ledger.FieldUMultisignatures, ledger.FieldUMultiMin, ledger.FieldUMultiLifetime
	if confirmed {
		fieldKeys, fieldMin, fieldLifetime = ledger.FieldMultisignatures, ledger.FieldMultiMin, ledger.FieldMultiLifetime
	}

	cosigners := make([]string, 0, len(asset.Keysgroup))
	var ops []*ledger.DBOp
	for _, key := range asset.Keysgroup {
		if len(key) < 1 {
			return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid member in keysgroup")
		}
		publicKey, err := decodeHexKey(key[1:])
		if err != nil {
			return nil, err
		}
		cosigners = append(cosigners, key[1:])
		ops = append(ops, ledger.UpsertAccount(model.AddressFromPublicKey(publicKey), map[string]interface{}{
			ledger.FieldPublicKey: publicKey,
		}))
	}
	if len(cosigners) == 0 {
		cosigners = nil
	}
	update := ledger.UpdateAccount(address, map[string]interface{}{
		fieldKeys:     cosigners,
		fieldMin:      asset.Min,
		fieldLifetime: asset.Lifetime,
	})
	return append([]*ledger.DBOp{update}, ops...), nil
}

// Ready returns whether every member of the keysgroup has cosigned.
func (t *multisignatureType) Ready(tx *model.Transaction, _ *model.Account) bool {
	asset, err := multisignatureAsset(tx)
	if err != nil {
		return false
	}
	return len(tx.Signatures) >= len(asset.Keysgroup)
}

func (t *multisignatureType) ObjectNormalize(tx *model.Transaction) error {
	asset, err := multisignatureAsset(tx)
	if err != nil {
		return err
	}
	minRange, lifetimeRange := t.params.MultisigMinRange, t.params.MultisigLifetimeRange
	if int(asset.Min) < minRange[0] || int(asset.Min) > minRange[1] ||
		int(asset.Lifetime) < lifetimeRange[0] || int(asset.Lifetime) > lifetimeRange[1] ||
		len(asset.Keysgroup) == 0 || len(asset.Keysgroup) > t.params.MultisigKeysgroupMax {

		return errors.Wrapf(ruleerrors.ErrInvalidAsset, "Failed to validate multisignature schema")
	}
	return nil
}

// AssetBytes writes min and lifetime followed by the raw keys of the
// keysgroup.
func (t *multisignatureType) AssetBytes(tx *model.Transaction) ([]byte, error) {
	asset, err := multisignatureAsset(tx)
	if err != nil {
		return nil, err
	}
	w := &bytes.Buffer{}
	w.WriteByte(asset.Min)
	w.WriteByte(asset.Lifetime)
	for _, key := range asset.Keysgroup {
		if len(key) < 1 {
			return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid member in keysgroup")
		}
		publicKey, err := decodeHexKey(key[1:])
		if err != nil {
			return nil, err
		}
		w.Write(publicKey)
	}
	return w.Bytes(), nil
}

func (t *multisignatureType) ReadAssetFromBytes(data []byte) (interface{}, error) {
	if len(data) < 2 || (len(data)-2)%keys.PublicKeySize != 0 {
		return nil, errors.Errorf("multisignature asset of %d bytes", len(data))
	}
	asset := &model.MultisignatureAsset{Min: data[0], Lifetime: data[1]}
	for offset := 2; offset < len(data); offset += keys.PublicKeySize {
		asset.Keysgroup = append(asset.Keysgroup, "+"+hex.EncodeToString(data[offset:offset+keys.PublicKeySize]))
	}
	return asset, nil
}

func (t *multisignatureType) AttachAssets(txs []*model.Transaction) error {
	return requireAssets(txs, "Signature")
}

func (t *multisignatureType) MaxBytesSize() int {
	return 2 + t.params.MultisigKeysgroupMax*keys.PublicKeySize
}
