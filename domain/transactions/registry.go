package transactions

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/binaryserializer"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// Registry dispatches transactions to the TransactionType of their type and
// implements the rules shared by every type: serialization, signatures,
// fees and balances.
type Registry struct {
	params *chainconfig.Params
	store  *ledger.Store
	slots  *dpos.Slots
	types  map[model.TransactionType]TransactionType
}

// New returns a Registry with every built-in transaction type registered.
func New(params *chainconfig.Params, store *ledger.Store, slots *dpos.Slots) *Registry {
	r := &Registry{
		params: params,
		store:  store,
		slots:  slots,
		types:  make(map[model.TransactionType]TransactionType),
	}
	r.Register(newSendType(params))
	r.Register(newSecondSignatureType(params))
	r.Register(newDelegateType(params, store))
	r.Register(newVoteType(params, store))
	r.Register(newMultisignatureType(params, r))
	return r
}

// Register installs txType, replacing any type registered for the same
// code.
func (r *Registry) Register(txType TransactionType) {
	r.types[txType.Type()] = txType
}

// Get returns the TransactionType of code.
func (r *Registry) Get(code model.TransactionType) (TransactionType, error) {
	txType, ok := r.types[code]
	if !ok {
		return nil, errors.Wrapf(ruleerrors.ErrUnknownTransactionType, "Unknown transaction type %d", code)
	}
	return txType, nil
}

// Bytes serializes tx, leaving out the signatures the skip flags name.
// Cosigner signatures are never part of it.
func (r *Registry) Bytes(tx *model.Transaction, skipSignature, skipSecondSignature bool) ([]byte, error) {
	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	if len(tx.SenderPublicKey) != keys.PublicKeySize {
		return nil, errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid sender public key length %d",
			len(tx.SenderPublicKey))
	}
	var recipient uint64
	if tx.RecipientID != "" {
		var ok bool
		recipient, ok = model.ParseAddress(tx.RecipientID)
		if !ok {
			return nil, errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient %s", tx.RecipientID)
		}
	}
	asset, err := txType.AssetBytes(tx)
	if err != nil {
		return nil, err
	}

	w := &bytes.Buffer{}
	err = writeAll(
		func() error { return binaryserializer.PutUint8(w, uint8(tx.Type)) },
		func() error { return binaryserializer.PutUint32(w, tx.Timestamp) },
		func() error { _, err := w.Write(tx.SenderPublicKey); return errors.WithStack(err) },
		func() error { return binaryserializer.PutUint64(w, recipient) },
		func() error { return binaryserializer.PutInt64(w, tx.Amount) },
		func() error { return binaryserializer.PutInt64(w, tx.Fee) },
		func() error { return binaryserializer.PutVarBytes(w, asset) },
	)
	if err != nil {
		return nil, err
	}
	if !skipSignature {
		if err := binaryserializer.PutVarBytes(w, tx.Signature); err != nil {
			return nil, err
		}
	}
	if !skipSecondSignature {
		if err := binaryserializer.PutVarBytes(w, tx.SignSignature); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// SignableBytes returns the bytes the sender signs and the id derives from.
func (r *Registry) SignableBytes(tx *model.Transaction) ([]byte, error) {
	return r.Bytes(tx, true, true)
}

// FullBytes serializes tx with every signature, cosigners included. This is
// the form transactions are stored and relayed in.
func (r *Registry) FullBytes(tx *model.Transaction) ([]byte, error) {
	serialized, err := r.Bytes(tx, false, false)
	if err != nil {
		return nil, err
	}
	w := bytes.NewBuffer(serialized)
	if err := binaryserializer.PutUint32(w, uint32(len(tx.Signatures))); err != nil {
		return nil, err
	}
	for _, signature := range tx.Signatures {
		if err := binaryserializer.PutVarBytes(w, signature); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// FromBytes parses the output of FullBytes. The returned transaction has its
// id and sender address set.
func (r *Registry) FromBytes(data []byte) (*model.Transaction, error) {
	reader := bytes.NewReader(data)
	tx, err := r.readTransaction(reader)
	if err != nil {
		return nil, errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Failed to parse transaction: %s", err)
	}
	if reader.Len() != 0 {
		return nil, errors.Wrapf(ruleerrors.ErrMalformedTransaction, "%d trailing bytes after transaction",
			reader.Len())
	}
	tx.SenderID = model.AddressFromPublicKey(tx.SenderPublicKey)
	tx.ID, err = r.ID(tx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *Registry) readTransaction(reader io.Reader) (*model.Transaction, error) {
	tx := &model.Transaction{}
	code, err := binaryserializer.Uint8(reader)
	if err != nil {
		return nil, err
	}
	tx.Type = model.TransactionType(code)
	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	tx.Timestamp, err = binaryserializer.Uint32(reader)
	if err != nil {
		return nil, err
	}
	tx.SenderPublicKey = make([]byte, keys.PublicKeySize)
	if _, err := io.ReadFull(reader, tx.SenderPublicKey); err != nil {
		return nil, errors.WithStack(err)
	}
	recipient, err := binaryserializer.Uint64(reader)
	if err != nil {
		return nil, err
	}
	if recipient != 0 {
		tx.RecipientID = strconv.FormatUint(recipient, 10) + model.AddressSuffix
	}
	tx.Amount, err = binaryserializer.Int64(reader)
	if err != nil {
		return nil, err
	}
	tx.Fee, err = binaryserializer.Int64(reader)
	if err != nil {
		return nil, err
	}
	assetBytes, err := binaryserializer.VarBytes(reader)
	if err != nil {
		return nil, err
	}
	if len(assetBytes) > txType.MaxBytesSize() {
		return nil, errors.Errorf("asset of %d bytes exceeds the maximum of %d",
			len(assetBytes), txType.MaxBytesSize())
	}
	tx.Asset, err = txType.ReadAssetFromBytes(assetBytes)
	if err != nil {
		return nil, err
	}
	tx.Signature, err = binaryserializer.VarBytes(reader)
	if err != nil {
		return nil, err
	}
	tx.SignSignature, err = binaryserializer.VarBytes(reader)
	if err != nil {
		return nil, err
	}
	count, err := binaryserializer.Uint32(reader)
	if err != nil {
		return nil, err
	}
	if int(count) > r.params.MultisigKeysgroupMax {
		return nil, errors.Errorf("%d signatures exceed the maximum of %d", count, r.params.MultisigKeysgroupMax)
	}
	for i := uint32(0); i < count; i++ {
		signature, err := binaryserializer.VarBytes(reader)
		if err != nil {
			return nil, err
		}
		tx.Signatures = append(tx.Signatures, signature)
	}
	return tx, nil
}

// ID derives the id of tx from its signable bytes.
func (r *Registry) ID(tx *model.Transaction) (string, error) {
	signable, err := r.SignableBytes(tx)
	if err != nil {
		return "", err
	}
	return model.IDFromBytes(signable), nil
}

func (r *Registry) hash(tx *model.Transaction, skipSignature, skipSecondSignature bool) ([model.HashSize]byte, error) {
	serialized, err := r.Bytes(tx, skipSignature, skipSecondSignature)
	if err != nil {
		return [model.HashSize]byte{}, err
	}
	return model.Hash(serialized), nil
}

// Sign signs tx with keyPair as its sender and sets its id.
func (r *Registry) Sign(keyPair *keys.KeyPair, tx *model.Transaction) error {
	tx.SenderPublicKey = keyPair.PublicKey
	tx.SenderID = model.AddressFromPublicKey(keyPair.PublicKey)
	hash, err := r.hash(tx, true, true)
	if err != nil {
		return err
	}
	tx.Signature, err = keyPair.Sign(hash)
	if err != nil {
		return err
	}
	tx.ID, err = r.ID(tx)
	return err
}

// SecondSign adds the second signature of an already signed tx.
func (r *Registry) SecondSign(keyPair *keys.KeyPair, tx *model.Transaction) error {
	hash, err := r.hash(tx, false, true)
	if err != nil {
		return err
	}
	tx.SignSignature, err = keyPair.Sign(hash)
	return err
}

// MultiSign returns the cosigner signature of keyPair over tx.
func (r *Registry) MultiSign(keyPair *keys.KeyPair, tx *model.Transaction) ([]byte, error) {
	hash, err := r.hash(tx, true, true)
	if err != nil {
		return nil, err
	}
	return keyPair.Sign(hash)
}

// VerifySignature returns whether signature is a signature of publicKey over
// the signable bytes of tx.
func (r *Registry) VerifySignature(tx *model.Transaction, publicKey, signature []byte) (bool, error) {
	hash, err := r.hash(tx, true, true)
	if err != nil {
		return false, err
	}
	return keys.Verify(publicKey, hash, signature), nil
}

func (r *Registry) verifySecondSignature(tx *model.Transaction, publicKey []byte) (bool, error) {
	hash, err := r.hash(tx, false, true)
	if err != nil {
		return false, err
	}
	return keys.Verify(publicKey, hash, tx.SignSignature), nil
}

func writeAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// ObjectNormalize checks the shape of tx: field sizes and ranges that do not
// depend on any state.
func (r *Registry) ObjectNormalize(tx *model.Transaction) error {
	txType, err := r.Get(tx.Type)
	if err != nil {
		return err
	}
	if len(tx.SenderPublicKey) != keys.PublicKeySize {
		return errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid sender public key length %d",
			len(tx.SenderPublicKey))
	}
	if tx.SenderID == "" {
		tx.SenderID = model.AddressFromPublicKey(tx.SenderPublicKey)
	}
	if tx.RecipientID != "" {
		if _, ok := model.ParseAddress(tx.RecipientID); !ok {
			return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient %s", tx.RecipientID)
		}
	}
	if len(tx.Signature) != keys.SignatureSize {
		return errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid signature length %d", len(tx.Signature))
	}
	if len(tx.SignSignature) != 0 && len(tx.SignSignature) != keys.SignatureSize {
		return errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid second signature length %d",
			len(tx.SignSignature))
	}
	for _, signature := range tx.Signatures {
		if len(signature) != keys.SignatureSize {
			return errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid multisignature length %d",
				len(signature))
		}
	}
	if tx.Amount < 0 || tx.Fee < 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}
	return txType.ObjectNormalize(tx)
}

// Verify checks tx against the state of sender. It does not check balances;
// ApplyUnconfirmed does.
func (r *Registry) Verify(accessor database.DataAccessor, tx *model.Transaction, sender *model.Account,
	height uint64) error {

	txType, err := r.Get(tx.Type)
	if err != nil {
		return err
	}
	if sender == nil {
		return errors.Wrapf(ruleerrors.ErrInvalidSender, "Missing sender")
	}
	if len(tx.SenderPublicKey) != keys.PublicKeySize ||
		model.AddressFromPublicKey(tx.SenderPublicKey) != tx.SenderID {
		return errors.Wrapf(ruleerrors.ErrInvalidSender, "Invalid sender id")
	}
	if sender.Address != tx.SenderID {
		return errors.Wrapf(ruleerrors.ErrInvalidSender, "Invalid sender address")
	}
	if len(sender.PublicKey) > 0 && !bytes.Equal(sender.PublicKey, tx.SenderPublicKey) {
		return errors.Wrapf(ruleerrors.ErrInvalidSender, "Invalid sender public key")
	}

	id, err := r.ID(tx)
	if err != nil {
		return err
	}
	if id != tx.ID {
		return errors.Wrapf(ruleerrors.ErrMalformedTransaction, "Invalid transaction id")
	}

	if r.slots.GetSlotNumber(tx.Timestamp) > r.slots.CurrentSlot() {
		return errors.Wrapf(ruleerrors.ErrInvalidTxTimestamp,
			"Invalid transaction timestamp. Timestamp is in the future")
	}

	valid, err := r.VerifySignature(tx, tx.SenderPublicKey, tx.Signature)
	if err != nil {
		return err
	}
	if !valid {
		return errors.Wrapf(ruleerrors.ErrTxSignature, "Failed to verify signature")
	}

	err = r.verifySecondSignatureRules(tx, sender)
	if err != nil {
		return err
	}
	err = r.verifyMultisignatures(tx, sender)
	if err != nil {
		return err
	}

	if tx.Fee != txType.CalculateMinFee(tx, sender, height) {
		return errors.Wrapf(ruleerrors.ErrInvalidFee, "Invalid transaction fee")
	}
	if tx.Amount < 0 || tx.Amount > r.params.Genesis.TotalAmount {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}

	return txType.Verify(accessor, tx, sender)
}

func (r *Registry) verifySecondSignatureRules(tx *model.Transaction, sender *model.Account) error {
	if !sender.SecondSignature {
		if len(tx.SignSignature) > 0 {
			return errors.Wrapf(ruleerrors.ErrSecondSignature, "Sender does not have a second signature")
		}
		return nil
	}
	if len(tx.SignSignature) == 0 {
		return errors.Wrapf(ruleerrors.ErrSecondSignature, "Missing second signature")
	}
	valid, err := r.verifySecondSignature(tx, sender.SecondPublicKey)
	if err != nil {
		return err
	}
	if !valid {
		return errors.Wrapf(ruleerrors.ErrSecondSignature, "Failed to verify second signature")
	}
	return nil
}

// verifyMultisignatures checks the cosigner signatures of a transaction sent
// by a multisignature account. Registrations verify their own keysgroup.
func (r *Registry) verifyMultisignatures(tx *model.Transaction, sender *model.Account) error {
	seen := make(map[string]struct{}, len(tx.Signatures))
	for _, signature := range tx.Signatures {
		if _, ok := seen[string(signature)]; ok {
			return errors.Wrapf(ruleerrors.ErrMultisignature, "Encountered duplicate signature in transaction")
		}
		seen[string(signature)] = struct{}{}
	}
	if tx.Type == model.TransactionTypeMultisignature || !sender.IsMultisignature() {
		return nil
	}
	for _, signature := range tx.Signatures {
		verified := false
		for _, hexKey := range sender.Multisignatures {
			publicKey, err := decodeHexKey(hexKey)
			if err != nil {
				return err
			}
			valid, err := r.VerifySignature(tx, publicKey, signature)
			if err != nil {
				return err
			}
			if valid {
				verified = true
				break
			}
		}
		if !verified {
			return errors.Wrapf(ruleerrors.ErrMultisignature, "Failed to verify multisignature")
		}
	}
	return nil
}

// Ready returns whether tx carries the cosigner signatures its sender needs.
func (r *Registry) Ready(tx *model.Transaction, sender *model.Account) (bool, error) {
	txType, err := r.Get(tx.Type)
	if err != nil {
		return false, err
	}
	if tx.Type == model.TransactionTypeMultisignature {
		return txType.Ready(tx, sender), nil
	}
	if sender != nil && sender.IsMultisignature() {
		return len(tx.Signatures) >= int(sender.MultiMin), nil
	}
	return txType.Ready(tx, sender), nil
}

// isGenesisTransaction returns whether tx is confirmed in the genesis block,
// whose transactions spend from an account without balance.
func isGenesisTransaction(tx *model.Transaction) bool {
	return tx.Height == 1
}

func spent(tx *model.Transaction) int64 {
	return tx.Amount + tx.Fee
}

// Apply returns the ops confirming tx in block.
func (r *Registry) Apply(accessor database.DataAccessor, tx *model.Transaction, block *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	amount := spent(tx)
	if block.Height != 1 && sender.Balance < amount {
		return nil, errors.Wrapf(ruleerrors.ErrInsufficientBalance,
			"Account does not have enough currency: %s balance: %d", sender.Address, sender.Balance)
	}
	ops := ledger.MergeBalanceDiff(sender.Address, map[string]interface{}{ledger.FieldBalance: -amount})
	typeOps, err := txType.Apply(accessor, tx, block, sender)
	if err != nil {
		return nil, err
	}
	return append(ops, typeOps...), nil
}

// Undo returns the ops reverting Apply.
func (r *Registry) Undo(accessor database.DataAccessor, tx *model.Transaction, block *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	ops := ledger.MergeBalanceDiff(sender.Address, map[string]interface{}{ledger.FieldBalance: spent(tx)})
	typeOps, err := txType.Undo(accessor, tx, block, sender)
	if err != nil {
		return nil, err
	}
	return append(ops, typeOps...), nil
}

// ApplyUnconfirmed returns the ops applying tx to the unconfirmed state of
// sender. sender may be a fresh account that is not stored yet.
func (r *Registry) ApplyUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	amount := spent(tx)
	if !isGenesisTransaction(tx) && sender.UBalance < amount {
		return nil, errors.Wrapf(ruleerrors.ErrInsufficientBalance,
			"Account does not have enough currency: %s balance: %d", sender.Address, sender.UBalance)
	}
	ops := []*ledger.DBOp{ledger.UpsertAccount(sender.Address, map[string]interface{}{
		ledger.FieldPublicKey: tx.SenderPublicKey,
	})}
	ops = append(ops, ledger.MergeBalanceDiff(sender.Address, map[string]interface{}{ledger.FieldUBalance: -amount})...)
	typeOps, err := txType.ApplyUnconfirmed(accessor, tx, sender)
	if err != nil {
		return nil, err
	}
	return append(ops, typeOps...), nil
}

// UndoUnconfirmed returns the ops reverting ApplyUnconfirmed.
func (r *Registry) UndoUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	ops := ledger.MergeBalanceDiff(sender.Address, map[string]interface{}{ledger.FieldUBalance: spent(tx)})
	typeOps, err := txType.UndoUnconfirmed(accessor, tx, sender)
	if err != nil {
		return nil, err
	}
	return append(ops, typeOps...), nil
}

// DBSave returns the ops storing tx as confirmed in the block with the given
// id and height.
func (r *Registry) DBSave(tx *model.Transaction, blockID string, height uint64) ([]*ledger.DBOp, error) {
	txType, err := r.Get(tx.Type)
	if err != nil {
		return nil, err
	}
	serialized, err := r.FullBytes(tx)
	if err != nil {
		return nil, err
	}
	ops := []*ledger.DBOp{ledger.CreateTransaction(&ledger.TransactionRow{
		ID:            tx.ID,
		Type:          tx.Type,
		SenderAddress: tx.SenderID,
		BlockID:       blockID,
		Height:        height,
		Bytes:         serialized,
	})}
	return append(ops, txType.DBSave(tx)...), nil
}

// AfterSave runs the post-commit hook of the type of tx.
func (r *Registry) AfterSave(tx *model.Transaction) error {
	txType, err := r.Get(tx.Type)
	if err != nil {
		return err
	}
	return txType.AfterSave(tx)
}

// FindConflicts returns the transactions of txs that conflict with an
// earlier transaction of txs of the same type.
func (r *Registry) FindConflicts(txs []*model.Transaction) ([]*model.Transaction, error) {
	byType := make(map[model.TransactionType][]*model.Transaction)
	for _, tx := range txs {
		byType[tx.Type] = append(byType[tx.Type], tx)
	}
	conflicting := make(map[*model.Transaction]struct{})
	for code, group := range byType {
		txType, err := r.Get(code)
		if err != nil {
			return nil, err
		}
		for _, tx := range txType.FindConflicts(group) {
			conflicting[tx] = struct{}{}
		}
	}

	var conflicts []*model.Transaction
	for _, tx := range txs {
		if _, ok := conflicting[tx]; ok {
			conflicts = append(conflicts, tx)
		}
	}
	return conflicts, nil
}

// FromRow decodes a stored transaction row.
func (r *Registry) FromRow(row *ledger.TransactionRow) (*model.Transaction, error) {
	tx, err := r.FromBytes(row.Bytes)
	if err != nil {
		return nil, err
	}
	if tx.ID != row.ID {
		return nil, errors.Errorf("stored transaction %s decodes to id %s", row.ID, tx.ID)
	}
	tx.BlockID = row.BlockID
	tx.Height = row.Height
	return tx, nil
}

// LoadTransactions returns the confirmed transactions with the given ids in
// order, with their assets checked.
func (r *Registry) LoadTransactions(accessor database.DataAccessor, ids []string) ([]*model.Transaction, error) {
	txs := make([]*model.Transaction, 0, len(ids))
	byType := make(map[model.TransactionType][]*model.Transaction)
	for _, id := range ids {
		row, err := r.store.TransactionByID(accessor, id)
		if err != nil {
			return nil, err
		}
		tx, err := r.FromRow(row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		byType[tx.Type] = append(byType[tx.Type], tx)
	}
	for code, group := range byType {
		txType, err := r.Get(code)
		if err != nil {
			return nil, err
		}
		if err := txType.AttachAssets(group); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

// MaxBytesSize returns the largest asset of code.
func (r *Registry) MaxBytesSize(code model.TransactionType) (int, error) {
	txType, err := r.Get(code)
	if err != nil {
		return 0, err
	}
	return txType.MaxBytesSize(), nil
}

// CosignerKeys returns the public keys allowed to cosign tx: the keysgroup
// of a registration, otherwise the confirmed keysgroup of sender.
func (r *Registry) CosignerKeys(tx *model.Transaction, sender *model.Account) ([][]byte, error) {
	var hexKeys []string
	if tx.Type == model.TransactionTypeMultisignature {
		asset, err := multisignatureAsset(tx)
		if err != nil {
			return nil, err
		}
		for _, key := range asset.Keysgroup {
			if len(key) == 0 {
				return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid member in keysgroup")
			}
			hexKeys = append(hexKeys, key[1:])
		}
	} else if sender != nil {
		hexKeys = sender.Multisignatures
	}

	publicKeys := make([][]byte, 0, len(hexKeys))
	for _, hexKey := range hexKeys {
		publicKey, err := hex.DecodeString(hexKey)
		if err != nil || len(publicKey) != keys.PublicKeySize {
			return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid public key in keysgroup")
		}
		publicKeys = append(publicKeys, publicKey)
	}
	return publicKeys, nil
}
