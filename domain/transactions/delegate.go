package transactions

import (
	"strings"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

const maxUsernameLength = 20

const usernameCharset = "abcdefghijklmnopqrstuvwxyz0123456789!@$&_."

// delegateType registers the sender as a delegate under a unique username.
type delegateType struct {
	baseType
	params *chainconfig.Params
	store  *ledger.Store

	// pendingSenders and pendingUsernames hold the registrations applied
	// as unconfirmed and not yet confirmed or undone.
	pendingSenders   *pendingSet
	pendingUsernames *pendingSet
}

func newDelegateType(params *chainconfig.Params, store *ledger.Store) *delegateType {
	return &delegateType{
		params:           params,
		store:            store,
		pendingSenders:   newPendingSet(),
		pendingUsernames: newPendingSet(),
	}
}

func (t *delegateType) Type() model.TransactionType {
	return model.TransactionTypeDelegate
}

func (t *delegateType) CalculateMinFee(*model.Transaction, *model.Account, uint64) int64 {
	return t.params.Fees.Delegate
}

func delegateAsset(tx *model.Transaction) (*model.DelegateAsset, error) {
	asset, ok := tx.Asset.(*model.DelegateAsset)
	if !ok || asset == nil {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid transaction asset")
	}
	return asset, nil
}

// validateUsername checks the form of a username, not its availability.
func validateUsername(username string) error {
	if username == "" {
		return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username is undefined")
	}
	if strings.ToLower(username) != username {
		return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username must be lowercase")
	}
	if len(username) > maxUsernameLength {
		return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username is too long. Maximum is %d characters",
			maxUsernameLength)
	}
	if _, ok := model.ParseAddress(strings.ToUpper(username)); ok {
		return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username can not be a potential address")
	}
	for _, c := range username {
		if !strings.ContainsRune(usernameCharset, c) {
			return errors.Wrapf(ruleerrors.ErrInvalidUsername,
				"Username can only contain alphanumeric characters with the exception of !@$&_.")
		}
	}
	return nil
}

func (t *delegateType) Verify(accessor database.DataAccessor, tx *model.Transaction, sender *model.Account) error {
	asset, err := delegateAsset(tx)
	if err != nil {
		return err
	}
	if tx.RecipientID != "" {
		return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient")
	}
	if tx.Amount != 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}
	if sender.IsDelegate {
		return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Account is already a delegate")
	}
	err = validateUsername(asset.Username)
	if err != nil {
		return err
	}
	return t.checkUsernameAvailable(accessor, asset.Username)
}

func (t *delegateType) checkUsernameAvailable(accessor database.DataAccessor, username string) error {
	for _, unconfirmed := range []bool{false, true} {
		_, err := t.store.GetAccountByUsername(accessor, username, unconfirmed)
		if err == nil {
			return errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username already exists")
		}
		if !database.IsNotFoundError(err) {
			return err
		}
	}
	return nil
}

// FindConflicts keeps the first registration of every username and every
// sender.
func (t *delegateType) FindConflicts(txs []*model.Transaction) []*model.Transaction {
	usernames := make(map[string]struct{}, len(txs))
	senders := make(map[string]struct{}, len(txs))
	var conflicts []*model.Transaction
	for _, tx := range txs {
		asset, err := delegateAsset(tx)
		if err != nil {
			conflicts = append(conflicts, tx)
			continue
		}
		_, usernameTaken := usernames[asset.Username]
		_, senderTaken := senders[tx.SenderID]
		if usernameTaken || senderTaken {
			conflicts = append(conflicts, tx)
			continue
		}
		usernames[asset.Username] = struct{}{}
		senders[tx.SenderID] = struct{}{}
	}
	return conflicts
}

func (t *delegateType) Apply(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := delegateAsset(tx)
	if err != nil {
		return nil, err
	}
	t.clearPending(tx.SenderID, asset.Username)
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldIsDelegate:  true,
		ledger.FieldUIsDelegate: true,
		ledger.FieldUsername:    asset.Username,
		ledger.FieldUUsername:   asset.Username,
	})}, nil
}

func (t *delegateType) Undo(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := delegateAsset(tx)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldIsDelegate:  false,
		ledger.FieldUIsDelegate: true,
		ledger.FieldUsername:    "",
		ledger.FieldUUsername:   asset.Username,
	})}, nil
}

func (t *delegateType) ApplyUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := delegateAsset(tx)
	if err != nil {
		return nil, err
	}
	if sender.UIsDelegate || sender.IsDelegate {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidUsername, "Account is already a delegate")
	}
	if t.pendingUsernames.has(asset.Username) {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidUsername, "Username already exists")
	}
	if err := t.checkUsernameAvailable(accessor, asset.Username); err != nil {
		return nil, err
	}
	if !t.pendingSenders.add(tx.SenderID) {
		return nil, errors.Wrapf(ruleerrors.ErrPendingConfirmation,
			"Delegate registration of this account is pending confirmation")
	}
	t.pendingUsernames.set(asset.Username)
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUIsDelegate: true,
		ledger.FieldUUsername:   asset.Username,
	})}, nil
}

func (t *delegateType) UndoUnconfirmed(_ database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := delegateAsset(tx)
	if err != nil {
		return nil, err
	}
	t.clearPending(tx.SenderID, asset.Username)
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUIsDelegate: false,
		ledger.FieldUUsername:   "",
	})}, nil
}

func (t *delegateType) clearPending(senderID, username string) {
	t.pendingSenders.remove(senderID)
	t.pendingUsernames.remove(username)
}

func (t *delegateType) resetPending() {
	t.pendingSenders.reset()
	t.pendingUsernames.reset()
}

func (t *delegateType) markPending(tx *model.Transaction) error {
	asset, err := delegateAsset(tx)
	if err != nil {
		return err
	}
	t.pendingSenders.set(tx.SenderID)
	t.pendingUsernames.set(asset.Username)
	return nil
}

func (t *delegateType) ObjectNormalize(tx *model.Transaction) error {
	asset, err := delegateAsset(tx)
	if err != nil {
		return err
	}
	asset.Username = strings.TrimSpace(asset.Username)
	return validateUsername(asset.Username)
}

func (t *delegateType) AssetBytes(tx *model.Transaction) ([]byte, error) {
	asset, err := delegateAsset(tx)
	if err != nil {
		return nil, err
	}
	return []byte(asset.Username), nil
}

func (t *delegateType) ReadAssetFromBytes(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, errors.New("empty delegate asset")
	}
	return &model.DelegateAsset{Username: string(data)}, nil
}

func (t *delegateType) AttachAssets(txs []*model.Transaction) error {
	return requireAssets(txs, "delegates")
}

func (t *delegateType) MaxBytesSize() int {
	return maxUsernameLength
}
