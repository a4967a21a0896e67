package transactions

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// voteEntrySize is the serialized size of one vote: the operator byte then
// the raw public key.
const voteEntrySize = 1 + keys.PublicKeySize

// voteType adds and removes the sender's votes for delegates.
type voteType struct {
	baseType
	params *chainconfig.Params
	store  *ledger.Store
}

func newVoteType(params *chainconfig.Params, store *ledger.Store) *voteType {
	return &voteType{params: params, store: store}
}

func (t *voteType) Type() model.TransactionType {
	return model.TransactionTypeVote
}

func (t *voteType) CalculateMinFee(*model.Transaction, *model.Account, uint64) int64 {
	return t.params.Fees.Vote
}

func voteAsset(tx *model.Transaction) (*model.VoteAsset, error) {
	asset, ok := tx.Asset.(*model.VoteAsset)
	if !ok || asset == nil {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidAsset, "Invalid transaction asset")
	}
	return asset, nil
}

// decodeHexKey parses a hex public key.
func decodeHexKey(hexKey string) ([]byte, error) {
	publicKey, err := hex.DecodeString(hexKey)
	if err != nil || len(publicKey) != keys.PublicKeySize {
		return nil, errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid public key")
	}
	return publicKey, nil
}

func (t *voteType) Verify(accessor database.DataAccessor, tx *model.Transaction, sender *model.Account) error {
	asset, err := voteAsset(tx)
	if err != nil {
		return err
	}
	if tx.RecipientID != tx.SenderID {
		return errors.Wrapf(ruleerrors.ErrInvalidRecipient, "Invalid recipient")
	}
	if tx.Amount != 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidAmount, "Invalid transaction amount")
	}
	if len(asset.Votes) == 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid votes. Must not be empty")
	}
	if len(asset.Votes) > t.params.MaximumVotes {
		return errors.Wrapf(ruleerrors.ErrVoteLimit, "Voting limit exceeded. Maximum is %d votes per transaction",
			t.params.MaximumVotes)
	}
	seen := make(map[string]struct{}, len(asset.Votes))
	for _, vote := range asset.Votes {
		if len(vote) < 1 {
			return errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid vote")
		}
		if _, ok := seen[vote[1:]]; ok {
			return errors.Wrapf(ruleerrors.ErrInvalidVote, "Multiple votes for same delegate are not allowed")
		}
		seen[vote[1:]] = struct{}{}
	}
	return t.checkDelegates(accessor, sender.Delegates, asset.Votes)
}

// checkDelegates checks votes against the current votes of an account and
// the vote limit.
func (t *voteType) checkDelegates(accessor database.DataAccessor, current []string, votes []string) error {
	voted := make(map[string]struct{}, len(current))
	for _, key := range current {
		voted[key] = struct{}{}
	}

	additions, removals := 0, 0
	for _, vote := range votes {
		if len(vote) < 1 {
			return errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid vote")
		}
		operator, hexKey := vote[0], vote[1:]
		if operator != '+' && operator != '-' {
			return errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid math operator")
		}
		publicKey, err := decodeHexKey(hexKey)
		if err != nil {
			return err
		}
		_, hasVoted := voted[hexKey]
		if operator == '-' {
			if !hasVoted {
				return errors.Wrapf(ruleerrors.ErrInvalidVote,
					"Failed to remove vote, account has not voted for this delegate")
			}
			removals++
			continue
		}
		if hasVoted {
			return errors.Wrapf(ruleerrors.ErrInvalidVote,
				"Failed to add vote, account has already voted for this delegate")
		}
		delegate, err := t.store.GetAccount(accessor, model.AddressFromPublicKey(publicKey))
		if err != nil && !database.IsNotFoundError(err) {
			return err
		}
		if err != nil || !delegate.IsDelegate || !bytes.Equal(delegate.PublicKey, publicKey) {
			return errors.Wrapf(ruleerrors.ErrDelegateNotFound, "Delegate not found")
		}
		additions++
	}

	total := len(current) + additions - removals
	if total > t.params.MaximumVotes {
		return errors.Wrapf(ruleerrors.ErrVoteLimit, "Maximum number of %d votes exceeded (%d too many)",
			t.params.MaximumVotes, total-t.params.MaximumVotes)
	}
	return nil
}

// voteDiff splits votes into the keys they add and remove.
func voteDiff(votes []string) ledger.ArrayDiff {
	var diff ledger.ArrayDiff
	for _, vote := range votes {
		if len(vote) < 1 {
			continue
		}
		switch vote[0] {
		case '+':
			diff.Add = append(diff.Add, vote[1:])
		case '-':
			diff.Remove = append(diff.Remove, vote[1:])
		}
	}
	return diff
}

func invert(diff ledger.ArrayDiff) ledger.ArrayDiff {
	return ledger.ArrayDiff{Add: diff.Remove, Remove: diff.Add}
}

// FindConflicts keeps the first vote of every sender.
func (t *voteType) FindConflicts(txs []*model.Transaction) []*model.Transaction {
	return laterDuplicates(txs, func(tx *model.Transaction) string {
		return tx.SenderID
	})
}

func (t *voteType) Apply(accessor database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := voteAsset(tx)
	if err != nil {
		return nil, err
	}
	err = t.checkDelegates(accessor, sender.Delegates, asset.Votes)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldDelegates: voteDiff(asset.Votes),
	})}, nil
}

func (t *voteType) Undo(_ database.DataAccessor, tx *model.Transaction, _ *model.Block,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := voteAsset(tx)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldDelegates: invert(voteDiff(asset.Votes)),
	})}, nil
}

func (t *voteType) ApplyUnconfirmed(accessor database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := voteAsset(tx)
	if err != nil {
		return nil, err
	}
	err = t.checkDelegates(accessor, sender.UDelegates, asset.Votes)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUDelegates: voteDiff(asset.Votes),
	})}, nil
}

func (t *voteType) UndoUnconfirmed(_ database.DataAccessor, tx *model.Transaction,
	sender *model.Account) ([]*ledger.DBOp, error) {

	asset, err := voteAsset(tx)
	if err != nil {
		return nil, err
	}
	return []*ledger.DBOp{ledger.UpdateAccount(sender.Address, map[string]interface{}{
		ledger.FieldUDelegates: invert(voteDiff(asset.Votes)),
	})}, nil
}

func (t *voteType) ObjectNormalize(tx *model.Transaction) error {
	asset, err := voteAsset(tx)
	if err != nil {
		return err
	}
	for i, vote := range asset.Votes {
		if len(vote) != 1+2*keys.PublicKeySize {
			return errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid vote %s", vote)
		}
		asset.Votes[i] = strings.ToLower(vote)
	}
	return nil
}

func (t *voteType) AssetBytes(tx *model.Transaction) ([]byte, error) {
	asset, err := voteAsset(tx)
	if err != nil {
		return nil, err
	}
	serialized := make([]byte, 0, len(asset.Votes)*voteEntrySize)
	for _, vote := range asset.Votes {
		if len(vote) < 1 {
			return nil, errors.Wrapf(ruleerrors.ErrInvalidVote, "Invalid vote")
		}
		publicKey, err := decodeHexKey(vote[1:])
		if err != nil {
			return nil, err
		}
		serialized = append(serialized, vote[0])
		serialized = append(serialized, publicKey...)
	}
	return serialized, nil
}

func (t *voteType) ReadAssetFromBytes(data []byte) (interface{}, error) {
	if len(data) == 0 || len(data)%voteEntrySize != 0 {
		return nil, errors.Errorf("vote asset of %d bytes", len(data))
	}
	votes := make([]string, 0, len(data)/voteEntrySize)
	for offset := 0; offset < len(data); offset += voteEntrySize {
		entry := data[offset : offset+voteEntrySize]
		votes = append(votes, string(entry[0])+hex.EncodeToString(entry[1:]))
	}
	return &model.VoteAsset{Votes: votes}, nil
}

func (t *voteType) AttachAssets(txs []*model.Transaction) error {
	return requireAssets(txs, "votes")
}

func (t *voteType) MaxBytesSize() int {
	return t.params.MaximumVotes * voteEntrySize
}
