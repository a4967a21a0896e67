package ledger

import (
	"bytes"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/kaspanet/go-muhash"
)

// ConfirmedStateDigest returns a digest of the confirmed state of every
// account. Identity and unconfirmed fields are left out, as are accounts
// whose confirmed state is empty, so that applying a block and popping it
// again yields the digest from before the block.
func (s *Store) ConfirmedStateDigest(accessor database.DataAccessor) (string, error) {
	digest := muhash.NewMuHash()
	err := s.ForEachAccount(accessor, func(account *model.Account) error {
		if isEmptyConfirmedState(account) {
			return nil
		}
		serialized, err := serializeConfirmedState(account)
		if err != nil {
			return err
		}
		digest.Add(serialized)
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest.Finalize().String(), nil
}

func isEmptyConfirmedState(account *model.Account) bool {
	return account.Balance == 0 && len(account.SecondPublicKey) == 0 && !account.SecondSignature &&
		account.Username == "" && !account.IsDelegate && account.Vote == 0 &&
		len(account.Delegates) == 0 && len(account.Multisignatures) == 0 &&
		account.MultiMin == 0 && account.MultiLifetime == 0 &&
		account.ProducedBlocks == 0 && account.MissedBlocks == 0 &&
		account.Fees == 0 && account.Rewards == 0
}

func serializeConfirmedState(account *model.Account) ([]byte, error) {
	w := &bytes.Buffer{}
	err := writeElements(w,
		account.Address,
		account.Balance,
		account.SecondPublicKey,
		account.SecondSignature,
		account.Username,
		account.IsDelegate,
		account.Vote,
		account.Delegates,
		account.Multisignatures,
		account.MultiMin,
		account.MultiLifetime,
		account.ProducedBlocks,
		account.MissedBlocks,
		account.Fees,
		account.Rewards,
	)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
