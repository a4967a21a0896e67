package ledger

import (
	"sort"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

// PerformOps performs ops in order against accessor, which is normally an
// open database transaction. The first failing op aborts the batch; the
// caller is expected to roll the transaction back.
func (s *Store) PerformOps(accessor database.DataAccessor, ops []*DBOp) error {
	log.Tracef("Performing %d ops", len(ops))
	for i, op := range ops {
		err := s.performOp(accessor, op)
		if err != nil {
			return errors.Wrapf(err, "op %d (%s) failed", i, op)
		}
	}
	return nil
}

func (s *Store) performOp(accessor database.DataAccessor, op *DBOp) error {
	if op.Type == OpCustom {
		if op.Exec == nil {
			return errors.New("custom op has nothing to execute")
		}
		return op.Exec(accessor)
	}

	switch op.Model {
	case ModelAccounts:
		return s.performAccountOp(accessor, op)
	case ModelBlocks:
		return s.performBlockOp(accessor, op)
	case ModelTransactions:
		return s.performTransactionOp(accessor, op)
	}
	return errors.Errorf("unknown model %s", op.Model)
}

func (s *Store) performAccountOp(accessor database.DataAccessor, op *DBOp) error {
	switch op.Type {
	case OpCreate:
		account, ok := op.Record.(*model.Account)
		if !ok {
			return errors.Errorf("account create needs an account record, got %T", op.Record)
		}
		exists, err := s.AccountExists(accessor, account.Address)
		if err != nil {
			return err
		}
		if exists {
			if op.Options.IgnoreDuplicates {
				return nil
			}
			return errors.Errorf("account %s already exists", account.Address)
		}
		return s.putAccount(accessor, nil, account.Clone())

	case OpUpdate, OpUpsert:
		account, err := s.GetAccount(accessor, op.Key)
		if err != nil {
			if !database.IsNotFoundError(err) || op.Type == OpUpdate {
				return err
			}
			account = model.NewAccount(op.Key)
		}
		updated := account.Clone()
		err = applyValues(updated, op.Values)
		if err != nil {
			return errors.Wrapf(err, "failed to update account %s", op.Key)
		}
		return s.putAccount(accessor, account, updated)

	case OpRemove:
		account, err := s.GetAccount(accessor, op.Key)
		if err != nil {
			return err
		}
		err = s.deleteUsernameIndexes(accessor, account)
		if err != nil {
			return err
		}
		return accessor.Delete(accountKey(op.Key))
	}
	return errors.Errorf("unsupported account op %s", op.Type)
}

func applyValues(account *model.Account, values map[string]interface{}) error {
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		err := applyValue(account, field, values[field])
		if err != nil {
			return err
		}
	}
	return nil
}

// putAccount writes account and keeps the username indexes in line with
// the transition from old, which is nil for a new account.
func (s *Store) putAccount(accessor database.DataAccessor, old, account *model.Account) error {
	if old != nil {
		if old.Username != account.Username {
			err := deleteIndex(accessor, usernamesBucket, old.Username, old.Address)
			if err != nil {
				return err
			}
		}
		if old.UUsername != account.UUsername {
			err := deleteIndex(accessor, uUsernamesBucket, old.UUsername, old.Address)
			if err != nil {
				return err
			}
		}
	}
	if account.Username != "" {
		err := accessor.Put(usernamesBucket.Key([]byte(account.Username)), []byte(account.Address))
		if err != nil {
			return err
		}
	}
	if account.UUsername != "" {
		err := accessor.Put(uUsernamesBucket.Key([]byte(account.UUsername)), []byte(account.Address))
		if err != nil {
			return err
		}
	}

	serialized, err := serializeAccount(account)
	if err != nil {
		return err
	}
	return accessor.Put(accountKey(account.Address), serialized)
}

func (s *Store) deleteUsernameIndexes(accessor database.DataAccessor, account *model.Account) error {
	err := deleteIndex(accessor, usernamesBucket, account.Username, account.Address)
	if err != nil {
		return err
	}
	return deleteIndex(accessor, uUsernamesBucket, account.UUsername, account.Address)
}

// deleteIndex removes the username entry only while it still points at
// address.
func deleteIndex(accessor database.DataAccessor, bucket *database.Bucket, username, address string) error {
	if username == "" {
		return nil
	}
	key := bucket.Key([]byte(username))
	owner, err := accessor.Get(key)
	if database.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if string(owner) != address {
		return nil
	}
	return accessor.Delete(key)
}

func (s *Store) performBlockOp(accessor database.DataAccessor, op *DBOp) error {
	switch op.Type {
	case OpCreate:
		block, ok := op.Record.(*model.Block)
		if !ok {
			return errors.Errorf("block create needs a block record, got %T", op.Record)
		}
		exists, err := s.BlockExists(accessor, block.ID)
		if err != nil {
			return err
		}
		if exists {
			return errors.Errorf("block %s already exists", block.ID)
		}
		serialized, err := serializeBlockRow(block)
		if err != nil {
			return err
		}
		err = accessor.Put(blockKey(block.ID), serialized)
		if err != nil {
			return err
		}
		return accessor.Put(heightKey(block.Height), []byte(block.ID))

	case OpRemove:
		row, err := s.BlockByID(accessor, op.Key)
		if err != nil {
			return err
		}
		for _, txID := range row.TransactionIDs {
			err := s.deleteTransaction(accessor, txID)
			if err != nil {
				return err
			}
		}
		err = accessor.Delete(heightKey(row.Block.Height))
		if err != nil {
			return err
		}
		return accessor.Delete(blockKey(op.Key))
	}
	return errors.Errorf("unsupported block op %s", op.Type)
}

func (s *Store) performTransactionOp(accessor database.DataAccessor, op *DBOp) error {
	switch op.Type {
	case OpCreate:
		row, ok := op.Record.(*TransactionRow)
		if !ok {
			return errors.Errorf("transaction create needs a transaction row, got %T", op.Record)
		}
		exists, err := s.TransactionExists(accessor, row.ID)
		if err != nil {
			return err
		}
		if exists {
			return errors.Errorf("transaction %s already exists", row.ID)
		}
		serialized, err := serializeTransactionRow(row)
		if err != nil {
			return err
		}
		err = accessor.Put(transactionKey(row.ID), serialized)
		if err != nil {
			return err
		}
		return accessor.Put(txBySenderKey(row), []byte(row.ID))

	case OpRemove:
		return s.deleteTransaction(accessor, op.Key)
	}
	return errors.Errorf("unsupported transaction op %s", op.Type)
}

func (s *Store) deleteTransaction(accessor database.DataAccessor, id string) error {
	row, err := s.TransactionByID(accessor, id)
	if err != nil {
		return err
	}
	err = accessor.Delete(txBySenderKey(row))
	if err != nil {
		return err
	}
	return accessor.Delete(transactionKey(id))
}
