package ledger

import (
	"encoding/binary"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

var (
	accountsBucket     = database.MakeBucket([]byte("accounts"))
	usernamesBucket    = database.MakeBucket([]byte("usernames"))
	uUsernamesBucket   = database.MakeBucket([]byte("u-usernames"))
	blocksBucket       = database.MakeBucket([]byte("blocks"))
	heightsBucket      = database.MakeBucket([]byte("heights"))
	transactionsBucket = database.MakeBucket([]byte("transactions"))
	txsBySenderBucket  = database.MakeBucket([]byte("txs-by-sender"))
)

// Store is the account state ledger. Every read takes the accessor it runs
// against: either the database itself or an open transaction, so reads
// inside a block application observe the writes made so far.
type Store struct {
	db database.Database
}

// New returns a Store over db.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() database.Database {
	return s.db
}

// Begin opens a database transaction.
func (s *Store) Begin() (database.Transaction, error) {
	return s.db.Begin()
}

// BlockRow is a stored block header together with the ids of its
// transactions in block order.
type BlockRow struct {
	Block          *model.Block
	TransactionIDs []string
}

// TransactionRow is a stored transaction in its full serialized form.
type TransactionRow struct {
	ID            string
	Type          model.TransactionType
	SenderAddress string
	BlockID       string
	Height        uint64
	Bytes         []byte
}

func accountKey(address string) *database.Key {
	return accountsBucket.Key([]byte(address))
}

func blockKey(id string) *database.Key {
	return blocksBucket.Key([]byte(id))
}

func heightKey(height uint64) *database.Key {
	return heightsBucket.Key(heightBytes(height))
}

func heightBytes(height uint64) []byte {
	var serialized [8]byte
	binary.BigEndian.PutUint64(serialized[:], height)
	return serialized[:]
}

func transactionKey(id string) *database.Key {
	return transactionsBucket.Key([]byte(id))
}

func senderTypeBucket(address string, txType model.TransactionType) *database.Bucket {
	return txsBySenderBucket.Bucket([]byte(address)).Bucket([]byte{byte(txType)})
}

func txBySenderKey(row *TransactionRow) *database.Key {
	suffix := append(heightBytes(row.Height), []byte(row.ID)...)
	return senderTypeBucket(row.SenderAddress, row.Type).Key(suffix)
}

// GetAccount returns the account at address. The error wraps
// database.ErrNotFound if there is none.
func (s *Store) GetAccount(accessor database.DataAccessor, address string) (*model.Account, error) {
	serialized, err := accessor.Get(accountKey(address))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(database.ErrNotFound, "account %s not found", address)
		}
		return nil, err
	}
	return deserializeAccount(serialized)
}

// AccountExists returns whether an account exists at address.
func (s *Store) AccountExists(accessor database.DataAccessor, address string) (bool, error) {
	return accessor.Has(accountKey(address))
}

// GetAccountByUsername returns the delegate registered under username.
// When unconfirmed is set the lookup also sees pending registrations.
func (s *Store) GetAccountByUsername(accessor database.DataAccessor, username string,
	unconfirmed bool) (*model.Account, error) {

	bucket := usernamesBucket
	if unconfirmed {
		bucket = uUsernamesBucket
	}
	address, err := accessor.Get(bucket.Key([]byte(username)))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(database.ErrNotFound, "username %s not found", username)
		}
		return nil, err
	}
	return s.GetAccount(accessor, string(address))
}

// ForEachAccount calls fn for every account in address order. Iteration
// stops at the first error fn returns.
func (s *Store) ForEachAccount(accessor database.DataAccessor, fn func(account *model.Account) error) error {
	cursor, err := accessor.Cursor(accountsBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for ok := cursor.First(); ok; ok = cursor.Next() {
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		account, err := deserializeAccount(serialized)
		if err != nil {
			return err
		}
		err = fn(account)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetAccounts returns every account filter accepts. A nil filter accepts
// every account.
func (s *Store) GetAccounts(accessor database.DataAccessor,
	filter func(account *model.Account) bool) ([]*model.Account, error) {

	var accounts []*model.Account
	err := s.ForEachAccount(accessor, func(account *model.Account) error {
		if filter == nil || filter(account) {
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Delegates returns every confirmed delegate.
func (s *Store) Delegates(accessor database.DataAccessor) ([]*model.Account, error) {
	return s.GetAccounts(accessor, func(account *model.Account) bool {
		return account.IsDelegate
	})
}

// BlockByID returns the stored block with the given id.
func (s *Store) BlockByID(accessor database.DataAccessor, id string) (*BlockRow, error) {
	serialized, err := accessor.Get(blockKey(id))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(database.ErrNotFound, "block %s not found", id)
		}
		return nil, err
	}
	block, txIDs, err := deserializeBlockRow(serialized)
	if err != nil {
		return nil, err
	}
	return &BlockRow{Block: block, TransactionIDs: txIDs}, nil
}

// BlockExists returns whether a block with the given id is stored.
func (s *Store) BlockExists(accessor database.DataAccessor, id string) (bool, error) {
	return accessor.Has(blockKey(id))
}

// BlockIDByHeight returns the id of the block at height.
func (s *Store) BlockIDByHeight(accessor database.DataAccessor, height uint64) (string, error) {
	id, err := accessor.Get(heightKey(height))
	if err != nil {
		if database.IsNotFoundError(err) {
			return "", errors.Wrapf(database.ErrNotFound, "no block at height %d", height)
		}
		return "", err
	}
	return string(id), nil
}

// BlockByHeight returns the stored block at height.
func (s *Store) BlockByHeight(accessor database.DataAccessor, height uint64) (*BlockRow, error) {
	id, err := s.BlockIDByHeight(accessor, height)
	if err != nil {
		return nil, err
	}
	return s.BlockByID(accessor, id)
}

// LastBlock returns the highest stored block. The error wraps
// database.ErrNotFound while the chain is empty.
func (s *Store) LastBlock(accessor database.DataAccessor) (*BlockRow, error) {
	cursor, err := accessor.Cursor(heightsBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.Last() {
		return nil, errors.Wrapf(database.ErrNotFound, "the chain is empty")
	}
	id, err := cursor.Value()
	if err != nil {
		return nil, err
	}
	return s.BlockByID(accessor, string(id))
}

// BlocksAfterHeight returns up to limit blocks above height in height order.
func (s *Store) BlocksAfterHeight(accessor database.DataAccessor, height uint64, limit int) ([]*BlockRow, error) {
	cursor, err := accessor.Cursor(heightsBucket)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var rows []*BlockRow
	err = cursor.Seek(heightKey(height + 1))
	if database.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for ok := true; ok && len(rows) < limit; ok = cursor.Next() {
		id, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		row, err := s.BlockByID(accessor, string(id))
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// TransactionExists returns whether a confirmed transaction with the given
// id is stored.
func (s *Store) TransactionExists(accessor database.DataAccessor, id string) (bool, error) {
	return accessor.Has(transactionKey(id))
}

// TransactionByID returns the stored transaction with the given id.
func (s *Store) TransactionByID(accessor database.DataAccessor, id string) (*TransactionRow, error) {
	serialized, err := accessor.Get(transactionKey(id))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(database.ErrNotFound, "transaction %s not found", id)
		}
		return nil, err
	}
	return deserializeTransactionRow(id, serialized)
}

// LastTransactionBySenderAndType returns the most recent confirmed
// transaction of txType sent by address below beforeHeight, or nil if there
// is none.
func (s *Store) LastTransactionBySenderAndType(accessor database.DataAccessor, address string,
	txType model.TransactionType, beforeHeight uint64) (*TransactionRow, error) {

	cursor, err := accessor.Cursor(senderTypeBucket(address, txType))
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	err = cursor.Seek(senderTypeBucket(address, txType).Key(heightBytes(beforeHeight)))
	switch {
	case database.IsNotFoundError(err):
		if !cursor.Last() {
			return nil, nil
		}
	case err != nil:
		return nil, err
	default:
		if !cursor.Prev() {
			return nil, nil
		}
	}
	id, err := cursor.Value()
	if err != nil {
		return nil, err
	}
	return s.TransactionByID(accessor, string(id))
}
