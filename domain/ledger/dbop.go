package ledger

import (
	"fmt"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
)

// OpType is the kind of a DBOp.
type OpType uint8

// DBOp kinds.
const (
	OpCreate OpType = iota
	OpUpdate
	OpRemove
	OpUpsert
	OpCustom
)

var opTypeNames = [...]string{"create", "update", "remove", "upsert", "custom"}

func (t OpType) String() string {
	if int(t) < len(opTypeNames) {
		return opTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Model names the entity a DBOp targets.
type Model string

// Ledger models.
const (
	ModelAccounts     Model = "accounts"
	ModelBlocks       Model = "blocks"
	ModelTransactions Model = "transactions"
)

// OpOptions tunes how a DBOp is performed.
type OpOptions struct {
	// IgnoreDuplicates turns a create of an existing row into a no-op.
	IgnoreDuplicates bool
}

// DBOp is a declarative ledger mutation. Nothing changes until the op is
// performed by Store.PerformOps inside a database transaction.
type DBOp struct {
	Type  OpType
	Model Model

	// Key is the primary key of the targeted row: an address, a block id
	// or a transaction id.
	Key string

	// Values holds the fields an update or upsert writes. A value is either
	// a plain value, an Arithmetic, an ArrayDiff or a ColumnRef.
	Values map[string]interface{}

	// Record is the row a create writes: *model.Account, *model.Block or
	// *model.Transaction.
	Record interface{}

	Options OpOptions

	// Exec runs a custom op against the transaction.
	Exec func(accessor database.DataAccessor) error
}

func (op *DBOp) String() string {
	if op.Type == OpCustom {
		return fmt.Sprintf("custom(%s)", op.Key)
	}
	return fmt.Sprintf("%s %s[%s] %v", op.Type, op.Model, op.Key, op.Values)
}

// Arithmetic is a relative update: the target field becomes Field + Delta.
type Arithmetic struct {
	Field string
	Delta int64
}

func (a Arithmetic) String() string {
	if a.Delta < 0 {
		return fmt.Sprintf("%s - %d", a.Field, -a.Delta)
	}
	return fmt.Sprintf("%s + %d", a.Field, a.Delta)
}

// ArrayDiff removes then adds elements of a list field.
type ArrayDiff struct {
	Add    []string
	Remove []string
}

// ColumnRef copies another field of the same row.
type ColumnRef struct {
	Field string
}

func (c ColumnRef) String() string {
	return c.Field
}

// UpdateAccount returns an update op of the account at address.
func UpdateAccount(address string, values map[string]interface{}) *DBOp {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &DBOp{Type: OpUpdate, Model: ModelAccounts, Key: address, Values: values}
}

// UpsertAccount returns an upsert op of the account at address.
func UpsertAccount(address string, values map[string]interface{}) *DBOp {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &DBOp{Type: OpUpsert, Model: ModelAccounts, Key: address, Values: values}
}

// CustomOp returns a custom op. name only serves logging.
func CustomOp(name string, exec func(accessor database.DataAccessor) error) *DBOp {
	return &DBOp{Type: OpCustom, Key: name, Exec: exec}
}

// CreateAccount returns a create op of account.
func CreateAccount(account *model.Account, ignoreDuplicates bool) *DBOp {
	return &DBOp{
		Type:    OpCreate,
		Model:   ModelAccounts,
		Key:     account.Address,
		Record:  account,
		Options: OpOptions{IgnoreDuplicates: ignoreDuplicates},
	}
}

// CreateBlock returns a create op of the row of block. Its transactions are
// stored by their own ops.
func CreateBlock(block *model.Block) *DBOp {
	return &DBOp{Type: OpCreate, Model: ModelBlocks, Key: block.ID, Record: block}
}

// RemoveBlock returns a remove op of the block with the given id. The
// block's transactions are removed with it.
func RemoveBlock(id string) *DBOp {
	return &DBOp{Type: OpRemove, Model: ModelBlocks, Key: id}
}

// CreateTransaction returns a create op of a confirmed transaction row.
func CreateTransaction(row *TransactionRow) *DBOp {
	return &DBOp{Type: OpCreate, Model: ModelTransactions, Key: row.ID, Record: row}
}
