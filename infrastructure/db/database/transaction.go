package database

// Transaction defines the interface of a generic dposd database
// transaction.
//
// Note: Transactions provide data consistency over the state of
// the database as it was when the transaction started. Writes
// made inside the transaction are visible to its own reads and
// cursors.
//
// Note: A transaction holds the database's write lock until it is
// committed or rolled back. Always defer RollbackUnlessClosed.
type Transaction interface {
	DataAccessor

	// Rollback rolls back whatever changes were made to the
	// database within this transaction.
	Rollback() error

	// Commit commits whatever changes were made to the database
	// within this transaction.
	Commit() error

	// RollbackUnlessClosed rolls back changes that were made to
	// the database within the transaction, unless the transaction
	// had already been closed using either Rollback or Commit.
	RollbackUnlessClosed() error
}
