package database

// Cursor iterates over database entries given some bucket.
type Cursor interface {
	// Next moves the iterator to the next key/value pair. It returns whether the
	// iterator is exhausted. Panics if the cursor is closed.
	Next() bool

	// First moves the iterator to the first key/value pair. It returns false if
	// such a pair does not exist. Panics if the cursor is closed.
	First() bool

	// Last moves the iterator to the last key/value pair. It returns false if
	// such a pair does not exist. Panics if the cursor is closed.
	Last() bool

	// Prev moves the iterator to the previous key/value pair. It returns false
	// when it moves before the first pair. Panics if the cursor is closed.
	Prev() bool

	// Seek moves the iterator to the first key/value pair whose key is greater
	// than or equal to the given key. It returns ErrNotFound if such pair does not
	// exist.
	Seek(key *Key) error

	// Key returns the key of the current key/value pair, or ErrNotFound if done.
	// The returned key keeps the bucket the cursor was opened with as its prefix.
	Key() (*Key, error)

	// Value returns a copy of the value of the current key/value pair, or
	// ErrNotFound if done.
	Value() ([]byte, error)

	// Close releases associated resources.
	Close() error
}
