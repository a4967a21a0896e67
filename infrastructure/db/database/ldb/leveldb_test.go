package ldb

import (
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"testing"

	"github.com/dposnet/dposd/infrastructure/db/database"
)

func prepareDatabaseForTest(t *testing.T, testName string) (ldb *LevelDB, teardownFunc func()) {
	// Create a temp db to run tests against
	path, err := ioutil.TempDir("", testName)
	if err != nil {
		t.Fatalf("%s: TempDir unexpectedly "+
			"failed: %s", testName, err)
	}
	ldb, err = NewLevelDB(path)
	if err != nil {
		t.Fatalf("%s: NewLevelDB unexpectedly "+
			"failed: %s", testName, err)
	}
	teardownFunc = func() {
		err = ldb.Close()
		if err != nil {
			t.Fatalf("%s: Close unexpectedly "+
				"failed: %s", testName, err)
		}
		os.RemoveAll(path)
	}
	return ldb, teardownFunc
}

func TestLevelDBSanity(t *testing.T) {
	ldb, teardownFunc := prepareDatabaseForTest(t, "TestLevelDBSanity")
	defer teardownFunc()

	// Put something into the db
	key := database.MakeBucket([]byte("accounts")).Key([]byte("1D"))
	putData := []byte("Hello world!")
	err := ldb.Put(key, putData)
	if err != nil {
		t.Fatalf("TestLevelDBSanity: Put returned "+
			"unexpected error: %s", err)
	}

	// Get from the key previously put to
	getData, err := ldb.Get(key)
	if err != nil {
		t.Fatalf("TestLevelDBSanity: Get returned "+
			"unexpected error: %s", err)
	}

	// Make sure that the put data and the get data are equal
	if !reflect.DeepEqual(getData, putData) {
		t.Fatalf("TestLevelDBSanity: get data and "+
			"put data are not equal. Put: %s, got: %s",
			string(putData), string(getData))
	}

	_, err = ldb.Get(database.MakeBucket([]byte("accounts")).Key([]byte("2D")))
	if !database.IsNotFoundError(err) {
		t.Fatalf("TestLevelDBSanity: expected ErrNotFound, got: %v", err)
	}
}

func TestLevelDBTransactionSanity(t *testing.T) {
	ldb, teardownFunc := prepareDatabaseForTest(t, "TestLevelDBTransactionSanity")
	defer teardownFunc()

	bucket := database.MakeBucket([]byte("balances"))
	key := bucket.Key([]byte("1D"))

	// Writes inside the transaction are visible to the transaction only
	tx, err := ldb.Begin()
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Begin unexpectedly failed: %s", err)
	}
	err = tx.Put(key, []byte("10"))
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Put unexpectedly failed: %s", err)
	}
	data, err := tx.Get(key)
	if err != nil || string(data) != "10" {
		t.Fatalf("TestLevelDBTransactionSanity: expected to read own write, got %s, %v", data, err)
	}
	exists, err := ldb.Has(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Has unexpectedly failed: %s", err)
	}
	if exists {
		t.Fatalf("TestLevelDBTransactionSanity: uncommitted write is visible outside the transaction")
	}

	// Rollback discards the write
	err = tx.Rollback()
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Rollback unexpectedly failed: %s", err)
	}
	exists, err = ldb.Has(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Has unexpectedly failed: %s", err)
	}
	if exists {
		t.Fatalf("TestLevelDBTransactionSanity: rolled back write is visible")
	}

	// Operations on a closed transaction fail
	if err := tx.Put(key, []byte("11")); err == nil {
		t.Fatalf("TestLevelDBTransactionSanity: Put on a closed transaction unexpectedly succeeded")
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("TestLevelDBTransactionSanity: Commit on a closed transaction unexpectedly succeeded")
	}
	if err := tx.RollbackUnlessClosed(); err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: RollbackUnlessClosed unexpectedly failed: %s", err)
	}

	// Commit makes the write durable
	tx, err = ldb.Begin()
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Begin unexpectedly failed: %s", err)
	}
	defer tx.RollbackUnlessClosed()
	err = tx.Put(key, []byte("12"))
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Put unexpectedly failed: %s", err)
	}
	err = tx.Commit()
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Commit unexpectedly failed: %s", err)
	}
	data, err = ldb.Get(key)
	if err != nil || string(data) != "12" {
		t.Fatalf("TestLevelDBTransactionSanity: expected committed value, got %s, %v", data, err)
	}
}

func TestCursorInsideTransaction(t *testing.T) {
	ldb, err := NewInMemoryLevelDB()
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: NewInMemoryLevelDB unexpectedly failed: %s", err)
	}
	defer ldb.Close()

	bucket := database.MakeBucket([]byte("heights"))
	for i := 0; i < 3; i++ {
		err := ldb.Put(bucket.Key([]byte(fmt.Sprintf("%02d", i))), []byte{byte(i)})
		if err != nil {
			t.Fatalf("TestCursorInsideTransaction: Put unexpectedly failed: %s", err)
		}
	}
	// Entries of other buckets must not leak into the cursor
	err = ldb.Put(database.MakeBucket([]byte("heightsx")).Key([]byte("00")), []byte{9})
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Put unexpectedly failed: %s", err)
	}

	tx, err := ldb.Begin()
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Begin unexpectedly failed: %s", err)
	}
	defer tx.RollbackUnlessClosed()
	err = tx.Put(bucket.Key([]byte("03")), []byte{3})
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Put unexpectedly failed: %s", err)
	}
	err = tx.Delete(bucket.Key([]byte("00")))
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Delete unexpectedly failed: %s", err)
	}

	cursor, err := tx.Cursor(bucket)
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Cursor unexpectedly failed: %s", err)
	}
	var got []byte
	for ok := cursor.First(); ok; ok = cursor.Next() {
		value, err := cursor.Value()
		if err != nil {
			t.Fatalf("TestCursorInsideTransaction: Value unexpectedly failed: %s", err)
		}
		got = append(got, value[0])
	}
	if !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Fatalf("TestCursorInsideTransaction: unexpected values %v", got)
	}

	if !cursor.Last() {
		t.Fatalf("TestCursorInsideTransaction: Last unexpectedly returned false")
	}
	key, err := cursor.Key()
	if err != nil {
		t.Fatalf("TestCursorInsideTransaction: Key unexpectedly failed: %s", err)
	}
	if string(key.Bytes()) != "03" {
		t.Fatalf("TestCursorInsideTransaction: unexpected last key %s", key.Bytes())
	}
	if err := cursor.Close(); err != nil {
		t.Fatalf("TestCursorInsideTransaction: Close unexpectedly failed: %s", err)
	}
	if err := cursor.Close(); err == nil {
		t.Fatalf("TestCursorInsideTransaction: closing twice unexpectedly succeeded")
	}
}
