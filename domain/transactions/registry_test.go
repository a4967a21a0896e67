package transactions

import (
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database/ldb"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

type fixedTimeSource struct {
	now time.Time
}

func (f *fixedTimeSource) Now() time.Time {
	return f.now
}

const testBalance = 100 * 100000000

// testTimestamp is well before the current slot of the test clock.
const testTimestamp = 3000

func prepareRegistryForTest(t *testing.T, testName string) (*Registry, *ledger.Store, func()) {
	db, err := ldb.NewInMemoryLevelDB()
	if err != nil {
		t.Fatalf("%s: NewInMemoryLevelDB unexpectedly failed: %s", testName, err)
	}
	params := chainconfig.DevnetParams.Clone()
	params.MaximumVotes = 3
	store := ledger.New(db)
	slots := dpos.NewSlots(params, &fixedTimeSource{now: params.Epoch.Add(time.Hour)})
	return New(params, store, slots), store, func() { db.Close() }
}

func testKeyPair(t *testing.T, testName string, i byte) *keys.KeyPair {
	keyPair, err := keys.FromSeed([]byte{i, 'd', 'p', 'o', 's'})
	if err != nil {
		t.Fatalf("%s: FromSeed unexpectedly failed: %s", testName, err)
	}
	return keyPair
}

func performOps(t *testing.T, testName string, store *ledger.Store, ops []*ledger.DBOp) {
	err := store.PerformOps(store.DB(), ops)
	if err != nil {
		t.Fatalf("%s: PerformOps unexpectedly failed: %s", testName, err)
	}
}

// fundAccount stores a funded account for keyPair and returns it.
func fundAccount(t *testing.T, testName string, store *ledger.Store, keyPair *keys.KeyPair,
	balance int64) *model.Account {

	account := model.NewAccount(model.AddressFromPublicKey(keyPair.PublicKey))
	account.PublicKey = keyPair.PublicKey
	account.Balance = balance
	account.UBalance = balance
	performOps(t, testName, store, []*ledger.DBOp{ledger.CreateAccount(account, false)})
	return getAccount(t, testName, store, account.Address)
}

func getAccount(t *testing.T, testName string, store *ledger.Store, address string) *model.Account {
	account, err := store.GetAccount(store.DB(), address)
	if err != nil {
		t.Fatalf("%s: GetAccount unexpectedly failed: %s", testName, err)
	}
	return account
}

func signTx(t *testing.T, testName string, registry *Registry, keyPair *keys.KeyPair, tx *model.Transaction) {
	if tx.Timestamp == 0 {
		tx.Timestamp = testTimestamp
	}
	err := registry.Sign(keyPair, tx)
	if err != nil {
		t.Fatalf("%s: Sign unexpectedly failed: %s", testName, err)
	}
}

func newSendTx(t *testing.T, testName string, registry *Registry, keyPair *keys.KeyPair,
	recipient string, amount int64) *model.Transaction {

	tx := &model.Transaction{
		Type:        model.TransactionTypeSend,
		RecipientID: recipient,
		Amount:      amount,
		Fee:         registry.params.Fees.Send,
	}
	signTx(t, testName, registry, keyPair, tx)
	return tx
}

func TestFullBytesRoundTrip(t *testing.T) {
	registry, _, teardown := prepareRegistryForTest(t, "TestFullBytesRoundTrip")
	defer teardown()

	sender := testKeyPair(t, "TestFullBytesRoundTrip", 0)
	second := testKeyPair(t, "TestFullBytesRoundTrip", 1)
	cosigner := testKeyPair(t, "TestFullBytesRoundTrip", 2)

	multisig := &model.Transaction{
		Type: model.TransactionTypeMultisignature,
		Fee:  registry.params.Fees.Multisignature,
		Asset: &model.MultisignatureAsset{
			Min:       1,
			Lifetime:  24,
			Keysgroup: []string{"+" + hexKey(cosigner.PublicKey)},
		},
	}
	signTx(t, "TestFullBytesRoundTrip", registry, sender, multisig)
	err := registry.SecondSign(second, multisig)
	if err != nil {
		t.Fatalf("TestFullBytesRoundTrip: SecondSign unexpectedly failed: %s", err)
	}
	cosignature, err := registry.MultiSign(cosigner, multisig)
	if err != nil {
		t.Fatalf("TestFullBytesRoundTrip: MultiSign unexpectedly failed: %s", err)
	}
	multisig.Signatures = [][]byte{cosignature}

	send := newSendTx(t, "TestFullBytesRoundTrip", registry, sender,
		model.AddressFromPublicKey(second.PublicKey), 5)

	for _, tx := range []*model.Transaction{multisig, send} {
		serialized, err := registry.FullBytes(tx)
		if err != nil {
			t.Fatalf("TestFullBytesRoundTrip: FullBytes unexpectedly failed: %s", err)
		}
		parsed, err := registry.FromBytes(serialized)
		if err != nil {
			t.Fatalf("TestFullBytesRoundTrip: FromBytes unexpectedly failed: %s", err)
		}
		if !reflect.DeepEqual(parsed, tx) {
			t.Fatalf("TestFullBytesRoundTrip: expected %s, got %s", spew.Sdump(tx), spew.Sdump(parsed))
		}
	}

	_, err = registry.FromBytes(append([]byte{byte(model.TransactionTypeSend)}, make([]byte, 10)...))
	if !errors.Is(err, ruleerrors.ErrMalformedTransaction) {
		t.Fatalf("TestFullBytesRoundTrip: expected ErrMalformedTransaction for truncated bytes, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	registry, store, teardown := prepareRegistryForTest(t, "TestVerify")
	defer teardown()

	keyPair := testKeyPair(t, "TestVerify", 0)
	other := testKeyPair(t, "TestVerify", 1)
	sender := fundAccount(t, "TestVerify", store, keyPair, testBalance)
	recipient := model.AddressFromPublicKey(other.PublicKey)

	valid := newSendTx(t, "TestVerify", registry, keyPair, recipient, 100)
	err := registry.Verify(store.DB(), valid, sender, 2)
	if err != nil {
		t.Fatalf("TestVerify: Verify unexpectedly failed: %s", err)
	}

	badFee := &model.Transaction{
		Type: model.TransactionTypeSend, RecipientID: recipient, Amount: 100, Fee: registry.params.Fees.Send + 1,
	}
	signTx(t, "TestVerify", registry, keyPair, badFee)

	badSignature := valid.Clone()
	badSignature.Signature[0] ^= 0xff

	secondSigned := valid.Clone()
	err = registry.SecondSign(other, secondSigned)
	if err != nil {
		t.Fatalf("TestVerify: SecondSign unexpectedly failed: %s", err)
	}

	future := &model.Transaction{
		Type: model.TransactionTypeSend, RecipientID: recipient, Amount: 100, Fee: registry.params.Fees.Send,
		Timestamp: registry.slots.Now() + 100,
	}
	signTx(t, "TestVerify", registry, keyPair, future)

	noRecipient := &model.Transaction{Type: model.TransactionTypeSend, Amount: 100, Fee: registry.params.Fees.Send}
	signTx(t, "TestVerify", registry, keyPair, noRecipient)

	tampered := valid.Clone()
	tampered.Amount = 200

	tests := []struct {
		name     string
		tx       *model.Transaction
		expected error
	}{
		{name: "fee", tx: badFee, expected: ruleerrors.ErrInvalidFee},
		{name: "signature", tx: badSignature, expected: ruleerrors.ErrTxSignature},
		{name: "unexpected second signature", tx: secondSigned, expected: ruleerrors.ErrSecondSignature},
		{name: "future timestamp", tx: future, expected: ruleerrors.ErrInvalidTxTimestamp},
		{name: "missing recipient", tx: noRecipient, expected: ruleerrors.ErrInvalidRecipient},
		{name: "tampered", tx: tampered, expected: ruleerrors.ErrMalformedTransaction},
	}
	for _, test := range tests {
		err := registry.Verify(store.DB(), test.tx, sender, 2)
		if !errors.Is(err, test.expected) {
			t.Fatalf("TestVerify: %s: expected %s, got %v", test.name, test.expected, err)
		}
	}

	sender.SecondSignature = true
	sender.SecondPublicKey = other.PublicKey
	err = registry.Verify(store.DB(), valid, sender, 2)
	if !errors.Is(err, ruleerrors.ErrSecondSignature) {
		t.Fatalf("TestVerify: expected a missing second signature error, got %v", err)
	}
	err = registry.Verify(store.DB(), secondSigned, sender, 2)
	if err != nil {
		t.Fatalf("TestVerify: Verify of a second signed transaction unexpectedly failed: %s", err)
	}
}

func TestSendApplyAndUndo(t *testing.T) {
	registry, store, teardown := prepareRegistryForTest(t, "TestSendApplyAndUndo")
	defer teardown()

	keyPair := testKeyPair(t, "TestSendApplyAndUndo", 0)
	recipientKeyPair := testKeyPair(t, "TestSendApplyAndUndo", 1)
	sender := fundAccount(t, "TestSendApplyAndUndo", store, keyPair, testBalance)
	recipient := model.AddressFromPublicKey(recipientKeyPair.PublicKey)

	digestBefore, err := store.ConfirmedStateDigest(store.DB())
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: ConfirmedStateDigest unexpectedly failed: %s", err)
	}

	tx := newSendTx(t, "TestSendApplyAndUndo", registry, keyPair, recipient, 1000)
	block := &model.Block{ID: "1", Height: 2}

	unconfirmedOps, err := registry.ApplyUnconfirmed(store.DB(), tx, sender)
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: ApplyUnconfirmed unexpectedly failed: %s", err)
	}
	performOps(t, "TestSendApplyAndUndo", store, unconfirmedOps)
	confirmedOps, err := registry.Apply(store.DB(), tx, block, getAccount(t, "TestSendApplyAndUndo", store, sender.Address))
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: Apply unexpectedly failed: %s", err)
	}
	performOps(t, "TestSendApplyAndUndo", store, confirmedOps)

	spent := 1000 + registry.params.Fees.Send
	sender = getAccount(t, "TestSendApplyAndUndo", store, sender.Address)
	if sender.Balance != testBalance-spent || sender.UBalance != testBalance-spent || sender.Virgin {
		t.Fatalf("TestSendApplyAndUndo: unexpected sender after apply: %s", spew.Sdump(sender))
	}
	credited := getAccount(t, "TestSendApplyAndUndo", store, recipient)
	if credited.Balance != 1000 || credited.UBalance != 1000 {
		t.Fatalf("TestSendApplyAndUndo: unexpected recipient after apply: %s", spew.Sdump(credited))
	}

	undoOps, err := registry.Undo(store.DB(), tx, block, sender)
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: Undo unexpectedly failed: %s", err)
	}
	performOps(t, "TestSendApplyAndUndo", store, undoOps)
	undoUnconfirmedOps, err := registry.UndoUnconfirmed(store.DB(), tx, sender)
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: UndoUnconfirmed unexpectedly failed: %s", err)
	}
	performOps(t, "TestSendApplyAndUndo", store, undoUnconfirmedOps)

	digestAfter, err := store.ConfirmedStateDigest(store.DB())
	if err != nil {
		t.Fatalf("TestSendApplyAndUndo: ConfirmedStateDigest unexpectedly failed: %s", err)
	}
	if digestBefore != digestAfter {
		t.Fatalf("TestSendApplyAndUndo: undo did not restore the confirmed state")
	}
	sender = getAccount(t, "TestSendApplyAndUndo", store, sender.Address)
	if sender.UBalance != testBalance {
		t.Fatalf("TestSendApplyAndUndo: expected u_balance %d after undo, got %d", testBalance, sender.UBalance)
	}
}

func TestApplyUnconfirmedBalance(t *testing.T) {
	registry, store, teardown := prepareRegistryForTest(t, "TestApplyUnconfirmedBalance")
	defer teardown()

	keyPair := testKeyPair(t, "TestApplyUnconfirmedBalance", 0)
	recipient := model.AddressFromPublicKey(testKeyPair(t, "TestApplyUnconfirmedBalance", 1).PublicKey)
	sender := model.NewAccount(model.AddressFromPublicKey(keyPair.PublicKey))

	tx := newSendTx(t, "TestApplyUnconfirmedBalance", registry, keyPair, recipient, 1000)
	_, err := registry.ApplyUnconfirmed(store.DB(), tx, sender)
	if !errors.Is(err, ruleerrors.ErrInsufficientBalance) {
		t.Fatalf("TestApplyUnconfirmedBalance: expected ErrInsufficientBalance, got %v", err)
	}

	tx.Height = 1
	ops, err := registry.ApplyUnconfirmed(store.DB(), tx, sender)
	if err != nil {
		t.Fatalf("TestApplyUnconfirmedBalance: genesis transaction unexpectedly failed: %s", err)
	}
	performOps(t, "TestApplyUnconfirmedBalance", store, ops)
	stored := getAccount(t, "TestApplyUnconfirmedBalance", store, sender.Address)
	if !reflect.DeepEqual(stored.PublicKey, keyPair.PublicKey) {
		t.Fatalf("TestApplyUnconfirmedBalance: the sender public key was not stored")
	}
}

func TestFindConflicts(t *testing.T) {
	registry, _, teardown := prepareRegistryForTest(t, "TestFindConflicts")
	defer teardown()

	first := testKeyPair(t, "TestFindConflicts", 0)
	second := testKeyPair(t, "TestFindConflicts", 1)
	delegate := hexKey(testKeyPair(t, "TestFindConflicts", 2).PublicKey)

	newVote := func(keyPair *keys.KeyPair, timestamp uint32) *model.Transaction {
		tx := &model.Transaction{
			Type:        model.TransactionTypeVote,
			Timestamp:   timestamp,
			RecipientID: model.AddressFromPublicKey(keyPair.PublicKey),
			Fee:         registry.params.Fees.Vote,
			Asset:       &model.VoteAsset{Votes: []string{"+" + delegate}},
		}
		signTx(t, "TestFindConflicts", registry, keyPair, tx)
		return tx
	}
	send := newSendTx(t, "TestFindConflicts", registry, first, model.AddressFromPublicKey(second.PublicKey), 1)
	txs := []*model.Transaction{
		newVote(first, 100),
		send,
		newVote(second, 101),
		newVote(first, 102),
	}
	conflicts, err := registry.FindConflicts(txs)
	if err != nil {
		t.Fatalf("TestFindConflicts: FindConflicts unexpectedly failed: %s", err)
	}
	if len(conflicts) != 1 || conflicts[0] != txs[3] {
		t.Fatalf("TestFindConflicts: expected only the second vote of the first sender, got %s",
			spew.Sdump(conflicts))
	}
}
