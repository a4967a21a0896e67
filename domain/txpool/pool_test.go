package txpool

import (
	"encoding/hex"
	"reflect"
	"testing"
	"time"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/consensus/dpos"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/infrastructure/db/database/ldb"
	"github.com/dposnet/dposd/util/keys"
	"github.com/dposnet/dposd/util/prioritylock"
	"github.com/pkg/errors"
)

type fakeTimeSource struct {
	now time.Time
}

func (f *fakeTimeSource) Now() time.Time {
	return f.now
}

const testBalance = 100 * 100000000

type poolTestContext struct {
	t          *testing.T
	testName   string
	params     *chainconfig.Params
	store      *ledger.Store
	registry   *transactions.Registry
	timeSource *fakeTimeSource
	pool       *Pool
}

func preparePoolForTest(t *testing.T, testName string, adjustConfig func(cfg *Config)) (*poolTestContext, func()) {
	db, err := ldb.NewInMemoryLevelDB()
	if err != nil {
		t.Fatalf("%s: NewInMemoryLevelDB unexpectedly failed: %s", testName, err)
	}
	params := chainconfig.DevnetParams.Clone()
	timeSource := &fakeTimeSource{now: params.Epoch.Add(time.Hour)}
	store := ledger.New(db)
	slots := dpos.NewSlots(params, timeSource)
	registry := transactions.New(params, store, slots)

	cfg := DefaultConfig(params)
	if adjustConfig != nil {
		adjustConfig(cfg)
	}
	ctx := &poolTestContext{
		t:          t,
		testName:   testName,
		params:     params,
		store:      store,
		registry:   registry,
		timeSource: timeSource,
		pool:       New(cfg, registry, store, slots, prioritylock.New(), timeSource),
	}
	return ctx, func() { db.Close() }
}

func (ctx *poolTestContext) keyPair(i byte) *keys.KeyPair {
	keyPair, err := keys.FromSeed([]byte{i, 'p', 'o', 'o', 'l'})
	if err != nil {
		ctx.t.Fatalf("%s: FromSeed unexpectedly failed: %s", ctx.testName, err)
	}
	return keyPair
}

func (ctx *poolTestContext) fund(keyPair *keys.KeyPair, balance int64) {
	account := model.NewAccount(model.AddressFromPublicKey(keyPair.PublicKey))
	account.PublicKey = keyPair.PublicKey
	account.Balance = balance
	account.UBalance = balance
	err := ctx.store.PerformOps(ctx.store.DB(), []*ledger.DBOp{ledger.CreateAccount(account, false)})
	if err != nil {
		ctx.t.Fatalf("%s: PerformOps unexpectedly failed: %s", ctx.testName, err)
	}
}

func (ctx *poolTestContext) account(keyPair *keys.KeyPair) *model.Account {
	account, err := ctx.store.GetAccount(ctx.store.DB(), model.AddressFromPublicKey(keyPair.PublicKey))
	if err != nil {
		ctx.t.Fatalf("%s: GetAccount unexpectedly failed: %s", ctx.testName, err)
	}
	return account
}

func (ctx *poolTestContext) sign(keyPair *keys.KeyPair, tx *model.Transaction) *model.Transaction {
	tx.Timestamp = 3000
	err := ctx.registry.Sign(keyPair, tx)
	if err != nil {
		ctx.t.Fatalf("%s: Sign unexpectedly failed: %s", ctx.testName, err)
	}
	return tx
}

func (ctx *poolTestContext) send(keyPair *keys.KeyPair, recipient string, amount int64) *model.Transaction {
	return ctx.sign(keyPair, &model.Transaction{
		Type:        model.TransactionTypeSend,
		RecipientID: recipient,
		Amount:      amount,
		Fee:         ctx.params.Fees.Send,
	})
}

func (ctx *poolTestContext) expectQueue(id string, expected QueueType) {
	queueType, ok := ctx.pool.WhatQueue(id)
	if !ok {
		ctx.t.Fatalf("%s: transaction %s is not in the pool", ctx.testName, id)
	}
	if queueType != expected {
		ctx.t.Fatalf("%s: transaction %s is in the %s queue, want %s", ctx.testName, id, queueType, expected)
	}
}

func expectRejectCode(t *testing.T, testName string, err error, expected RejectCode) {
	if err == nil {
		t.Fatalf("%s: expected an error with code %s", testName, expected)
	}
	code, ok := ExtractRejectCode(err)
	if !ok || code != expected {
		t.Fatalf("%s: unexpected reject code for %q: got %s, want %s", testName, err, code, expected)
	}
}

func TestExactlyOnceAdmission(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestExactlyOnceAdmission", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	ctx.fund(sender, testBalance)
	tx := ctx.send(sender, model.AddressFromPublicKey(ctx.keyPair(1).PublicKey), 100)

	err := ctx.pool.ProcessNewTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestExactlyOnceAdmission: ProcessNewTransaction unexpectedly failed: %s", err)
	}
	ctx.expectQueue(tx.ID, QueueBundled)

	err = ctx.pool.ProcessNewTransaction(tx, false)
	expectRejectCode(t, "TestExactlyOnceAdmission", err, RejectDuplicate)
	err = ctx.pool.QueueTransaction(tx, false)
	expectRejectCode(t, "TestExactlyOnceAdmission", err, RejectDuplicate)

	ctx.pool.ProcessBundled()
	ctx.expectQueue(tx.ID, QueueQueued)
	err = ctx.pool.QueueTransaction(tx, true)
	expectRejectCode(t, "TestExactlyOnceAdmission", err, RejectDuplicate)

	applied := ctx.pool.FillPool()
	if !reflect.DeepEqual(applied, []string{tx.ID}) {
		t.Fatalf("TestExactlyOnceAdmission: unexpected applied ids: %v", applied)
	}
	ctx.expectQueue(tx.ID, QueueUnconfirmed)
	if total := ctx.pool.Count().Total(); total != 1 {
		t.Fatalf("TestExactlyOnceAdmission: transaction is pooled %d times", total)
	}

	// A second fill must not apply the transaction again.
	ctx.pool.FillPool()
	if uBalance := ctx.account(sender).UBalance; uBalance != testBalance-100-ctx.params.Fees.Send {
		t.Fatalf("TestExactlyOnceAdmission: unexpected u_balance %d", uBalance)
	}
}

func TestPoolFull(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestPoolFull", func(cfg *Config) {
		cfg.MaxTxsPerQueue = 1
	})
	defer teardown()

	sender := ctx.keyPair(0)
	recipient := model.AddressFromPublicKey(ctx.keyPair(1).PublicKey)
	err := ctx.pool.QueueTransaction(ctx.send(sender, recipient, 1), true)
	if err != nil {
		t.Fatalf("TestPoolFull: QueueTransaction unexpectedly failed: %s", err)
	}
	err = ctx.pool.QueueTransaction(ctx.send(sender, recipient, 2), true)
	expectRejectCode(t, "TestPoolFull", err, RejectPoolFull)
}

func TestProcessNewTransactionRejects(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestProcessNewTransactionRejects", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	recipient := model.AddressFromPublicKey(ctx.keyPair(1).PublicKey)

	tampered := ctx.send(sender, recipient, 10)
	tampered.Amount = 11
	err := ctx.pool.ProcessNewTransaction(tampered, false)
	expectRejectCode(t, "TestProcessNewTransactionRejects", err, RejectInvalid)

	expired := ctx.send(sender, recipient, 12)
	ctx.timeSource.now = ctx.timeSource.now.Add(ctx.params.UnconfirmedTransactionTimeout)
	err = ctx.pool.ProcessNewTransaction(expired, false)
	expectRejectCode(t, "TestProcessNewTransactionRejects", err, RejectExpired)

	malformed := ctx.send(sender, recipient, 13)
	malformed.SenderPublicKey = nil
	err = ctx.pool.ProcessNewTransaction(malformed, false)
	if err == nil {
		t.Fatalf("TestProcessNewTransactionRejects: malformed transaction was admitted")
	}
	var ruleErr RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("TestProcessNewTransactionRejects: expected a RuleError, got %T", err)
	}

	var broadcasted []string
	ctx.pool.SetBroadcaster(func(tx *model.Transaction) {
		broadcasted = append(broadcasted, tx.ID)
	})
	ctx.timeSource.now = ctx.params.Epoch.Add(time.Hour)
	valid := ctx.send(sender, recipient, 14)
	err = ctx.pool.ProcessNewTransaction(valid, true)
	if err != nil {
		t.Fatalf("TestProcessNewTransactionRejects: ProcessNewTransaction unexpectedly failed: %s", err)
	}
	if !reflect.DeepEqual(broadcasted, []string{valid.ID}) {
		t.Fatalf("TestProcessNewTransactionRejects: unexpected broadcasts: %v", broadcasted)
	}
}

func TestFillPoolDropsInvalid(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestFillPoolDropsInvalid", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	ctx.fund(sender, testBalance)
	recipient := model.AddressFromPublicKey(ctx.keyPair(1).PublicKey)

	valid := ctx.send(sender, recipient, 100)
	overspend := ctx.send(sender, recipient, testBalance)
	for _, tx := range []*model.Transaction{valid, overspend} {
		err := ctx.pool.QueueTransaction(tx, false)
		if err != nil {
			t.Fatalf("TestFillPoolDropsInvalid: QueueTransaction unexpectedly failed: %s", err)
		}
	}

	applied := ctx.pool.FillPool()
	if !reflect.DeepEqual(applied, []string{valid.ID}) {
		t.Fatalf("TestFillPoolDropsInvalid: unexpected applied ids: %v", applied)
	}
	if ctx.pool.TransactionInPool(overspend.ID) {
		t.Fatalf("TestFillPoolDropsInvalid: invalid transaction is still pooled")
	}
	if !reflect.DeepEqual(ctx.pool.UnconfirmedIDs(), []string{valid.ID}) {
		t.Fatalf("TestFillPoolDropsInvalid: unexpected unconfirmed ids: %v", ctx.pool.UnconfirmedIDs())
	}

	merged := ctx.pool.GetMergedTransactionList(0)
	if len(merged) != 1 || merged[0].ID != valid.ID {
		t.Fatalf("TestFillPoolDropsInvalid: unexpected merged list of %d transactions", len(merged))
	}
}

func TestFillPoolWhileSyncing(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestFillPoolWhileSyncing", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	ctx.fund(sender, testBalance)
	tx := ctx.send(sender, model.AddressFromPublicKey(ctx.keyPair(1).PublicKey), 100)
	err := ctx.pool.QueueTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestFillPoolWhileSyncing: QueueTransaction unexpectedly failed: %s", err)
	}

	ctx.pool.SetSyncing(func() bool { return true })
	if applied := ctx.pool.FillPool(); len(applied) != 0 {
		t.Fatalf("TestFillPoolWhileSyncing: applied %v while syncing", applied)
	}
	ctx.expectQueue(tx.ID, QueueQueued)
}

func TestExpireUnconfirmed(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestExpireUnconfirmed", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	ctx.fund(sender, testBalance)
	tx := ctx.send(sender, model.AddressFromPublicKey(ctx.keyPair(1).PublicKey), 100)
	err := ctx.pool.QueueTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestExpireUnconfirmed: QueueTransaction unexpectedly failed: %s", err)
	}
	ctx.pool.FillPool()
	ctx.expectQueue(tx.ID, QueueUnconfirmed)

	ids, err := ctx.pool.ExpireTransactions()
	if err != nil {
		t.Fatalf("TestExpireUnconfirmed: ExpireTransactions unexpectedly failed: %s", err)
	}
	if len(ids) != 0 {
		t.Fatalf("TestExpireUnconfirmed: expired %v too early", ids)
	}

	ctx.timeSource.now = ctx.timeSource.now.Add(ctx.params.UnconfirmedTransactionTimeout + time.Second)
	ids, err = ctx.pool.ExpireTransactions()
	if err != nil {
		t.Fatalf("TestExpireUnconfirmed: ExpireTransactions unexpectedly failed: %s", err)
	}
	if !reflect.DeepEqual(ids, []string{tx.ID}) {
		t.Fatalf("TestExpireUnconfirmed: unexpected expired ids: %v", ids)
	}
	if uBalance := ctx.account(sender).UBalance; uBalance != testBalance {
		t.Fatalf("TestExpireUnconfirmed: u_balance was not restored: %d", uBalance)
	}
}

func TestMultisignatureRegistrationInPool(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestMultisignatureRegistrationInPool", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	cosigner := ctx.keyPair(1)
	outsider := ctx.keyPair(2)
	ctx.fund(sender, testBalance)

	tx := ctx.sign(sender, &model.Transaction{
		Type: model.TransactionTypeMultisignature,
		Fee:  ctx.params.Fees.Multisignature,
		Asset: &model.MultisignatureAsset{
			Min:       1,
			Lifetime:  1,
			Keysgroup: []string{"+" + hex.EncodeToString(cosigner.PublicKey)},
		},
	})
	err := ctx.pool.QueueTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestMultisignatureRegistrationInPool: QueueTransaction unexpectedly failed: %s", err)
	}
	ctx.expectQueue(tx.ID, QueueMultisignature)
	if merged := ctx.pool.GetMergedTransactionList(0); len(merged) != 0 {
		t.Fatalf("TestMultisignatureRegistrationInPool: unsigned registration is shared")
	}

	outsiderSignature, err := ctx.registry.MultiSign(outsider, tx)
	if err != nil {
		t.Fatalf("TestMultisignatureRegistrationInPool: MultiSign unexpectedly failed: %s", err)
	}
	err = ctx.pool.AddSignature(tx.ID, outsiderSignature)
	if !errors.Is(err, ruleerrors.ErrMultisignature) {
		t.Fatalf("TestMultisignatureRegistrationInPool: unexpected error for an outsider signature: %v", err)
	}

	signature, err := ctx.registry.MultiSign(cosigner, tx)
	if err != nil {
		t.Fatalf("TestMultisignatureRegistrationInPool: MultiSign unexpectedly failed: %s", err)
	}
	err = ctx.pool.AddSignature(tx.ID, signature)
	if err != nil {
		t.Fatalf("TestMultisignatureRegistrationInPool: AddSignature unexpectedly failed: %s", err)
	}
	err = ctx.pool.AddSignature(tx.ID, signature)
	if !errors.Is(err, ruleerrors.ErrMultisignature) {
		t.Fatalf("TestMultisignatureRegistrationInPool: duplicate signature was accepted: %v", err)
	}
	if merged := ctx.pool.GetMergedTransactionList(0); len(merged) != 1 {
		t.Fatalf("TestMultisignatureRegistrationInPool: signed registration is not shared")
	}

	// The registration lives for its lifetime of one hour.
	ctx.timeSource.now = ctx.timeSource.now.Add(time.Hour + time.Second)
	ids, err := ctx.pool.ExpireTransactions()
	if err != nil {
		t.Fatalf("TestMultisignatureRegistrationInPool: ExpireTransactions unexpectedly failed: %s", err)
	}
	if !reflect.DeepEqual(ids, []string{tx.ID}) {
		t.Fatalf("TestMultisignatureRegistrationInPool: unexpected expired ids: %v", ids)
	}
}

func TestRequeueUnconfirmed(t *testing.T) {
	ctx, teardown := preparePoolForTest(t, "TestRequeueUnconfirmed", nil)
	defer teardown()

	sender := ctx.keyPair(0)
	ctx.fund(sender, testBalance)
	tx := ctx.send(sender, model.AddressFromPublicKey(ctx.keyPair(1).PublicKey), 100)
	err := ctx.pool.QueueTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestRequeueUnconfirmed: QueueTransaction unexpectedly failed: %s", err)
	}
	ctx.pool.FillPool()

	err = ctx.pool.undoUnconfirmed([]*model.Transaction{tx})
	if err != nil {
		t.Fatalf("TestRequeueUnconfirmed: undoUnconfirmed unexpectedly failed: %s", err)
	}
	ctx.pool.RequeueUnconfirmed([]string{tx.ID})
	ctx.expectQueue(tx.ID, QueueQueued)

	applied := ctx.pool.FillPool()
	if !reflect.DeepEqual(applied, []string{tx.ID}) {
		t.Fatalf("TestRequeueUnconfirmed: unexpected applied ids after requeue: %v", applied)
	}
}

func TestExtractRejectCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     RejectCode
		expectOK bool
	}{
		{"tx rule error", txRuleError(RejectPoolFull, "full"), RejectPoolFull, true},
		{"wrapped consensus rule", errors.Wrapf(ruleerrors.ErrInvalidFee, "Invalid transaction fee"), RejectInvalid, true},
		{"rule error around consensus rule", RuleError{Err: ruleerrors.ErrTxSignature}, RejectInvalid, true},
		{"plain error", errors.New("disk"), RejectInvalid, false},
	}
	for _, test := range tests {
		code, ok := ExtractRejectCode(test.err)
		if ok != test.expectOK || code != test.code {
			t.Errorf("TestExtractRejectCode: %s: got (%s, %t), want (%s, %t)",
				test.name, code, ok, test.code, test.expectOK)
		}
	}
}
