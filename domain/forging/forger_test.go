package forging

import (
	"testing"
	"time"

	"github.com/dposnet/dposd/domain"
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database/ldb"
	"github.com/dposnet/dposd/util/keys"
)

type fakeTimeSource struct {
	now time.Time
}

func (f *fakeTimeSource) Now() time.Time {
	return f.now
}

// prepareDomainForTest returns a bootstrapped devnet chain over an
// in-memory database, an hour after the epoch.
func prepareDomainForTest(t *testing.T, testName string) (domain.Domain, func()) {
	db, err := ldb.NewInMemoryLevelDB()
	if err != nil {
		t.Fatalf("%s: NewInMemoryLevelDB unexpectedly failed: %s", testName, err)
	}
	params := chainconfig.DevnetParams.Clone()
	d, err := domain.New(params, db, &fakeTimeSource{now: params.Epoch.Add(time.Hour)}, nil)
	if err != nil {
		t.Fatalf("%s: domain.New unexpectedly failed: %+v", testName, err)
	}
	return d, func() { db.Close() }
}

func genesisDelegates(t *testing.T, params *chainconfig.Params) []*keys.KeyPair {
	keyPairs := make([]*keys.KeyPair, params.Genesis.Delegates)
	for i := range keyPairs {
		keyPair, err := blocks.GenesisDelegateKeyPair(params, i)
		if err != nil {
			t.Fatalf("GenesisDelegateKeyPair unexpectedly failed: %s", err)
		}
		keyPairs[i] = keyPair
	}
	return keyPairs
}

func TestForgeSlot(t *testing.T) {
	d, teardown := prepareDomainForTest(t, "TestForgeSlot")
	defer teardown()

	forger, err := New(d, genesisDelegates(t, d.Params()))
	if err != nil {
		t.Fatalf("TestForgeSlot: New unexpectedly failed: %s", err)
	}
	if len(forger.Delegates()) != d.Params().Genesis.Delegates {
		t.Fatalf("TestForgeSlot: forging with %d delegates, want %d", len(forger.Delegates()),
			d.Params().Genesis.Delegates)
	}

	genesisAccount, err := blocks.GenesisAccountKeyPair(d.Params())
	if err != nil {
		t.Fatalf("TestForgeSlot: GenesisAccountKeyPair unexpectedly failed: %s", err)
	}
	recipient, err := keys.FromSeed([]byte("forging recipient"))
	if err != nil {
		t.Fatalf("TestForgeSlot: FromSeed unexpectedly failed: %s", err)
	}
	tx := &model.Transaction{
		Type:        model.TransactionTypeSend,
		Timestamp:   3000,
		RecipientID: model.AddressFromPublicKey(recipient.PublicKey),
		Amount:      1000,
		Fee:         d.Params().Fees.Send,
	}
	err = d.Registry().Sign(genesisAccount, tx)
	if err != nil {
		t.Fatalf("TestForgeSlot: Sign unexpectedly failed: %s", err)
	}
	err = d.Pool().QueueTransaction(tx, false)
	if err != nil {
		t.Fatalf("TestForgeSlot: QueueTransaction unexpectedly failed: %s", err)
	}

	slot := d.Slots().CurrentSlot()
	block, err := forger.ForgeSlot(slot)
	if err != nil {
		t.Fatalf("TestForgeSlot: ForgeSlot unexpectedly failed: %+v", err)
	}
	if block == nil {
		t.Fatalf("TestForgeSlot: no block forged although every delegate is local")
	}
	if d.Chain().LastBlock().ID != block.ID || block.Height != 2 {
		t.Fatalf("TestForgeSlot: forged block %s at height %d is not the last block", block.ID, block.Height)
	}
	if len(block.Transactions) != 1 || block.Transactions[0].ID != tx.ID {
		t.Fatalf("TestForgeSlot: forged block does not hold the pooled transaction")
	}
	if d.Pool().TransactionInPool(tx.ID) {
		t.Fatalf("TestForgeSlot: forged transaction is still pooled")
	}

	again, err := forger.ForgeSlot(slot)
	if err != nil {
		t.Fatalf("TestForgeSlot: ForgeSlot of a forged slot unexpectedly failed: %s", err)
	}
	if again != nil {
		t.Fatalf("TestForgeSlot: slot %d was forged twice", slot)
	}
}

func TestForgeSlotWithoutLocalDelegate(t *testing.T) {
	d, teardown := prepareDomainForTest(t, "TestForgeSlotWithoutLocalDelegate")
	defer teardown()

	stranger, err := keys.FromSeed([]byte("not a delegate"))
	if err != nil {
		t.Fatalf("TestForgeSlotWithoutLocalDelegate: FromSeed unexpectedly failed: %s", err)
	}
	forger, err := New(d, []*keys.KeyPair{stranger})
	if err != nil {
		t.Fatalf("TestForgeSlotWithoutLocalDelegate: New unexpectedly failed: %s", err)
	}
	if len(forger.Delegates()) != 0 {
		t.Fatalf("TestForgeSlotWithoutLocalDelegate: unknown account kept as forging delegate")
	}

	genesisID := d.Chain().LastBlock().ID
	block, err := forger.ForgeSlot(d.Slots().CurrentSlot())
	if err != nil {
		t.Fatalf("TestForgeSlotWithoutLocalDelegate: ForgeSlot unexpectedly failed: %s", err)
	}
	if block != nil || d.Chain().LastBlock().ID != genesisID {
		t.Fatalf("TestForgeSlotWithoutLocalDelegate: a block was forged without a local delegate")
	}
}

func TestTickGuards(t *testing.T) {
	d, teardown := prepareDomainForTest(t, "TestTickGuards")
	defer teardown()

	forger, err := New(d, genesisDelegates(t, d.Params()))
	if err != nil {
		t.Fatalf("TestTickGuards: New unexpectedly failed: %s", err)
	}
	genesisID := d.Chain().LastBlock().ID

	forger.SetGuards(func() bool { return true }, func() bool { return false })
	forger.tick()
	if d.Chain().LastBlock().ID != genesisID {
		t.Fatalf("TestTickGuards: a block was forged while syncing")
	}

	// The genesis block is older than the stale threshold of devnet.
	forger.SetGuards(func() bool { return false }, func() bool { return true })
	forger.tick()
	if d.Chain().LastBlock().ID != genesisID {
		t.Fatalf("TestTickGuards: a block was forged on a stale chain with a poor consensus")
	}

	forger.SetGuards(func() bool { return false }, func() bool { return false })
	forger.tick()
	if d.Chain().LastBlock().Height != 2 {
		t.Fatalf("TestTickGuards: tick did not forge, last block at height %d", d.Chain().LastBlock().Height)
	}
}
