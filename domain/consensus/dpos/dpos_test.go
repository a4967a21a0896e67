package dpos

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database/ldb"
	"github.com/pkg/errors"
)

type fixedTimeSource struct {
	now time.Time
}

func (f *fixedTimeSource) Now() time.Time {
	return f.now
}

func testParams() *chainconfig.Params {
	params := chainconfig.DevnetParams.Clone()
	params.ActiveDelegates = 5
	params.BlockTime = 10 * time.Second
	params.BlockSlotWindow = 5
	return params
}

func delegateKey(i int) []byte {
	return bytes.Repeat([]byte{byte(i + 1)}, 32)
}

// setupDelegates returns a store holding count delegates. Delegate i has
// vote count-i.
func setupDelegates(t *testing.T, testName string, params *chainconfig.Params,
	count int) (*ledger.Store, *Delegates, func()) {

	db, err := ldb.NewInMemoryLevelDB()
	if err != nil {
		t.Fatalf("%s: NewInMemoryLevelDB unexpectedly failed: %s", testName, err)
	}
	store := ledger.New(db)
	var ops []*ledger.DBOp
	for i := 0; i < count; i++ {
		account := model.NewAccount(model.AddressFromPublicKey(delegateKey(i)))
		account.PublicKey = delegateKey(i)
		account.IsDelegate = true
		account.Username = fmt.Sprintf("delegate_%d", i)
		account.Vote = int64(count - i)
		ops = append(ops, ledger.CreateAccount(account, false))
	}
	err = store.PerformOps(db, ops)
	if err != nil {
		t.Fatalf("%s: PerformOps unexpectedly failed: %s", testName, err)
	}
	slots := NewSlots(params, &fixedTimeSource{now: params.Epoch.Add(time.Hour)})
	delegates, err := NewDelegates(params, store, slots)
	if err != nil {
		t.Fatalf("%s: NewDelegates unexpectedly failed: %s", testName, err)
	}
	return store, delegates, func() { db.Close() }
}

func TestRoundOf(t *testing.T) {
	tests := []struct {
		height uint64
		round  uint64
		last   bool
	}{
		{height: 1, round: 1, last: false},
		{height: 5, round: 1, last: true},
		{height: 6, round: 2, last: false},
		{height: 10, round: 2, last: true},
		{height: 11, round: 3, last: false},
	}
	for _, test := range tests {
		round := RoundOf(test.height, 5)
		if round != test.round {
			t.Fatalf("TestRoundOf: expected round %d for height %d, got %d", test.round, test.height, round)
		}
		if IsLastOfRound(test.height, 5) != test.last {
			t.Fatalf("TestRoundOf: unexpected IsLastOfRound for height %d", test.height)
		}
	}
	if FirstHeightOfRound(3, 5) != 11 {
		t.Fatalf("TestRoundOf: expected round 3 to start at height 11, got %d", FirstHeightOfRound(3, 5))
	}
}

func TestSlots(t *testing.T) {
	params := testParams()
	timeSource := &fixedTimeSource{now: params.Epoch.Add(95 * time.Second)}
	slots := NewSlots(params, timeSource)

	if slots.Now() != 95 {
		t.Fatalf("TestSlots: expected epoch time 95, got %d", slots.Now())
	}
	if slots.CurrentSlot() != 9 {
		t.Fatalf("TestSlots: expected slot 9, got %d", slots.CurrentSlot())
	}
	if slots.GetSlotTime(9) != 90 {
		t.Fatalf("TestSlots: expected slot 9 to start at 90, got %d", slots.GetSlotTime(9))
	}
	if slots.GetNextSlot() != 10 {
		t.Fatalf("TestSlots: expected next slot 10, got %d", slots.GetNextSlot())
	}
	if slots.GetLastSlot(10) != 15 {
		t.Fatalf("TestSlots: expected last slot 15, got %d", slots.GetLastSlot(10))
	}
	if !slots.RealTime(95).Equal(timeSource.now) {
		t.Fatalf("TestSlots: RealTime does not invert GetTime")
	}
	if slots.GetTime(params.Epoch.Add(-time.Hour)) != 0 {
		t.Fatalf("TestSlots: times before the epoch must map to 0")
	}
}

func TestGenerateDelegateListIsRoundKeyed(t *testing.T) {
	params := testParams()
	_, delegates, teardown := setupDelegates(t, "TestGenerateDelegateListIsRoundKeyed", params, 7)
	defer teardown()

	first, err := delegates.GenerateDelegateList(delegates.store.DB(), 6)
	if err != nil {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: GenerateDelegateList unexpectedly failed: %s", err)
	}
	delegates.Purge()
	again, err := delegates.GenerateDelegateList(delegates.store.DB(), 6)
	if err != nil {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: GenerateDelegateList unexpectedly failed: %s", err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: the same height produced different lists:\n%s\n%s",
			spew.Sdump(first), spew.Sdump(again))
	}
	sameRound, err := delegates.GenerateDelegateList(delegates.store.DB(), 10)
	if err != nil {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: GenerateDelegateList unexpectedly failed: %s", err)
	}
	if !reflect.DeepEqual(first, sameRound) {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: heights of one round produced different lists")
	}

	if len(first) != int(params.ActiveDelegates) {
		t.Fatalf("TestGenerateDelegateListIsRoundKeyed: expected %d delegates, got %d",
			params.ActiveDelegates, len(first))
	}
	// Only the five delegates with the highest votes forge.
	for _, key := range first {
		if bytes.Equal(key, delegateKey(5)) || bytes.Equal(key, delegateKey(6)) {
			t.Fatalf("TestGenerateDelegateListIsRoundKeyed: an inactive delegate made the list")
		}
	}
}

func TestShuffleDelegates(t *testing.T) {
	keys := func() [][]byte {
		result := make([][]byte, 10)
		for i := range result {
			result[i] = delegateKey(i)
		}
		return result
	}

	round1 := ShuffleDelegates(keys(), 1)
	round1Again := ShuffleDelegates(keys(), 1)
	if !reflect.DeepEqual(round1, round1Again) {
		t.Fatalf("TestShuffleDelegates: shuffling is not deterministic")
	}

	seen := make(map[string]bool)
	for _, key := range round1 {
		seen[string(key)] = true
	}
	if len(seen) != 10 {
		t.Fatalf("TestShuffleDelegates: shuffling is not a permutation")
	}

	differs := false
	for round := uint64(2); round < 10 && !differs; round++ {
		differs = !reflect.DeepEqual(round1, ShuffleDelegates(keys(), round))
	}
	if !differs {
		t.Fatalf("TestShuffleDelegates: every round produced the same order")
	}

	if len(ShuffleDelegates(nil, 1)) != 0 {
		t.Fatalf("TestShuffleDelegates: shuffling nothing produced something")
	}
}

func TestAssertValidBlockSlot(t *testing.T) {
	params := testParams()
	_, delegates, teardown := setupDelegates(t, "TestAssertValidBlockSlot", params, 5)
	defer teardown()

	list, err := delegates.GenerateDelegateList(delegates.store.DB(), 7)
	if err != nil {
		t.Fatalf("TestAssertValidBlockSlot: GenerateDelegateList unexpectedly failed: %s", err)
	}
	slot := int64(12)
	block := &model.Block{
		Height:             7,
		Timestamp:          delegates.slots.GetSlotTime(slot),
		GeneratorPublicKey: list[slot%5],
	}
	err = delegates.AssertValidBlockSlot(delegates.store.DB(), block)
	if err != nil {
		t.Fatalf("TestAssertValidBlockSlot: the slot owner was rejected: %s", err)
	}

	block.GeneratorPublicKey = list[(slot+1)%5]
	err = delegates.AssertValidBlockSlot(delegates.store.DB(), block)
	if !errors.Is(err, ruleerrors.ErrBlockSlot) {
		t.Fatalf("TestAssertValidBlockSlot: expected ErrBlockSlot, got %v", err)
	}
}

func TestVerifyBlockSlot(t *testing.T) {
	params := testParams()
	_, delegates, teardown := setupDelegates(t, "TestVerifyBlockSlot", params, 5)
	defer teardown()

	// The clock is at slot 360.
	current := delegates.slots.CurrentSlot()
	at := func(slot int64) *model.Block {
		return &model.Block{Timestamp: delegates.slots.GetSlotTime(slot)}
	}

	tests := []struct {
		name        string
		block       *model.Block
		last        *model.Block
		slotErr     error
		windowError error
	}{
		{name: "current slot", block: at(current), last: at(current - 1)},
		{name: "same slot as last block", block: at(current), last: at(current),
			slotErr: ruleerrors.ErrInvalidTimestamp},
		{name: "future slot", block: at(current + 1), last: at(current - 1),
			slotErr: ruleerrors.ErrInvalidTimestamp, windowError: ruleerrors.ErrSlotWindow},
		{name: "stale slot", block: at(current - 6), last: at(current - 7),
			windowError: ruleerrors.ErrSlotWindow},
		{name: "oldest accepted slot", block: at(current - 5), last: at(current - 7)},
	}
	for _, test := range tests {
		err := delegates.VerifyBlockSlot(test.block, test.last)
		if test.slotErr == nil && err != nil || test.slotErr != nil && !errors.Is(err, test.slotErr) {
			t.Fatalf("TestVerifyBlockSlot: %s: unexpected VerifyBlockSlot result %v", test.name, err)
		}
		err = delegates.VerifyBlockSlotWindow(test.block)
		if test.windowError == nil && err != nil || test.windowError != nil && !errors.Is(err, test.windowError) {
			t.Fatalf("TestVerifyBlockSlot: %s: unexpected VerifyBlockSlotWindow result %v", test.name, err)
		}
	}
}
