package dpos

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/infrastructure/db/database"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const delegateListCacheSize = 16

// Delegates computes the forging order of every round.
type Delegates struct {
	params *chainconfig.Params
	store  *ledger.Store
	slots  *Slots

	// lists caches the delegate list of a round, keyed by round number.
	lists *lru.Cache
}

// NewDelegates returns a Delegates reading the delegate set from store.
func NewDelegates(params *chainconfig.Params, store *ledger.Store, slots *Slots) (*Delegates, error) {
	lists, err := lru.New(delegateListCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Delegates{
		params: params,
		store:  store,
		slots:  slots,
		lists:  lists,
	}, nil
}

// GenerateDelegateList returns the forging order of the round height belongs
// to. Every height of a round yields the same list.
func (d *Delegates) GenerateDelegateList(accessor database.DataAccessor, height uint64) ([][]byte, error) {
	round := d.slots.Round(height)
	if cached, ok := d.lists.Get(round); ok {
		return copyKeys(cached.([][]byte)), nil
	}

	keys, err := d.keysSortedByVote(accessor)
	if err != nil {
		return nil, err
	}
	list := ShuffleDelegates(keys, round)
	d.lists.Add(round, copyKeys(list))
	return list, nil
}

// Purge drops every cached delegate list.
func (d *Delegates) Purge() {
	d.lists.Purge()
}

// ActiveDelegates returns the delegates eligible to forge, sorted by vote
// descending then public key ascending.
func (d *Delegates) ActiveDelegates(accessor database.DataAccessor) ([]*model.Account, error) {
	delegates, err := d.store.Delegates(accessor)
	if err != nil {
		return nil, err
	}
	sort.Slice(delegates, func(i, j int) bool {
		if delegates[i].Vote != delegates[j].Vote {
			return delegates[i].Vote > delegates[j].Vote
		}
		return bytes.Compare(delegates[i].PublicKey, delegates[j].PublicKey) < 0
	})
	if len(delegates) > int(d.params.ActiveDelegates) {
		delegates = delegates[:d.params.ActiveDelegates]
	}
	return delegates, nil
}

func (d *Delegates) keysSortedByVote(accessor database.DataAccessor) ([][]byte, error) {
	delegates, err := d.ActiveDelegates(accessor)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, len(delegates))
	for i, delegate := range delegates {
		keys[i] = delegate.PublicKey
	}
	return keys, nil
}

// ShuffleDelegates permutes keys in place with the seed of round and
// returns them. Every four swaps the seed is rehashed.
func ShuffleDelegates(keys [][]byte, round uint64) [][]byte {
	seed := sha256.Sum256([]byte(strconv.FormatUint(round, 10)))
	count := len(keys)
	for i := 0; i < count; i++ {
		for x := 0; x < 4 && i < count; i, x = i+1, x+1 {
			newIndex := int(seed[x]) % count
			keys[newIndex], keys[i] = keys[i], keys[newIndex]
		}
		seed = sha256.Sum256(seed[:])
	}
	return keys
}

func copyKeys(keys [][]byte) [][]byte {
	result := make([][]byte, len(keys))
	copy(result, keys)
	return result
}

// SlotOwner returns the public key of the delegate forging slot in the
// round of height, or nil if there is none.
func (d *Delegates) SlotOwner(accessor database.DataAccessor, height uint64, slot int64) ([]byte, error) {
	list, err := d.GenerateDelegateList(accessor, height)
	if err != nil {
		return nil, err
	}
	index := int(slot % int64(d.params.ActiveDelegates))
	if index >= len(list) {
		return nil, nil
	}
	return list[index], nil
}

// AssertValidBlockSlot checks that block was forged by the owner of its
// slot.
func (d *Delegates) AssertValidBlockSlot(accessor database.DataAccessor, block *model.Block) error {
	slot := d.slots.GetSlotNumber(block.Timestamp)
	owner, err := d.SlotOwner(accessor, block.Height, slot)
	if err != nil {
		return err
	}
	if owner == nil || !bytes.Equal(owner, block.GeneratorPublicKey) {
		log.Errorf("Expected generator %s Received generator: %s",
			hex.EncodeToString(owner), hex.EncodeToString(block.GeneratorPublicKey))
		return errors.Wrapf(ruleerrors.ErrBlockSlot, "Failed to verify slot %d", slot)
	}
	return nil
}

// VerifyBlockSlot checks that block is neither in the future nor at or
// before the slot of lastBlock.
func (d *Delegates) VerifyBlockSlot(block, lastBlock *model.Block) error {
	slot := d.slots.GetSlotNumber(block.Timestamp)
	lastSlot := d.slots.GetSlotNumber(lastBlock.Timestamp)
	if slot > d.slots.CurrentSlot() || slot <= lastSlot {
		return errors.Wrapf(ruleerrors.ErrInvalidTimestamp, "Invalid block timestamp")
	}
	return nil
}

// VerifyBlockSlotWindow checks that the slot of block is within
// BlockSlotWindow slots of the current slot.
func (d *Delegates) VerifyBlockSlotWindow(block *model.Block) error {
	currentSlot := d.slots.CurrentSlot()
	blockSlot := d.slots.GetSlotNumber(block.Timestamp)
	if currentSlot-blockSlot > d.params.BlockSlotWindow {
		return errors.Wrapf(ruleerrors.ErrSlotWindow, "Block slot is too old")
	}
	if currentSlot < blockSlot {
		return errors.Wrapf(ruleerrors.ErrSlotWindow, "Block slot is in the future")
	}
	return nil
}
