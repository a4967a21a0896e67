package chainconfig

import (
	"time"
)

// Params defines a dposd network by its consensus parameters.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// DefaultPort defines the default peer port for the network.
	DefaultPort string

	// Epoch is the moment slot zero starts. Block and transaction timestamps
	// are seconds since the epoch.
	Epoch time.Time

	// BlockTime is the duration of one forging slot.
	BlockTime time.Duration

	// ActiveDelegates is the number of delegates forging in a round.
	ActiveDelegates uint32

	// MaximumVotes is the number of delegates a single account may vote for.
	MaximumVotes int

	// MaxTxsPerBlock bounds the number of transactions in a block.
	MaxTxsPerBlock int

	// MaxPayloadLength bounds the total serialized size of a block's
	// transactions.
	MaxPayloadLength int

	// BlockSlotWindow is the number of slots a received block may lag
	// behind the current slot.
	BlockSlotWindow int64

	// RewardOffset is the first height receiving BlockReward.
	RewardOffset uint64

	// BlockReward is paid to the generator of every block from RewardOffset on.
	BlockReward int64

	// Fees holds the base fee per transaction type.
	Fees Fees

	// Multisignature bounds.
	MultisigMinRange      [2]int
	MultisigLifetimeRange [2]int
	MultisigKeysgroupMax  int

	// UnconfirmedTransactionTimeout is the base lifetime of a pooled
	// transaction.
	UnconfirmedTransactionTimeout time.Duration

	// MaxTxsPerQueue bounds every transaction pool queue.
	MaxTxsPerQueue int

	// MaxSharedTxs bounds the transactions shared with peers at once.
	MaxSharedTxs int

	// StaleAgeThreshold is how old the last block can be before the node
	// considers itself out of sync.
	StaleAgeThreshold time.Duration

	// Genesis describes the deterministic genesis block of the network.
	Genesis GenesisParams
}

// Fees holds the base fee of every transaction type.
type Fees struct {
	Send            int64
	Vote            int64
	SecondSignature int64
	Delegate        int64
	Multisignature  int64
}

// GenesisParams defines how the genesis block of a network is built.
type GenesisParams struct {
	// Mnemonic seeds the key pairs of the genesis account and the genesis
	// delegates.
	Mnemonic string

	// Timestamp is the genesis block timestamp in seconds since Epoch.
	Timestamp uint32

	// TotalAmount is credited to the genesis account.
	TotalAmount int64

	// Delegates is the number of delegates registered in the genesis block.
	Delegates int
}

// SlotDuration returns BlockTime in whole seconds.
func (p *Params) SlotDuration() int64 {
	return int64(p.BlockTime / time.Second)
}

// Clone returns a copy of p that can be modified freely.
func (p *Params) Clone() *Params {
	clone := *p
	return &clone
}

const (
	satoshi = 1
	unit    = 100000000 * satoshi
)

var defaultFees = Fees{
	Send:            unit / 10,
	Vote:            unit,
	SecondSignature: 5 * unit,
	Delegate:        25 * unit,
	Multisignature:  5 * unit,
}

// MainnetParams defines the network parameters for the main network.
var MainnetParams = Params{
	Name:                          "dposd-mainnet",
	DefaultPort:                   "5555",
	Epoch:                         time.Date(2021, 6, 1, 17, 0, 0, 0, time.UTC),
	BlockTime:                     30 * time.Second,
	ActiveDelegates:               101,
	MaximumVotes:                  101,
	MaxTxsPerBlock:                25,
	MaxPayloadLength:              1024 * 1024,
	BlockSlotWindow:               5,
	RewardOffset:                  30,
	BlockReward:                   15 * unit,
	Fees:                          defaultFees,
	MultisigMinRange:              [2]int{1, 15},
	MultisigLifetimeRange:         [2]int{1, 72},
	MultisigKeysgroupMax:          15,
	UnconfirmedTransactionTimeout: 10800 * time.Second,
	MaxTxsPerQueue:                5000,
	MaxSharedTxs:                  100,
	StaleAgeThreshold:             2 * time.Hour,
	Genesis: GenesisParams{
		Mnemonic:    "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		Timestamp:   0,
		TotalAmount: 10000000000000000,
		Delegates:   101,
	},
}

// TestnetParams defines the network parameters for the test network.
var TestnetParams = Params{
	Name:                          "dposd-testnet",
	DefaultPort:                   "5565",
	Epoch:                         time.Date(2021, 6, 1, 17, 0, 0, 0, time.UTC),
	BlockTime:                     30 * time.Second,
	ActiveDelegates:               101,
	MaximumVotes:                  101,
	MaxTxsPerBlock:                25,
	MaxPayloadLength:              1024 * 1024,
	BlockSlotWindow:               5,
	RewardOffset:                  30,
	BlockReward:                   15 * unit,
	Fees:                          defaultFees,
	MultisigMinRange:              [2]int{1, 15},
	MultisigLifetimeRange:         [2]int{1, 72},
	MultisigKeysgroupMax:          15,
	UnconfirmedTransactionTimeout: 10800 * time.Second,
	MaxTxsPerQueue:                5000,
	MaxSharedTxs:                  100,
	StaleAgeThreshold:             2 * time.Hour,
	Genesis: GenesisParams{
		Mnemonic:    "legal winner thank year wave sausage worth useful legal winner thank yellow",
		Timestamp:   0,
		TotalAmount: 10000000000000000,
		Delegates:   101,
	},
}

// DevnetParams defines the network parameters for the development network.
// It has a small delegate set and fast slots.
var DevnetParams = Params{
	Name:                          "dposd-devnet",
	DefaultPort:                   "5575",
	Epoch:                         time.Date(2021, 6, 1, 17, 0, 0, 0, time.UTC),
	BlockTime:                     5 * time.Second,
	ActiveDelegates:               5,
	MaximumVotes:                  5,
	MaxTxsPerBlock:                25,
	MaxPayloadLength:              1024 * 1024,
	BlockSlotWindow:               5,
	RewardOffset:                  2,
	BlockReward:                   5 * unit,
	Fees:                          defaultFees,
	MultisigMinRange:              [2]int{1, 15},
	MultisigLifetimeRange:         [2]int{1, 72},
	MultisigKeysgroupMax:          15,
	UnconfirmedTransactionTimeout: 10800 * time.Second,
	MaxTxsPerQueue:                1000,
	MaxSharedTxs:                  100,
	StaleAgeThreshold:             10 * time.Minute,
	Genesis: GenesisParams{
		Mnemonic:    "letter advice cage absurd amount doctor acoustic avoid letter advice cage above",
		Timestamp:   0,
		TotalAmount: 10000000000000000,
		Delegates:   5,
	},
}
