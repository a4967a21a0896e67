package txpool

import (
	"time"

	"github.com/dposnet/dposd/domain/chainconfig"
)

const (
	defaultBundleLimit            = 25
	defaultProcessBundledInterval = 5 * time.Second
	defaultExpireInterval         = 30 * time.Second

	// signedTimeoutMultiplier stretches the timeout of transactions that
	// already collected cosigner signatures.
	signedTimeoutMultiplier = 8
)

// Config holds the limits and intervals of a Pool.
type Config struct {
	MaxTxsPerQueue         int
	MaxTxsPerBlock         int
	MaxSharedTxs           int
	UnconfirmedTimeout     time.Duration
	BundleLimit            int
	ProcessBundledInterval time.Duration
	ExpireInterval         time.Duration
}

// DefaultConfig returns the pool configuration of params.
func DefaultConfig(params *chainconfig.Params) *Config {
	return &Config{
		MaxTxsPerQueue:         params.MaxTxsPerQueue,
		MaxTxsPerBlock:         params.MaxTxsPerBlock,
		MaxSharedTxs:           params.MaxSharedTxs,
		UnconfirmedTimeout:     params.UnconfirmedTransactionTimeout,
		BundleLimit:            defaultBundleLimit,
		ProcessBundledInterval: defaultProcessBundledInterval,
		ExpireInterval:         defaultExpireInterval,
	}
}
