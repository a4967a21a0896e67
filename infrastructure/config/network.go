package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// NetworkFlags holds the network configuration, that is which network is selected.
type NetworkFlags struct {
	Testnet                 bool   `long:"testnet" description:"Use the test network"`
	Devnet                  bool   `long:"devnet" description:"Use the development network"`
	OverrideChainParamsFile string `long:"override-chain-params-file" description:"Overrides chain params (allowed only on devnet)"`

	ActiveNetParams *chainconfig.Params
}

type overrideChainParamsConfig struct {
	BlockTimeInSeconds       *int64  `json:"blockTimeInSeconds"`
	ActiveDelegates          *uint32 `json:"activeDelegates"`
	MaxTxsPerBlock           *int    `json:"maxTxsPerBlock"`
	RewardOffset             *uint64 `json:"rewardOffset"`
	BlockReward              *int64  `json:"blockReward"`
	StaleAgeThresholdMinutes *int64  `json:"staleAgeThresholdMinutes"`
	GenesisMnemonic          *string `json:"genesisMnemonic"`
	GenesisDelegates         *int    `json:"genesisDelegates"`
}

// ResolveNetwork parses the network command line argument and sets NetParams accordingly.
// It returns error if more than one network was selected, nil otherwise.
func (networkFlags *NetworkFlags) ResolveNetwork(parser *flags.Parser) error {
	networkFlags.ActiveNetParams = chainconfig.MainnetParams.Clone()
	numNets := 0
	if networkFlags.Testnet {
		numNets++
		networkFlags.ActiveNetParams = chainconfig.TestnetParams.Clone()
	}
	if networkFlags.Devnet {
		numNets++
		networkFlags.ActiveNetParams = chainconfig.DevnetParams.Clone()
	}
	if numNets > 1 {
		message := "Multiple networks parameters (testnet, devnet) cannot be used " +
			"together. Please choose only one network"
		err := errors.Errorf(message)
		fmt.Fprintln(os.Stderr, err)
		if parser != nil {
			parser.WriteHelp(os.Stderr)
		}
		return err
	}

	return networkFlags.overrideChainParams()
}

// NetParams returns the ActiveNetParams
func (networkFlags *NetworkFlags) NetParams() *chainconfig.Params {
	return networkFlags.ActiveNetParams
}

func (networkFlags *NetworkFlags) overrideChainParams() error {
	if networkFlags.OverrideChainParamsFile == "" {
		return nil
	}

	if !networkFlags.Devnet {
		return errors.Errorf("override-chain-params-file is allowed only when using devnet")
	}

	overrideFile, err := os.Open(networkFlags.OverrideChainParamsFile)
	if err != nil {
		return err
	}
	defer overrideFile.Close()

	config := &overrideChainParamsConfig{}
	err = json.NewDecoder(overrideFile).Decode(config)
	if err != nil {
		return errors.Wrapf(err, "error decoding %s", networkFlags.OverrideChainParamsFile)
	}

	params := networkFlags.ActiveNetParams
	if config.BlockTimeInSeconds != nil {
		if *config.BlockTimeInSeconds <= 0 {
			return errors.Errorf("blockTimeInSeconds must be positive")
		}
		params.BlockTime = time.Duration(*config.BlockTimeInSeconds) * time.Second
	}
	if config.ActiveDelegates != nil {
		params.ActiveDelegates = *config.ActiveDelegates
	}
	if config.MaxTxsPerBlock != nil {
		params.MaxTxsPerBlock = *config.MaxTxsPerBlock
	}
	if config.RewardOffset != nil {
		params.RewardOffset = *config.RewardOffset
	}
	if config.BlockReward != nil {
		params.BlockReward = *config.BlockReward
	}
	if config.StaleAgeThresholdMinutes != nil {
		params.StaleAgeThreshold = time.Duration(*config.StaleAgeThresholdMinutes) * time.Minute
	}
	if config.GenesisMnemonic != nil {
		params.Genesis.Mnemonic = *config.GenesisMnemonic
	}
	if config.GenesisDelegates != nil {
		params.Genesis.Delegates = *config.GenesisDelegates
	}

	if params.ActiveDelegates == 0 || params.Genesis.Delegates < int(params.ActiveDelegates) {
		return errors.Errorf("genesis delegates (%d) must cover the active delegates (%d)",
			params.Genesis.Delegates, params.ActiveDelegates)
	}
	return nil
}
