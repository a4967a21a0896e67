package main

import (
	"os"

	"github.com/dposnet/dposd/infrastructure/config"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

type configFlags struct {
	FromMnemonic bool `short:"m" long:"from-mnemonic" description:"Read an existing mnemonic from the terminal instead of generating one"`
	JSON         bool `long:"json" description:"Print the key pair as a JSON object"`
	config.NetworkFlags
}

func parseConfig() (*configFlags, error) {
	cfg := &configFlags{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	remaining, err := parser.Parse()
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		parser.WriteHelp(os.Stderr)
		return nil, errors.Errorf("unexpected arguments: %v", remaining)
	}

	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
