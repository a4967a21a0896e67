package main

import (
	"github.com/dposnet/dposd/infrastructure/config"
	"github.com/dposnet/dposd/util/network"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

var (
	defaultServer         = "localhost"
	defaultTimeout uint64 = 30
)

type configFlags struct {
	Server               string `short:"s" long:"server" description:"Node to send the request to"`
	Timeout              uint64 `short:"t" long:"timeout" description:"Timeout for the request (in seconds)"`
	Post                 bool   `short:"p" long:"post" description:"Send a POST request instead of a GET request"`
	Proxy                string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser            string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass            string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	ListCommands         bool   `short:"l" long:"list-commands" description:"List all commands and exit"`
	CommandAndParameters []string
	config.NetworkFlags
}

func parseConfig() (*configFlags, error) {
	cfg := &configFlags{
		Server:  defaultServer,
		Timeout: defaultTimeout,
	}
	parser := flags.NewParser(cfg, flags.HelpFlag)
	parser.Usage = "dposctl [OPTIONS] [API] [key=value ...]" +
		"\n\nUse `dposctl --list-commands` to get a list of all APIs and their parameters"
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	if cfg.ListCommands {
		return cfg, nil
	}

	err = cfg.ResolveNetwork(parser)
	if err != nil {
		return nil, err
	}

	cfg.Server, err = network.NormalizeAddress(cfg.Server, cfg.NetParams().DefaultPort)
	if err != nil {
		return nil, err
	}

	cfg.CommandAndParameters = remainingArgs
	if len(cfg.CommandAndParameters) == 0 {
		return nil, errors.New("An API must be specified")
	}

	return cfg, nil
}
