package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/infrastructure/network/peer"
)

func main() {
	cfg, err := parseConfig()
	if err != nil {
		printErrorAndExit(fmt.Sprintf("error parsing command-line arguments: %s", err))
	}
	if cfg.ListCommands {
		printCommands()
		return
	}

	method := blocks.MethodGet
	if cfg.Post {
		method = blocks.MethodPost
	}
	command, err := findCommand(cfg.CommandAndParameters[0], method)
	if err != nil {
		printErrorAndExit(err.Error())
	}
	data, err := parseParameters(command, cfg.CommandAndParameters[1:])
	if err != nil {
		printErrorAndExit(err.Error())
	}

	var dial peer.DialFunc
	if cfg.Proxy != "" {
		dial = peer.ProxyDial(cfg.Proxy, cfg.ProxyUser, cfg.ProxyPass)
	}
	client := peer.NewClient(peer.NewNonce(), dial)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
	defer cancel()
	response, err := client.GetFromPeer(ctx, cfg.Server, command.api, command.method, data)
	if err != nil {
		printErrorAndExit(fmt.Sprintf("error sending the request to %s: %s", cfg.Server, err))
	}

	responseJSON, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		printErrorAndExit(fmt.Sprintf("error formatting the response: %s", err))
	}
	fmt.Println(string(responseJSON))
}

func printErrorAndExit(message string) {
	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(1)
}
