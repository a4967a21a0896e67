package main

import (
	"fmt"
	"strings"

	"github.com/dposnet/dposd/domain/blocks"
	"github.com/pkg/errors"
)

type command struct {
	api         string
	method      string
	parameters  []string
	listParams  map[string]bool
	description string
}

var commands = []command{
	{api: blocks.APIHeight, method: blocks.MethodGet, description: "Height and id of the last block"},
	{api: blocks.APICommonBlock, method: blocks.MethodGet, parameters: []string{"ids"},
		description: "Highest of the comma separated block ids known to the node"},
	{api: blocks.APIBlocks, method: blocks.MethodGet, parameters: []string{"lastBlockId"},
		description: "Blocks following lastBlockId"},
	{api: blocks.APIBlocks, method: blocks.MethodPost, parameters: []string{"block"},
		description: "Submit a hex serialized block"},
	{api: blocks.APITransactions, method: blocks.MethodGet, description: "Pooled transactions"},
	{api: blocks.APITransactions, method: blocks.MethodPost, parameters: []string{"transactions"},
		listParams: map[string]bool{"transactions": true}, description: "Submit comma separated hex serialized transactions"},
}

func printCommands() {
	fmt.Println("APIs:")
	for _, command := range commands {
		fmt.Printf("\t%s %s %s\n\t\t%s\n", command.method, command.api, strings.Join(command.parameters, " "),
			command.description)
	}
}

func findCommand(api, method string) (*command, error) {
	for i := range commands {
		if commands[i].api == api && commands[i].method == method {
			return &commands[i], nil
		}
	}
	return nil, errors.Errorf("unknown API %s %s, use --list-commands to list the APIs", method, api)
}

// parseParameters turns key=value arguments into request data.
func parseParameters(command *command, arguments []string) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(arguments))
	for _, argument := range arguments {
		parts := strings.SplitN(argument, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("parameter '%s' is not of the form key=value", argument)
		}
		key, value := parts[0], parts[1]
		if !command.listParams[key] {
			data[key] = value
			continue
		}
		values := strings.Split(value, ",")
		list := make([]interface{}, len(values))
		for i, value := range values {
			list[i] = value
		}
		data[key] = list
	}
	for _, parameter := range command.parameters {
		if _, ok := data[parameter]; !ok {
			return nil, errors.Errorf("missing parameter %s", parameter)
		}
	}
	return data, nil
}
