package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

func main() {
	cfg, err := parseConfig()
	if err != nil {
		os.Exit(1)
	}

	mnemonic, err := getMnemonic(cfg.FromMnemonic)
	if err != nil {
		printErrorAndExit(err)
	}
	keyPair, err := keys.FromMnemonic(mnemonic)
	if err != nil {
		printErrorAndExit(err)
	}

	output := keyPairOutput{
		Network:   cfg.NetParams().Name,
		PublicKey: hex.EncodeToString(keyPair.PublicKey),
		Address:   model.AddressFromPublicKey(keyPair.PublicKey),
	}
	if !cfg.FromMnemonic {
		output.Mnemonic = mnemonic
	}
	if cfg.JSON {
		encoded, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			printErrorAndExit(err)
		}
		fmt.Println(string(encoded))
		return
	}

	fmt.Printf("Network: %s\n", output.Network)
	if output.Mnemonic != "" {
		fmt.Printf("Mnemonic (use as --forgingsecret): %s\n", output.Mnemonic)
	}
	fmt.Printf("Public key: %s\n", output.PublicKey)
	fmt.Printf("Address: %s\n", output.Address)
}

type keyPairOutput struct {
	Network   string `json:"network"`
	Mnemonic  string `json:"mnemonic,omitempty"`
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
}

func getMnemonic(fromTerminal bool) (string, error) {
	if !fromTerminal {
		return keys.NewMnemonic()
	}
	fmt.Print("Mnemonic: ")
	input, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "error reading the mnemonic")
	}
	return strings.Join(strings.Fields(string(input)), " "), nil
}

func printErrorAndExit(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}
