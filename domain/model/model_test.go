package model

import (
	"reflect"
	"testing"
)

func TestAddressFromPublicKey(t *testing.T) {
	publicKey := make([]byte, 32)
	publicKey[0] = 1
	address := AddressFromPublicKey(publicKey)
	if address != AddressFromPublicKey(publicKey) {
		t.Fatalf("TestAddressFromPublicKey: address derivation is not deterministic")
	}
	if _, ok := ParseAddress(address); !ok {
		t.Fatalf("TestAddressFromPublicKey: derived address %s does not parse", address)
	}

	for _, malformed := range []string{"", "D", "12", "12X", "-1D", "abcD"} {
		if _, ok := ParseAddress(malformed); ok {
			t.Fatalf("TestAddressFromPublicKey: %q unexpectedly parsed", malformed)
		}
	}
}

func TestBlockClone(t *testing.T) {
	block := &Block{
		ID:                 "1",
		Height:             2,
		GeneratorPublicKey: []byte{1, 2, 3},
		Transactions: []*Transaction{{
			ID:         "3",
			Asset:      &VoteAsset{Votes: []string{"+aa"}},
			Signatures: [][]byte{{4}},
		}},
	}
	clone := block.Clone()
	if !reflect.DeepEqual(block, clone) {
		t.Fatalf("TestBlockClone: clone differs from the original")
	}

	clone.GeneratorPublicKey[0] = 9
	clone.Transactions[0].Asset.(*VoteAsset).Votes[0] = "-aa"
	clone.Transactions[0].Signatures[0][0] = 9
	if block.GeneratorPublicKey[0] != 1 || block.Transactions[0].Asset.(*VoteAsset).Votes[0] != "+aa" ||
		block.Transactions[0].Signatures[0][0] != 4 {
		t.Fatalf("TestBlockClone: mutating the clone changed the original")
	}
	if block.Header().Transactions != nil {
		t.Fatalf("TestBlockClone: Header kept the transactions")
	}
}
