package main

import (
	"reflect"
	"testing"

	"github.com/dposnet/dposd/domain/blocks"
)

func TestParseParameters(t *testing.T) {
	postTransactions, err := findCommand(blocks.APITransactions, blocks.MethodPost)
	if err != nil {
		t.Fatalf("TestParseParameters: findCommand unexpectedly failed: %s", err)
	}
	data, err := parseParameters(postTransactions, []string{"transactions=aa,bb"})
	if err != nil {
		t.Fatalf("TestParseParameters: parseParameters unexpectedly failed: %s", err)
	}
	expected := map[string]interface{}{"transactions": []interface{}{"aa", "bb"}}
	if !reflect.DeepEqual(data, expected) {
		t.Fatalf("TestParseParameters: got %v, want %v", data, expected)
	}

	getBlocks, err := findCommand(blocks.APIBlocks, blocks.MethodGet)
	if err != nil {
		t.Fatalf("TestParseParameters: findCommand unexpectedly failed: %s", err)
	}
	data, err = parseParameters(getBlocks, []string{"lastBlockId=123=4"})
	if err != nil {
		t.Fatalf("TestParseParameters: parseParameters unexpectedly failed: %s", err)
	}
	if data["lastBlockId"] != "123=4" {
		t.Fatalf("TestParseParameters: got lastBlockId %v, want 123=4", data["lastBlockId"])
	}

	_, err = parseParameters(getBlocks, nil)
	if err == nil {
		t.Fatalf("TestParseParameters: a missing parameter was accepted")
	}
	_, err = parseParameters(getBlocks, []string{"lastBlockId"})
	if err == nil {
		t.Fatalf("TestParseParameters: a parameter without a value was accepted")
	}
	_, err = findCommand(blocks.APIHeight, blocks.MethodPost)
	if err == nil {
		t.Fatalf("TestParseParameters: an unknown API was found")
	}
}
