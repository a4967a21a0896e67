package blocks

import (
	"context"
	"encoding/hex"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dposnet/dposd/domain/model"
	"github.com/pkg/errors"
)

func TestGetHeightsSequence(t *testing.T) {
	tests := []struct {
		height   uint64
		expected []uint64
	}{
		{height: 1, expected: []uint64{1}},
		{height: 5, expected: []uint64{5, 4, 3, 2, 1}},
		{height: 100, expected: []uint64{100, 99, 98, 97, 96, 95, 94, 93, 91, 88, 83, 75, 61, 38}},
	}
	for _, test := range tests {
		heights := GetHeightsSequence(test.height)
		if !reflect.DeepEqual(heights, test.expected) {
			t.Errorf("TestGetHeightsSequence: height %d: got %v, want %v", test.height, heights, test.expected)
		}
	}
}

// peerTransport answers peer requests from the chains of other test
// contexts.
type peerTransport struct {
	peers map[string]*chainTestContext
	// forgetful peers never report a common block.
	forgetful map[string]bool
}

func (p *peerTransport) GetFromPeer(_ context.Context, peer string, api, method string,
	data map[string]interface{}) (map[string]interface{}, error) {

	remote, ok := p.peers[peer]
	if !ok {
		return nil, errors.Errorf("unknown peer %s", peer)
	}
	if method != MethodGet {
		return nil, errors.Errorf("unexpected method %s", method)
	}

	switch api {
	case APIHeight:
		lastBlock := remote.chain.LastBlock()
		return map[string]interface{}{"height": float64(lastBlock.Height), "id": lastBlock.ID}, nil

	case APICommonBlock:
		ids, _ := data["ids"].(string)
		common, err := remote.chain.CommonBlock(strings.Split(ids, ","))
		if err != nil {
			return nil, err
		}
		if common == nil || p.forgetful[peer] {
			return map[string]interface{}{}, nil
		}
		return map[string]interface{}{"common": map[string]interface{}{
			"id":            common.ID,
			"previousBlock": common.PreviousBlockID,
			"height":        float64(common.Height),
		}}, nil

	case APIBlocks:
		lastBlockID, _ := data["lastBlockId"].(string)
		blocks, err := remote.chain.BlocksAfter(lastBlockID, MaxBlocksPerRequest)
		if err != nil {
			return nil, err
		}
		serialized := make([]interface{}, len(blocks))
		for i, block := range blocks {
			blockBytes, err := remote.logic.FullBytes(block)
			if err != nil {
				return nil, err
			}
			serialized[i] = hex.EncodeToString(blockBytes)
		}
		return map[string]interface{}{"blocks": serialized}, nil
	}
	return nil, errors.Errorf("unexpected api %s", api)
}

func (ctx *chainTestContext) synchronizer(transport *peerTransport) *Synchronizer {
	peers := func() []string {
		var names []string
		for name := range transport.peers {
			names = append(names, name)
		}
		return names
	}
	return NewSynchronizer(ctx.params, ctx.store, ctx.logic, ctx.chain, ctx.processor, transport, peers)
}

func TestGetIDSequence(t *testing.T) {
	ctx, teardown := prepareChainForTest(t, "TestGetIDSequence", time.Hour)
	defer teardown()

	for i := 0; i < 3; i++ {
		ctx.process(ctx.forgeNext(nil))
	}
	synchronizer := ctx.synchronizer(&peerTransport{})

	firstHeight, ids, err := synchronizer.GetIDSequence(ctx.chain.LastBlock().Height)
	if err != nil {
		t.Fatalf("TestGetIDSequence: GetIDSequence unexpectedly failed: %s", err)
	}
	if firstHeight != 4 {
		t.Fatalf("TestGetIDSequence: first height is %d, want 4", firstHeight)
	}
	if len(ids) != 4 {
		t.Fatalf("TestGetIDSequence: got %d ids, want 4", len(ids))
	}
	if ids[0] != ctx.chain.LastBlock().ID {
		t.Fatalf("TestGetIDSequence: first id is %s, want the last block", ids[0])
	}
	if ids[len(ids)-1] != ctx.chain.Genesis().ID {
		t.Fatalf("TestGetIDSequence: last id is %s, want the genesis block", ids[len(ids)-1])
	}
}

func TestSyncDownloadsBlocks(t *testing.T) {
	local, teardownLocal := prepareChainForTest(t, "TestSyncDownloadsBlocks", time.Hour)
	defer teardownLocal()
	remote, teardownRemote := prepareChainForTest(t, "TestSyncDownloadsBlocks", time.Hour)
	defer teardownRemote()

	recipient := model.AddressFromPublicKey(remote.keyPair(0).PublicKey)
	remote.process(remote.forgeNext([]*model.Transaction{remote.send(remote.genesisAccount(), recipient, 1000)}))
	for i := 0; i < 3; i++ {
		remote.process(remote.forgeNext(nil))
	}

	synchronizer := local.synchronizer(&peerTransport{peers: map[string]*chainTestContext{"remote": remote}})
	err := synchronizer.Sync(context.Background())
	if err != nil {
		t.Fatalf("TestSyncDownloadsBlocks: Sync unexpectedly failed: %+v", err)
	}
	if local.chain.LastBlock().ID != remote.chain.LastBlock().ID {
		t.Fatalf("TestSyncDownloadsBlocks: last block is at height %d, want %d", local.chain.LastBlock().Height,
			remote.chain.LastBlock().Height)
	}
	if local.digest() != remote.digest() {
		t.Fatalf("TestSyncDownloadsBlocks: state differs from the peer after sync")
	}
	if synchronizer.IsSyncing() {
		t.Fatalf("TestSyncDownloadsBlocks: synchronizer still reports syncing")
	}
}

func TestSyncRollsBackToCommonBlock(t *testing.T) {
	local, teardownLocal := prepareChainForTest(t, "TestSyncRollsBackToCommonBlock", time.Hour)
	defer teardownLocal()
	remote, teardownRemote := prepareChainForTest(t, "TestSyncRollsBackToCommonBlock", time.Hour)
	defer teardownRemote()

	local.process(local.forgeAt(local.chain.LastBlock(), 1, nil))
	remote.process(remote.forgeAt(remote.chain.LastBlock(), 2, nil))
	remote.process(remote.forgeNext(nil))

	synchronizer := local.synchronizer(&peerTransport{peers: map[string]*chainTestContext{"remote": remote}})
	err := synchronizer.Sync(context.Background())
	if err != nil {
		t.Fatalf("TestSyncRollsBackToCommonBlock: Sync unexpectedly failed: %+v", err)
	}
	if synchronizer.Consensus() != 0 {
		t.Fatalf("TestSyncRollsBackToCommonBlock: consensus is %d, want 0", synchronizer.Consensus())
	}
	if local.chain.LastBlock().ID != remote.chain.LastBlock().ID {
		t.Fatalf("TestSyncRollsBackToCommonBlock: did not switch to the peer's branch")
	}
	if local.digest() != remote.digest() {
		t.Fatalf("TestSyncRollsBackToCommonBlock: state differs from the peer after sync")
	}
}

func TestGetCommonBlockFailure(t *testing.T) {
	local, teardownLocal := prepareChainForTest(t, "TestGetCommonBlockFailure", time.Hour)
	defer teardownLocal()
	remote, teardownRemote := prepareChainForTest(t, "TestGetCommonBlockFailure", time.Hour)
	defer teardownRemote()

	local.process(local.forgeAt(local.chain.LastBlock(), 1, nil))
	remote.process(remote.forgeAt(remote.chain.LastBlock(), 2, nil))
	remote.process(remote.forgeNext(nil))

	transport := &peerTransport{
		peers:     map[string]*chainTestContext{"remote": remote},
		forgetful: map[string]bool{"remote": true},
	}
	synchronizer := local.synchronizer(transport)

	// With a good consensus the comparison failure is reported.
	_, err := synchronizer.GetCommonBlock(context.Background(), "remote", local.chain.LastBlock().Height)
	if err == nil || !strings.Contains(err.Error(), "Chain comparison failed") {
		t.Fatalf("TestGetCommonBlockFailure: expected a comparison failure, got: %v", err)
	}
	if local.chain.LastBlock().Height != 2 {
		t.Fatalf("TestGetCommonBlockFailure: last block was deleted with a good consensus")
	}

	// Sync finds no peer sharing our last block, so the chain is recovered.
	err = synchronizer.Sync(context.Background())
	if err != nil {
		t.Fatalf("TestGetCommonBlockFailure: Sync unexpectedly failed: %+v", err)
	}
	if !synchronizer.PoorConsensus() {
		t.Fatalf("TestGetCommonBlockFailure: consensus %d is not poor", synchronizer.Consensus())
	}
	if local.chain.LastBlock().ID != local.chain.Genesis().ID {
		t.Fatalf("TestGetCommonBlockFailure: last block is at height %d, want the genesis block",
			local.chain.LastBlock().Height)
	}
}

func TestUint64Field(t *testing.T) {
	tests := []struct {
		value       interface{}
		expected    uint64
		expectError bool
	}{
		{value: float64(12), expected: 12},
		{value: "34", expected: 34},
		{value: uint64(56), expected: 56},
		{value: float64(-1), expectError: true},
		{value: float64(1.5), expectError: true},
		{value: "abc", expectError: true},
		{value: nil, expectError: true},
	}
	for _, test := range tests {
		number, err := uint64Field(map[string]interface{}{"height": test.value}, "height")
		if test.expectError {
			if err == nil {
				t.Errorf("TestUint64Field: %v: expected an error, got %d", test.value, number)
			}
			continue
		}
		if err != nil {
			t.Errorf("TestUint64Field: %v: unexpected error: %s", test.value, err)
			continue
		}
		if number != test.expected {
			t.Errorf("TestUint64Field: %v: got %d, want %d", test.value, number, test.expected)
		}
	}
}
