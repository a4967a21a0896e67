package blocks

import (
	"context"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/ledger"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/dposnet/dposd/infrastructure/logger"
	"github.com/pkg/errors"
)

// Peer APIs used for synchronization.
const (
	APICommonBlock  = "/blocks/common"
	APIBlocks       = "/blocks"
	APIHeight       = "/height"
	APITransactions = "/transactions"

	MethodGet  = "GET"
	MethodPost = "POST"
)

// MaxBlocksPerRequest bounds the blocks a peer returns for one /blocks
// request.
const MaxBlocksPerRequest = 34

// minConsensus is the percentage of peers that must agree with our last
// block for the consensus to be good.
const minConsensus = 51

// Transport sends requests to peers.
type Transport interface {
	GetFromPeer(ctx context.Context, peer string, api, method string,
		data map[string]interface{}) (map[string]interface{}, error)
}

// GetHeightsSequence returns the heights whose block ids describe our
// chain to a peer: five consecutive heights down from height, then ten
// heights with logarithmic spacing down to the genesis block.
func GetHeightsSequence(height uint64) []uint64 {
	var heights []uint64
	for n := uint64(0); n < 5 && n < height; n++ {
		heights = append(heights, height-n)
	}

	logStart := uint64(1)
	if height > 6 {
		logStart = height - 5
	}
	stop := math.Log10(float64(logStart + 1))
	for i := 0; i < 10; i++ {
		value := math.Pow(10, stop*float64(i)/9)
		next := math.Floor(float64(logStart) - (value - 1))
		if next >= 1 {
			heights = append(heights, uint64(next))
		}
	}

	seen := make(map[uint64]struct{}, len(heights))
	unique := heights[:0]
	for _, h := range heights {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, h)
	}
	return unique
}

// Synchronizer downloads the blocks of peers that are ahead of us.
type Synchronizer struct {
	params    *chainconfig.Params
	store     *ledger.Store
	logic     *Logic
	chain     *Chain
	processor *Processor
	transport Transport
	peers     func() []string

	syncing   int32
	consensus int32

	started  int32
	shutdown int32
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewSynchronizer returns a Synchronizer that asks the peers returned by
// peers.
func NewSynchronizer(params *chainconfig.Params, store *ledger.Store, logic *Logic, chain *Chain,
	processor *Processor, transport Transport, peers func() []string) *Synchronizer {

	return &Synchronizer{
		params:    params,
		store:     store,
		logic:     logic,
		chain:     chain,
		processor: processor,
		transport: transport,
		peers:     peers,
		consensus: 100,
		quit:      make(chan struct{}),
	}
}

// IsSyncing returns whether blocks are being downloaded.
func (s *Synchronizer) IsSyncing() bool {
	return atomic.LoadInt32(&s.syncing) == 1
}

// Consensus returns the percentage of the last polled peers sharing our
// last block.
func (s *Synchronizer) Consensus() int {
	return int(atomic.LoadInt32(&s.consensus))
}

func (s *Synchronizer) setConsensus(percent int) {
	atomic.StoreInt32(&s.consensus, int32(percent))
}

// PoorConsensus returns whether too few peers share our last block.
func (s *Synchronizer) PoorConsensus() bool {
	return s.Consensus() < minConsensus
}

// GetIDSequence returns the ids of our blocks at the heights of
// GetHeightsSequence(height), highest first, plus the last block and the
// genesis block. firstHeight is the height of the first id.
func (s *Synchronizer) GetIDSequence(height uint64) (firstHeight uint64, ids []string, err error) {
	type entry struct {
		height uint64
		id     string
	}
	var entries []entry
	for _, h := range GetHeightsSequence(height) {
		id, err := s.store.BlockIDByHeight(s.store.DB(), h)
		if database.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		entries = append(entries, entry{height: h, id: id})
	}
	if len(entries) == 0 {
		return 0, nil, errors.Errorf("Failed to get id sequence for height %d", height)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].height > entries[j].height })

	contains := func(id string) bool {
		for _, e := range entries {
			if e.id == id {
				return true
			}
		}
		return false
	}
	genesis := s.chain.Genesis()
	if !contains(genesis.ID) {
		entries = append(entries, entry{height: genesis.Height, id: genesis.ID})
	}
	lastBlock := s.chain.LastBlock()
	if lastBlock != nil && !contains(lastBlock.ID) {
		entries = append([]entry{{height: lastBlock.Height, id: lastBlock.ID}}, entries...)
	}

	ids = make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return entries[0].height, ids, nil
}

// GetCommonBlock asks peer for the highest block of our id sequence it
// knows. The common block must match a stored block. When no common block
// is found and the consensus is poor, our last block is deleted and nil is
// returned.
func (s *Synchronizer) GetCommonBlock(ctx context.Context, peer string, height uint64) (*model.Block, error) {
	_, ids, err := s.GetIDSequence(height)
	if err != nil {
		return nil, err
	}
	response, err := s.transport.GetFromPeer(ctx, peer, APICommonBlock, MethodGet,
		map[string]interface{}{"ids": strings.Join(ids, ",")})
	if err != nil {
		return nil, err
	}

	common, _ := response["common"].(map[string]interface{})
	if common == nil {
		return nil, s.comparisonFailed(peer, ids)
	}
	id, _ := common["id"].(string)
	previousBlockID, _ := common["previousBlock"].(string)
	commonHeight, err := uint64Field(common, "height")
	if err != nil {
		return nil, err
	}

	row, err := s.store.BlockByID(s.store.DB(), id)
	if database.IsNotFoundError(err) {
		return nil, s.comparisonFailed(peer, ids)
	}
	if err != nil {
		return nil, err
	}
	if row.Block.PreviousBlockID != previousBlockID || row.Block.Height != commonHeight {
		return nil, s.comparisonFailed(peer, ids)
	}
	return row.Block, nil
}

func (s *Synchronizer) comparisonFailed(peer string, ids []string) error {
	if s.PoorConsensus() {
		log.Warnf("Chain comparison failed with peer %s and consensus is poor, recovering chain", peer)
		return s.chain.RecoverChain()
	}
	return errors.Errorf("Chain comparison failed with peer: %s using ids: %s", peer, strings.Join(ids, ", "))
}

// LoadBlocksFromPeer downloads the blocks following our last block from
// peer and processes them in order. It returns the last block processed.
func (s *Synchronizer) LoadBlocksFromPeer(ctx context.Context, peer string) (*model.Block, error) {
	lastValidBlock := s.chain.LastBlock()
	onEnd := logger.LogElapsed(log, "Loading blocks after height %d from %s", lastValidBlock.Height, peer)
	defer onEnd()
	response, err := s.transport.GetFromPeer(ctx, peer, APIBlocks, MethodGet,
		map[string]interface{}{"lastBlockId": lastValidBlock.ID})
	if err != nil {
		return lastValidBlock, err
	}
	serializedBlocks, _ := response["blocks"].([]interface{})
	if len(serializedBlocks) > MaxBlocksPerRequest {
		return lastValidBlock, errors.Errorf("peer %s sent %d blocks, more than %d", peer,
			len(serializedBlocks), MaxBlocksPerRequest)
	}

	for _, serialized := range serializedBlocks {
		if s.chain.IsCleaning() {
			break
		}
		block, err := s.decodeBlock(serialized)
		if err != nil {
			return lastValidBlock, errors.Wrapf(err, "peer %s sent a malformed block", peer)
		}
		err = s.processor.ProcessBlock(block, false, true)
		if err != nil {
			log.Errorf("Block processing failed for block %s from peer %s: %s", block.ID, peer, err)
			return lastValidBlock, err
		}
		log.Debugf("Block %s loaded from %s at height %d", block.ID, peer, block.Height)
		lastValidBlock = block
	}
	return lastValidBlock, nil
}

func (s *Synchronizer) decodeBlock(serialized interface{}) (*model.Block, error) {
	hexBlock, ok := serialized.(string)
	if !ok {
		return nil, errors.Errorf("block is not a hex string")
	}
	data, err := hex.DecodeString(hexBlock)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return s.logic.FromBytes(data)
}

// peerStatus is what a peer reports on /height.
type peerStatus struct {
	peer   string
	height uint64
	id     string
}

func (s *Synchronizer) pollPeers(ctx context.Context) []peerStatus {
	var statuses []peerStatus
	for _, peer := range s.peers() {
		response, err := s.transport.GetFromPeer(ctx, peer, APIHeight, MethodGet, nil)
		if err != nil {
			log.Debugf("Failed to get height of peer %s: %s", peer, err)
			continue
		}
		height, err := uint64Field(response, "height")
		if err != nil {
			log.Debugf("Peer %s sent an invalid height: %s", peer, err)
			continue
		}
		id, _ := response["id"].(string)
		statuses = append(statuses, peerStatus{peer: peer, height: height, id: id})
	}
	return statuses
}

// updateConsensus records the share of statuses reporting our last block.
// Peers that are behind us do not count.
func (s *Synchronizer) updateConsensus(statuses []peerStatus) {
	lastBlock := s.chain.LastBlock()
	total, matching := 0, 0
	for _, status := range statuses {
		if status.height < lastBlock.Height {
			continue
		}
		total++
		if status.id == lastBlock.ID {
			matching++
		}
	}
	if total == 0 {
		s.setConsensus(100)
		return
	}
	s.setConsensus(matching * 100 / total)
}

// Sync brings the chain up to the highest of the peers. Blocks after the
// common block are deleted before downloading.
func (s *Synchronizer) Sync(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.syncing, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&s.syncing, 0)

	statuses := s.pollPeers(ctx)
	s.updateConsensus(statuses)
	if len(statuses) == 0 {
		return nil
	}
	best := statuses[0]
	for _, status := range statuses[1:] {
		if status.height > best.height {
			best = status
		}
	}
	lastBlock := s.chain.LastBlock()
	if best.height <= lastBlock.Height {
		return nil
	}

	log.Infof("Starting sync with %s at height %d, our height %d", best.peer, best.height, lastBlock.Height)
	common, err := s.GetCommonBlock(ctx, best.peer, lastBlock.Height)
	if err != nil {
		return err
	}
	if common == nil {
		return nil
	}
	err = s.rollbackTo(common)
	if err != nil {
		return err
	}

	for {
		before := s.chain.LastBlock()
		if before.Height >= best.height || s.chain.IsCleaning() {
			break
		}
		after, err := s.LoadBlocksFromPeer(ctx, best.peer)
		if err != nil {
			return err
		}
		if after.ID == before.ID {
			break
		}
	}
	log.Infof("Finished sync, last block %s at height %d", s.chain.LastBlock().ID, s.chain.LastBlock().Height)
	return nil
}

// rollbackTo deletes the blocks after common. At most one round of blocks
// is deleted.
func (s *Synchronizer) rollbackTo(common *model.Block) error {
	limit := s.chain.LastBlock().Height - common.Height
	if limit > uint64(s.params.ActiveDelegates) {
		return errors.Errorf("common block %s is %d blocks behind the last block, refusing to roll back",
			common.ID, limit)
	}
	for s.chain.LastBlock().ID != common.ID {
		_, err := s.chain.DeleteLastBlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Start runs Sync right away and then every block time until Stop.
func (s *Synchronizer) Start() {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}
	s.wg.Add(1)
	spawn("Synchronizer.loop", s.loop)
}

// Stop stops the loop started by Start and waits for it.
func (s *Synchronizer) Stop() {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return
	}
	close(s.quit)
	s.wg.Wait()
}

func (s *Synchronizer) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.params.BlockTime)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	spawn("Synchronizer.loop-cancel", func() {
		<-s.quit
		cancel()
	})

	s.syncAndLog(ctx)
	for {
		select {
		case <-ticker.C:
			s.syncAndLog(ctx)
		case <-s.quit:
			return
		}
	}
}

func (s *Synchronizer) syncAndLog(ctx context.Context) {
	err := s.Sync(ctx)
	if err != nil {
		log.Warnf("Sync failed: %s", err)
	}
}

// uint64Field reads a non-negative integer from a decoded peer message.
// Numbers arrive as float64 or as decimal strings.
func uint64Field(data map[string]interface{}, key string) (uint64, error) {
	switch value := data[key].(type) {
	case float64:
		if value < 0 || value != math.Trunc(value) {
			return 0, errors.Errorf("field %s is not a non-negative integer: %v", key, value)
		}
		return uint64(value), nil
	case string:
		number, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "field %s", key)
		}
		return number, nil
	case uint64:
		return value, nil
	case int:
		if value < 0 {
			return 0, errors.Errorf("field %s is negative: %d", key, value)
		}
		return uint64(value), nil
	}
	return 0, errors.Errorf("field %s is missing or not a number", key)
}
