package peerapi

import (
	"context"
	"time"

	"github.com/dposnet/dposd/app/peerapi/peercontext"
	"github.com/dposnet/dposd/app/peerapi/peerhandlers"
	"github.com/dposnet/dposd/domain"
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/network/peer"
)

const broadcastTimeout = 10 * time.Second

type handler func(context *peercontext.Context, data map[string]interface{}) (map[string]interface{}, error)

type route struct {
	api    string
	method string
}

var handlers = map[route]handler{
	{blocks.APIHeight, blocks.MethodGet}:        peerhandlers.HandleGetHeight,
	{blocks.APICommonBlock, blocks.MethodGet}:   peerhandlers.HandleGetCommonBlock,
	{blocks.APIBlocks, blocks.MethodGet}:        peerhandlers.HandleGetBlocks,
	{blocks.APIBlocks, blocks.MethodPost}:       peerhandlers.HandlePostBlock,
	{blocks.APITransactions, blocks.MethodGet}:  peerhandlers.HandleGetTransactions,
	{blocks.APITransactions, blocks.MethodPost}: peerhandlers.HandlePostTransactions,
}

// Manager serves the peer APIs and relays new blocks and transactions to
// the peers.
type Manager struct {
	context *peercontext.Context
	client  *peer.Client
	peers   func() []string
}

// NewManager registers the peer API handlers on server and makes the chain
// and the pool broadcast through client to peers.
func NewManager(domain domain.Domain, server *peer.Server, client *peer.Client, peers func() []string) *Manager {
	manager := &Manager{
		context: peercontext.NewContext(domain),
		client:  client,
		peers:   peers,
	}
	for r, h := range handlers {
		h := h
		server.RegisterHandler(r.api, r.method,
			func(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
				return h(manager.context, data)
			})
	}
	domain.Chain().SetBroadcaster(manager.BroadcastBlock)
	domain.Pool().SetBroadcaster(manager.BroadcastTransaction)
	return manager
}

// BroadcastBlock relays block to every peer.
func (m *Manager) BroadcastBlock(block *model.Block) {
	blockHex, err := m.context.EncodeBlock(block)
	if err != nil {
		log.Errorf("Failed to encode block %s for broadcast: %s", block.ID, err)
		return
	}
	m.broadcast(blocks.APIBlocks, map[string]interface{}{"block": blockHex})
}

// BroadcastTransaction relays tx to every peer.
func (m *Manager) BroadcastTransaction(tx *model.Transaction) {
	txHex, err := m.context.EncodeTransaction(tx)
	if err != nil {
		log.Errorf("Failed to encode transaction %s for broadcast: %s", tx.ID, err)
		return
	}
	m.broadcast(blocks.APITransactions, map[string]interface{}{"transactions": []interface{}{txHex}})
}

func (m *Manager) broadcast(api string, data map[string]interface{}) {
	for _, address := range m.peers() {
		address := address
		spawn("peerapi.Manager.broadcast", func() {
			ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
			defer cancel()
			_, err := m.client.GetFromPeer(ctx, address, api, blocks.MethodPost, data)
			if err != nil {
				log.Debugf("Broadcast of %s to %s failed: %s", api, address, err)
			}
		})
	}
}
