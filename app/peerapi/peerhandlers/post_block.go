package peerhandlers

import (
	"github.com/dposnet/dposd/app/peerapi/peercontext"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/pkg/errors"
)

// HandlePostBlock handles the respectively named peer API
func HandlePostBlock(context *peercontext.Context, data map[string]interface{}) (map[string]interface{}, error) {
	blockHex, _ := data["block"].(string)
	if blockHex == "" {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "missing block")
	}
	block, err := context.DecodeBlock(blockHex)
	if err != nil {
		return nil, err
	}

	err = context.Domain.Processor().OnReceiveBlock(block)
	if err != nil {
		log.Debugf("Received block %s was rejected: %s", block.ID, err)
		return nil, err
	}
	return map[string]interface{}{"blockId": block.ID}, nil
}
