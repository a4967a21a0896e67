package peerhandlers

import (
	"github.com/dposnet/dposd/app/peerapi/peercontext"
	"github.com/dposnet/dposd/domain/blocks"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/pkg/errors"
)

// HandleGetBlocks handles the respectively named peer API
func HandleGetBlocks(context *peercontext.Context, data map[string]interface{}) (map[string]interface{}, error) {
	lastBlockID, _ := data["lastBlockId"].(string)
	if lastBlockID == "" {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "missing lastBlockId")
	}

	blocksAfter, err := context.Domain.Chain().BlocksAfter(lastBlockID, blocks.MaxBlocksPerRequest)
	if err != nil {
		if errors.Is(err, blocks.ErrMissingBlock) {
			return nil, errors.Wrapf(peer.ErrInvalidRequest, "%s", err)
		}
		return nil, err
	}

	serialized := make([]interface{}, len(blocksAfter))
	for i, block := range blocksAfter {
		serialized[i], err = context.EncodeBlock(block)
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"blocks": serialized}, nil
}
