package peerhandlers

import (
	"github.com/dposnet/dposd/app/peerapi/peercontext"
)

// HandleGetHeight handles the respectively named peer API
func HandleGetHeight(context *peercontext.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	lastBlock := context.Domain.Chain().LastBlock()
	return map[string]interface{}{
		"height": float64(lastBlock.Height),
		"id":     lastBlock.ID,
	}, nil
}
