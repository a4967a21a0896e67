package peerhandlers

import (
	"strings"

	"github.com/dposnet/dposd/app/peerapi/peercontext"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/pkg/errors"
)

// maxCommonBlockIDs bounds the ids of one common block request.
const maxCommonBlockIDs = 100

// HandleGetCommonBlock handles the respectively named peer API
func HandleGetCommonBlock(context *peercontext.Context, data map[string]interface{}) (map[string]interface{}, error) {
	joined, _ := data["ids"].(string)
	if joined == "" {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "missing ids")
	}
	ids := strings.Split(joined, ",")
	if len(ids) > maxCommonBlockIDs {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "got %d ids, at most %d are allowed", len(ids),
			maxCommonBlockIDs)
	}

	common, err := context.Domain.Chain().CommonBlock(ids)
	if err != nil {
		return nil, err
	}
	if common == nil {
		return map[string]interface{}{"common": nil}, nil
	}
	return map[string]interface{}{
		"common": map[string]interface{}{
			"id":            common.ID,
			"previousBlock": common.PreviousBlockID,
			"height":        float64(common.Height),
		},
	}, nil
}
