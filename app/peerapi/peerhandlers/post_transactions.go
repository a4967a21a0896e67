package peerhandlers

import (
	"github.com/dposnet/dposd/app/peerapi/peercontext"
	"github.com/dposnet/dposd/domain/txpool"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/pkg/errors"
)

// HandlePostTransactions handles the respectively named peer API. Rejected
// transactions are reported, not failed.
func HandlePostTransactions(context *peercontext.Context, data map[string]interface{}) (map[string]interface{}, error) {
	serialized, _ := data["transactions"].([]interface{})
	if len(serialized) == 0 {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "missing transactions")
	}
	maxSharedTxs := context.Domain.Params().MaxSharedTxs
	if len(serialized) > maxSharedTxs {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "got %d transactions, at most %d are allowed",
			len(serialized), maxSharedTxs)
	}

	accepted := make([]interface{}, 0, len(serialized))
	rejected := make(map[string]interface{})
	for _, item := range serialized {
		txHex, ok := item.(string)
		if !ok {
			return nil, errors.Wrapf(peer.ErrInvalidRequest, "transaction is not a hex string")
		}
		tx, err := context.DecodeTransaction(txHex)
		if err != nil {
			return nil, err
		}

		err = context.Domain.Pool().ProcessNewTransaction(tx, true)
		if err != nil {
			if !errors.As(err, &txpool.RuleError{}) {
				return nil, err
			}
			log.Debugf("Rejected transaction %s: %s", tx.ID, err)
			rejected[tx.ID] = err.Error()
			continue
		}
		accepted = append(accepted, tx.ID)
	}
	return map[string]interface{}{
		"accepted": accepted,
		"rejected": rejected,
	}, nil
}
