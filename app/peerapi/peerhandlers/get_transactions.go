package peerhandlers

import (
	"github.com/dposnet/dposd/app/peerapi/peercontext"
)

// HandleGetTransactions handles the respectively named peer API
func HandleGetTransactions(context *peercontext.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	txs := context.Domain.Pool().GetMergedTransactionList(0)
	serialized := make([]interface{}, len(txs))
	for i, tx := range txs {
		var err error
		serialized[i], err = context.EncodeTransaction(tx)
		if err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"transactions": serialized}, nil
}
