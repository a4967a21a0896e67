package transactions

import (
	"github.com/dposnet/dposd/domain/model"
	"github.com/pkg/errors"
)

// laterDuplicates returns every transaction of txs whose key was already
// taken by an earlier one.
func laterDuplicates(txs []*model.Transaction, key func(tx *model.Transaction) string) []*model.Transaction {
	seen := make(map[string]struct{}, len(txs))
	var conflicts []*model.Transaction
	for _, tx := range txs {
		k := key(tx)
		if _, ok := seen[k]; ok {
			conflicts = append(conflicts, tx)
			continue
		}
		seen[k] = struct{}{}
	}
	return conflicts
}

// requireAssets fails if a transaction of txs was loaded without its asset.
func requireAssets(txs []*model.Transaction, assetName string) error {
	for _, tx := range txs {
		if tx.Asset == nil {
			return errors.Errorf("Couldn't restore asset for %s transaction %s", assetName, tx.ID)
		}
	}
	return nil
}
