package ledger

// Account fields MergeBalanceDiff accepts. Anything else in a diff is
// dropped.
var balanceDiffFields = []string{FieldBalance, FieldUBalance}

// MergeBalanceDiff turns a sparse balance diff into exactly one account
// update op. Deltas are emitted as relative Arithmetic values, and a
// negative u_balance delta also clears the virgin flag.
func MergeBalanceDiff(address string, diff map[string]interface{}) []*DBOp {
	values := make(map[string]interface{})
	for _, field := range balanceDiffFields {
		rawDelta, ok := diff[field]
		if !ok {
			continue
		}
		delta, ok := toInt64(rawDelta)
		if !ok || delta == 0 {
			continue
		}
		values[field] = Arithmetic{Field: field, Delta: delta}
		if field == FieldUBalance && delta < 0 {
			values[FieldVirgin] = 0
		}
	}
	return []*DBOp{UpdateAccount(address, values)}
}

func toInt64(value interface{}) (int64, bool) {
	switch value := value.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case int32:
		return int64(value), true
	case uint32:
		return int64(value), true
	default:
		return 0, false
	}
}
