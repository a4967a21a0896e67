package ledger

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestMergeBalanceDiff(t *testing.T) {
	tests := []struct {
		name           string
		diff           map[string]interface{}
		expectedValues map[string]interface{}
	}{
		{
			name:           "empty diff",
			diff:           map[string]interface{}{},
			expectedValues: map[string]interface{}{},
		},
		{
			name:           "nil diff",
			diff:           nil,
			expectedValues: map[string]interface{}{},
		},
		{
			name: "positive balance",
			diff: map[string]interface{}{FieldBalance: int64(10)},
			expectedValues: map[string]interface{}{
				FieldBalance: Arithmetic{Field: FieldBalance, Delta: 10},
			},
		},
		{
			name: "negative unconfirmed balance clears virgin",
			diff: map[string]interface{}{FieldUBalance: int64(-1)},
			expectedValues: map[string]interface{}{
				FieldUBalance: Arithmetic{Field: FieldUBalance, Delta: -1},
				FieldVirgin:   0,
			},
		},
		{
			name: "positive unconfirmed balance keeps virgin",
			diff: map[string]interface{}{FieldUBalance: 5},
			expectedValues: map[string]interface{}{
				FieldUBalance: Arithmetic{Field: FieldUBalance, Delta: 5},
			},
		},
		{
			name: "zero delta",
			diff: map[string]interface{}{FieldBalance: int64(0)},
			expectedValues: map[string]interface{}{},
		},
		{
			name: "fields outside the allow-list are dropped",
			diff: map[string]interface{}{
				FieldBalance:  int64(-7),
				FieldUsername: "attacker",
				FieldVote:     int64(1000),
				"asset":       "anything",
			},
			expectedValues: map[string]interface{}{
				FieldBalance: Arithmetic{Field: FieldBalance, Delta: -7},
			},
		},
	}

	for _, test := range tests {
		ops := MergeBalanceDiff("1D", test.diff)
		if len(ops) != 1 {
			t.Fatalf("TestMergeBalanceDiff: %s: expected exactly one op, got %d", test.name, len(ops))
		}
		op := ops[0]
		if op.Type != OpUpdate || op.Model != ModelAccounts || op.Key != "1D" {
			t.Fatalf("TestMergeBalanceDiff: %s: unexpected op %s", test.name, op)
		}
		if !reflect.DeepEqual(op.Values, test.expectedValues) {
			t.Fatalf("TestMergeBalanceDiff: %s: unexpected values.\nGot: %s\nExpected: %s",
				test.name, spew.Sdump(op.Values), spew.Sdump(test.expectedValues))
		}
	}
}

func TestMergeBalanceDiffRendering(t *testing.T) {
	ops := MergeBalanceDiff("1D", map[string]interface{}{FieldBalance: int64(10)})
	rendered := fmt.Sprint(ops[0].Values[FieldBalance])
	if rendered != "balance + 10" {
		t.Fatalf("TestMergeBalanceDiffRendering: expected %q, got %q", "balance + 10", rendered)
	}

	ops = MergeBalanceDiff("1D", map[string]interface{}{FieldUBalance: int64(-1)})
	rendered = fmt.Sprint(ops[0].Values[FieldUBalance])
	if rendered != "u_balance - 1" {
		t.Fatalf("TestMergeBalanceDiffRendering: expected %q, got %q", "u_balance - 1", rendered)
	}
	if ops[0].Values[FieldVirgin] != 0 {
		t.Fatalf("TestMergeBalanceDiffRendering: expected virgin to be cleared, got %v",
			ops[0].Values[FieldVirgin])
	}
}
