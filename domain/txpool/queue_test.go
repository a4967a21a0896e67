package txpool

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/dposnet/dposd/domain/model"
)

func txWithID(id string) *model.Transaction {
	return &model.Transaction{ID: id}
}

func idsOf(entries []*entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.tx.ID
	}
	return ids
}

func TestQueueOrderAndRemoval(t *testing.T) {
	q := newQueue(QueueQueued)
	for _, id := range []string{"a", "b", "c", "d"} {
		q.add(txWithID(id), Payload{})
	}
	if _, ok := q.remove("b"); !ok {
		t.Fatalf("TestQueueOrderAndRemoval: remove of b unexpectedly failed")
	}
	if _, ok := q.remove("b"); ok {
		t.Fatalf("TestQueueOrderAndRemoval: second remove of b unexpectedly succeeded")
	}
	if q.has("b") {
		t.Fatalf("TestQueueOrderAndRemoval: b is still in the queue")
	}
	if q.count() != 3 {
		t.Fatalf("TestQueueOrderAndRemoval: unexpected count: got %d, want 3", q.count())
	}

	got := idsOf(q.list(0, nil))
	if !reflect.DeepEqual(got, []string{"a", "c", "d"}) {
		t.Fatalf("TestQueueOrderAndRemoval: unexpected order: %v", got)
	}
	got = idsOf(q.list(2, nil))
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("TestQueueOrderAndRemoval: unexpected limited list: %v", got)
	}
	got = idsOf(q.list(0, func(e *entry) bool { return e.tx.ID != "c" }))
	if !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("TestQueueOrderAndRemoval: unexpected filtered list: %v", got)
	}
}

func TestQueueReindex(t *testing.T) {
	q := newQueue(QueueUnconfirmed)
	total := reindexThreshold + 10
	for i := 0; i < total; i++ {
		q.add(txWithID(fmt.Sprintf("tx%d", i)), Payload{})
	}
	for i := 0; i < reindexThreshold; i++ {
		q.remove(fmt.Sprintf("tx%d", i))
	}

	if len(q.entries) != total-reindexThreshold {
		t.Fatalf("TestQueueReindex: holes were not compacted: %d entries", len(q.entries))
	}
	if q.removed != 0 {
		t.Fatalf("TestQueueReindex: removal counter was not reset: %d", q.removed)
	}
	for i := reindexThreshold; i < total; i++ {
		id := fmt.Sprintf("tx%d", i)
		e, ok := q.get(id)
		if !ok || e.tx.ID != id {
			t.Fatalf("TestQueueReindex: %s is not reachable after reindex", id)
		}
	}
}
