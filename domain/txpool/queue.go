package txpool

import (
	"fmt"
	"time"

	"github.com/dposnet/dposd/domain/model"
)

// reindexThreshold is the number of removals after which a queue compacts
// its entry list.
const reindexThreshold = 1000

// QueueType names one of the pool queues.
type QueueType int

// Pool queues. A transaction id is in at most one of them.
const (
	QueueUnconfirmed QueueType = iota
	QueueBundled
	QueueQueued
	QueueMultisignature
)

// allQueueTypes lists the queues in the order they are scanned.
var allQueueTypes = []QueueType{QueueUnconfirmed, QueueBundled, QueueQueued, QueueMultisignature}

var queueTypeNames = map[QueueType]string{
	QueueUnconfirmed:    "unconfirmed",
	QueueBundled:        "bundled",
	QueueQueued:         "queued",
	QueueMultisignature: "multisignature",
}

func (q QueueType) String() string {
	if name, ok := queueTypeNames[q]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(q))
}

// Payload is the pool bookkeeping of a transaction.
type Payload struct {
	ReceivedAt time.Time

	// Ready is set on multisignature queue entries once enough cosigner
	// signatures were collected.
	Ready bool
}

type entry struct {
	tx      *model.Transaction
	payload Payload
}

// queue is an insertion-ordered set of transactions. Removed entries leave
// holes that are compacted every reindexThreshold removals.
type queue struct {
	name    QueueType
	entries []*entry
	index   map[string]int
	removed int
}

func newQueue(name QueueType) *queue {
	return &queue{
		name:  name,
		index: make(map[string]int),
	}
}

func (q *queue) add(tx *model.Transaction, payload Payload) {
	q.index[tx.ID] = len(q.entries)
	q.entries = append(q.entries, &entry{tx: tx, payload: payload})
}

func (q *queue) has(id string) bool {
	_, ok := q.index[id]
	return ok
}

func (q *queue) get(id string) (*entry, bool) {
	position, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return q.entries[position], true
}

func (q *queue) remove(id string) (*entry, bool) {
	position, ok := q.index[id]
	if !ok {
		return nil, false
	}
	removed := q.entries[position]
	q.entries[position] = nil
	delete(q.index, id)

	q.removed++
	if q.removed >= reindexThreshold {
		q.reindex()
	}
	return removed, true
}

func (q *queue) reindex() {
	entries := make([]*entry, 0, len(q.index))
	for _, e := range q.entries {
		if e == nil {
			continue
		}
		q.index[e.tx.ID] = len(entries)
		entries = append(entries, e)
	}
	q.entries = entries
	q.removed = 0
}

func (q *queue) count() int {
	return len(q.index)
}

// list returns up to limit entries filter accepts in insertion order. A
// limit of zero or less means no limit, and a nil filter accepts every entry.
func (q *queue) list(limit int, filter func(e *entry) bool) []*entry {
	var result []*entry
	for _, e := range q.entries {
		if limit > 0 && len(result) >= limit {
			break
		}
		if e == nil || (filter != nil && !filter(e)) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func transactionsOf(entries []*entry) []*model.Transaction {
	txs := make([]*model.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.tx
	}
	return txs
}
