package transactions

import (
	"sync"

	"github.com/dposnet/dposd/domain/model"
)

// pendingSet tracks the keys with an unconfirmed transaction in flight.
type pendingSet struct {
	mtx  sync.Mutex
	keys map[string]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{keys: make(map[string]struct{})}
}

// add marks key as pending. It returns false if key already was.
func (s *pendingSet) add(key string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *pendingSet) set(key string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.keys[key] = struct{}{}
}

func (s *pendingSet) has(key string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *pendingSet) remove(key string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.keys, key)
}

func (s *pendingSet) reset() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.keys = make(map[string]struct{})
}

// pendingTracker is implemented by the types that remember their
// registrations applied as unconfirmed.
type pendingTracker interface {
	resetPending()
	markPending(tx *model.Transaction) error
}

// ResetPending rebuilds the pending registrations of every type from
// unconfirmed, the transactions currently applied as unconfirmed. It is
// used after a failed commit left the in-memory flags ahead of the
// database.
func (r *Registry) ResetPending(unconfirmed []*model.Transaction) error {
	for _, txType := range r.types {
		if tracker, ok := txType.(pendingTracker); ok {
			tracker.resetPending()
		}
	}
	for _, tx := range unconfirmed {
		txType, err := r.Get(tx.Type)
		if err != nil {
			return err
		}
		if tracker, ok := txType.(pendingTracker); ok {
			err := tracker.markPending(tx)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
