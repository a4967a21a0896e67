package prioritylock

import (
	"sync"
)

// Mutex is a read-write lock with two priorities. While any high priority
// holder is waiting or running, low priority lockers queue behind it.
//
// dposd uses it as the balances sequence: block application and rollback
// lock with high priority, transaction pool paths that touch unconfirmed
// balances lock with low priority.
type Mutex struct {
	dataMutex           sync.RWMutex
	lowPriorityMutex    sync.Mutex
	highPriorityWaiting sync.WaitGroup
}

// New returns a new priority mutex
func New() *Mutex {
	return &Mutex{}
}

// LowPriorityLock acquires a low-priority lock.
func (mtx *Mutex) LowPriorityLock() {
	mtx.lowPriorityMutex.Lock()
	mtx.highPriorityWaiting.Wait()
	mtx.dataMutex.Lock()
}

// LowPriorityUnlock unlocks the low-priority lock
func (mtx *Mutex) LowPriorityUnlock() {
	mtx.dataMutex.Unlock()
	mtx.lowPriorityMutex.Unlock()
}

// HighPriorityLock acquires a high-priority lock.
func (mtx *Mutex) HighPriorityLock() {
	mtx.highPriorityWaiting.Add(1)
	mtx.dataMutex.Lock()
}

// HighPriorityUnlock unlocks the high-priority lock
func (mtx *Mutex) HighPriorityUnlock() {
	mtx.dataMutex.Unlock()
	mtx.highPriorityWaiting.Done()
}

// HighPriorityReadLock acquires a high-priority read
// lock.
func (mtx *Mutex) HighPriorityReadLock() {
	mtx.highPriorityWaiting.Add(1)
	mtx.dataMutex.RLock()
}

// HighPriorityReadUnlock unlocks the high-priority read
// lock
func (mtx *Mutex) HighPriorityReadUnlock() {
	mtx.highPriorityWaiting.Done()
	mtx.dataMutex.RUnlock()
}
