package sched

import (
	"sync/atomic"

	"defs"
)

/// Mutex is a scheduler-aware mutex: an atomic flag plus the event a
/// blocked acquirer waits on. It is not strict FIFO — a newly-arriving
/// acquirer may win against a just-notified waiter — which is
/// acceptable at kernel scale.
type Mutex struct {
	flag  int32
	event EventID
	sched *Scheduler
}

/// NewMutex allocates a mutex bound to sched, creating its backing
/// event.
func NewMutex(sched *Scheduler) *Mutex {
	return &Mutex{sched: sched, event: sched.CreateEvent()}
}

/// Acquire loops attempting a test-and-set of the flag; on contention it
/// blocks the calling thread (tid) on the mutex's event and retries on
/// wake. The test-and-set and the waiter registration happen under the
/// same scheduler-lock critical section as Release's clear-and-notify,
/// so a Release can never slip between a failed test-and-set and this
/// thread joining the waiter list.
func (m *Mutex) Acquire(tid defs.Tid_t) {
	for {
		m.sched.mu.Lock()
		if atomic.CompareAndSwapInt32(&m.flag, 0, 1) {
			m.sched.mu.Unlock()
			return
		}
		t := m.sched.threads[tid]
		m.sched.registerWaiterLocked(t, m.event)
		m.sched.mu.Unlock()

		<-t.wake
	}
}

/// Release clears the flag and notifies the mutex's event, waking every
/// current waiter to race for the lock.
func (m *Mutex) Release() {
	m.sched.mu.Lock()
	atomic.StoreInt32(&m.flag, 0)
	woken := m.sched.notifyLocked(m.event)
	m.sched.mu.Unlock()
	wake(woken)
}

/// TryAcquire attempts the test-and-set without blocking.
func (m *Mutex) TryAcquire() bool {
	return atomic.CompareAndSwapInt32(&m.flag, 0, 1)
}

/// Destroy releases the mutex's backing event. The mutex must have no
/// pending waiters.
func (m *Mutex) Destroy() {
	m.sched.DeleteEvent(m.event)
}
