package sched

import "defs"

/// EventID identifies an event: an integer id plus the list of threads
/// currently blocked on it.
type EventID uint64

type event struct {
	id      EventID
	waiters []*Thread // FIFO
}

func (e *event) removeWaiter(t *Thread) {
	for i, w := range e.waiters {
		if w == t {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

/// CreateEvent allocates a new, empty event and returns its id.
func (s *Scheduler) CreateEvent() EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	id := EventID(s.nextEvent)
	s.events[id] = &event{id: id}
	return id
}

/// DeleteEvent removes an event. It panics if the event still has
/// waiters; callers must drain them first.
func (s *Scheduler) DeleteEvent(id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		panic("sched: delete of unknown event")
	}
	if len(e.waiters) != 0 {
		panic("sched: delete of event with waiters")
	}
	delete(s.events, id)
}

// registerWaiterLocked appends t to id's waiter list and id to t's
// subscription set, and transitions t to Waiting. Caller must hold s.mu.
func (s *Scheduler) registerWaiterLocked(t *Thread, id EventID) {
	e := s.events[id]
	e.waiters = append(e.waiters, t)
	t.subscribed[id] = true
	t.State = Waiting
	t.CPU = -1
}

// notifyLocked moves id's entire waiter list to Runnable and enqueues
// each, unsubscribing only from id. Caller must hold s.mu. The returned
// slice must be woken (sent on t.wake) after the caller releases s.mu.
func (s *Scheduler) notifyLocked(id EventID) []*Thread {
	e, ok := s.events[id]
	if !ok {
		return nil
	}
	woken := e.waiters
	e.waiters = nil
	for _, t := range woken {
		delete(t.subscribed, id)
		t.State = Runnable
		s.enqueue(t)
	}
	return woken
}

func wake(woken []*Thread) {
	for _, t := range woken {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

/// WaitEvent blocks the calling goroutine — which must be the thread
/// identified by tid's own execution — until id is notified or
/// unsubscribed. It appends self to id's waiter list and id to self's
/// subscription set under the scheduler lock, transitions self to
/// Waiting, then parks on the thread's wake channel outside the lock.
func (s *Scheduler) WaitEvent(tid defs.Tid_t, id EventID) defs.Err_t {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok {
		s.mu.Unlock()
		return -defs.EINVAL
	}
	if _, ok := s.events[id]; !ok {
		s.mu.Unlock()
		return -defs.EINVAL
	}
	s.registerWaiterLocked(t, id)
	s.mu.Unlock()

	<-t.wake
	return 0
}

/// WaitEvents atomically subscribes to every id in ids, then blocks
/// until any one of them is notified.
func (s *Scheduler) WaitEvents(tid defs.Tid_t, ids []EventID) defs.Err_t {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok {
		s.mu.Unlock()
		return -defs.EINVAL
	}
	for _, id := range ids {
		e, ok := s.events[id]
		if !ok {
			s.mu.Unlock()
			return -defs.EINVAL
		}
		e.waiters = append(e.waiters, t)
		t.subscribed[id] = true
	}
	t.State = Waiting
	t.CPU = -1
	s.mu.Unlock()

	<-t.wake
	return 0
}

/// NotifyEvent moves id's entire waiter list to Runnable, enqueuing each
/// on its ready queue. A waiter remains subscribed to its other pending
/// events until it explicitly unsubscribes — waking from one event does
/// not remove it from the others.
func (s *Scheduler) NotifyEvent(id EventID) {
	s.mu.Lock()
	woken := s.notifyLocked(id)
	s.mu.Unlock()
	wake(woken)
}

/// UnwaitEvent cancels tid's subscription to id without waking it —
/// used when a thread no longer cares about an event it is not actually
/// blocked on right now (e.g. WaitEvents woke it via a different id).
func (s *Scheduler) UnwaitEvent(tid defs.Tid_t, id EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok {
		return
	}
	if e, ok := s.events[id]; ok {
		e.removeWaiter(t)
	}
	delete(t.subscribed, id)
}

// cancelSubscriptions removes t from every event it is subscribed to,
// without waking it. Called on thread exit, before the thread
// transitions to zombie. Caller must hold s.mu.
func (s *Scheduler) cancelSubscriptions(t *Thread) {
	for id := range t.subscribed {
		if e, ok := s.events[id]; ok {
			e.removeWaiter(t)
		}
	}
	t.subscribed = make(map[EventID]bool)
}
