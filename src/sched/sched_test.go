package sched

import (
	"sync"
	"testing"
	"time"

	"defs"
)

func mkRunnableThread(t *testing.T, s *Scheduler, pid defs.Pid_t, nice defs.Nice) *Thread {
	t.Helper()
	th, err := s.CreateThread(pid)
	if err != 0 {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := s.WakeupThread(th.Id, &nice); err != 0 {
		t.Fatalf("WakeupThread: %v", err)
	}
	return th
}

func TestScheduleRunsLowestNiceFirst(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	low := mkRunnableThread(t, s, pid, 0)
	high := mkRunnableThread(t, s, pid, -2)

	got := s.Schedule(0)
	if got != high {
		t.Fatalf("expected the nice=-2 thread to run first, got tid %d", got.Id)
	}
	_ = low
}

func TestRoundRobinWithinNiceLevel(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	a := mkRunnableThread(t, s, pid, 0)
	b := mkRunnableThread(t, s, pid, 0)

	got := s.Schedule(0)
	if got != a {
		t.Fatalf("expected a to run first (FIFO), got tid %d", got.Id)
	}
	// a's quantum ends while still runnable: Preempt rotates it to the
	// back of its queue and returns the next thread.
	next := s.Preempt(0)
	if next != b {
		t.Fatalf("expected b to run after a is rotated back, got tid %d", next.Id)
	}
	next = s.Preempt(0)
	if next != a {
		t.Fatalf("expected a to run again after b's quantum, got tid %d", next.Id)
	}
}

func TestPreemptRemovesWaitingThread(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	a := mkRunnableThread(t, s, pid, 0)
	s.Schedule(0)

	ev := s.CreateEvent()
	go s.WaitEvent(a.Id, ev)
	// give the goroutine a chance to register as waiting
	time.Sleep(10 * time.Millisecond)

	if st, _ := s.ThreadState(a.Id); st != Waiting {
		t.Fatalf("thread should be Waiting, got %v", st)
	}
	next := s.Preempt(0)
	if next != nil {
		t.Fatalf("expected CPU to go idle, got tid %d", next.Id)
	}
	s.NotifyEvent(ev)
}

func TestFairnessAcrossSteadyStateThreads(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	const n = 4
	threads := make([]*Thread, n)
	for i := range threads {
		threads[i] = mkRunnableThread(t, s, pid, 0)
	}
	counts := make(map[defs.Tid_t]int)
	cur := s.Schedule(0)
	counts[cur.Id]++
	for tick := 0; tick < n*20; tick++ {
		cur = s.Preempt(0)
		counts[cur.Id]++
	}
	for _, th := range threads {
		c := counts[th.Id]
		if c < 19 || c > 22 {
			t.Fatalf("thread %d ran %d times over %d ticks, expected near-even share", th.Id, c, n*20+1)
		}
	}
}

func TestEventNotifyWakesAllWaiters(t *testing.T) {
	s := New(2)
	pid, _ := s.CreateProcess()
	a, _ := s.CreateThread(pid)
	b, _ := s.CreateThread(pid)
	ev := s.CreateEvent()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.WaitEvent(a.Id, ev) }()
	go func() { defer wg.Done(); s.WaitEvent(b.Id, ev) }()
	time.Sleep(10 * time.Millisecond)

	s.NotifyEvent(ev)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyEvent did not wake both waiters")
	}

	if st, _ := s.ThreadState(a.Id); st != Runnable {
		t.Fatalf("a should be Runnable after notify, got %v", st)
	}
}

func TestUnwaitEventDoesNotWake(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	a, _ := s.CreateThread(pid)
	ev1 := s.CreateEvent()
	ev2 := s.CreateEvent()

	woke := make(chan struct{})
	go func() {
		s.WaitEvents(a.Id, []EventID{ev1, ev2})
		close(woke)
	}()
	time.Sleep(10 * time.Millisecond)

	s.UnwaitEvent(a.Id, ev1)
	select {
	case <-woke:
		t.Fatal("unwait should not wake the thread")
	case <-time.After(30 * time.Millisecond):
	}
	s.NotifyEvent(ev2)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("notify on the remaining event should wake the thread")
	}
}

func TestDeleteEventWithWaitersPanics(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	a, _ := s.CreateThread(pid)
	ev := s.CreateEvent()
	go s.WaitEvent(a.Id, ev)
	time.Sleep(10 * time.Millisecond)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic deleting an event with waiters")
		}
	}()
	s.DeleteEvent(ev)
}

func TestThreadExitCancelsSubscriptionsAndWakesJoiners(t *testing.T) {
	s := New(1)
	pid, _ := s.CreateProcess()
	a, _ := s.CreateThread(pid)
	ev := s.CreateEvent()
	waitReturned := make(chan defs.Err_t, 1)
	go func() { waitReturned <- s.WaitThread(pid, a.Id) }()
	time.Sleep(10 * time.Millisecond)

	go s.WaitEvent(a.Id, ev)
	time.Sleep(10 * time.Millisecond)

	s.ExitThread(a.Id)
	if st, _ := s.ThreadState(a.Id); st != Zombie {
		t.Fatalf("expected Zombie after ExitThread, got %v", st)
	}

	select {
	case err := <-waitReturned:
		if err != 0 {
			t.Fatalf("WaitThread returned error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitThread did not return after ExitThread")
	}

	// DeleteEvent must not panic: exit cancelled the subscription.
	s.DeleteEvent(ev)
}

func TestMutexExcludesConcurrentHolders(t *testing.T) {
	s := New(4)
	pid, _ := s.CreateProcess()
	m := NewMutex(s)
	const n = 8
	var counter int
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		th, _ := s.CreateThread(pid)
		go func(tid defs.Tid_t) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Acquire(tid)
				counter++
				m.Release()
			}
		}(th.Id)
	}
	wg.Wait()
	if counter != n*100 {
		t.Fatalf("counter = %d, want %d (mutex failed to exclude)", counter, n*100)
	}
}

func TestMessageQueuePushPop(t *testing.T) {
	mq := NewMessageQueue(4)
	if !mq.Push(Message{Kind: LAPICTimer}) {
		t.Fatal("push into empty queue should succeed")
	}
	m, ok := mq.Pop()
	if !ok || m.Kind != LAPICTimer {
		t.Fatalf("Pop = %+v, %v", m, ok)
	}
}
