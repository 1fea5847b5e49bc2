package sched

import (
	"sync"

	"defs"
	"limits"
)

/// Scheduler owns every piece of state the single global scheduler
/// spinlock serialises: the five nice-indexed ready queues, the thread
/// and process tables, and (via event.go) the event table.
type Scheduler struct {
	mu sync.Mutex

	ready [defs.NiceLevels][]*Thread

	threads   map[defs.Tid_t]*Thread
	processes map[defs.Pid_t]*Process
	events    map[EventID]*event

	nextTid   uint64
	nextPid   uint64
	nextEvent uint64

	numCPU  int
	current []*Thread // per-CPU currently running thread, nil if idle
}

/// New constructs an empty scheduler for a machine with numCPU logical
/// processors.
func New(numCPU int) *Scheduler {
	if numCPU <= 0 {
		numCPU = 1
	}
	return &Scheduler{
		threads:   make(map[defs.Tid_t]*Thread),
		processes: make(map[defs.Pid_t]*Process),
		events:    make(map[EventID]*event),
		current:   make([]*Thread, numCPU),
		numCPU:    numCPU,
	}
}

/// Lock acquires the global scheduler spinlock unconditionally — the
/// path ordinary syscalls and kernel code take.
func (s *Scheduler) Lock() { s.mu.Lock() }

/// Unlock releases the global scheduler spinlock.
func (s *Scheduler) Unlock() { s.mu.Unlock() }

/// TryFromInterrupt attempts to acquire the scheduler lock without
/// blocking, the path an interrupt handler must take: the lock is
/// acquired with try-lock, and failure means another CPU is
/// mid-operation, so the handler returns without switching. On success
/// the caller must call Unlock when done.
func (s *Scheduler) TryFromInterrupt() bool {
	return s.mu.TryLock()
}

/// CreateProcess creates an empty process with no threads and no page
/// map, returning its id. It fails with -defs.ENOMEM once the
/// system-wide process budget (limits.Syslimit.Processes) is exhausted.
func (s *Scheduler) CreateProcess() (defs.Pid_t, defs.Err_t) {
	if !limits.Syslimit.Processes.Take() {
		return 0, -defs.ENOMEM
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPid++
	pid := defs.Pid_t(s.nextPid)
	s.processes[pid] = newProcess(pid)
	return pid, 0
}

/// Process looks up a process by id.
func (s *Scheduler) Process(pid defs.Pid_t) (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	return p, ok
}

/// DestroyProcess removes a process record and returns its slot to the
/// system-wide process budget. The caller must have already joined
/// every one of its threads and destroyed its page map.
func (s *Scheduler) DestroyProcess(pid defs.Pid_t) {
	s.mu.Lock()
	p, ok := s.processes[pid]
	if !ok {
		s.mu.Unlock()
		return
	}
	if len(p.Threads) != 0 {
		panic("sched: destroying process with live threads")
	}
	delete(s.processes, pid)
	s.mu.Unlock()
	limits.Syslimit.Processes.Give()
}

/// CreateThread allocates a thread owned by pid, nice 0, in the
/// Created state (not yet on any ready queue). The caller installs
/// entry/kernel-stack/context details via the returned Thread's
/// Context field and the owning process's book-keeping before calling
/// WakeupThread. It fails with -defs.ENOMEM once the system-wide
/// thread budget (limits.Syslimit.Threads) is exhausted.
func (s *Scheduler) CreateThread(pid defs.Pid_t) (*Thread, defs.Err_t) {
	if !limits.Syslimit.Threads.Take() {
		return nil, -defs.ENOMEM
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	if !ok {
		limits.Syslimit.Threads.Give()
		return nil, -defs.EINVAL
	}
	s.nextTid++
	t := newThread(defs.Tid_t(s.nextTid), pid)
	s.threads[t.Id] = t
	p.Threads[t.Id] = t
	return t, 0
}

func niceIndex(n defs.Nice) int {
	i := n.Index()
	if i < 0 || i >= defs.NiceLevels {
		panic("sched: nice out of range")
	}
	return i
}

// enqueue appends t to its nice level's ready queue. Caller must hold
// s.mu.
func (s *Scheduler) enqueue(t *Thread) {
	idx := niceIndex(t.Nice)
	s.ready[idx] = append(s.ready[idx], t)
}

/// WakeupThread marks a thread runnable and enqueues it on its ready
/// queue, optionally changing its nice level first.
func (s *Scheduler) WakeupThread(tid defs.Tid_t, nice *defs.Nice) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok {
		return -defs.EINVAL
	}
	if nice != nil {
		t.Nice = *nice
	}
	t.State = Runnable
	s.enqueue(t)
	return 0
}

/// Schedule picks the next runnable thread for cpu: the front of the
/// lowest-nice non-empty ready queue. It returns nil when every queue
/// is empty (the CPU goes idle). The previously running thread on cpu,
/// if any, is not touched here — call Preempt first if a thread is
/// currently assigned.
func (s *Scheduler) Schedule(cpu int) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(cpu)
}

func (s *Scheduler) scheduleLocked(cpu int) *Thread {
	for i := range s.ready {
		if len(s.ready[i]) == 0 {
			continue
		}
		t := s.ready[i][0]
		s.ready[i] = s.ready[i][1:]
		t.State = Running
		t.CPU = cpu
		s.current[cpu] = t
		return t
	}
	s.current[cpu] = nil
	return nil
}

/// Preempt ends cpu's current thread's quantum: if it is still Running,
/// it is made Runnable and rotated to the back of its ready queue;
/// otherwise (a wait or exit already moved it to Waiting/Zombie and this
/// is a stale tick) it is left alone, since the current thread is off
/// the ready queues. It then schedules and returns cpu's next thread.
func (s *Scheduler) Preempt(cpu int) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current[cpu]
	if cur != nil && cur.State == Running {
		cur.State = Runnable
		s.enqueue(cur)
	}
	return s.scheduleLocked(cpu)
}

/// Current returns the thread currently assigned to cpu, or nil if
/// idle.
func (s *Scheduler) Current(cpu int) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[cpu]
}

/// ExitThread transitions tid to Zombie: cancels its remaining event
/// subscriptions, removes it from its CPU assignment, and wakes every
/// goroutine blocked in WaitThread on it.
func (s *Scheduler) ExitThread(tid defs.Tid_t) {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.cancelSubscriptions(t)
	t.State = Zombie
	if t.CPU >= 0 && t.CPU < s.numCPU && s.current[t.CPU] == t {
		s.current[t.CPU] = nil
	}
	t.CPU = -1
	s.mu.Unlock()
	close(t.joinCh)
}

/// WaitThread blocks the calling goroutine until tid is a zombie, then
/// reaps it: removes it from its process and the thread table and
/// returns its slot to the system-wide thread budget. It is safe to
/// call concurrently from multiple joiners.
func (s *Scheduler) WaitThread(pid defs.Pid_t, tid defs.Tid_t) defs.Err_t {
	s.mu.Lock()
	t, ok := s.threads[tid]
	if !ok || t.Pid != pid {
		s.mu.Unlock()
		return -defs.EINVAL
	}
	ch := t.joinCh
	s.mu.Unlock()

	<-ch

	s.mu.Lock()
	_, stillPresent := s.threads[tid]
	if p, ok := s.processes[pid]; ok {
		delete(p.Threads, tid)
	}
	delete(s.threads, tid)
	s.mu.Unlock()
	if stillPresent {
		limits.Syslimit.Threads.Give()
	}
	return 0
}

/// ThreadState reports tid's current lifecycle state.
func (s *Scheduler) ThreadState(tid defs.Tid_t) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[tid]
	if !ok {
		return 0, false
	}
	return t.State, true
}
