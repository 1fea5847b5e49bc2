// Package limits implements admission-control counters generalizing
// Biscuit's Sysatomic_t (limits/limits.go): a signed counter that starts
// at a budget and is atomically taken from / given back to, refusing the
// operation outright rather than blocking when exhausted. Biscuit
// used this for per-subsystem resource budgets (Vnodes, Pipes, Sysprocs,
// ...); this repository keeps the mechanism and retargets the budget
// names at the five kernel-core components.
package limits

import "sync/atomic"

/// Sysatomic_t is a numeric limit that can be atomically taken from and
/// given back to. Taken never blocks: it either succeeds immediately or
/// fails, which is what lets it be called from interrupt context.
type Sysatomic_t struct {
	v int64
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(&s.v, int64(n))
}

/// Taken tries to decrement the limit by n and reports success.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64(&s.v, -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, int64(n))
	return false
}

/// Take decrements the limit by one and reports success.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Remaining reports the current budget; for diagnostics only, since the
/// value can change concurrently.
func (s *Sysatomic_t) Remaining() int64 {
	return atomic.LoadInt64(&s.v)
}

/// Syslimit_t tracks the system-wide resource limits each kernel-core
/// component enforces as admission control.
type Syslimit_t struct {
	// frame allocator: a configured count of reserved frames. The frame
	// allocator does not read it, so it withholds no frames.
	ReservedFrames int
	// scheduler: max live processes and threads.
	Processes Sysatomic_t
	Threads   Sysatomic_t
	// scheduler: a budget for live events. CreateEvent does not take
	// from it, so the number of live events is not bounded by it.
	Events Sysatomic_t
	// VFS: max live FOPs, bounding the open-file graph's memory use.
	Vnodes Sysatomic_t
	// VFS: max cache pages pinned across all FOPs.
	CachePages Sysatomic_t
}

/// MkSysLimit returns the default set of limits.
func MkSysLimit() *Syslimit_t {
	l := &Syslimit_t{
		ReservedFrames: 1 << 14, // 64 MiB at 4 KiB frames
	}
	l.Processes.Given(1 << 14)
	l.Threads.Given(1 << 16)
	l.Events.Given(1 << 16)
	l.Vnodes.Given(1 << 16)
	l.CachePages.Given(1 << 18)
	return l
}

/// Syslimit is the process-wide configured set of limits.
var Syslimit = MkSysLimit()
