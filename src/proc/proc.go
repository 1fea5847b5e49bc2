// Package proc implements process and thread lifecycle,
// ELF loading, and the syscall dispatcher. It is new code binding
// sched, vm and fs together the way Biscuit's kernel/chentry.go
// binds a raw ELF to a runnable image, generalized from a build-time
// entry-point patcher into a runtime loader: CreateProcess/CreateThread
// wrap the scheduler's process/thread tables with a *vm.PageMap the
// scheduler itself never imports (sched.PageMapper keeps the two
// packages decoupled), and LoadImage walks a binary's PT_LOAD segments
// into that page map before a thread is ever woken.
package proc

import (
	"sync"

	"circbuf"
	"defs"
	"fs"
	"frame"
	"sched"
	"vm"
)

// UserStackTop is the highest page-aligned address in vm's canonical
// user range, per the loader handoff contract: a single page is mapped
// here for each process's initial user stack.
const UserStackTop = vm.UserBase + vm.UserRegionSize - uintptr(frame.PGSIZE)

/// Manager owns every piece of state the process/thread lifecycle needs
/// beyond the scheduler's own tables: the frame allocator and kernel
/// map an ELF load consumes, the VFS an ELF image is read from, and the
/// printk log ring the syscall path appends to.
type Manager struct {
	sched *sched.Scheduler
	alloc *frame.Allocator
	kmap  *vm.KernelMap
	fsys  *fs.FS

	klogMu sync.Mutex
	klog   *circbuf.Ring

	// leafMu/leaves track the mapped leaf frames (ELF segments, user
	// stack) each process owns. vm.PageMap only records its own
	// intermediate tables in PageMap.Destroy's sweep (see vm.PageMap),
	// not the leaf frames a caller maps into it, so this package must
	// remember them itself to reclaim on DestroyProcess — otherwise a
	// mapped segment frame would never return to the allocator.
	leafMu sync.Mutex
	leaves map[defs.Pid_t][]frame.Handle
}

// klogCapacity bounds the printk ring; old bytes are overwritten once
// full rather than blocking a caller, matching circbuf.Ring.Write's
// best-effort policy.
const klogCapacity = 64 * 1024

/// New builds a process manager wired to an already-constructed
/// scheduler, frame allocator, kernel identity map, and VFS.
func New(s *sched.Scheduler, alloc *frame.Allocator, kmap *vm.KernelMap, fsys *fs.FS) *Manager {
	return &Manager{
		sched:  s,
		alloc:  alloc,
		kmap:   kmap,
		fsys:   fsys,
		klog:   circbuf.NewRing(klogCapacity),
		leaves: make(map[defs.Pid_t][]frame.Handle),
	}
}

// addLeafFrames records h as owned by pid's address space, to be freed
// when the process is destroyed. h may cover a run of several frames
// (e.g. the whole ELF image); Free on it releases the entire run.
func (m *Manager) addLeafFrames(pid defs.Pid_t, h frame.Handle) {
	m.leafMu.Lock()
	defer m.leafMu.Unlock()
	m.leaves[pid] = append(m.leaves[pid], h)
}

/// CreateProcess creates an empty process and gives it a fresh,
/// otherwise-unmapped user address space.
func (m *Manager) CreateProcess() (defs.Pid_t, defs.Err_t) {
	pid, err := m.sched.CreateProcess()
	if err != 0 {
		return 0, err
	}
	p, _ := m.sched.Process(pid)
	pm, perr := vm.NewPageMap(m.alloc, m.kmap)
	if perr != nil {
		m.sched.DestroyProcess(pid)
		return 0, -defs.ENOMEM
	}
	p.SetPageMap(pm)
	return pid, 0
}

// pageMap fetches pid's page map, already installed by CreateProcess.
func (m *Manager) pageMap(pid defs.Pid_t) (*vm.PageMap, defs.Err_t) {
	p, ok := m.sched.Process(pid)
	if !ok {
		return nil, -defs.ENOPROC
	}
	p.PMLock.Lock()
	defer p.PMLock.Unlock()
	pm, ok := p.PageMap.(*vm.PageMap)
	if !ok || pm == nil {
		return nil, -defs.ENOPROC
	}
	return pm, 0
}

/// CreateThread allocates a thread under pid, seeded to start at entry
/// on stackTop with (thread id, arg) in its first two argument-register
/// slots and nice 0; no kernel stack is allocated for it. The thread is
/// left in the Created state; callers wake it with WakeupThread once
/// ready.
func (m *Manager) CreateThread(pid defs.Pid_t, entry, stackTop, arg uintptr) (defs.Tid_t, defs.Err_t) {
	t, err := m.sched.CreateThread(pid)
	if err != 0 {
		return 0, err
	}
	pm, perr := m.pageMap(pid)
	if perr != 0 {
		return 0, perr
	}
	t.Context.RIP = uint64(entry)
	t.Context.RSP = uint64(stackTop)
	t.Context.GPRegs[0] = uint64(t.Id) // thread_id argument
	t.Context.GPRegs[1] = uint64(arg)  // user_arg argument
	t.Context.RFlags = 1 << 9          // IF
	t.Context.CR3 = pm.PhysAddr()
	return t.Id, 0
}

/// WakeupThread marks tid runnable.
func (m *Manager) WakeupThread(tid defs.Tid_t, nice *defs.Nice) defs.Err_t {
	return m.sched.WakeupThread(tid, nice)
}

/// ExitThread sets tid to zombie, unsubscribes it from every event it
/// was waiting on, and puts it to sleep for good.
func (m *Manager) ExitThread(tid defs.Tid_t) {
	m.sched.ExitThread(tid)
}

/// WaitThread blocks until tid is a zombie and reaps it.
func (m *Manager) WaitThread(pid defs.Pid_t, tid defs.Tid_t) defs.Err_t {
	return m.sched.WaitThread(pid, tid)
}

/// DestroyProcess tears down pid's address space and removes it from
/// the scheduler's process table, reclaiming every frame allocated for
/// the image, the user stack, and the user page map. The caller must
/// have already joined every one of pid's threads (sched.DestroyProcess
/// panics otherwise).
func (m *Manager) DestroyProcess(pid defs.Pid_t) defs.Err_t {
	p, ok := m.sched.Process(pid)
	if !ok {
		return -defs.ENOPROC
	}
	p.PMLock.Lock()
	pm := p.PageMap
	p.PageMap = nil
	p.PMLock.Unlock()

	m.leafMu.Lock()
	leaves := m.leaves[pid]
	delete(m.leaves, pid)
	m.leafMu.Unlock()
	for i := range leaves {
		leaves[i].Free()
	}

	if pm != nil {
		pm.Destroy()
	}
	m.sched.DestroyProcess(pid)
	return 0
}

/// Printk appends s to the kernel log ring, the effect of syscall 0.
func (m *Manager) Printk(s []byte) {
	m.klogMu.Lock()
	m.klog.Write(s)
	m.klogMu.Unlock()
}

/// DrainLog reads up to len(dst) of the oldest unread log bytes, for
/// diagnostics or a kernel console driver.
func (m *Manager) DrainLog(dst []byte) int {
	m.klogMu.Lock()
	defer m.klogMu.Unlock()
	return m.klog.Read(dst)
}
