package proc

import (
	"defs"
	"vm"
)

// Syscall numbers. The set is intentionally minimal, so the dispatch
// structure itself is what this package demonstrates rather than a
// large syscall inventory.
const (
	SysPrintk = 0
	SysExit   = 1
)

// maxPrintkLen bounds a single printk(str) call the way a real kernel
// would cap any string copied in from user space, so a missing NUL
// terminator can't turn one syscall into an unbounded page walk.
const maxPrintkLen = 4096

/// Dispatch services one `syscall` trap for thread tid running under
/// pid: num is the value the entry stub saved from RAX, arg0 is the
/// first argument register. It returns (RAX, RDX): a non-zero RDX with
/// RAX undefined is the failure convention, so callers should only look
/// at RAX once RDX is zero.
func (m *Manager) Dispatch(pid defs.Pid_t, tid defs.Tid_t, num uint64, arg0 uintptr) (rax uint64, rdx defs.Err_t) {
	switch num {
	case SysPrintk:
		return m.sysPrintk(pid, arg0)
	case SysExit:
		return m.sysExit(tid)
	default:
		return 0, -defs.EINVAL
	}
}

func (m *Manager) sysPrintk(pid defs.Pid_t, uva uintptr) (uint64, defs.Err_t) {
	pm, err := m.pageMap(pid)
	if err != 0 {
		return 0, err
	}
	s, err := userCString(pm, uva, maxPrintkLen)
	if err != 0 {
		return 0, err
	}
	m.Printk(s)
	return uint64(len(s)), 0
}

func (m *Manager) sysExit(tid defs.Tid_t) (uint64, defs.Err_t) {
	m.sched.ExitThread(tid)
	return 0, 0
}

// userCString reads a NUL-terminated string from user address uva, one
// mapped page at a time, failing with ETOOLONG if no NUL is found
// within max bytes.
func userCString(pm *vm.PageMap, uva uintptr, max int) ([]byte, defs.Err_t) {
	var out []byte
	for len(out) < max {
		page, err := pm.Translate(uva+uintptr(len(out)), false)
		if err != 0 {
			return nil, err
		}
		for _, b := range page {
			if len(out) >= max {
				return nil, -defs.ETOOLONG
			}
			if b == 0 {
				return out, 0
			}
			out = append(out, b)
		}
	}
	return nil, -defs.ETOOLONG
}
