// Package defs holds the identifiers and the single error taxonomy shared
// by every kernel-core component: frame allocation, paging, scheduling,
// the VFS, and the process/thread lifecycle never return Go's error
// interface to each other, only an Err_t, because the real ABI boundary
// (the syscall return path) can only carry a signed integer in a
// register.
package defs

import "fmt"

/// Pid_t identifies a process.
type Pid_t int

/// Tid_t identifies a thread.
type Tid_t int

/// Nice is a scheduling priority in [-2, +2]; lower runs first.
type Nice int

const (
	NiceMin Nice = -2
	NiceMax Nice = 2
	// NiceLevels is the number of distinct ready queues (NiceMax-NiceMin+1).
	NiceLevels = int(NiceMax - NiceMin + 1)
)

/// Index maps a nice value onto a zero-based ready-queue slot.
func (n Nice) Index() int {
	return int(n - NiceMin)
}

/// Err_t is the kernel's single error enumeration. Zero means success;
/// every other value is one member of the kind taxonomy below.
/// Err_t values returned to callers are always negative, matching
/// Biscuit's "-defs.EFOO" convention, so that a zero RAX/RDX pair at the
/// syscall boundary unambiguously means "ok".
type Err_t int

const (
	// Resource
	EOOM   Err_t = iota + 1 // OutOfMemory
	ERANGE                     // IndexOutOfRange
	EFULL                      // Full
	EEMPTY                     // Empty

	// Scheduler
	ENOPROC     // NoSuchProcess
	ENOTHREAD   // NoSuchThread
	ENOEVENT    // NoSuchEvent
	EDEADTHREAD // DeadThread
	EUNFINISHED // UnfinishedEvent (delete_event with waiters still queued)
	EBADNICE    // InvalidNice

	// VFS
	ENOENT     // NoSuchFile
	EEXIST     // FileExists
	EOPENED    // FileOpened
	ENOTOPENED // FileNotOpened
	ENOTDIR    // NotDirectory
	ENOTFILE   // NotFile
	EBADMODE   // InvalidOpenMode
	EBUSY      // VolumeBusy
	ENOTMOUNT  // NotMounted
	EMOUNTED   // AlreadyMounted
	EUNKNOWNFS // UnknownFilesystem
	EOF        // EndOfFile

	// I/O
	EIO       // IOError
	EBADDATA  // InvalidData
	EBADCKSUM // BadChecksum

	// ELF
	ENOTELF  // NotELF
	EBADELF  // InvalidELF

	// Device
	EBADDEVTYPE // InvalidDeviceType
	EBADDEVOP   // InvalidDeviceOperation
	ENOTSUP     // NotSupported
	ENOIMPL     // NotImplemented

	// Address-space faults below operate at the level of byte-granular
	// user copies, not map()/activate(): Userdmap8/Userstr/K2user
	// (ported from Biscuit's vm package) need concrete sentinels for bad
	// user addresses, oversized strings, and admission-control
	// exhaustion during a copy.
	EFAULT   // user address not mapped / not accessible as requested
	EINVAL   // argument out of the valid domain
	ETOOLONG // string exceeded the caller-supplied bound
	ENOHEAP  // kernel heap momentarily exhausted mid-copy
)

// legacy short aliases kept for source compatibility with code ported
// from Biscuit (vm/as.go, vm/userbuf.go) that spells these EFOO-style.
const (
	ENOMEM        = EOOM
	ENAMETOOLONG  = ETOOLONG
)

var names = map[Err_t]string{
	EOOM: "out of memory", ERANGE: "index out of range", EFULL: "full", EEMPTY: "empty",
	ENOPROC: "no such process", ENOTHREAD: "no such thread", ENOEVENT: "no such event",
	EDEADTHREAD: "dead thread", EUNFINISHED: "unfinished event", EBADNICE: "invalid nice",
	ENOENT: "no such file", EEXIST: "file exists", EOPENED: "file opened",
	ENOTOPENED: "file not opened", ENOTDIR: "not a directory", ENOTFILE: "not a file",
	EBADMODE: "invalid open mode", EBUSY: "volume busy", ENOTMOUNT: "not mounted",
	EMOUNTED: "already mounted", EUNKNOWNFS: "unknown filesystem", EOF: "end of file",
	EIO: "io error", EBADDATA: "invalid data", EBADCKSUM: "bad checksum",
	ENOTELF: "not an elf", EBADELF: "invalid elf",
	EBADDEVTYPE: "invalid device type", EBADDEVOP: "invalid device operation",
	ENOTSUP: "not supported", ENOIMPL: "not implemented",
	EFAULT: "bad user address", EINVAL: "invalid argument", ETOOLONG: "name too long",
	ENOHEAP: "heap exhausted",
}

/// String renders an Err_t for diagnostics; it never allocates on the
/// success path.
func (e Err_t) String() string {
	if e == 0 {
		return "ok"
	}
	if s, ok := names[-e]; ok {
		return s
	}
	return fmt.Sprintf("err(%d)", int(e))
}

/// Open levels govern how many concurrent openers of one direction a FOP
/// permits.
type OpenLevel int

const (
	OpenBlock  OpenLevel = iota // always refuses
	OpenSingle                  // at most one opener
	OpenMulti                   // unbounded openers
)

/// FileType classifies what a FOP represents.
type FileType int

const (
	Regular FileType = iota
	Directory
	Device
)
