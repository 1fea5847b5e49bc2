// Package fs implements the virtual file system: a tree of open-file
// operators (FOPs) rooted at an in-memory basic driver, mount overlays
// that redirect a mountpoint FOP to another driver's volume root, and a
// thread-local Handle capability returned by Open. It generalizes the
// Biscuit's fd/Cwd_t open-graph idiom (fd/fd.go) to a richer FOP model,
// and is grounded in detail on
// original_source/src/fs/{fs,handle,manager,driver,pagecache}.hpp: the
// same try_open truth table, the same "follow the mount overlay, then
// interpret children" resolution order, and the same FOP-collapse walk
// on close.
package fs

import (
	"sync"
	"sync/atomic"

	"defs"
	"frame"
	"hashtable"
	"limits"
	"ustr"
)

// DeviceType classifies what kind of device a Device-type FOP backs, the
// Go rendering of original_source's fs::DeviceType enum.
type DeviceType int

const (
	DevNone DeviceType = iota
	DevFramebuffer
	DevKeyboard
	DevMouse
	DevBlock
)

// DeviceOp names a control_device operation, the Go rendering of
// original_source's fs::DeviceOperation enum. Framebuffer/mouse ops are
// named for completeness even though no driver in this repository's
// scope implements them — VirtIO-GPU/xHCI are out of scope here.
type DeviceOp int

const (
	OpGetSize DeviceOp = iota
	OpGetDirectPointer
	OpSwap
	OpIsDoubleBuffered
	OpGetBytesPerSector
)

/// Attributes governs how many concurrent openers of each direction a
/// FOP permits and feeds the mode-check truth table tryOpen applies.
type Attributes struct {
	ReadLevel    defs.OpenLevel
	WriteLevel   defs.OpenLevel
	Exclusive    bool
	VolumeRoot   bool
	CacheEnabled bool
	KeepOnClose  bool
}

/// DefaultAttrs matches original_source's default_attributes: single
/// opener per direction, exclusive across directions, cached.
var DefaultAttrs = Attributes{
	ReadLevel:    defs.OpenSingle,
	WriteLevel:   defs.OpenSingle,
	Exclusive:    true,
	CacheEnabled: true,
}

/// VolumeRootAttrs marks a FOP as a mounted filesystem's root, which
/// the collapse walk must never unlink.
var VolumeRootAttrs = Attributes{
	ReadLevel:    defs.OpenSingle,
	WriteLevel:   defs.OpenSingle,
	Exclusive:    true,
	VolumeRoot:   true,
	CacheEnabled: true,
}

/// Abstract is a driver's description of one child: the value returned
/// by find/create/readdir, matching original_source's FileAbstract.
type Abstract struct {
	Name         ustr.Ustr
	Size         uint64
	Type         defs.FileType
	BlockSizeExp uint8
	Attrs        Attributes
}

/// Driver is the per-filesystem (or per-device-group) contract every
/// backing store implements. fopData/handleData are opaque payloads the
/// driver owns entirely; the VFS never interprets them. A driver
/// embeds BaseDriver and overrides only the operations it supports —
/// the same partial-implementation idiom the pack's go-fuse examples
/// use for node interfaces, rather than forcing every driver to stub
/// out operations it refuses.
type Driver interface {
	Read(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t)
	Write(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t)
	Find(fopData any, name ustr.Ustr) (Abstract, any, defs.Err_t)
	Create(fopData any, name ustr.Ustr, typ defs.FileType) (Abstract, any, defs.Err_t)
	Readdir(fopData any, handleData *any, index int) (Abstract, any, defs.Err_t)
	Remove(fopData any, name ustr.Ustr) defs.Err_t

	DeviceType(fopData any) DeviceType
	CreateDevice(fopData any, name ustr.Ustr, impl any) (Abstract, any, defs.Err_t)
	ControlDevice(fopData any, handleData *any, op DeviceOp, arg any) defs.Err_t

	CreateHandleData(fopData any) any
	OnHandleCreate(fopData any, handleData *any)
	OnHandleDestroy(fopData any, handleData *any)

	// CacheProvider returns the page-cache provider backing fopData, or
	// nil if this FOP has no cache (e.g. a streaming device).
	CacheProvider(fopData any) CacheProvider

	Root() (Abstract, any)
}

/// BaseDriver supplies the NotSupported/NotImplemented defaults for
/// every Driver method, so a concrete driver need only override what it
/// actually serves.
type BaseDriver struct{}

func (BaseDriver) Read(any, *any, int, int, []byte) (int, defs.Err_t)  { return 0, -defs.ENOTSUP }
func (BaseDriver) Write(any, *any, int, int, []byte) (int, defs.Err_t) { return 0, -defs.ENOTSUP }
func (BaseDriver) Find(any, ustr.Ustr) (Abstract, any, defs.Err_t) {
	return Abstract{}, nil, -defs.ENOENT
}
func (BaseDriver) Create(any, ustr.Ustr, defs.FileType) (Abstract, any, defs.Err_t) {
	return Abstract{}, nil, -defs.ENOTSUP
}
func (BaseDriver) Readdir(any, *any, int) (Abstract, any, defs.Err_t) {
	return Abstract{}, nil, -defs.EOF
}
func (BaseDriver) Remove(any, ustr.Ustr) defs.Err_t        { return -defs.ENOTSUP }
func (BaseDriver) DeviceType(any) DeviceType               { return DevNone }
func (BaseDriver) CreateDevice(any, ustr.Ustr, any) (Abstract, any, defs.Err_t) {
	return Abstract{}, nil, -defs.ENOIMPL
}
func (BaseDriver) ControlDevice(any, *any, DeviceOp, any) defs.Err_t { return -defs.ENOIMPL }
func (BaseDriver) CreateHandleData(any) any                         { return nil }
func (BaseDriver) OnHandleCreate(any, *any)                         {}
func (BaseDriver) OnHandleDestroy(any, *any)                        {}
func (BaseDriver) CacheProvider(any) CacheProvider                  { return nil }

/// FOP is the kernel's per-path open-file-operator state object. Two
/// independent locks guard it — one for {read_count, write_count}, one
/// for the children table — so opens on different paths never contend
/// on a shared lock.
type FOP struct {
	Name         ustr.Ustr
	driver       Driver
	payload      any
	Type         defs.FileType
	BlockSizeExp uint8
	Attrs        Attributes

	countsMu   sync.Mutex
	readCount  int
	writeCount int
	size       uint64

	// Parent is a non-owning back-reference; the children table of
	// Parent is the sole owner, per the design notes' "back-references
	// without cycles".
	Parent *FOP

	// mount is the tagged-pointer overlay field: nil except on a
	// mountpoint FOP, where it points at the mounted volume's root.
	mount atomic.Pointer[FOP]

	childrenMu sync.Mutex
	children   *hashtable.Hashtable_t

	cache CacheProvider
	// cacheIsStore is true when cache came from the driver itself
	// (drv.CacheProvider), meaning the cache pages ARE the device's
	// backing storage rather than a read-through/write-through cache in
	// front of a separate store — Handle I/O must not also round-trip
	// such pages through driver.Read/Write, or a self-cached device
	// (e.g. a rawdisk whose driver.Read re-enters the same CachePage)
	// deadlocks against its own page lock.
	cacheIsStore bool
}

func newFOP(alloc *frame.Allocator, parent *FOP, ab Abstract, drv Driver, payload any) *FOP {
	f := &FOP{
		Name:         ab.Name.Clone(),
		driver:       drv,
		payload:      payload,
		Type:         ab.Type,
		BlockSizeExp: ab.BlockSizeExp,
		Attrs:        ab.Attrs,
		size:         ab.Size,
		Parent:       parent,
		children:     hashtable.MkHash(8),
	}
	if p := drv.CacheProvider(payload); p != nil {
		f.cache = p
		f.cacheIsStore = true
	} else if ab.Attrs.CacheEnabled {
		f.cache = NewMemCacheProvider(alloc)
	}
	return f
}

/// Size reports the FOP's current byte length.
func (f *FOP) Size() uint64 {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	return f.size
}

func (f *FOP) setSize(n uint64) {
	f.countsMu.Lock()
	if n > f.size {
		f.size = n
	}
	f.countsMu.Unlock()
}

// isBusy reports whether f is still in use: the removability check for
// FOP collapse. It takes countsMu itself; the caller must not hold it.
func (f *FOP) isBusy() bool {
	f.countsMu.Lock()
	busy := f.readCount != 0 || f.writeCount != 0
	f.countsMu.Unlock()
	if busy {
		return true
	}
	if f.mount.Load() != nil {
		return true
	}
	return f.children.Size() != 0
}

// overlay follows f's mount pointer, if any, repeatedly (a mounted
// volume root is never itself a mountpoint in this model, so one hop
// suffices, but looping matches the design note's general statement).
func overlay(f *FOP) *FOP {
	for {
		m := f.mount.Load()
		if m == nil {
			return f
		}
		f = m
	}
}

// childKey is the hashtable key used for the children table: a cloned
// Ustr so later mutation of a caller's path slice can't corrupt the
// lookup.
func childKey(name ustr.Ustr) ustr.Ustr { return name.Clone() }

// tryOpen applies the mode-check truth table against f's current
// counts and, on success, bumps them, all under f.countsMu, which it
// takes itself.
func tryOpen(f *FOP, mode OpenMode) defs.Err_t {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()

	if mode.Read {
		switch f.Attrs.ReadLevel {
		case defs.OpenBlock:
			return -defs.EBADMODE
		case defs.OpenSingle:
			if f.readCount != 0 {
				return -defs.EOPENED
			}
			fallthrough
		case defs.OpenMulti:
			if f.Attrs.Exclusive && f.writeCount != 0 {
				return -defs.EOPENED
			}
		}
	}
	if mode.Write {
		switch f.Attrs.WriteLevel {
		case defs.OpenBlock:
			return -defs.EBADMODE
		case defs.OpenSingle:
			if f.writeCount != 0 {
				return -defs.EOPENED
			}
			fallthrough
		case defs.OpenMulti:
			if f.Attrs.Exclusive && f.readCount != 0 {
				return -defs.EOPENED
			}
		}
	}

	if mode.Read {
		f.readCount++
	}
	if mode.Write {
		f.writeCount++
	}
	return 0
}

func (f *FOP) dropCounts(mode OpenMode) {
	f.countsMu.Lock()
	if mode.Read {
		f.readCount--
	}
	if mode.Write {
		f.writeCount--
	}
	f.countsMu.Unlock()
}

/// ReadCount and WriteCount expose the live opener counts, for tests
/// and diagnostics.
func (f *FOP) ReadCount() int {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	return f.readCount
}

func (f *FOP) WriteCount() int {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	return f.writeCount
}

// Sysatomic admission control for live FOPs, generalizing Biscuit's
// Vnodes limit (limits/limits.go) to this repository's FOP graph.
func admitFOP() bool { return limits.Syslimit.Vnodes.Take() }
func releaseFOP()    { limits.Syslimit.Vnodes.Give() }
