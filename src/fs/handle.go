package fs

import (
	"sync"
	"sync/atomic"

	"defs"
	"stat"
	"ustr"
)

/// OpenMode records which directions a Handle was opened for, matching
/// original_source's OpenMode.
type OpenMode struct {
	Read  bool
	Write bool
}

var (
	ReadOnly  = OpenMode{Read: true}
	WriteOnly = OpenMode{Write: true}
	ReadWrite = OpenMode{Read: true, Write: true}
)

/// Handle is a thread-local capability returned by Open: a pointer to a
/// FOP, the cached open mode, a per-handle driver payload, and a
/// byte-offset cursor used by Read/Write and the directory-iteration
/// index used by Readdir.
type Handle struct {
	fs      *FS
	fop     *FOP
	mode    OpenMode
	payload any

	mu     sync.Mutex
	pos    uint64
	dirIdx int

	expired atomic.Bool
}

func newHandle(fs *FS, fop *FOP, mode OpenMode) *Handle {
	h := &Handle{fs: fs, fop: fop, mode: mode}
	h.payload = fop.driver.CreateHandleData(fop.payload)
	fop.driver.OnHandleCreate(fop.payload, &h.payload)
	return h
}

/// Expired reports whether Close has already been called.
func (h *Handle) Expired() bool { return h.expired.Load() }

/// Mode returns the mode the handle was opened with.
func (h *Handle) Mode() OpenMode { return h.mode }

/// FOPName exposes the name of the underlying FOP, for diagnostics.
func (h *Handle) FOPName() ustr.Ustr { return h.fop.Name }

/// Stat reports the handle's FOP metadata as a stat.Stat_t, the wire
/// structure a stat() syscall would hand back across the user/kernel
/// boundary; find/readdir return the separate Abstract shape instead.
/// The mode field carries the FOP's defs.FileType; no permission bits
/// are tracked. The nlink field carries the number of child FOPs
/// currently resident under this one, not a count of directory entries.
func (h *Handle) Stat() (stat.Stat_t, defs.Err_t) {
	if !h.mode.Read {
		return stat.Stat_t{}, -defs.ENOTOPENED
	}
	var st stat.Stat_t
	st.Wsize(uint(h.fop.Size()))
	st.Wmode(uint(h.fop.Type))
	st.Wnlink(uint(h.fop.children.Size()))
	return st, 0
}

func blockSize(f *FOP) int {
	if f.BlockSizeExp == 0 {
		return 1
	}
	return 1 << f.BlockSizeExp
}

// txBlocks translates a byte-granular transfer at byte offset off into
// block-granular driver I/O, going through the FOP's cache provider
// when caching is enabled: all I/O is block-granular, and the VFS
// translates byte-granular reads/writes from user handles into block
// I/O against the driver.
func (h *Handle) txBlocks(off uint64, buf []byte, write bool) (int, defs.Err_t) {
	f := h.fop
	bs := blockSize(f)
	done := 0
	for done < len(buf) {
		block := int((off + uint64(done)) / uint64(bs))
		within := int((off + uint64(done)) % uint64(bs))
		n := bs - within
		if n > len(buf)-done {
			n = len(buf) - done
		}

		if f.cache != nil && f.cacheIsStore {
			// The cache page is the device's own storage; touch it
			// directly and never call back into the driver, which would
			// just re-fetch the same page and deadlock on its lock.
			page, err := f.cache.Page(block)
			if err != 0 {
				return done, err
			}
			page.Lock()
			pb := page.Bytes()
			if write {
				copy(pb[within:within+n], buf[done:done+n])
				page.State = Dirty
			} else {
				if page.State == Uninit {
					page.State = Clean
				}
				copy(buf[done:done+n], pb[within:within+n])
			}
			page.Unlock()
		} else if f.cache != nil {
			page, err := f.cache.Page(block)
			if err != 0 {
				return done, err
			}
			page.Lock()
			if page.State == Uninit {
				if _, err := f.driver.Read(f.payload, &h.payload, block, 1, page.Bytes()); err != 0 && err != -defs.EOF {
					page.Unlock()
					return done, err
				}
				page.State = Clean
			}
			pb := page.Bytes()
			if write {
				copy(pb[within:within+n], buf[done:done+n])
				page.State = Dirty
				if _, err := f.driver.Write(f.payload, &h.payload, block, 1, pb); err != 0 {
					page.Unlock()
					return done, err
				}
				page.State = Clean
			} else {
				copy(buf[done:done+n], pb[within:within+n])
			}
			page.Unlock()
		} else {
			tmp := make([]byte, bs)
			if write {
				if within != 0 || n != bs {
					if _, err := f.driver.Read(f.payload, &h.payload, block, 1, tmp); err != 0 && err != -defs.EOF {
						return done, err
					}
				}
				copy(tmp[within:within+n], buf[done:done+n])
				if _, err := f.driver.Write(f.payload, &h.payload, block, 1, tmp); err != 0 {
					return done, err
				}
			} else {
				nr, err := f.driver.Read(f.payload, &h.payload, block, 1, tmp)
				if err != 0 {
					return done, err
				}
				if nr == 0 {
					return done, -defs.EOF
				}
				copy(buf[done:done+n], tmp[within:within+n])
			}
		}
		done += n
	}
	if write {
		f.setSize(off + uint64(done))
	}
	return done, 0
}

/// ReadAt reads len(buf) bytes starting at byte offset off.
func (h *Handle) ReadAt(off uint64, buf []byte) (int, defs.Err_t) {
	if !h.mode.Read {
		return 0, -defs.ENOTOPENED
	}
	return h.txBlocks(off, buf, false)
}

/// WriteAt writes buf starting at byte offset off.
func (h *Handle) WriteAt(off uint64, buf []byte) (int, defs.Err_t) {
	if !h.mode.Write {
		return 0, -defs.ENOTOPENED
	}
	return h.txBlocks(off, buf, true)
}

/// Read reads into buf from the handle's current cursor and advances
/// it.
func (h *Handle) Read(buf []byte) (int, defs.Err_t) {
	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()
	n, err := h.ReadAt(pos, buf)
	if err == 0 {
		h.mu.Lock()
		h.pos += uint64(n)
		h.mu.Unlock()
	}
	return n, err
}

/// Write writes buf at the handle's current cursor and advances it.
func (h *Handle) Write(buf []byte) (int, defs.Err_t) {
	h.mu.Lock()
	pos := h.pos
	h.mu.Unlock()
	n, err := h.WriteAt(pos, buf)
	if err == 0 {
		h.mu.Lock()
		h.pos += uint64(n)
		h.mu.Unlock()
	}
	return n, err
}

/// Find looks up a name among h's children without opening it.
func (h *Handle) Find(name ustr.Ustr) (Abstract, defs.Err_t) {
	if !h.mode.Read {
		return Abstract{}, -defs.ENOTOPENED
	}
	ab, _, err := h.fop.driver.Find(h.fop.payload, name)
	return ab, err
}

/// Create makes a new child of the given type under h.
func (h *Handle) Create(name ustr.Ustr, typ defs.FileType) defs.Err_t {
	if !h.mode.Write {
		return -defs.ENOTOPENED
	}
	_, _, err := h.fop.driver.Create(h.fop.payload, name, typ)
	return err
}

/// Readdir returns the index'th directory entry, or EOF.
func (h *Handle) Readdir(index int) (Abstract, defs.Err_t) {
	if !h.mode.Read {
		return Abstract{}, -defs.ENOTOPENED
	}
	ab, _, err := h.fop.driver.Readdir(h.fop.payload, &h.payload, index)
	return ab, err
}

/// ReaddirNext advances the handle's own directory cursor, the
/// stateful counterpart to Readdir(index) used by a directory-listing
/// syscall that doesn't track its own index.
func (h *Handle) ReaddirNext() (Abstract, defs.Err_t) {
	h.mu.Lock()
	idx := h.dirIdx
	h.mu.Unlock()
	ab, err := h.Readdir(idx)
	if err == 0 {
		h.mu.Lock()
		h.dirIdx++
		h.mu.Unlock()
	}
	return ab, err
}

/// Remove deletes a child by name.
func (h *Handle) Remove(name ustr.Ustr) defs.Err_t {
	if !h.mode.Write {
		return -defs.ENOTOPENED
	}
	return h.fop.driver.Remove(h.fop.payload, name)
}

/// DeviceType reports the device kind of a Device-type FOP.
func (h *Handle) DeviceType() DeviceType {
	if h.fop.Type != defs.Device {
		return DevNone
	}
	return h.fop.driver.DeviceType(h.fop.payload)
}

/// CreateDevice registers a new device file under h, the devfs driver
/// contract's runtime device-registration hook.
func (h *Handle) CreateDevice(name ustr.Ustr, impl any) defs.Err_t {
	if !h.mode.Write {
		return -defs.ENOTOPENED
	}
	_, _, err := h.fop.driver.CreateDevice(h.fop.payload, name, impl)
	return err
}

/// ControlDevice issues a device-specific control operation.
func (h *Handle) ControlDevice(op DeviceOp, arg any) defs.Err_t {
	return h.fop.driver.ControlDevice(h.fop.payload, &h.payload, op, arg)
}

/// Close releases the handle. It is idempotent: closing an
/// already-closed handle is a no-op, matching original_source's
/// atomic-exchange-on-expired guard.
func (h *Handle) Close() {
	if h.expired.Swap(true) {
		return
	}
	h.fs.closeHandle(h)
}
