package vm

import (
	"defs"
)

/// Userbuf assists copying bytes to and from a range of user virtual
/// memory, generalizing Biscuit's Userbuf_t (vm/userbuf.go) onto
/// PageMap.Translate in place of Vm_t's COW-aware page-fault path: since
/// this model has no demand paging, a copy simply fails with EFAULT the
/// moment it reaches an unmapped page instead of resolving one.
type Userbuf struct {
	pm     *PageMap
	userva uintptr
	len    int
	off    int
}

/// NewUserbuf initializes a buffer over the user address range
/// [uva, uva+n) in pm's address space.
func NewUserbuf(pm *PageMap, uva uintptr, n int) *Userbuf {
	if n < 0 {
		panic("vm.NewUserbuf: negative length")
	}
	return &Userbuf{pm: pm, userva: uva, len: n}
}

/// Remain returns the number of unconsumed bytes left in the buffer.
func (ub *Userbuf) Remain() int { return ub.len - ub.off }

/// Totalsz reports the buffer's total size in bytes.
func (ub *Userbuf) Totalsz() int { return ub.len }

func (ub *Userbuf) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		page, err := ub.pm.Translate(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; len(page) > left {
			page = page[:left]
		}
		var c int
		if write {
			c = copy(page, buf)
		} else {
			c = copy(buf, page)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

/// Uioread copies from user memory into dst.
func (ub *Userbuf) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into user memory.
func (ub *Userbuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

/// Fakeubuf implements the same interface as Userbuf but operates on a
/// plain kernel byte slice, for when the kernel needs to treat its own
/// memory like a user buffer (e.g. loading an ELF image before any user
/// mapping exists).
type Fakeubuf struct {
	buf []uint8
	len int
}

/// NewFakeubuf wraps buf for use through the Userbuf-like interface.
func NewFakeubuf(buf []uint8) *Fakeubuf {
	return &Fakeubuf{buf: buf, len: len(buf)}
}

/// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf) Remain() int { return len(fb.buf) }

/// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf) Totalsz() int { return fb.len }

func (fb *Fakeubuf) tx(buf []uint8, toFbuf bool) (int, defs.Err_t) {
	var c int
	if toFbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

/// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf) Uioread(dst []uint8) (int, defs.Err_t) {
	return fb.tx(dst, false)
}

/// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	return fb.tx(src, true)
}
