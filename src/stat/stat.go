// Package stat implements the wire structure a VFS stat() call fills in,
// generalizing Biscuit's Stat_t (stat/stat.go) unchanged in shape: a
// fixed-layout struct callers can also read as a raw byte slice, the
// form in which it crosses the user/kernel boundary. find/readdir do not
// use it; they return the VFS's own Abstract shape.
package stat

import "unsafe"

/// Stat_t mirrors the metadata of a single FOP as reported by stat().
type Stat_t struct {
	_dev    uint
	_ino    uint
	_mode   uint
	_size   uint
	_rdev   uint
	_nlink  uint
	_blocks uint
	_mtimeS uint
	_mtimeN uint
}

/// Wdev stores the device ID (see defs.Mkdev).
func (st *Stat_t) Wdev(v uint) {
	st._dev = v
}

/// Wino stores the FOP's identity within its mount.
func (st *Stat_t) Wino(v uint) {
	st._ino = v
}

/// Wmode records the file type and permission bits.
func (st *Stat_t) Wmode(v uint) {
	st._mode = v
}

/// Wsize records the file size in bytes.
func (st *Stat_t) Wsize(v uint) {
	st._size = v
}

/// Wrdev stores the rdev field for device-type FOPs.
func (st *Stat_t) Wrdev(v uint) {
	st._rdev = v
}

/// Wnlink records the number of directory entries naming this FOP.
func (st *Stat_t) Wnlink(v uint) {
	st._nlink = v
}

/// Wblocks records the number of cache pages backing this FOP.
func (st *Stat_t) Wblocks(v uint) {
	st._blocks = v
}

/// Wmtime records the last-modified time as seconds and nanoseconds.
func (st *Stat_t) Wmtime(sec, nsec uint) {
	st._mtimeS = sec
	st._mtimeN = nsec
}

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint {
	return st._mode
}

/// Size returns the stored size.
func (st *Stat_t) Size() uint {
	return st._size
}

/// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint {
	return st._rdev
}

/// Rino returns the stored FOP identity.
func (st *Stat_t) Rino() uint {
	return st._ino
}

/// Nlink returns the stored link count.
func (st *Stat_t) Nlink() uint {
	return st._nlink
}

/// Blocks returns the stored cache-page count.
func (st *Stat_t) Blocks() uint {
	return st._blocks
}

/// Bytes exposes the raw bytes of the structure, the form in which it
/// crosses the user/kernel boundary.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]uint8)(unsafe.Pointer(&st._dev))
	return sl[:]
}
