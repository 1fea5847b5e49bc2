package fs

import (
	"sync"
	"unsafe"

	"defs"
	"frame"
	"ustr"
)

// tmpfsBlockExp sizes a tmpfs regular file's blocks to exactly one
// frame, so its page cache pages line up one-to-one with driver reads
// and writes instead of allocating a frame per byte.
const tmpfsBlockExp = uint8(frame.PGSHIFT)
const tmpfsBlockSize = 1 << tmpfsBlockExp

/// tmpfsDriver is an in-memory filesystem: every regular file's bytes
/// live in a Go slice behind the FOP's page cache, and directories are
/// just a node whose children map entries in at Find/Create time. A
/// fresh instance is created by every Mount("tmpfs", ...) call. There is
/// no on-disk format to ground this against in original_source (tmpfs has
/// no backing store by construction); the node shape mirrors
/// original_source's generic directory/file split used throughout
/// src/fs/drivers.
type tmpfsDriver struct {
	BaseDriver

	mu    sync.Mutex
	nodes map[*tmpfsNode]bool
	root  *tmpfsNode
}

type tmpfsNode struct {
	mu       sync.Mutex
	name     ustr.Ustr
	typ      defs.FileType
	children map[string]*tmpfsNode
	order    []ustr.Ustr
	bytes    []byte
}

func newTmpfsNode(name ustr.Ustr, typ defs.FileType) *tmpfsNode {
	n := &tmpfsNode{name: name.Clone(), typ: typ}
	if typ == defs.Directory {
		n.children = make(map[string]*tmpfsNode)
	}
	return n
}

func newTmpfsDriver() *tmpfsDriver {
	return &tmpfsDriver{
		nodes: make(map[*tmpfsNode]bool),
		root:  newTmpfsNode(ustr.Ustr("/"), defs.Directory),
	}
}

func (d *tmpfsDriver) Root() (Abstract, any) {
	return Abstract{Name: ustr.Ustr("/"), Type: defs.Directory, Attrs: VolumeRootAttrs}, d.root
}

func nodeAbstract(n *tmpfsNode) Abstract {
	n.mu.Lock()
	defer n.mu.Unlock()
	ab := Abstract{
		Name:  n.name.Clone(),
		Size:  uint64(len(n.bytes)),
		Type:  n.typ,
		Attrs: DefaultAttrs,
	}
	if n.typ == defs.Regular {
		ab.BlockSizeExp = tmpfsBlockExp
	}
	return ab
}

func (d *tmpfsDriver) Find(fopData any, name ustr.Ustr) (Abstract, any, defs.Err_t) {
	dir := fopData.(*tmpfsNode)
	dir.mu.Lock()
	if dir.typ != defs.Directory {
		dir.mu.Unlock()
		return Abstract{}, nil, -defs.ENOTDIR
	}
	child, ok := dir.children[name.String()]
	dir.mu.Unlock()
	if !ok {
		return Abstract{}, nil, -defs.ENOENT
	}
	return nodeAbstract(child), child, 0
}

func (d *tmpfsDriver) Create(fopData any, name ustr.Ustr, typ defs.FileType) (Abstract, any, defs.Err_t) {
	dir := fopData.(*tmpfsNode)
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.typ != defs.Directory {
		return Abstract{}, nil, -defs.ENOTDIR
	}
	if _, exists := dir.children[name.String()]; exists {
		return Abstract{}, nil, -defs.EEXIST
	}
	child := newTmpfsNode(name, typ)
	dir.children[name.String()] = child
	dir.order = append(dir.order, name.Clone())
	return nodeAbstract(child), child, 0
}

func (d *tmpfsDriver) Readdir(fopData any, handleData *any, index int) (Abstract, any, defs.Err_t) {
	dir := fopData.(*tmpfsNode)
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.typ != defs.Directory {
		return Abstract{}, nil, -defs.ENOTDIR
	}
	if index < 0 || index >= len(dir.order) {
		return Abstract{}, nil, -defs.EOF
	}
	name := dir.order[index]
	child := dir.children[name.String()]
	return nodeAbstract(child), child, 0
}

func (d *tmpfsDriver) Remove(fopData any, name ustr.Ustr) defs.Err_t {
	dir := fopData.(*tmpfsNode)
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.typ != defs.Directory {
		return -defs.ENOTDIR
	}
	if _, ok := dir.children[name.String()]; !ok {
		return -defs.ENOENT
	}
	delete(dir.children, name.String())
	for i, n := range dir.order {
		if n.Eq(name) {
			dir.order = append(dir.order[:i], dir.order[i+1:]...)
			break
		}
	}
	return 0
}

/// Rename relinks a node from one directory into another without
/// touching its bytes, satisfying the fs.Renamer contract so FS.Rename
/// never has to fall back to a lossy Remove+Create.
func (d *tmpfsDriver) Rename(oldParentData any, oldName ustr.Ustr, newParentData any, newName ustr.Ustr) defs.Err_t {
	oldDir := oldParentData.(*tmpfsNode)
	newDir := newParentData.(*tmpfsNode)

	lockTwoNodes(oldDir, newDir)
	defer unlockTwoNodes(oldDir, newDir)

	if oldDir.typ != defs.Directory || newDir.typ != defs.Directory {
		return -defs.ENOTDIR
	}
	child, ok := oldDir.children[oldName.String()]
	if !ok {
		return -defs.ENOENT
	}
	if _, exists := newDir.children[newName.String()]; exists {
		return -defs.EEXIST
	}

	delete(oldDir.children, oldName.String())
	for i, n := range oldDir.order {
		if n.Eq(oldName) {
			oldDir.order = append(oldDir.order[:i], oldDir.order[i+1:]...)
			break
		}
	}
	child.name = newName.Clone()
	newDir.children[newName.String()] = child
	newDir.order = append(newDir.order, newName.Clone())
	return 0
}

func lockTwoNodes(a, b *tmpfsNode) {
	if a == b {
		a.mu.Lock()
		return
	}
	first, second := a, b
	if uintptr(unsafe.Pointer(b)) < uintptr(unsafe.Pointer(a)) {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
}

func unlockTwoNodes(a, b *tmpfsNode) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

/// Read serves block-granular reads directly from the node's byte
/// slice; tmpfs has no cache provider of its own (CacheEnabled routes
/// through the generic MemCacheProvider in newFOP instead) so block
/// and count are honored literally.
func (d *tmpfsDriver) Read(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	n := fopData.(*tmpfsNode)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != defs.Regular {
		return 0, -defs.ENOTFILE
	}
	off := block * tmpfsBlockSize
	if off >= len(n.bytes) {
		for i := range buf {
			buf[i] = 0
		}
		return 0, -defs.EOF
	}
	c := copy(buf, n.bytes[off:])
	for i := c; i < len(buf); i++ {
		buf[i] = 0
	}
	return c, 0
}

func (d *tmpfsDriver) Write(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	n := fopData.(*tmpfsNode)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != defs.Regular {
		return 0, -defs.ENOTFILE
	}
	off := block * tmpfsBlockSize
	end := off + len(buf)
	if end > len(n.bytes) {
		grown := make([]byte, end)
		copy(grown, n.bytes)
		n.bytes = grown
	}
	copy(n.bytes[off:end], buf)
	return len(buf), 0
}

func (d *tmpfsDriver) CacheProvider(fopData any) CacheProvider { return nil }
