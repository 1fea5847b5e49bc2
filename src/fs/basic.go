package fs

import (
	"sync"

	"defs"
	"ustr"
)

/// basicDriver serves the synthetic VFS root: a fixed "dev" child, onto
/// which devfs is mounted by FS.New, plus whatever empty mountpoint
/// directories the kernel's init sequence creates at boot (mount always
/// targets an existing directory, and the root itself has to come from
/// somewhere). It plays the role original_source's basic
/// driver (src/fs/drivers/basic.hpp) plays for its root filesystem:
/// there is no byte content to store, only a directory shape to answer
/// Find/Create/Readdir against.
type basicDriver struct {
	BaseDriver

	mu    sync.Mutex
	extra []ustr.Ustr
}

var rootAbstract = Abstract{
	Name:  ustr.Ustr("/"),
	Type:  defs.Directory,
	Attrs: VolumeRootAttrs,
}

var devAbstract = Abstract{
	Name:  ustr.Ustr("dev"),
	Type:  defs.Directory,
	Attrs: DefaultAttrs,
}

func dirAbstract(name ustr.Ustr) Abstract {
	return Abstract{Name: name.Clone(), Type: defs.Directory, Attrs: DefaultAttrs}
}

/// Root returns the basic driver's single root directory.
func (d *basicDriver) Root() (Abstract, any) { return rootAbstract, nil }

/// Find answers "dev" or any directory previously made with Create.
func (d *basicDriver) Find(fopData any, name ustr.Ustr) (Abstract, any, defs.Err_t) {
	if name.Eq(ustr.Ustr("dev")) {
		return devAbstract, nil, 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.extra {
		if n.Eq(name) {
			return dirAbstract(name), nil, 0
		}
	}
	return Abstract{}, nil, -defs.ENOENT
}

/// Create adds an empty directory at the root. Only directories are
/// supported: the root has no regular-file storage of its own, mirroring
/// original_source's basic driver, which exists solely to host mount
/// points.
func (d *basicDriver) Create(fopData any, name ustr.Ustr, typ defs.FileType) (Abstract, any, defs.Err_t) {
	if typ != defs.Directory {
		return Abstract{}, nil, -defs.ENOTSUP
	}
	if name.Eq(ustr.Ustr("dev")) {
		return Abstract{}, nil, -defs.EEXIST
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.extra {
		if n.Eq(name) {
			return Abstract{}, nil, -defs.EEXIST
		}
	}
	d.extra = append(d.extra, name.Clone())
	return dirAbstract(name), nil, 0
}

/// Remove deletes a previously created root directory; "dev" is
/// permanent.
func (d *basicDriver) Remove(fopData any, name ustr.Ustr) defs.Err_t {
	if name.Eq(ustr.Ustr("dev")) {
		return -defs.ENOTSUP
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, n := range d.extra {
		if n.Eq(name) {
			d.extra = append(d.extra[:i], d.extra[i+1:]...)
			return 0
		}
	}
	return -defs.ENOENT
}

/// Readdir enumerates "dev" followed by any extra root directories.
func (d *basicDriver) Readdir(fopData any, handleData *any, index int) (Abstract, any, defs.Err_t) {
	if index == 0 {
		return devAbstract, nil, 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	i := index - 1
	if i < 0 || i >= len(d.extra) {
		return Abstract{}, nil, -defs.EOF
	}
	return dirAbstract(d.extra[i]), nil, 0
}
