package fs

import (
	"testing"

	"defs"
	"frame"
	"ustr"
)

func mkTestFS(t *testing.T) *FS {
	t.Helper()
	alloc := frame.NewAllocator([]frame.MemDesc{{PhysStart: 0, PageCount: 4096, Typ: frame.Conventional}})
	fsys, err := New(alloc)
	if err != 0 {
		t.Fatalf("fs.New: %v", err)
	}
	return fsys
}

// Mount tmpfs onto a fresh mountpoint, write a file through it, and
// read the same bytes back.
func TestMountTmpfsWriteReadBack(t *testing.T) {
	fsys := mkTestFS(t)

	root, err := fsys.Open(ustr.Ustr("/"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /: %v", err)
	}
	if err := root.Create(ustr.Ustr("mnt"), defs.Directory); err != 0 {
		t.Fatalf("create /mnt: %v", err)
	}
	root.Close()

	if err := fsys.Mount("tmpfs", ustr.Ustr("/mnt")); err != 0 {
		t.Fatalf("mount tmpfs: %v", err)
	}

	mnt, err := fsys.Open(ustr.Ustr("/mnt"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /mnt: %v", err)
	}
	if err := mnt.Create(ustr.Ustr("hello"), defs.Regular); err != 0 {
		t.Fatalf("create hello: %v", err)
	}
	mnt.Close()

	h, err := fsys.Open(ustr.Ustr("/mnt/hello"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /mnt/hello: %v", err)
	}
	want := []byte("hello, world")
	if n, err := h.Write(want); err != 0 || n != len(want) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	h.Close()

	h2, err := fsys.Open(ustr.Ustr("/mnt/hello"), ReadOnly)
	if err != 0 {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()
	got := make([]byte, len(want))
	if n, err := h2.ReadAt(0, got); err != 0 || n != len(want) {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// A mountpoint refuses to unmount while its volume is busy.
func TestUnmountBusyFails(t *testing.T) {
	fsys := mkTestFS(t)

	root, err := fsys.Open(ustr.Ustr("/"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /: %v", err)
	}
	if err := root.Create(ustr.Ustr("mnt"), defs.Directory); err != 0 {
		t.Fatalf("create /mnt: %v", err)
	}
	root.Close()
	if err := fsys.Mount("tmpfs", ustr.Ustr("/mnt")); err != 0 {
		t.Fatalf("mount: %v", err)
	}

	held, err := fsys.Open(ustr.Ustr("/mnt"), ReadOnly)
	if err != 0 {
		t.Fatalf("open /mnt: %v", err)
	}

	if err := fsys.Unmount(ustr.Ustr("/mnt")); err != -defs.EBUSY {
		t.Fatalf("expected EBUSY, got %v", err)
	}

	held.Close()
	if err := fsys.Unmount(ustr.Ustr("/mnt")); err != 0 {
		t.Fatalf("unmount after close: %v", err)
	}
}

// The open-mode truth table rejects both a second writer and a second
// reader of a file with DefaultAttrs (single-opener levels, exclusive)
// while a read-write handle is open.
func TestExclusiveWriteRejectsSecondOpener(t *testing.T) {
	fsys := mkTestFS(t)

	root, err := fsys.Open(ustr.Ustr("/"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /: %v", err)
	}
	if err := root.Create(ustr.Ustr("mnt"), defs.Directory); err != 0 {
		t.Fatalf("create /mnt: %v", err)
	}
	root.Close()
	if err := fsys.Mount("tmpfs", ustr.Ustr("/mnt")); err != 0 {
		t.Fatalf("mount: %v", err)
	}
	mnt, err := fsys.Open(ustr.Ustr("/mnt"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /mnt: %v", err)
	}
	if err := mnt.Create(ustr.Ustr("f"), defs.Regular); err != 0 {
		t.Fatalf("create f: %v", err)
	}
	mnt.Close()

	first, err := fsys.Open(ustr.Ustr("/mnt/f"), ReadWrite)
	if err != 0 {
		t.Fatalf("first open: %v", err)
	}
	defer first.Close()

	if _, err := fsys.Open(ustr.Ustr("/mnt/f"), WriteOnly); err != -defs.EOPENED {
		t.Fatalf("expected EOPENED on second writer, got %v", err)
	}
	if _, err := fsys.Open(ustr.Ustr("/mnt/f"), ReadOnly); err != -defs.EOPENED {
		t.Fatalf("expected EOPENED on second reader (exclusive FOP), got %v", err)
	}
}

func TestRenameMovesChild(t *testing.T) {
	fsys := mkTestFS(t)
	root, err := fsys.Open(ustr.Ustr("/"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /: %v", err)
	}
	if err := root.Create(ustr.Ustr("mnt"), defs.Directory); err != 0 {
		t.Fatalf("create /mnt: %v", err)
	}
	root.Close()
	if err := fsys.Mount("tmpfs", ustr.Ustr("/mnt")); err != 0 {
		t.Fatalf("mount: %v", err)
	}

	mnt, err := fsys.Open(ustr.Ustr("/mnt"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /mnt: %v", err)
	}
	if err := mnt.Create(ustr.Ustr("a"), defs.Directory); err != 0 {
		t.Fatalf("create /mnt/a: %v", err)
	}
	if err := mnt.Create(ustr.Ustr("x"), defs.Regular); err != 0 {
		t.Fatalf("create /mnt/x: %v", err)
	}
	mnt.Close()

	if err := fsys.Rename(ustr.Ustr("/mnt"), ustr.Ustr("x"), ustr.Ustr("/mnt/a"), ustr.Ustr("y")); err != 0 {
		t.Fatalf("rename: %v", err)
	}

	if _, err := fsys.Open(ustr.Ustr("/mnt/x"), ReadOnly); err != -defs.ENOENT {
		t.Fatalf("expected /mnt/x gone, got %v", err)
	}
	h, err := fsys.Open(ustr.Ustr("/mnt/a/y"), ReadOnly)
	if err != 0 {
		t.Fatalf("open /mnt/a/y: %v", err)
	}
	h.Close()
}

// A partition device must read back exactly what was written through
// its parent rawdisk at the corresponding offset block, since both
// share the same underlying cache pages.
func TestPartitionSharesParentCache(t *testing.T) {
	alloc := frame.NewAllocator([]frame.MemDesc{{PhysStart: 0, PageCount: 4096, Typ: frame.Conventional}})
	disk := NewRawdisk(alloc, 9, 64) // 64 * 512-byte blocks
	part := NewPartitionDevice(disk, 4, 16)

	fsys, err := New(alloc)
	if err != 0 {
		t.Fatalf("fs.New: %v", err)
	}
	root, err := fsys.Open(ustr.Ustr("/dev"), ReadWrite)
	if err != 0 {
		t.Fatalf("open /dev: %v", err)
	}
	if err := root.CreateDevice(ustr.Ustr("rawdisk0"), disk); err != 0 {
		t.Fatalf("create rawdisk0: %v", err)
	}
	if err := root.CreateDevice(ustr.Ustr("rawdisk0p1"), part); err != 0 {
		t.Fatalf("create rawdisk0p1: %v", err)
	}
	root.Close()

	diskH, err := fsys.Open(ustr.Ustr("/dev/rawdisk0"), ReadWrite)
	if err != 0 {
		t.Fatalf("open rawdisk0: %v", err)
	}
	defer diskH.Close()
	partH, err := fsys.Open(ustr.Ustr("/dev/rawdisk0p1"), ReadWrite)
	if err != 0 {
		t.Fatalf("open rawdisk0p1: %v", err)
	}
	defer partH.Close()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x42
	}
	// block 0 of the partition is block 4 of the parent disk.
	if _, err := partH.WriteAt(0, payload); err != 0 {
		t.Fatalf("partition write: %v", err)
	}

	back := make([]byte, 512)
	if _, err := diskH.ReadAt(4*512, back); err != 0 {
		t.Fatalf("disk read: %v", err)
	}
	if string(back) != string(payload) {
		t.Fatalf("parent disk did not observe partition write through shared cache")
	}
}
