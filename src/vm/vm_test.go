package vm

import (
	"testing"

	"frame"
)

func testAlloc(t *testing.T, pages int) *frame.Allocator {
	t.Helper()
	return frame.NewAllocator([]frame.MemDesc{
		{PhysStart: 0, PageCount: pages, Typ: frame.Conventional},
	})
}

const userBase = UserBase

func TestMapTranslateRoundTrip(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, err := NewKernelMap(alloc)
	if err != nil {
		t.Fatal(err)
	}
	pm, err := NewPageMap(alloc, km)
	if err != nil {
		t.Fatal(err)
	}
	defer pm.Destroy()

	leaf, err2 := alloc.AllocateOne()
	if err2 != nil {
		t.Fatal(err2)
	}
	leaf.Bytes(0)[0] = 0x7a

	if e := pm.Map(userBase, leaf.PhysAddr(0), UserWrite); e != 0 {
		t.Fatalf("Map failed: %v", e)
	}
	b, e := pm.Translate(userBase, false)
	if e != 0 {
		t.Fatalf("Translate failed: %v", e)
	}
	if b[0] != 0x7a {
		t.Fatalf("Translate returned wrong byte: %x", b[0])
	}
	leaf.Free()
}

func TestTranslateUnmappedFails(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	pm, _ := NewPageMap(alloc, km)
	defer pm.Destroy()

	if _, e := pm.Translate(userBase, false); e == 0 {
		t.Fatal("translating an unmapped address should fail")
	}
}

func TestTranslateDoesNotAutoVivify(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	pm, _ := NewPageMap(alloc, km)
	defer pm.Destroy()

	before := len(pm.owned)
	pm.Translate(userBase, false)
	if len(pm.owned) != before {
		t.Fatal("a failed translate should not allocate intermediate tables")
	}
}

func TestTranslateWriteRequiresWritable(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	pm, _ := NewPageMap(alloc, km)
	defer pm.Destroy()

	leaf, _ := alloc.AllocateOne()
	defer leaf.Free()
	pm.Map(userBase, leaf.PhysAddr(0), User)

	if _, e := pm.Translate(userBase, true); e == 0 {
		t.Fatal("write-translate of a read-only mapping should fail")
	}
	if _, e := pm.Translate(userBase, false); e != 0 {
		t.Fatal("read-translate of a read-only mapping should succeed")
	}
}

func TestUnmapClearsMapping(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	pm, _ := NewPageMap(alloc, km)
	defer pm.Destroy()

	leaf, _ := alloc.AllocateOne()
	pm.Map(userBase, leaf.PhysAddr(0), UserWrite)
	if !pm.Unmap(userBase) {
		t.Fatal("Unmap should report a mapping was removed")
	}
	if _, e := pm.Translate(userBase, false); e == 0 {
		t.Fatal("address should be unmapped after Unmap")
	}
	leaf.Free()
}

func TestDestroyReturnsOwnedFrames(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	free0 := alloc.Free()

	pm, err := NewPageMap(alloc, km)
	if err != nil {
		t.Fatal(err)
	}
	leaf, _ := alloc.AllocateOne()
	pm.Map(userBase, leaf.PhysAddr(0), UserWrite)
	pm.Map(userBase+uintptr(PGSIZE), leaf.PhysAddr(0), UserWrite)

	if alloc.Free() >= free0 {
		t.Fatal("mapping should have consumed frames for intermediate tables")
	}
	pm.Destroy()
	leaf.Free()
	if alloc.Free() != free0 {
		t.Fatalf("Free() after Destroy = %d, want %d (leak of owned tables)", alloc.Free(), free0)
	}
}

func TestUserbufRoundTrip(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, _ := NewKernelMap(alloc)
	pm, _ := NewPageMap(alloc, km)
	defer pm.Destroy()

	leaf, _ := alloc.AllocateOne()
	defer leaf.Free()
	pm.Map(userBase, leaf.PhysAddr(0), UserWrite)

	src := []byte("hello, kernel")
	ub := NewUserbuf(pm, userBase, len(src))
	n, e := ub.Uiowrite(src)
	if e != 0 || n != len(src) {
		t.Fatalf("Uiowrite: n=%d err=%v", n, e)
	}

	dst := make([]byte, len(src))
	ub2 := NewUserbuf(pm, userBase, len(src))
	n, e = ub2.Uioread(dst)
	if e != 0 || n != len(src) || string(dst) != string(src) {
		t.Fatalf("Uioread: n=%d err=%v dst=%q", n, e, dst)
	}
}

func TestFakeubuf(t *testing.T) {
	backing := make([]byte, 8)
	fb := NewFakeubuf(backing)
	n, e := fb.Uiowrite([]byte("abcd"))
	if e != 0 || n != 4 {
		t.Fatalf("Uiowrite: n=%d err=%v", n, e)
	}
	if string(backing[:4]) != "abcd" {
		t.Fatalf("backing store not updated: %q", backing)
	}
}

func TestKernelMapCoversIdentityRange(t *testing.T) {
	alloc := testAlloc(t, 4096)
	km, err := NewKernelMap(alloc)
	if err != nil {
		t.Fatal(err)
	}
	if len(km.pdTables) != KernelIdentityGiB {
		t.Fatalf("expected %d PD tables, got %d", KernelIdentityGiB, len(km.pdTables))
	}
}
