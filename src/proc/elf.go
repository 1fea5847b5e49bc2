package proc

import (
	"bytes"
	"debug/elf"

	"defs"
	"frame"
	"fs"
	"ustr"
	"util"
	"vm"
)

// elfMagic is the four-byte magic required at the start of an accepted
// image, checked before the image is handed to debug/elf.
var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

/// LoadImage reads the ELF file at path, validates it as a static
/// executable (ET_EXEC, x86-64, little-endian, PT_LOAD-only) whose
/// PT_LOAD segments fall inside vm's canonical user range, maps those
/// segments into pid's page map, and allocates a one-page user stack at
/// the top of that range. It returns the entry point and the initial
/// stack pointer a thread should be created with. The mapped segment
/// and stack frames are remembered against pid so DestroyProcess can
/// reclaim them later; freeing happens there, never here.
func (m *Manager) LoadImage(pid defs.Pid_t, path ustr.Ustr) (entry uintptr, stackTop uintptr, rerr defs.Err_t) {
	pm, err := m.pageMap(pid)
	if err != 0 {
		return 0, 0, err
	}

	h, err := m.fsys.Open(path, fs.ReadOnly)
	if err != 0 {
		return 0, 0, err
	}
	defer h.Close()

	st, err := h.Stat()
	if err != 0 {
		return 0, 0, err
	}
	img := make([]byte, st.Size())
	if _, rerr := h.ReadAt(0, img); rerr != 0 && rerr != -defs.EOF {
		return 0, 0, rerr
	}

	if len(img) < 4 || img[0] != elfMagic[0] || img[1] != elfMagic[1] || img[2] != elfMagic[2] || img[3] != elfMagic[3] {
		return 0, 0, -defs.ENOTELF
	}

	ef, ferr := elf.NewFile(bytes.NewReader(img))
	if ferr != nil {
		return 0, 0, -defs.EBADELF
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB {
		return 0, 0, -defs.EBADELF
	}
	if ef.Type != elf.ET_EXEC || ef.Machine != elf.EM_X86_64 {
		return 0, 0, -defs.EBADELF
	}

	loads := make([]*elf.Prog, 0, len(ef.Progs))
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	if len(loads) == 0 {
		return 0, 0, -defs.EBADELF
	}

	first := ^uintptr(0)
	last := uintptr(0)
	for _, p := range loads {
		lo := uintptr(p.Vaddr)
		hi := lo + uintptr(p.Memsz)
		if lo < first {
			first = lo
		}
		if hi > last {
			last = hi
		}
	}
	first = util.Rounddown(first, uintptr(frame.PGSIZE))
	last = util.Roundup(last, uintptr(frame.PGSIZE))
	if last <= first {
		return 0, 0, -defs.EBADELF
	}
	if !vm.InUserRange(first, last-first) {
		// Linked at an address this kernel core's page map can't
		// represent: every user mapping lives in the single PML4 slot
		// vm.UserBase starts (see vm.InUserRange), not at an ordinary
		// low-memory ET_EXEC link address like 0x400000.
		return 0, 0, -defs.EBADELF
	}
	npages := int((last - first) / uintptr(frame.PGSIZE))

	imgFrames, aerr := m.alloc.Allocate(npages)
	if aerr != nil {
		return 0, 0, -defs.EOOM
	}

	// Map every page of the image writable first — the hosted stand-in
	// for "temporarily clear the write-protect bit of the control
	// register" — so segment bytes can be staged in below, then remap
	// each page UserExecute afterward to restore write-protection.
	for i := 0; i < npages; i++ {
		va := first + uintptr(i)*uintptr(frame.PGSIZE)
		if mapErr := pm.Map(va, imgFrames.PhysAddr(i), vm.UserExecute|vm.Write); mapErr != 0 {
			imgFrames.Free()
			return 0, 0, mapErr
		}
	}

	// Stage each segment's file bytes, then zero its tail
	// (memsz - filesz), by walking the destination page by page: a
	// segment may span several mapped pages, and Translate only ever
	// promises bytes to the end of one.
	for _, p := range loads {
		if werr := copyToUser(pm, uintptr(p.Vaddr), img[p.Off:p.Off+p.Filesz]); werr != 0 {
			imgFrames.Free()
			return 0, 0, werr
		}
		if tailLen := int(p.Memsz - p.Filesz); tailLen > 0 {
			if werr := zeroUser(pm, uintptr(p.Vaddr)+uintptr(p.Filesz), tailLen); werr != 0 {
				imgFrames.Free()
				return 0, 0, werr
			}
		}
	}
	for i := 0; i < npages; i++ {
		va := first + uintptr(i)*uintptr(frame.PGSIZE)
		pm.Map(va, imgFrames.PhysAddr(i), vm.UserExecute)
	}
	m.addLeafFrames(pid, imgFrames)

	stackFrame, serr := m.alloc.AllocateOne()
	if serr != nil {
		return 0, 0, -defs.EOOM
	}
	stackVA := UserStackTop
	if mapErr := pm.Map(stackVA, stackFrame.PhysAddr(0), vm.UserWrite); mapErr != 0 {
		stackFrame.Free()
		return 0, 0, mapErr
	}
	m.addLeafFrames(pid, stackFrame)

	return uintptr(ef.Entry), stackVA - 8, 0
}

// copyToUser writes src into pm starting at virtual address va, which
// must already be mapped writable, crossing page boundaries as needed.
func copyToUser(pm *vm.PageMap, va uintptr, src []byte) defs.Err_t {
	for len(src) > 0 {
		page, err := pm.Translate(va, true)
		if err != 0 {
			return err
		}
		n := copy(page, src)
		src = src[n:]
		va += uintptr(n)
	}
	return 0
}

// zeroUser fills n bytes starting at va with zero, crossing page
// boundaries as needed.
func zeroUser(pm *vm.PageMap, va uintptr, n int) defs.Err_t {
	for n > 0 {
		page, err := pm.Translate(va, true)
		if err != 0 {
			return err
		}
		c := len(page)
		if c > n {
			c = n
		}
		for i := range page[:c] {
			page[i] = 0
		}
		n -= c
		va += uintptr(c)
	}
	return 0
}
