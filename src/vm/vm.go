// Package vm implements the address-space manager: 4-level page tables
// (PML4→PDPT→PD→PT, each a 512-entry array of 64-bit entries), a shared
// kernel identity map, and a per-process page map owning its own
// intermediate tables (the leaf frames mapped into it stay owned by the
// caller that mapped them). It generalizes Biscuit's Vm_t
// (vm/as.go) down to a simpler model: no copy-on-write, no
// shared/file-backed mappings, no mmap — map/activate/destroy only.
// Biscuit's Vmregion_t interval tree, VSANON/VFILE mapping types, and
// page-fault-driven COW machinery have no home in this scope and are not
// carried forward; see the project's grounding ledger for that call.
package vm

import (
	"fmt"
	"sync"
	"unsafe"

	"defs"
	"frame"
)

/// PGSHIFT and PGSIZE mirror frame's page geometry; table indices are
/// computed from addresses using them.
const (
	PGSHIFT = frame.PGSHIFT
	PGSIZE  = frame.PGSIZE
)

/// PTE is a single 64-bit page-table entry.
type PTE uint64

const (
	PteP  PTE = 1 << 0  // present
	PteW  PTE = 1 << 1  // writable
	PteU  PTE = 1 << 2  // user-accessible
	PtePS PTE = 1 << 7  // large page (2MiB, used only in the kernel identity map)
	PteNX PTE = 1 << 63 // no-execute
)

const pteAddrMask PTE = 0x000ffffffffff000

func mkpte(pa uintptr, flags PTE) PTE {
	return PTE(pa)&pteAddrMask | flags
}

func (p PTE) addr() uintptr { return uintptr(p & pteAddrMask) }
func (p PTE) present() bool { return p&PteP != 0 }

/// Table is one level of the page-table hierarchy: 512 64-bit entries.
type Table [512]PTE

func tableView(h *frame.Handle) *Table {
	b := h.Bytes(0)
	return (*Table)(unsafe.Pointer(&b[0]))
}

func tableAt(alloc *frame.Allocator, id frame.Id) *Table {
	b := alloc.BytesAt(id)
	return (*Table)(unsafe.Pointer(&b[0]))
}

/// Attr describes the permissions requested of a mapping. UserWrite and
/// UserExecute are combined presets alongside the bare User/Write/Execute
/// flags.
type Attr uint

const (
	User Attr = 1 << iota
	Write
	Execute
)

const (
	UserWrite   = User | Write
	UserExecute = User | Execute
)

func (a Attr) toPTE() PTE {
	var p PTE
	if a&User != 0 {
		p |= PteU
	}
	if a&Write != 0 {
		p |= PteW
	}
	if a&Execute == 0 {
		p |= PteNX
	}
	return p
}

// indices splits a virtual address into its four 9-bit table indices.
func indices(va uintptr) (l4, l3, l2, l1 int) {
	l4 = int((va >> 39) & 0x1ff)
	l3 = int((va >> 30) & 0x1ff)
	l2 = int((va >> 21) & 0x1ff)
	l1 = int((va >> 12) & 0x1ff)
	return
}

/// UserPML4Slot is the canonical lowest upper-half PML4 slot, the only
/// slot a per-process page map may populate outside the shared kernel
/// range.
const UserPML4Slot = 256

/// UserBase is the lowest canonical virtual address whose PML4 index is
/// UserPML4Slot, and UserRegionSize is the span that one PML4 slot
/// covers. Every address a caller maps or translates through a PageMap
/// must fall in [UserBase, UserBase+UserRegionSize) — walk enforces this
/// by PML4 index, InUserRange lets a caller (the ELF loader, in
/// particular) check a whole address range up front instead of
/// discovering the mismatch one page at a time through Map's error
/// return.
const UserBase = uintptr(0xFFFF800000000000)
const UserRegionSize = uintptr(1) << 39

/// InUserRange reports whether [va, va+size) lies entirely within the
/// one PML4 slot a process's page map may populate.
func InUserRange(va uintptr, size uintptr) bool {
	if va < UserBase {
		return false
	}
	end := va + size
	return end >= va && end <= UserBase+UserRegionSize
}

/// KernelIdentityGiB is the size of the boot identity map in GiB.
const KernelIdentityGiB = 64

/// KernelMap is the single shared kernel identity mapping of
/// [0, 64 GiB), installed in PML4 slot 0 of every process's page map.
type KernelMap struct {
	alloc    *frame.Allocator
	pdpt     frame.Handle
	pdpt_pa  uintptr
	pdTables []frame.Handle
}

/// NewKernelMap builds the boot identity map using 2 MiB leaves.
func NewKernelMap(alloc *frame.Allocator) (*KernelMap, error) {
	pdptH, err := alloc.AllocateOne()
	if err != nil {
		return nil, fmt.Errorf("vm.NewKernelMap: pdpt: %w", err)
	}
	km := &KernelMap{alloc: alloc, pdpt: pdptH, pdpt_pa: pdptH.PhysAddr(0)}
	pdpt := tableView(&km.pdpt)

	const twoMiB = 1 << 21
	const perPD = 512 // 512 * 2MiB = 1GiB per PD table
	for g := 0; g < KernelIdentityGiB; g++ {
		pdH, err := alloc.AllocateOne()
		if err != nil {
			return nil, fmt.Errorf("vm.NewKernelMap: pd %d: %w", g, err)
		}
		km.pdTables = append(km.pdTables, pdH)
		pd := tableView(&pdH)
		for j := 0; j < perPD; j++ {
			pa := uintptr(g)<<30 + uintptr(j)*twoMiB
			pd[j] = mkpte(pa, PteP|PteW|PtePS)
		}
		pdpt[g] = mkpte(pdH.PhysAddr(0), PteP|PteW)
	}
	return km, nil
}

/// PhysAddr returns the physical address of the kernel PDPT, installed
/// at PML4 slot 0 of every process's page map.
func (km *KernelMap) PhysAddr() uintptr { return km.pdpt_pa }

/// PageMap is a process's address space: its own PML4, an owned user
/// PDPT at slot 256, the chain of PD/PT tables reached from it, and the
/// set of frame handles whose lifetime matches the address space.
type PageMap struct {
	mu     sync.Mutex
	alloc  *frame.Allocator
	kernel *KernelMap

	pml4    frame.Handle
	userPDPT frame.Handle
	owned   []frame.Handle // every intermediate table this map allocated; leaf frames are not held here

	active bool
}

/// NewPageMap allocates a fresh, empty address space sharing km's kernel
/// identity map at PML4 slot 0.
func NewPageMap(alloc *frame.Allocator, km *KernelMap) (*PageMap, error) {
	pml4H, err := alloc.AllocateOne()
	if err != nil {
		return nil, fmt.Errorf("vm.NewPageMap: pml4: %w", err)
	}
	userPDPTH, err := alloc.AllocateOne()
	if err != nil {
		pml4H.Free()
		return nil, fmt.Errorf("vm.NewPageMap: user pdpt: %w", err)
	}

	pm := &PageMap{alloc: alloc, kernel: km, pml4: pml4H, userPDPT: userPDPTH}
	pml4 := tableView(&pm.pml4)
	pml4[0] = mkpte(km.PhysAddr(), PteP|PteW)
	pml4[UserPML4Slot] = mkpte(pm.userPDPT.PhysAddr(0), PteP|PteW|PteU)
	return pm, nil
}

/// PhysAddr returns the physical address of this page map's PML4, the
/// value activate() installs into the CR3-equivalent register.
func (pm *PageMap) PhysAddr() uintptr {
	return pm.pml4.PhysAddr(0)
}

/// Activate marks pm as the currently loaded address space. Without
/// real hardware there is no CR3 register to write. Nothing in this
/// repository calls it: the scheduler's PageMapper interface has only
/// Destroy, so a context switch activates no page map, and a PageMap that has never
/// been Activate'd cannot be distinguished from one that has by anything
/// else in this package.
func (pm *PageMap) Activate() {
	pm.mu.Lock()
	pm.active = true
	pm.mu.Unlock()
}

/// Active reports whether Activate has been called since construction.
func (pm *PageMap) Active() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.active
}

func (pm *PageMap) allocTable() (*Table, uintptr, error) {
	h, err := pm.alloc.AllocateOne()
	if err != nil {
		return nil, 0, err
	}
	pm.owned = append(pm.owned, h)
	return tableView(&h), h.PhysAddr(0), nil
}

/// walk returns the leaf PTE slot for va. When create is true, missing
/// intermediate PDPT/PD/PT tables are lazily allocated and owned by pm;
/// when false, a missing intermediate table reports ok=false rather than
/// allocating one, so a translate of an unmapped address never mutates
/// the page map. va must fall in the user PML4 slot (256); addresses at
/// slot 0 belong to the shared kernel map and are never mutated here.
func (pm *PageMap) walk(va uintptr, create bool) (pte *PTE, ok bool, err error) {
	l4, l3, l2, l1 := indices(va)
	if l4 != UserPML4Slot {
		return nil, false, fmt.Errorf("vm: address %#x is not in the user PML4 slot", va)
	}

	pdpt := tableView(&pm.userPDPT)
	pd, ok, err := pm.descend(pdpt, l3, create)
	if err != nil || !ok {
		return nil, ok, err
	}
	pt, ok, err := pm.descend(pd, l2, create)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pt[l1], true, nil
}

func (pm *PageMap) descend(t *Table, idx int, create bool) (*Table, bool, error) {
	e := t[idx]
	if e.present() {
		return tableAt(pm.alloc, frame.IdOf(e.addr())), true, nil
	}
	if !create {
		return nil, false, nil
	}
	next, pa, err := pm.allocTable()
	if err != nil {
		return nil, false, err
	}
	t[idx] = mkpte(pa, PteP|PteW|PteU)
	return next, true, nil
}

/// Map installs a 4 KiB mapping of phys at virt with the given
/// attributes, lazily allocating any missing intermediate tables.
func (pm *PageMap) Map(virt, phys uintptr, attrs Attr) defs.Err_t {
	if virt&uintptr(PGSIZE-1) != 0 || phys&uintptr(PGSIZE-1) != 0 {
		panic("vm.Map: unaligned address")
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pte, ok, err := pm.walk(virt, true)
	if err != nil || !ok {
		return -defs.ENOMEM
	}
	*pte = mkpte(phys, PteP|attrs.toPTE())
	return 0
}

/// Unmap clears the mapping at virt, reporting whether one was present.
func (pm *PageMap) Unmap(virt uintptr) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pte, ok, err := pm.walk(virt, false)
	if err != nil || !ok {
		return false
	}
	was := pte.present()
	*pte = 0
	return was
}

/// Translate resolves virt to the backing bytes of its frame, or EFAULT
/// if unmapped. write additionally requires the mapping be writable.
func (pm *PageMap) Translate(virt uintptr, write bool) ([]byte, defs.Err_t) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pte, ok, err := pm.walk(virt, false)
	if err != nil || !ok || !pte.present() {
		return nil, -defs.EFAULT
	}
	if write && pte.toAttrWriteMissing() {
		return nil, -defs.EFAULT
	}
	id := frame.IdOf(pte.addr())
	off := virt & uintptr(PGSIZE-1)
	return pm.alloc.BytesAt(id)[off:], 0
}

func (p PTE) toAttrWriteMissing() bool {
	return p&PteW == 0
}

/// Destroy drops every owned frame handle back to the allocator: the
/// user PDPT, every intermediate table, and the PML4 itself. Kernel
/// identity-map frames are never touched since PageMap never owns them.
func (pm *PageMap) Destroy() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i := range pm.owned {
		pm.owned[i].Free()
	}
	pm.owned = nil
	pm.userPDPT.Free()
	pm.pml4.Free()
}
