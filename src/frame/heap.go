package frame

import (
	"fmt"
	"sync"
)

/// DefaultHeapFrames is the size of the kernel heap block in frames
/// (64 MiB at 4 KiB frames), matching Biscuit's Phys_init reservation
/// of tens of MiB.
const DefaultHeapFrames = (64 << 20) / PGSIZE

/// Heap is the kernel's general-purpose allocation arena: a single large
/// contiguous frame run, sbrk'd from its base as callers ask for bytes.
/// It is not returned to the allocator piecemeal — only as a whole when
/// the kernel tears down, since a bump allocator never reclaims.
type Heap struct {
	mu     sync.Mutex
	handle Handle
	brk    int
}

/// HeapInit allocates a large contiguous block of frames and returns a
/// Heap whose base/limit the kernel's general allocator sbrks against.
func HeapInit(a *Allocator, frames int) (*Heap, error) {
	if frames <= 0 {
		frames = DefaultHeapFrames
	}
	h, err := a.Allocate(frames)
	if err != nil {
		return nil, fmt.Errorf("frame.HeapInit: %w", err)
	}
	return &Heap{handle: h}, nil
}

/// Len reports the heap's total capacity in bytes.
func (h *Heap) Len() int {
	return h.handle.Count * PGSIZE
}

/// Sbrk grows the heap's allocation pointer by n bytes and returns a
/// slice over the newly claimed region, or an error if the heap is
/// exhausted.
func (h *Heap) Sbrk(n int) ([]byte, error) {
	if n < 0 {
		panic("frame.Heap.Sbrk: negative size")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.brk+n > h.Len() {
		return nil, fmt.Errorf("frame.Heap.Sbrk: exhausted (%d/%d bytes used)", h.brk, h.Len())
	}
	start := h.brk
	h.brk += n

	// A handle's frames are contiguous in the allocator's arena, so the
	// claimed region is one direct view of it.
	base := int(h.handle.First-h.handle.alloc.begin)*PGSIZE + start
	return h.handle.alloc.ram[base : base+n : base+n], nil
}

/// Free returns the whole heap block to its allocator. The kernel calls
/// this only at shutdown; a running heap never shrinks.
func (h *Heap) Free() {
	h.handle.Free()
}
