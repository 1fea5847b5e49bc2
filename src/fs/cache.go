package fs

import (
	"sync"

	"defs"
	"frame"
	"limits"
)

/// CacheState is a cache page's freshness relative to the driver's
/// backing store.
type CacheState int

const (
	Uninit CacheState = iota
	Clean
	Dirty
)

/// CachePage is a single page of a FOP's page cache: a frame handle
/// plus its state.
type CachePage struct {
	mu    sync.Mutex
	Frame frame.Handle
	State CacheState
}

/// Bytes returns the page's backing bytes for in-place read/modify.
/// Callers must hold the page locked via Lock/Unlock for the duration
/// of any read-modify-write sequence.
func (p *CachePage) Bytes() []byte { return p.Frame.Bytes(0) }

func (p *CachePage) Lock()   { p.mu.Lock() }
func (p *CachePage) Unlock() { p.mu.Unlock() }

/// CacheProvider is an indexable, lockable, growable sequence of cache
/// pages associated with a FOP.
type CacheProvider interface {
	Page(index int) (*CachePage, defs.Err_t)
}

/// MemCacheProvider is the default, frame-backed cache provider: pages
/// are allocated lazily from alloc on first touch and never evicted while
/// their FOP is resident; they are freed when the FOP collapses on close
/// (cache flush/eviction policy belongs to a driver; the core here only
/// guarantees read-after-write on the same FOP).
type MemCacheProvider struct {
	mu    sync.Mutex
	alloc *frame.Allocator
	pages []*CachePage
}

/// NewMemCacheProvider allocates a provider with no pages yet.
func NewMemCacheProvider(alloc *frame.Allocator) *MemCacheProvider {
	return &MemCacheProvider{alloc: alloc}
}

/// Page returns (allocating if necessary) the cache page at index.
func (c *MemCacheProvider) Page(index int) (*CachePage, defs.Err_t) {
	if index < 0 {
		return nil, -defs.ERANGE
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pages) <= index {
		c.pages = append(c.pages, nil)
	}
	if c.pages[index] == nil {
		if !limits.Syslimit.CachePages.Take() {
			return nil, -defs.EOOM
		}
		h, err := c.alloc.AllocateOne()
		if err != nil {
			limits.Syslimit.CachePages.Give()
			return nil, -defs.EOOM
		}
		c.pages[index] = &CachePage{Frame: h}
	}
	return c.pages[index], 0
}

/// PartitionProvider wraps a parent block device's cache provider with
/// a fixed index offset, grounded on original_source's
/// src/block/drivers/partition.hpp: partition reads hit the exact same
/// cache pages as direct reads of the same physical sector on the
/// parent device, never a copy.
type PartitionProvider struct {
	parent CacheProvider
	offset int
}

/// NewPartitionProvider wraps parent, offsetting every index by offset
/// blocks.
func NewPartitionProvider(parent CacheProvider, offset int) *PartitionProvider {
	return &PartitionProvider{parent: parent, offset: offset}
}

/// Page delegates to the parent provider at index+offset.
func (p *PartitionProvider) Page(index int) (*CachePage, defs.Err_t) {
	if index < 0 {
		return nil, -defs.ERANGE
	}
	return p.parent.Page(index + p.offset)
}
