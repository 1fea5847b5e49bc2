package fs

import (
	"defs"
	"frame"
	"ustr"
)

/// rawdiskDevice is an in-memory stand-in for a block device, exposing
/// itself through devfs with DevBlock and a page-cache-backed byte
/// store. It exists so the partition-offset feature
/// (grounded on original_source/src/block/drivers/partition.hpp) has a
/// real backing device to wrap in tests, since no AHCI/NVMe driver is
/// in scope here.
type rawdiskDevice struct {
	alloc        *frame.Allocator
	blockSizeExp uint8
	blocks       int
	provider     *MemCacheProvider
}

/// NewRawdisk builds an in-memory block device of the given geometry.
func NewRawdisk(alloc *frame.Allocator, blockSizeExp uint8, blocks int) *rawdiskDevice {
	return &rawdiskDevice{
		alloc:        alloc,
		blockSizeExp: blockSizeExp,
		blocks:       blocks,
		provider:     NewMemCacheProvider(alloc),
	}
}

func (r *rawdiskDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{
		Name:         name.Clone(),
		Type:         defs.Device,
		Size:         uint64(r.blocks) << r.blockSizeExp,
		BlockSizeExp: r.blockSizeExp,
		Attrs:        Attributes{ReadLevel: defs.OpenMulti, WriteLevel: defs.OpenMulti, CacheEnabled: true},
	}
}
func (r *rawdiskDevice) deviceType() DeviceType { return DevBlock }

func (r *rawdiskDevice) blockSize() int { return 1 << r.blockSizeExp }

func (r *rawdiskDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return r.transfer(block, count, buf, false)
}
func (r *rawdiskDevice) write(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return r.transfer(block, count, buf, true)
}

func (r *rawdiskDevice) transfer(block, count int, buf []byte, write bool) (int, defs.Err_t) {
	bs := r.blockSize()
	done := 0
	for i := 0; i < count && done+bs <= len(buf); i++ {
		page, err := r.provider.Page(block + i)
		if err != 0 {
			return done, err
		}
		page.Lock()
		pb := page.Bytes()
		if write {
			copy(pb, buf[done:done+bs])
			page.State = Dirty
		} else {
			if page.State == Uninit {
				page.State = Clean
			}
			copy(buf[done:done+bs], pb)
		}
		page.Unlock()
		done += bs
	}
	return done, 0
}

func (r *rawdiskDevice) control(handleData *any, op DeviceOp, arg any) defs.Err_t {
	switch op {
	case OpGetSize:
		return 0
	case OpGetBytesPerSector:
		return 0
	default:
		return -defs.EBADDEVOP
	}
}
func (r *rawdiskDevice) cache() CacheProvider { return r.provider }

/// partitionDevice wraps a rawdiskDevice's provider with a block-index
/// offset, per the supplemented partition feature: reads and writes
/// through the partition hit the exact same cache pages as the parent
/// device's reads/writes of the same physical block, never a copy.
type partitionDevice struct {
	parent       *rawdiskDevice
	offsetBlocks int
	blocks       int
	provider     *PartitionProvider
}

/// NewPartitionDevice creates a view of parent starting at offsetBlocks
/// and spanning blocks blocks.
func NewPartitionDevice(parent *rawdiskDevice, offsetBlocks, blocks int) *partitionDevice {
	return &partitionDevice{
		parent:       parent,
		offsetBlocks: offsetBlocks,
		blocks:       blocks,
		provider:     NewPartitionProvider(parent.provider, offsetBlocks),
	}
}

func (p *partitionDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{
		Name:         name.Clone(),
		Type:         defs.Device,
		Size:         uint64(p.blocks) << p.parent.blockSizeExp,
		BlockSizeExp: p.parent.blockSizeExp,
		Attrs:        Attributes{ReadLevel: defs.OpenMulti, WriteLevel: defs.OpenMulti, CacheEnabled: true},
	}
}
func (p *partitionDevice) deviceType() DeviceType { return DevBlock }

func (p *partitionDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return p.parent.read(handleData, block+p.offsetBlocks, count, buf)
}
func (p *partitionDevice) write(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return p.parent.write(handleData, block+p.offsetBlocks, count, buf)
}
func (p *partitionDevice) control(handleData *any, op DeviceOp, arg any) defs.Err_t {
	return p.parent.control(handleData, op, arg)
}
func (p *partitionDevice) cache() CacheProvider { return p.provider }
