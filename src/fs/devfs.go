package fs

import (
	"fmt"
	"sync"

	"defs"
	"ustr"
)

/// devfsDriver is the name-keyed device registry mounted as "/dev",
/// grounded on original_source/src/fs/drivers/dev.hpp: find,
/// create_device, readdir and remove all operate on a single map from
/// device name to device payload, guarded by one mutex since the
/// registry itself is expected to change rarely.
type devfsDriver struct {
	BaseDriver

	mu      sync.Mutex
	order   []ustr.Ustr
	devices map[string]device
}

// device is the per-entry payload every built-in device implements;
// concrete devices (console, null, zero, keyboard, rawdisk, partition)
// satisfy it and are stored as the driver's fopData for their FOP.
type device interface {
	abstract(name ustr.Ustr) Abstract
	deviceType() DeviceType
	read(handleData *any, block, count int, buf []byte) (int, defs.Err_t)
	write(handleData *any, block, count int, buf []byte) (int, defs.Err_t)
	control(handleData *any, op DeviceOp, arg any) defs.Err_t
	cache() CacheProvider
}

func newDevfsDriver() *devfsDriver {
	d := &devfsDriver{devices: make(map[string]device)}
	d.register("console", &consoleDevice{})
	d.register("null", &nullDevice{})
	d.register("zero", &zeroDevice{})
	d.register("keyboard", newKeyboardDevice())
	return d
}

func (d *devfsDriver) register(name string, dev device) {
	d.mu.Lock()
	d.devices[name] = dev
	d.order = append(d.order, ustr.Ustr(name))
	d.mu.Unlock()
}

var devfsRootAbstract = Abstract{
	Name:  ustr.Ustr("dev"),
	Type:  defs.Directory,
	Attrs: VolumeRootAttrs,
}

func (d *devfsDriver) Root() (Abstract, any) { return devfsRootAbstract, nil }

func (d *devfsDriver) Find(fopData any, name ustr.Ustr) (Abstract, any, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[name.String()]
	if !ok {
		return Abstract{}, nil, -defs.ENOENT
	}
	return dev.abstract(name), dev, 0
}

func (d *devfsDriver) Readdir(fopData any, handleData *any, index int) (Abstract, any, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.order) {
		return Abstract{}, nil, -defs.EOF
	}
	name := d.order[index]
	dev := d.devices[name.String()]
	return dev.abstract(name), dev, 0
}

func (d *devfsDriver) Remove(fopData any, name ustr.Ustr) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[name.String()]; !ok {
		return -defs.ENOENT
	}
	delete(d.devices, name.String())
	for i, n := range d.order {
		if n.Eq(name) {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return 0
}

/// CreateDevice registers a new device file, the runtime hook a
/// concrete block-device driver (e.g. a future AHCI driver) uses to
/// publish "/dev/sda" once it discovers hardware. impl must implement
/// the device interface; anything else reports EINVAL.
func (d *devfsDriver) CreateDevice(fopData any, name ustr.Ustr, impl any) (Abstract, any, defs.Err_t) {
	dev, ok := impl.(device)
	if !ok {
		return Abstract{}, nil, -defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.devices[name.String()]; exists {
		return Abstract{}, nil, -defs.EEXIST
	}
	d.devices[name.String()] = dev
	d.order = append(d.order, name.Clone())
	return dev.abstract(name), dev, 0
}

func (d *devfsDriver) Read(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return fopData.(device).read(handleData, block, count, buf)
}

func (d *devfsDriver) Write(fopData any, handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return fopData.(device).write(handleData, block, count, buf)
}

func (d *devfsDriver) DeviceType(fopData any) DeviceType {
	return fopData.(device).deviceType()
}

func (d *devfsDriver) ControlDevice(fopData any, handleData *any, op DeviceOp, arg any) defs.Err_t {
	return fopData.(device).control(handleData, op, arg)
}

func (d *devfsDriver) CacheProvider(fopData any) CacheProvider {
	dev, ok := fopData.(device)
	if !ok {
		return nil // the /dev directory itself carries no device
	}
	return dev.cache()
}

// --- concrete devices ---

/// consoleDevice writes to the kernel's diagnostic log and reads as
/// always-empty, the in-repository stand-in for a serial/VGA console.
type consoleDevice struct {
	mu  sync.Mutex
	buf []byte
}

func (c *consoleDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{Name: name.Clone(), Type: defs.Device, Attrs: Attributes{ReadLevel: defs.OpenMulti, WriteLevel: defs.OpenMulti}}
}
func (c *consoleDevice) deviceType() DeviceType { return DevNone }
func (c *consoleDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return 0, -defs.EOF
}
func (c *consoleDevice) write(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	c.mu.Lock()
	c.buf = append(c.buf, buf...)
	c.mu.Unlock()
	fmt.Print(string(buf))
	return len(buf), 0
}
func (c *consoleDevice) control(handleData *any, op DeviceOp, arg any) defs.Err_t { return -defs.ENOIMPL }
func (c *consoleDevice) cache() CacheProvider                                    { return nil }

/// nullDevice discards every write and reads as immediate EOF.
type nullDevice struct{}

func (nullDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{Name: name.Clone(), Type: defs.Device, Attrs: Attributes{ReadLevel: defs.OpenMulti, WriteLevel: defs.OpenMulti}}
}
func (nullDevice) deviceType() DeviceType { return DevNone }
func (nullDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return 0, -defs.EOF
}
func (nullDevice) write(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return len(buf), 0
}
func (nullDevice) control(*any, DeviceOp, any) defs.Err_t { return -defs.ENOIMPL }
func (nullDevice) cache() CacheProvider                   { return nil }

/// zeroDevice reads as an endless stream of zero bytes and discards
/// writes.
type zeroDevice struct{}

func (zeroDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{Name: name.Clone(), Type: defs.Device, Attrs: Attributes{ReadLevel: defs.OpenMulti, WriteLevel: defs.OpenMulti}}
}
func (zeroDevice) deviceType() DeviceType { return DevNone }
func (zeroDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (zeroDevice) write(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	return len(buf), 0
}
func (zeroDevice) control(*any, DeviceOp, any) defs.Err_t { return -defs.ENOIMPL }
func (zeroDevice) cache() CacheProvider                   { return nil }

/// keyboardDevice feeds a small in-memory queue of scancodes, standing
/// in for a real interrupt-driven keyboard driver, out of scope here;
/// it exists so a test can exercise DevKeyboard without hardware.
type keyboardDevice struct {
	mu    sync.Mutex
	queue []byte
}

func newKeyboardDevice() *keyboardDevice { return &keyboardDevice{} }

/// Feed appends scancodes as if they arrived from hardware, for tests.
func (k *keyboardDevice) Feed(b []byte) {
	k.mu.Lock()
	k.queue = append(k.queue, b...)
	k.mu.Unlock()
}

func (k *keyboardDevice) abstract(name ustr.Ustr) Abstract {
	return Abstract{Name: name.Clone(), Type: defs.Device, Attrs: Attributes{ReadLevel: defs.OpenSingle}}
}
func (k *keyboardDevice) deviceType() DeviceType { return DevKeyboard }
func (k *keyboardDevice) read(handleData *any, block, count int, buf []byte) (int, defs.Err_t) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.queue) == 0 {
		return 0, -defs.EOF
	}
	n := copy(buf, k.queue)
	k.queue = k.queue[n:]
	return n, 0
}
func (k *keyboardDevice) write(*any, int, int, []byte) (int, defs.Err_t) { return 0, -defs.ENOTSUP }
func (k *keyboardDevice) control(*any, DeviceOp, any) defs.Err_t         { return -defs.ENOIMPL }
func (k *keyboardDevice) cache() CacheProvider                          { return nil }
