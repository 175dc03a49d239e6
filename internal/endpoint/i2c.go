package endpoint

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"epfabric/errcode"
	"epfabric/internal/payload"
)

// i2c-dev ioctl numbers, from linux/i2c-dev.h and linux/i2c.h. As with
// spidev, golang.org/x/sys/unix doesn't carry these (no syscall-table
// counterpart), so they're the same fixed constants every Go i2c-dev
// wrapper (d2r2/go-i2c and its peers) hardcodes.
const (
	i2cFuncs = 0x0705
	i2cRDWR  = 0x0707

	i2cFuncI2C = 0x00000001

	i2cMRD = 0x0001 // read message
)

// i2cMsg mirrors struct i2c_msg.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	_pad  uint16
	buf   uint64
}

// i2cRdwrIoctlData mirrors struct i2c_rdwr_ioctl_data.
type i2cRdwrIoctlData struct {
	msgs  uint64
	nmsgs uint32
	_pad  uint32
}

// I2CBackend is an I2C bus endpoint: spec.md's i2c:// scheme, device
// path only — slave address travels per-request in the payload, not
// in the URI, since a single bus endpoint may talk to many slaves
// over its lifetime.
type I2CBackend struct {
	fd int

	mu   sync.Mutex
	emit func(payload []byte)
}

func NewI2CBackend() *I2CBackend { return &I2CBackend{fd: -1} }

func (b *I2CBackend) Kind() Kind                          { return I2C }
func (b *I2CBackend) SetEmit(emit func(payload []byte)) { b.mu.Lock(); b.emit = emit; b.mu.Unlock() }

func (b *I2CBackend) Open(dev string) error {
	fd, err := unix.Open(dev, unix.O_RDWR, 0)
	if err != nil {
		return errcode.New(errcode.MapErrno(err), "i2c.Open", dev, err)
	}
	funcs, ferr := unix.IoctlGetInt(fd, i2cFuncs)
	if ferr != nil {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(ferr), "i2c.Open", "i2c_funcs", ferr)
	}
	if funcs&i2cFuncI2C == 0 {
		unix.Close(fd)
		return errcode.New(errcode.Unsupported, "i2c.Open", "adapter lacks I2C_FUNC_I2C", nil)
	}
	b.fd = fd
	return nil
}

// OnData runs the requested transaction: a combined write+read when
// both wlen and rlen are non-zero, else a single directional
// transaction, exactly per spec.md §4.5. The read reply, if any, is
// emitted as one frame.
func (b *I2CBackend) OnData(p []byte) error {
	addr, write, rlen, err := payload.ParseI2C(p)
	if err != nil {
		return err
	}
	if len(write) == 0 && rlen == 0 {
		return errcode.New(errcode.InvalidArgument, "i2c.OnData", "wlen and rlen both zero", nil)
	}

	var msgs []i2cMsg
	var rx []byte
	if len(write) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, len: uint16(len(write)), buf: uint64(uintptr(unsafe.Pointer(&write[0])))})
	}
	if rlen > 0 {
		rx = make([]byte, rlen)
		msgs = append(msgs, i2cMsg{addr: addr, flags: i2cMRD, len: rlen, buf: uint64(uintptr(unsafe.Pointer(&rx[0])))})
	}

	data := i2cRdwrIoctlData{msgs: uint64(uintptr(unsafe.Pointer(&msgs[0]))), nmsgs: uint32(len(msgs))}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), i2cRDWR, uintptr(unsafe.Pointer(&data))); errno != 0 {
		return errcode.New(errcode.MapErrno(errno), "i2c.OnData", "i2c_rdwr", errno)
	}

	if rlen > 0 {
		b.mu.Lock()
		emit := b.emit
		b.mu.Unlock()
		if emit != nil {
			emit(rx)
		}
	}
	return nil
}

func (b *I2CBackend) Close() error {
	if b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}
