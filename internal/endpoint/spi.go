package endpoint

import (
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"epfabric/errcode"
	"epfabric/internal/payload"
)

// spidev ioctl numbers. golang.org/x/sys/unix doesn't expose these the
// way it does termios/GPIO chardev ioctls (they come from
// linux/spi/spidev.h, a userspace ABI header with no syscall-table
// counterpart), so they're derived here the same way every small Go
// spidev wrapper in the ecosystem does: _IOC(dir, type, nr, size)
// with SPI_IOC_MAGIC='k'.
const (
	spiIOCMagic        = 'k'
	spiIOCWrMode       = 0x40016b01
	spiIOCWrBitsPerWrd = 0x40016b03
	spiIOCWrMaxSpeedHz = 0x40046b04
)

// spiIOCTransfer mirrors struct spi_ioc_transfer (32 bytes on a
// 64-bit kernel), one entry per spi_ioc_message(N) call.
type spiIOCTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	pad         uint16
}

func spiIOCMessage(n uintptr) uintptr {
	size := n * uintptr(unsafe.Sizeof(spiIOCTransfer{}))
	const iocWrite = 1
	return (iocWrite << 30) | (size << 16) | (spiIOCMagic << 8) | 0
}

// SPIBackend is an SPI device endpoint: spec.md's spi:// scheme,
// "dev,speed[,mode]" path grammar. Transfers are one byte at a time
// per spec.md §4.5's literal description of the wire contract; each
// byte is its own full-duplex spi_ioc_transfer.
type SPIBackend struct {
	fd int

	mu   sync.Mutex
	emit func(payload []byte)
}

func NewSPIBackend() *SPIBackend { return &SPIBackend{fd: -1} }

func (b *SPIBackend) Kind() Kind                          { return SPI }
func (b *SPIBackend) SetEmit(emit func(payload []byte)) { b.mu.Lock(); b.emit = emit; b.mu.Unlock() }

func parseSPIPath(path string) (dev string, speed int, mode int, err error) {
	parts := strings.Split(path, ",")
	if len(parts) < 2 {
		return "", 0, 0, errcode.New(errcode.InvalidArgument, "spi.Open", "expected dev,speed[,mode]", nil)
	}
	dev = parts[0]
	speed, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, 0, errcode.New(errcode.InvalidArgument, "spi.Open", "non-numeric speed", convErr)
	}
	mode = 3
	if len(parts) == 3 {
		m, merr := strconv.Atoi(parts[2])
		if merr != nil || m < 0 || m > 3 {
			return "", 0, 0, errcode.New(errcode.InvalidArgument, "spi.Open", "mode must be 0-3", merr)
		}
		mode = m
	}
	return dev, speed, mode, nil
}

func (b *SPIBackend) Open(path string) error {
	dev, speed, mode, err := parseSPIPath(path)
	if err != nil {
		return err
	}
	fd, oerr := unix.Open(dev, unix.O_RDWR, 0)
	if oerr != nil {
		return errcode.New(errcode.MapErrno(oerr), "spi.Open", dev, oerr)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), spiIOCWrMode, uintptr(mode)); errno != 0 {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(errno), "spi.Open", "set mode", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), spiIOCWrBitsPerWrd, 8); errno != 0 {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(errno), "spi.Open", "set bits", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), spiIOCWrMaxSpeedHz, uintptr(speed)); errno != 0 {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(errno), "spi.Open", "set speed", errno)
	}
	b.fd = fd
	return nil
}

// transferByte performs one one-byte full-duplex SPI exchange.
func (b *SPIBackend) transferByte(out byte) (in byte, err error) {
	tx, rx := out, byte(0)
	xfer := spiIOCTransfer{
		txBuf: uint64(uintptr(unsafe.Pointer(&tx))),
		rxBuf: uint64(uintptr(unsafe.Pointer(&rx))),
		len:   1,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), spiIOCMessage(1), uintptr(unsafe.Pointer(&xfer))); errno != 0 {
		return 0, errcode.New(errcode.MapErrno(errno), "spi.transfer", "", errno)
	}
	return rx, nil
}

// OnData performs the requested byte-by-byte transfer and, if
// requested, emits the accumulated rx bytes as one reply frame.
func (b *SPIBackend) OnData(p []byte) error {
	tx, read, err := payload.ParseSPI(p)
	if err != nil {
		return err
	}
	rx := make([]byte, len(tx))
	for i, out := range tx {
		in, terr := b.transferByte(out)
		if terr != nil {
			return terr
		}
		rx[i] = in
	}
	if read {
		b.mu.Lock()
		emit := b.emit
		b.mu.Unlock()
		if emit != nil {
			emit(rx)
		}
	}
	return nil
}

func (b *SPIBackend) Close() error {
	if b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}
