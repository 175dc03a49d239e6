package endpoint

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"epfabric/errcode"
	"epfabric/internal/frame"
)

// ttyBaudRates is spec.md §6's closed set of accepted baud rates,
// mapped to their termios B* constants — lifted from the same table
// golang.org/x/sys/unix exposes for Linux, cross-checked against
// Daedaluz-goserial's port_linux.go baud constant list.
var ttyBaudRates = map[int]uint32{
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	500000: unix.B500000,
	576000: unix.B576000,
	921600: unix.B921600,
}

// TTYBackend is a serial-line endpoint: spec.md's tty:// scheme,
// "dev,baud" path grammar, opened raw (8N1, no flow control, VMIN=1
// VTIME=0) the way MakeRaw configures a line in the reference goserial
// implementation, but driven directly through x/sys/unix ioctls
// instead of a separate ioctl-wrapper dependency.
type TTYBackend struct {
	fd int
}

func NewTTYBackend() *TTYBackend { return &TTYBackend{fd: -1} }

func (b *TTYBackend) Kind() Kind { return TTY }

func (b *TTYBackend) Open(path string) error {
	dev, baud, err := parseTTYPath(path)
	if err != nil {
		return err
	}
	speed, ok := ttyBaudRates[baud]
	if !ok {
		return errcode.New(errcode.InvalidArgument, "tty.Open", "unsupported baud rate", nil)
	}

	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return errcode.New(errcode.MapErrno(err), "tty.Open", dev, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(err), "tty.Open", "tcgets", err)
	}
	makeRaw(t)
	t.Cflag = (t.Cflag &^ unix.CBAUD) | speed
	t.Ispeed = speed
	t.Ospeed = speed
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(err), "tty.Open", "tcsets", err)
	}
	// O_NONBLOCK only guards the open itself; reads block (VMIN=1).
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return errcode.New(errcode.MapErrno(err), "tty.Open", "clear nonblock", err)
	}

	b.fd = fd
	return nil
}

func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func parseTTYPath(path string) (dev string, baud int, err error) {
	parts := strings.SplitN(path, ",", 2)
	if len(parts) != 2 {
		return "", 0, errcode.New(errcode.InvalidArgument, "tty.Open", "expected dev,baud", nil)
	}
	baud, convErr := strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, errcode.New(errcode.InvalidArgument, "tty.Open", "non-numeric baud", convErr)
	}
	return parts[0], baud, nil
}

func (b *TTYBackend) Read(p []byte) (int, error) {
	n, err := unix.Read(b.fd, p)
	if err != nil {
		return 0, errcode.New(errcode.MapErrno(err), "tty.Read", "", err)
	}
	return n, nil
}

func (b *TTYBackend) Write(p []byte) (int, error) {
	n, err := unix.Write(b.fd, p)
	if err != nil {
		return 0, errcode.New(errcode.MapErrno(err), "tty.Write", "", err)
	}
	return n, nil
}

func (b *TTYBackend) OnData(payload []byte) error {
	return frame.WriteFrame(endpointWriter{b}, payload)
}

func (b *TTYBackend) Close() error {
	if b.fd < 0 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}
