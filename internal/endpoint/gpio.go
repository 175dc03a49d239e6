package endpoint

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"epfabric/errcode"
	"epfabric/internal/payload"
)

// GPIOBackend is a single GPIO line endpoint: spec.md's gpio://
// scheme, path grammar "consumer@chip-line,dir[,initval]" straight out
// of ep_gpio.c's sscanf pattern. An output line accepts one-byte
// {0,1} frames via OnData; an input line watches for edge events via
// the Linux GPIO chardev event ioctl and emits
// {value:u8, ts_sec:i64, ts_nsec:i64} frames the way upstream() in
// ep_gpio.c does. ts_sec/ts_nsec are packed host-endian (payload.BuildGPIOIn),
// matching spec.md §6's carve-out for this field pair.
type GPIOBackend struct {
	chipFd  int
	lineFd  int
	out     bool
	emit    func(payload []byte)
	stop    chan struct{}
}

func NewGPIOBackend() *GPIOBackend { return &GPIOBackend{chipFd: -1, lineFd: -1} }

func (b *GPIOBackend) Kind() Kind                        { return GPIO }
func (b *GPIOBackend) SetEmit(emit func(payload []byte)) { b.emit = emit }

// parseGPIOPath mirrors ep_gpio.c's
// sscanf(path, "%[^@]@%[^-]-%d,%[^,],%d", consumer, chip, &line, dir, &val).
func parseGPIOPath(path string) (consumer, chip string, line int, out bool, initVal int, err error) {
	at := strings.IndexByte(path, '@')
	if at < 0 {
		return "", "", 0, false, 0, errcode.New(errcode.InvalidArgument, "gpio.Open", "missing '@'", nil)
	}
	consumer, rest := path[:at], path[at+1:]

	fields := strings.SplitN(rest, ",", 3)
	if len(fields) < 2 {
		return "", "", 0, false, 0, errcode.New(errcode.InvalidArgument, "gpio.Open", "expected chip-line,dir[,initval]", nil)
	}
	dash := strings.LastIndexByte(fields[0], '-')
	if dash < 0 {
		return "", "", 0, false, 0, errcode.New(errcode.InvalidArgument, "gpio.Open", "expected chip-line", nil)
	}
	chip = fields[0][:dash]
	line, convErr := strconv.Atoi(fields[0][dash+1:])
	if convErr != nil {
		return "", "", 0, false, 0, errcode.New(errcode.InvalidArgument, "gpio.Open", "non-numeric line", convErr)
	}
	switch fields[1] {
	case "out":
		out = true
	case "in":
		out = false
	default:
		return "", "", 0, false, 0, errcode.New(errcode.InvalidArgument, "gpio.Open", "dir must be in/out", nil)
	}
	if out && len(fields) == 3 {
		initVal, _ = strconv.Atoi(fields[2])
	}
	return consumer, chip, line, out, initVal, nil
}

func (b *GPIOBackend) Open(path string) error {
	consumer, chip, line, out, initVal, err := parseGPIOPath(path)
	if err != nil {
		return err
	}
	chipFd, oerr := unix.Open(chip, unix.O_RDWR, 0)
	if oerr != nil {
		return errcode.New(errcode.MapErrno(oerr), "gpio.Open", chip, oerr)
	}
	b.chipFd = chipFd
	b.out = out

	var consumerLabel [32]byte
	copy(consumerLabel[:], consumer)

	if out {
		req := unix.GpioHandleRequest{
			Lines:         1,
			Flags:         unix.GPIOHANDLE_REQUEST_OUTPUT,
			ConsumerLabel: consumerLabel,
		}
		req.LineOffsets[0] = uint32(line)
		req.DefaultValues[0] = uint8(initVal)
		if err := unix.IoctlGpioGetLineHandle(chipFd, &req); err != nil {
			unix.Close(chipFd)
			return errcode.New(errcode.MapErrno(err), "gpio.Open", "line handle", err)
		}
		b.lineFd = int(req.Fd)
		return nil
	}

	ereq := unix.GpioEventRequest{
		LineOffset:    uint32(line),
		HandleFlags:   unix.GPIOHANDLE_REQUEST_INPUT,
		EventFlags:    unix.GPIOEVENT_REQUEST_BOTH_EDGES,
		ConsumerLabel: consumerLabel,
	}
	if err := unix.IoctlGpioGetLineEvent(chipFd, &ereq); err != nil {
		unix.Close(chipFd)
		return errcode.New(errcode.MapErrno(err), "gpio.Open", "line event", err)
	}
	b.lineFd = int(ereq.Fd)
	b.stop = make(chan struct{})
	go b.watchEvents()
	return nil
}

func (b *GPIOBackend) watchEvents() {
	var buf [16]byte // struct gpioevent_data: __u64 timestamp; __u32 id
	for {
		n, err := unix.Read(b.lineFd, buf[:])
		if err != nil || n < 16 {
			return
		}
		ts := binary.LittleEndian.Uint64(buf[0:8])
		id := binary.LittleEndian.Uint32(buf[8:12])
		value := uint8(0)
		if id == unix.GPIOEVENT_EVENT_RISING_EDGE {
			value = 1
		}
		// ts_sec/ts_nsec are host-endian per spec.md §6, unlike the rest
		// of the core's wire payloads.
		out := payload.BuildGPIOIn(value, int64(ts/1e9), int64(ts%1e9))
		select {
		case <-b.stop:
			return
		default:
		}
		if b.emit != nil {
			b.emit(out)
		}
	}
}

// OnData validates and applies a one-byte {0,1} output value, matching
// gpio_on_data's "len==1 && value<=1, else log and drop the frame"
// rule; a malformed frame is dropped without tearing down the
// endpoint.
func (b *GPIOBackend) OnData(payload []byte) error {
	if !b.out {
		return nil
	}
	if len(payload) != 1 || payload[0] > 1 {
		return errcode.New(errcode.InvalidArgument, "gpio.OnData", fmt.Sprintf("invalid value frame: %v", payload), nil)
	}
	data := unix.GpioHandleData{}
	data.Values[0] = payload[0]
	return mapIoctlErr(unix.IoctlGpioHandleSetLineValues(b.lineFd, &data))
}

func mapIoctlErr(err error) error {
	if err == nil {
		return nil
	}
	return errcode.New(errcode.MapErrno(err), "gpio", "", err)
}

func (b *GPIOBackend) Close() error {
	if b.stop != nil {
		close(b.stop)
	}
	if b.lineFd >= 0 {
		unix.Close(b.lineFd)
	}
	if b.chipFd >= 0 {
		unix.Close(b.chipFd)
	}
	b.lineFd, b.chipFd = -1, -1
	return nil
}
