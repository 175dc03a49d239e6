// Package payload builds and parses the fixed, kind-specific byte
// layouts spec.md §6 defines for GPIO/SPI/I2C/SYSFS frames. It is
// shared by every producer and consumer of those layouts: the
// endpoint kinds themselves (internal/endpoint), the switch's typed
// xfer helpers (internal/switchboard), and the client session's typed
// send helpers (internal/session), so the wire format is defined
// exactly once.
package payload

import (
	"encoding/binary"

	"epfabric/errcode"
)

// GPIOOut builds the one-byte {value} payload an output GPIO line
// expects; value must be 0 or 1.
func GPIOOut(value byte) []byte { return []byte{value} }

// BuildGPIOIn encodes the 17-byte {value, ts_sec, ts_nsec} payload an
// input GPIO line emits on an edge event. spec.md §6 calls out ts_sec
// and ts_nsec as host-endian — like SPI's tx_len, and unlike the frame
// header and the I2C fields, which are big-endian/network-order — so
// they're packed with binary.NativeEndian rather than binary.BigEndian.
func BuildGPIOIn(value byte, tsSec, tsNsec int64) []byte {
	out := make([]byte, 17)
	out[0] = value
	binary.NativeEndian.PutUint64(out[1:9], uint64(tsSec))
	binary.NativeEndian.PutUint64(out[9:17], uint64(tsNsec))
	return out
}

// GPIOIn decodes the 17-byte {value, ts_sec, ts_nsec} payload an input
// GPIO line emits on an edge event. ts_sec/ts_nsec are host-endian per
// spec.md §6, the counterpart of BuildGPIOIn's encoding.
func GPIOIn(payload []byte) (value byte, tsSec, tsNsec int64, err error) {
	if len(payload) != 17 {
		return 0, 0, 0, errcode.New(errcode.Protocol, "payload.GPIOIn", "want 17 bytes", nil)
	}
	value = payload[0]
	tsSec = int64(binary.NativeEndian.Uint64(payload[1:9]))
	tsNsec = int64(binary.NativeEndian.Uint64(payload[9:17]))
	return value, tsSec, tsNsec, nil
}

// SPI builds the {tx_len:u16, read_flag:u8, tx[tx_len]} request
// payload for an SPI transaction: read requests the rx bytes be
// returned as a reply frame, write-only transactions discard them.
// spec.md §6 marks tx_len as host-endian, distinct from every other
// u16/u32 field in this package, so it's packed with
// binary.NativeEndian rather than binary.BigEndian.
func SPI(tx []byte, read bool) []byte {
	out := make([]byte, 3+len(tx))
	binary.NativeEndian.PutUint16(out[0:2], uint16(len(tx)))
	if read {
		out[2] = 1
	}
	copy(out[3:], tx)
	return out
}

// ParseSPI decodes an SPI request payload back into its tx bytes and
// read flag, the form the SPI backend's OnData consumes.
func ParseSPI(p []byte) (tx []byte, read bool, err error) {
	if len(p) < 3 {
		return nil, false, errcode.New(errcode.Protocol, "payload.ParseSPI", "short spi payload", nil)
	}
	txLen := binary.NativeEndian.Uint16(p[0:2])
	read = p[2] != 0
	if len(p) != 3+int(txLen) {
		return nil, false, errcode.New(errcode.Protocol, "payload.ParseSPI", "tx_len mismatch", nil)
	}
	return p[3:], read, nil
}

// I2C builds the {addr:u16, wlen:u16, rlen:u16, write[wlen]} request
// payload for an I2C transaction. At least one of len(write)/rlen must
// be non-zero, enforced by the I2C backend, not here.
func I2C(addr uint16, write []byte, rlen uint16) []byte {
	out := make([]byte, 6+len(write))
	binary.BigEndian.PutUint16(out[0:2], addr)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(write)))
	binary.BigEndian.PutUint16(out[4:6], rlen)
	copy(out[6:], write)
	return out
}

// ParseI2C decodes an I2C request payload.
func ParseI2C(p []byte) (addr uint16, write []byte, rlen uint16, err error) {
	if len(p) < 6 {
		return 0, nil, 0, errcode.New(errcode.Protocol, "payload.ParseI2C", "short i2c payload", nil)
	}
	addr = binary.BigEndian.Uint16(p[0:2])
	wlen := binary.BigEndian.Uint16(p[2:4])
	rlen = binary.BigEndian.Uint16(p[4:6])
	if len(p) != 6+int(wlen) {
		return 0, nil, 0, errcode.New(errcode.Protocol, "payload.ParseI2C", "wlen mismatch", nil)
	}
	return addr, p[6:], rlen, nil
}

// Sysfs builds a "attr" (read) or "attr=value" (write, value may be
// empty) request payload for a SYSFS endpoint.
func Sysfs(attr string, value string, write bool) []byte {
	if !write {
		return []byte(attr)
	}
	return []byte(attr + "=" + value)
}

// ParseSysfs splits a SYSFS request payload into attr/value/isWrite.
func ParseSysfs(p []byte) (attr, value string, write bool) {
	s := string(p)
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
