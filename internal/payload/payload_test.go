package payload

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestGPIORoundTrip(t *testing.T) {
	p := GPIOOut(1)
	if !bytes.Equal(p, []byte{1}) {
		t.Fatalf("GPIOOut(1) = %v", p)
	}

	event := BuildGPIOIn(1, 1700000000, 500)
	value, sec, nsec, err := GPIOIn(event)
	if err != nil {
		t.Fatal(err)
	}
	if value != 1 || sec != 1700000000 || nsec != 500 {
		t.Fatalf("GPIOIn = %d, %d, %d", value, sec, nsec)
	}
}

// TestGPIOInHostEndian pins down that ts_sec/ts_nsec are packed
// host-endian, not forced big-endian like the rest of the package's
// fields (spec.md §6's carve-out for GPIO timestamps and SPI's
// tx_len).
func TestGPIOInHostEndian(t *testing.T) {
	event := BuildGPIOIn(0, 1700000000, 500)
	wantSec := make([]byte, 8)
	binary.NativeEndian.PutUint64(wantSec, 1700000000)
	wantNsec := make([]byte, 8)
	binary.NativeEndian.PutUint64(wantNsec, 500)
	if !bytes.Equal(event[1:9], wantSec) || !bytes.Equal(event[9:17], wantNsec) {
		t.Fatalf("BuildGPIOIn did not use host-native byte order: %v", event)
	}
}

func TestGPIOInRejectsShortPayload(t *testing.T) {
	if _, _, _, err := GPIOIn([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestSPIRoundTrip(t *testing.T) {
	p := SPI([]byte{0x01, 0x02}, true)
	tx, read, err := ParseSPI(p)
	if err != nil {
		t.Fatal(err)
	}
	if !read || !bytes.Equal(tx, []byte{0x01, 0x02}) {
		t.Fatalf("ParseSPI = %v, %v", tx, read)
	}
}

func TestI2CRoundTrip(t *testing.T) {
	p := I2C(0x20, []byte{0x01}, 2)
	addr, write, rlen, err := ParseI2C(p)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x20 || rlen != 2 || !bytes.Equal(write, []byte{0x01}) {
		t.Fatalf("ParseI2C = %#x, %v, %d", addr, write, rlen)
	}
}

func TestSysfsRoundTrip(t *testing.T) {
	p := Sysfs("direction", "out", true)
	attr, value, write := ParseSysfs(p)
	if attr != "direction" || value != "out" || !write {
		t.Fatalf("ParseSysfs = %q, %q, %v", attr, value, write)
	}
}
