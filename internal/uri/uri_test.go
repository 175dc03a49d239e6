package uri

import (
	"testing"

	"epfabric/internal/endpoint"
)

func TestParseSchemes(t *testing.T) {
	cases := []struct {
		raw  string
		kind endpoint.Kind
		path string
	}{
		{"ipc://@my-socket", endpoint.IPC, "@my-socket"},
		{"inet://0.0.0.0:9110", endpoint.INET, "0.0.0.0:9110"},
		{"tty:///dev/ttyUSB0,115200", endpoint.TTY, "/dev/ttyUSB0,115200"},
		{"gpio://0,4,out", endpoint.GPIO, "0,4,out"},
		{"spi:///dev/spidev0.0,500000", endpoint.SPI, "/dev/spidev0.0,500000"},
		{"i2c:///dev/i2c-1", endpoint.I2C, "/dev/i2c-1"},
		{"sysfs://gpio:gpio17", endpoint.SYSFS, "gpio:gpio17"},
	}
	for _, c := range cases {
		p, err := Parse(c.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.raw, err)
		}
		if p.Kind != c.kind || p.Path != c.path {
			t.Fatalf("Parse(%q) = %v/%q, want %v/%q", c.raw, p.Kind, p.Path, c.kind, c.path)
		}
	}
}

func TestParseSchemelessIsLoopback(t *testing.T) {
	p, err := Parse("my-loop")
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != endpoint.LOOP || p.Path != "my-loop" {
		t.Fatalf("Parse(loopback) = %v/%q", p.Kind, p.Path)
	}
}

func TestParseUnknownScheme(t *testing.T) {
	if _, err := Parse("ftp://nope"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestConnectableKind(t *testing.T) {
	if !ConnectableKind(endpoint.IPC) || !ConnectableKind(endpoint.INET) {
		t.Fatal("ipc and inet should be connectable")
	}
	if ConnectableKind(endpoint.TTY) || ConnectableKind(endpoint.LOOP) {
		t.Fatal("only ipc/inet should be connectable")
	}
}
