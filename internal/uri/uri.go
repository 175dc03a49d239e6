// Package uri implements spec.md §6's endpoint URI grammar:
// "<scheme>://<path>", with a schemeless string treated as a loopback
// name. It is the Go counterpart of the original library's uri.c.
package uri

import (
	"strings"

	"epfabric/errcode"
	"epfabric/internal/endpoint"
)

// Parsed is a URI split into its endpoint kind and kind-specific path.
type Parsed struct {
	Kind endpoint.Kind
	Path string // for Kind==LOOP, Path holds the loopback name itself
}

var schemeKind = map[string]endpoint.Kind{
	"ipc":   endpoint.IPC,
	"inet":  endpoint.INET,
	"tty":   endpoint.TTY,
	"gpio":  endpoint.GPIO,
	"spi":   endpoint.SPI,
	"i2c":   endpoint.I2C,
	"sysfs": endpoint.SYSFS,
}

// Parse splits raw into a scheme and path. A string with no
// "scheme://" prefix is a loopback name: the whole string becomes
// Path and Kind is endpoint.LOOP.
func Parse(raw string) (Parsed, error) {
	scheme, path, ok := strings.Cut(raw, "://")
	if !ok {
		return Parsed{Kind: endpoint.LOOP, Path: raw}, nil
	}
	kind, ok := schemeKind[scheme]
	if !ok {
		return Parsed{}, errcode.New(errcode.InvalidArgument, "uri.Parse", "unknown scheme: "+scheme, nil)
	}
	return Parsed{Kind: kind, Path: path}, nil
}

// ConnectableKind reports whether kind is one connect() may target:
// client sessions speak only to IPC or INET endpoints (spec.md
// invariant 7).
func ConnectableKind(k endpoint.Kind) bool {
	return k == endpoint.IPC || k == endpoint.INET
}
