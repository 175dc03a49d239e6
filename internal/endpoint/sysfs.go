package endpoint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"epfabric/errcode"
	"epfabric/internal/payload"
)

// SYSFSBackend is a sysfs-attribute endpoint: spec.md's sysfs://
// scheme. The device directory is resolved, in order, as a direct
// sys-path, a "subsystem:device" pair under /sys/class, or a bare
// device-id searched for under /sys/bus/*/devices, matching §4.5's
// resolver-tries-these-in-order contract.
type SYSFSBackend struct {
	dir string

	mu   sync.Mutex
	emit func(payload []byte)
}

func NewSYSFSBackend() *SYSFSBackend { return &SYSFSBackend{} }

func (b *SYSFSBackend) Kind() Kind                          { return SYSFS }
func (b *SYSFSBackend) SetEmit(emit func(payload []byte)) { b.mu.Lock(); b.emit = emit; b.mu.Unlock() }

func resolveSysfsDir(path string) (string, error) {
	if strings.HasPrefix(path, "/") {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}
		return "", errcode.New(errcode.NotFound, "sysfs.Open", path, nil)
	}
	if subsystem, device, ok := strings.Cut(path, ":"); ok {
		dir := filepath.Join("/sys/class", subsystem, device)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
		return "", errcode.New(errcode.NotFound, "sysfs.Open", path, nil)
	}
	matches, err := filepath.Glob(filepath.Join("/sys/bus", "*", "devices", path))
	if err != nil || len(matches) == 0 {
		return "", errcode.New(errcode.NotFound, "sysfs.Open", path, nil)
	}
	return matches[0], nil
}

func (b *SYSFSBackend) Open(path string) error {
	dir, err := resolveSysfsDir(path)
	if err != nil {
		return err
	}
	b.dir = dir
	return nil
}

// OnData implements both sysfs request shapes: a bare "attr" reads the
// attribute and emits "attr=value" back; "attr=value" writes value
// (which may be empty) to the attribute and emits nothing.
func (b *SYSFSBackend) OnData(p []byte) error {
	attr, value, write := payload.ParseSysfs(p)
	path := filepath.Join(b.dir, attr)
	if write {
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return errcode.New(errcode.Io, "sysfs.OnData", path, err)
		}
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errcode.New(errcode.Io, "sysfs.OnData", path, err)
	}
	reply := payload.Sysfs(attr, strings.TrimRight(string(raw), "\n"), true)
	b.mu.Lock()
	emit := b.emit
	b.mu.Unlock()
	if emit != nil {
		emit(reply)
	}
	return nil
}

func (b *SYSFSBackend) Close() error { return nil }
