// Package loopback implements the backend-less, globally-named
// in-process endpoint kind (C9): a named entry that any client session
// or bound endpoint can transfer frames into, with no socket, serial
// line, or other OS resource behind it. This is the Go counterpart of
// the original library's ep_loop.c.
package loopback

import (
	"sync"

	"epfabric/errcode"
)

// Callback receives a frame payload delivered to a loopback entry.
type Callback func(payload []byte)

// Entry is one named loopback endpoint.
type Entry struct {
	Name string

	mu sync.Mutex
	cb Callback
}

// SetCallback installs (or clears, with nil) the handler invoked on
// every Xfer/Evxfer delivered to this entry — the loop endpoint's
// counterpart to a bound endpoint's on_data.
func (e *Entry) SetCallback(cb Callback) {
	e.mu.Lock()
	e.cb = cb
	e.mu.Unlock()
}

// Deliver invokes the current callback, if any, with payload. It is a
// no-op if no callback is installed, mirroring the original's silent
// drop when upstream has no bound peer.
func (e *Entry) Deliver(payload []byte) {
	e.mu.Lock()
	cb := e.cb
	e.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
}

// Registry is the process-wide name -> Entry map.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry returns an empty loopback registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Open returns the entry named name, creating it if this is the first
// reference. Loopback entries have no open/close resource lifecycle of
// their own; they live for as long as the registry does, matching the
// original's process-lifetime loop table.
func (r *Registry) Open(name string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &Entry{Name: name}
		r.entries[name] = e
	}
	return e
}

// Lookup finds an existing entry without creating one.
func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "loopback.Lookup", name, nil)
	}
	return e, nil
}

// Xfer delivers payload to the named entry synchronously, failing with
// NotFound if it doesn't exist yet.
func (r *Registry) Xfer(name string, payload []byte) error {
	e, err := r.Lookup(name)
	if err != nil {
		return err
	}
	e.Deliver(payload)
	return nil
}
