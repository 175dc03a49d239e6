package endpoint

import "sync"

// PortBackend is the PORT kind's backend: a named, first-class
// endpoint owned by a switch (internal/switchboard). It has no OS
// resource of its own. Two independent directions flow through it:
// Dispatch handles frames arriving from the bound peer (per-port hook,
// then switch-wide hook, then default broadcast — spec.md §4.7), and
// Emit (wired by the relay once bound, via SetEmit) carries frames the
// switch injects from in-process code (xfer) out to the peer. Both are
// kept as plain func fields rather than an interface back-reference to
// avoid an import cycle between endpoint and switchboard.
type PortBackend struct {
	Name     string
	Dispatch func(payload []byte) error

	mu   sync.Mutex
	emit func(payload []byte)
}

func (b *PortBackend) Open(_ string) error { return nil }
func (b *PortBackend) Close() error        { return nil }
func (b *PortBackend) Kind() Kind          { return PORT }

func (b *PortBackend) OnData(payload []byte) error {
	if b.Dispatch == nil {
		return nil
	}
	return b.Dispatch(payload)
}

// SetEmit is called by the relay once this port is bound, installing
// the function that pushes a frame out to the bound peer.
func (b *PortBackend) SetEmit(emit func(payload []byte)) {
	b.mu.Lock()
	b.emit = emit
	b.mu.Unlock()
}

// Emit pushes payload out to the bound peer, if any, and reports
// whether a peer was available to receive it.
func (b *PortBackend) Emit(payload []byte) bool {
	b.mu.Lock()
	emit := b.emit
	b.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(payload)
	return true
}
