package endpoint

import (
	"sync"

	"epfabric/internal/loopback"
)

// LoopBackend adapts a loopback.Entry to the Backend interface so it
// can be registered and bound exactly like any other endpoint kind.
// Two independent directions flow through it, same as PortBackend:
// OnData (frames arriving from the bound peer) delivers to the
// entry's xfer_setcb callback, while Emit (installed by the relay via
// SetEmit once bound) carries an in-process xfer() call out to the
// peer.
type LoopBackend struct {
	entry *loopback.Entry

	mu   sync.Mutex
	emit func(payload []byte)
}

// NewLoopBackend opens (or reuses) the named loopback entry.
func NewLoopBackend(reg *loopback.Registry, name string) *LoopBackend {
	return &LoopBackend{entry: reg.Open(name)}
}

func (b *LoopBackend) Open(_ string) error { return nil }
func (b *LoopBackend) Close() error        { b.entry.SetCallback(nil); return nil }
func (b *LoopBackend) Kind() Kind          { return LOOP }

// OnData delivers a frame payload to the loopback entry's registered
// callback, if any.
func (b *LoopBackend) OnData(payload []byte) error {
	b.entry.Deliver(payload)
	return nil
}

func (b *LoopBackend) SetEmit(emit func(payload []byte)) {
	b.mu.Lock()
	b.emit = emit
	b.mu.Unlock()
}

// Emit pushes payload out to the bound peer, if any, and reports
// whether a peer was available to receive it.
func (b *LoopBackend) Emit(payload []byte) bool {
	b.mu.Lock()
	emit := b.emit
	b.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(payload)
	return true
}

// Entry exposes the underlying loopback entry, e.g. so the root
// package can install a xfer_setcb callback directly.
func (b *LoopBackend) Entry() *loopback.Entry { return b.entry }
