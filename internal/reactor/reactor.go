// Package reactor is an epoll-based event loop: fd readiness and
// one-shot and periodic timers. It plays the role event_base played in
// the original C library, rebuilt on golang.org/x/sys/unix instead of
// libevent. A Fabric exposes its Reactor (Fabric.Reactor) so an
// embedding program can register its own fds and timers on it; the
// endpoint relays and client sessions do not run on it, they run on
// their own goroutines (internal/endpoint/relay.go, internal/session).
//
// Registration calls (RegisterFD/UnregisterFD/AddTimer/CancelTimer)
// take an internal mutex, but Dispatch/Run must be driven from one
// goroutine at a time. That goroutine is free to be any goroutine —
// the constraint is "one loop, one caller at a time", not an OS thread
// pin.
package reactor

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"epfabric/errcode"
)

// Events is a bitmask of readiness conditions, mirroring EPOLLIN/EPOLLOUT.
type Events uint32

const (
	Read  Events = unix.EPOLLIN
	Write Events = unix.EPOLLOUT
)

// Callback is invoked with the readiness bits observed for a registered fd.
type Callback func(ev Events)

// TimerID identifies a scheduled timer for cancellation.
type TimerID uint64

type timerEntry struct {
	id       TimerID
	deadline time.Time
	period   time.Duration // 0 for one-shot
	fn       func()
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Reactor is one event loop instance. The root package keeps a single
// process-wide instance behind Init/Shutdown/Reinit (see epfabric.go);
// tests construct their own short-lived instances directly.
type Reactor struct {
	mu sync.Mutex // guards registration bookkeeping only, not Dispatch itself

	epfd      int
	callbacks map[int]Callback
	timers    timerHeap
	nextTimer TimerID
	closed    bool
}

// New creates a Reactor backed by a fresh epoll instance.
func New() (*Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errcode.New(errcode.Io, "reactor.New", "epoll_create1", err)
	}
	return &Reactor{
		epfd:      fd,
		callbacks: make(map[int]Callback),
	}, nil
}

// RegisterFD starts watching fd for the given events, invoking cb on
// each readiness wake. Registering an fd that is already registered
// replaces its callback and interest set.
func (r *Reactor) RegisterFD(fd int, events Events, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.callbacks[fd]
	r.callbacks[fd] = cb
	op := unix.EPOLL_CTL_ADD
	if existed {
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		delete(r.callbacks, fd)
		return errcode.New(errcode.Io, "reactor.RegisterFD", "epoll_ctl", err)
	}
	return nil
}

// UnregisterFD stops watching fd. It is a no-op if fd is not registered.
func (r *Reactor) UnregisterFD(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[fd]; !ok {
		return
	}
	delete(r.callbacks, fd)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// AddTimer schedules fn to run once after d elapses.
func (r *Reactor) AddTimer(d time.Duration, fn func()) TimerID {
	return r.addTimer(d, 0, fn)
}

// AddTicker schedules fn to run every period, starting after period elapses.
func (r *Reactor) AddTicker(period time.Duration, fn func()) TimerID {
	return r.addTimer(period, period, fn)
}

func (r *Reactor) addTimer(delay, period time.Duration, fn func()) TimerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTimer++
	e := &timerEntry{id: r.nextTimer, deadline: time.Now().Add(delay), period: period, fn: fn}
	heap.Push(&r.timers, e)
	return e.id
}

// CancelTimer removes a pending timer. It is a no-op if the timer has
// already fired (for one-shots) or doesn't exist.
func (r *Reactor) CancelTimer(id TimerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.timers {
		if e.id == id {
			heap.Remove(&r.timers, i)
			return
		}
	}
}

// Dispatch blocks for at most one iteration: it waits until either an
// fd becomes ready, the earliest timer is due, or deadline elapses
// (zero deadline means "wait for the next timer or forever if none"),
// then runs ready callbacks and the timers that are due once the wait
// returns. It returns the number of callbacks invoked.
func (r *Reactor) Dispatch(deadline time.Time) (int, error) {
	timeoutMs := r.computeTimeoutMs(deadline)

	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errcode.New(errcode.Io, "reactor.Dispatch", "epoll_wait", err)
	}

	r.mu.Lock()
	ready := make([]struct {
		cb Callback
		ev Events
	}, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if cb, ok := r.callbacks[fd]; ok {
			ready = append(ready, struct {
				cb Callback
				ev Events
			}{cb, Events(events[i].Events)})
		}
	}
	r.mu.Unlock()

	for _, item := range ready {
		item.cb(item.ev)
	}

	fired := r.fireDueTimers()
	return len(ready) + fired, nil
}

func (r *Reactor) computeTimeoutMs(deadline time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var timeout time.Duration = -1 // block indefinitely
	if len(r.timers) > 0 {
		timeout = time.Until(r.timers[0].deadline)
		if timeout < 0 {
			timeout = 0
		}
	}
	if !deadline.IsZero() {
		untilDeadline := time.Until(deadline)
		if untilDeadline < 0 {
			untilDeadline = 0
		}
		if timeout < 0 || untilDeadline < timeout {
			timeout = untilDeadline
		}
	}
	if timeout < 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

func (r *Reactor) fireDueTimers() int {
	now := time.Now()
	fired := 0
	for {
		r.mu.Lock()
		if len(r.timers) == 0 || r.timers[0].deadline.After(now) {
			r.mu.Unlock()
			break
		}
		e := heap.Pop(&r.timers).(*timerEntry)
		if e.period > 0 {
			e.deadline = now.Add(e.period)
			heap.Push(&r.timers, e)
		}
		r.mu.Unlock()
		e.fn()
		fired++
	}
	return fired
}

// Run dispatches in a loop until stop returns true or an error occurs.
func (r *Reactor) Run(stop func() bool) error {
	for !stop() {
		if _, err := r.Dispatch(time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Reinit discards the current epoll instance and opens a fresh one,
// re-registering every previously-watched fd against it. This is the
// Go counterpart of the original library's post-fork refresh: an
// inherited epoll fd observes the parent's interest list, not the
// child's, so the child must rebuild it before dispatching.
func (r *Reactor) Reinit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errcode.New(errcode.Io, "reactor.Reinit", "epoll_create1", err)
	}
	for fd := range r.callbacks {
		ev := unix.EpollEvent{Events: uint32(Read | Write), Fd: int32(fd)}
		if err := unix.EpollCtl(newFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(newFd)
			return errcode.New(errcode.Io, "reactor.Reinit", "epoll_ctl", err)
		}
	}
	unix.Close(r.epfd)
	r.epfd = newFd
	return nil
}

// Close releases the epoll file descriptor. The Reactor must not be
// used afterward.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.epfd)
}
