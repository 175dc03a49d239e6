package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDispatchFiresFDReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	got := make(chan Events, 1)
	if err := r.RegisterFD(fds[0], Read, func(ev Events) { got <- ev }); err != nil {
		t.Fatalf("RegisterFD: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := r.Dispatch(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one event")
	}
	select {
	case ev := <-got:
		if ev&Read == 0 {
			t.Fatalf("expected Read bit set, got %v", ev)
		}
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestDispatchFiresTimer(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	fired := make(chan struct{}, 1)
	r.AddTimer(10*time.Millisecond, func() { fired <- struct{}{} })

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := r.Dispatch(deadline); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		select {
		case <-fired:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("timer never fired")
		}
	}
}

func TestCancelTimerPreventsFire(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	fired := false
	id := r.AddTimer(5*time.Millisecond, func() { fired = true })
	r.CancelTimer(id)

	r.Dispatch(time.Now().Add(20 * time.Millisecond))
	if fired {
		t.Fatal("cancelled timer fired anyway")
	}
}

func TestUnregisterFDStopsCallbacks(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	calls := 0
	r.RegisterFD(fds[0], Read, func(ev Events) { calls++ })
	r.UnregisterFD(fds[0])

	unix.Write(fds[1], []byte("x"))
	r.Dispatch(time.Now().Add(50 * time.Millisecond))
	if calls != 0 {
		t.Fatalf("expected no callbacks after unregister, got %d", calls)
	}
}
