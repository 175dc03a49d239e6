package errcode

import (
	"errors"
	"syscall"
	"testing"
)

func TestOfExtractsBareCode(t *testing.T) {
	if got := Of(InvalidArgument); got != InvalidArgument {
		t.Fatalf("Of(bare code) = %q, want %q", got, InvalidArgument)
	}
}

func TestOfExtractsWrappedCode(t *testing.T) {
	e := New(NotFound, "bind", "no such endpoint", nil)
	if got := Of(e); got != NotFound {
		t.Fatalf("Of(*E) = %q, want %q", got, NotFound)
	}
}

func TestOfDefaultsToError(t *testing.T) {
	if got := Of(errors.New("boom")); got != Error {
		t.Fatalf("Of(plain error) = %q, want %q", got, Error)
	}
	if got := Of(nil); got != OK {
		t.Fatalf("Of(nil) = %q, want %q", got, OK)
	}
}

func TestEUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := New(Io, "tty.read", "", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestMapErrno(t *testing.T) {
	cases := []struct {
		in   error
		want Code
	}{
		{syscall.EINVAL, InvalidArgument},
		{syscall.ENOENT, NotFound},
		{syscall.EBUSY, Conflict},
		{syscall.ENOSPC, ResourceExhausted},
		{syscall.ETIMEDOUT, Timeout},
		{syscall.EPIPE, PeerClosed},
		{syscall.EOPNOTSUPP, Unsupported},
		{errors.New("not an errno"), Io},
		{nil, OK},
	}
	for _, c := range cases {
		if got := MapErrno(c.in); got != c.want {
			t.Errorf("MapErrno(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
