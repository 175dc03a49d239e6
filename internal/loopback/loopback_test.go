package loopback

import "testing"

func TestOpenCreatesThenReuses(t *testing.T) {
	r := NewRegistry()
	a := r.Open("foo")
	b := r.Open("foo")
	if a != b {
		t.Fatal("expected the same entry for repeated Open of the same name")
	}
}

func TestDeliverWithoutCallbackIsSilent(t *testing.T) {
	e := &Entry{Name: "x"}
	e.Deliver([]byte("hi")) // must not panic
}

func TestXferDeliversToCallback(t *testing.T) {
	r := NewRegistry()
	e := r.Open("chan1")
	got := make(chan []byte, 1)
	e.SetCallback(func(p []byte) { got <- p })

	if err := r.Xfer("chan1", []byte("payload")); err != nil {
		t.Fatalf("Xfer: %v", err)
	}
	select {
	case p := <-got:
		if string(p) != "payload" {
			t.Fatalf("got %q", p)
		}
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestXferUnknownNameIsNotFound(t *testing.T) {
	r := NewRegistry()
	if err := r.Xfer("nope", []byte("x")); err == nil {
		t.Fatal("expected NotFound for an unopened loopback name")
	}
}
