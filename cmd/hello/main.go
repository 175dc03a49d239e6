// Command hello reproduces the original demo/hello.c walkthrough: open
// two IPC endpoints, bind them, connect a client to each side, and
// show one payload crossing the fabric from A to B.
package main

import (
	"fmt"
	"os"
	"time"

	"epfabric"
)

func main() {
	f, err := epfabric.New()
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	a, err := f.Open("ipc://@epfabric-hello-a")
	if err != nil {
		fatal(err)
	}
	b, err := f.Open("ipc://@epfabric-hello-b")
	if err != nil {
		fatal(err)
	}
	if err := f.Bind(a, b); err != nil {
		fatal(err)
	}

	clientA, err := f.Connect("ipc://@epfabric-hello-a")
	if err != nil {
		fatal(err)
	}
	clientB, err := f.Connect("ipc://@epfabric-hello-b")
	if err != nil {
		fatal(err)
	}

	received := make(chan string, 1)
	f.SetCB(clientB, func(_ int, payload []byte, _ any) {
		received <- string(payload)
	}, nil, nil, 0)

	if err := f.Send(clientA, []byte("foo")); err != nil {
		fatal(err)
	}

	select {
	case payload := <-received:
		fmt.Printf("B received %q (len=%d)\n", payload, len(payload))
	case <-time.After(2 * time.Second):
		fmt.Fprintln(os.Stderr, "hello: timed out waiting for relay")
		os.Exit(1)
	}

	f.CloseSession(clientA)
	f.CloseSession(clientB)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "hello:", err)
	os.Exit(1)
}
