// Command broadcast reproduces demo/broadcast.c: a switch with three
// ports p1/p2/p3, each bound to its own IPC endpoint, demonstrating
// the default fan-out policy — anything p1 sends reaches p2 and p3
// but not itself.
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

	sw, err := f.SwitchCreate()
	if err != nil {
		fatal(err)
	}

	ports := map[string]int{}
	clients := map[string]int{}
	for _, name := range []string{"p1", "p2", "p3"} {
		port, err := f.Port(sw, name)
		if err != nil {
			fatal(err)
		}
		ep, err := f.Open("ipc://@epfabric-broadcast-" + name)
		if err != nil {
			fatal(err)
		}
		if err := f.Bind(port, ep); err != nil {
			fatal(err)
		}
		client, err := f.Connect("ipc://@epfabric-broadcast-" + name)
		if err != nil {
			fatal(err)
		}
		ports[name], clients[name] = port, client
	}

	got := make(chan string, 8)
	for _, name := range []string{"p1", "p2", "p3"} {
		name := name
		f.SetCB(clients[name], func(_ int, payload []byte, _ any) {
			got <- name + ":" + string(payload)
		}, nil, nil, 0)
	}

	if err := f.Send(clients["p1"], []byte("hi")); err != nil {
		fatal(err)
	}

	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case msg := <-got:
			fmt.Println(msg)
			seen[msg] = true
		case <-deadline:
			fmt.Fprintln(os.Stderr, "broadcast: timed out; got", len(seen), "of 2 expected deliveries")
			os.Exit(1)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "broadcast:", err)
	os.Exit(1)
}
