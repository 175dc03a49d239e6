// Command relay opens two endpoints named on the command line, binds
// them, and runs until interrupted — the general form of demo/relay.c:
// any two compatible endpoint kinds (two IPC sockets, a TTY and an
// IPC socket, and so on) can be patched together this way.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"epfabric"
)

func main() {
	left := flag.String("a", "", "first endpoint uri, e.g. ipc://@relay-a")
	right := flag.String("b", "", "second endpoint uri, e.g. tty:///dev/ttyUSB0,115200")
	flag.Parse()
	if *left == "" || *right == "" {
		fmt.Fprintln(os.Stderr, "usage: relay -a <uri> -b <uri>")
		os.Exit(2)
	}

	f, err := epfabric.New()
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	a, err := f.Open(*left)
	if err != nil {
		fatal(err)
	}
	b, err := f.Open(*right)
	if err != nil {
		fatal(err)
	}
	if err := f.Bind(a, b); err != nil {
		fatal(err)
	}

	fmt.Printf("relay: %s <-> %s\n", *left, *right)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	f.Unbind(a)
	f.Close(a)
	f.Close(b)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "relay:", err)
	os.Exit(1)
}
