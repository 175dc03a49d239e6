// Command epctl is a line-oriented admin shell over the public
// epfabric API, in the spirit of the original demo/switch.c sample
// but generalized to every operation in the package rather than one
// fixed topology: open/close/bind/unbind endpoints, connect/send
// client sessions, and create/wire switch ports, all from typed
// commands read off stdin.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"epfabric"
)

type shell struct {
	f        *epfabric.Fabric
	switches map[int]bool
}

func main() {
	f, err := epfabric.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "epctl:", err)
		os.Exit(1)
	}
	defer f.Close()

	sh := &shell{f: f, switches: make(map[int]bool)}
	sh.run(os.Stdin, os.Stdout)
}

func (sh *shell) run(in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "epctl> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			sh.dispatch(line, out)
		}
		fmt.Fprint(out, "epctl> ")
	}
	fmt.Fprintln(out)
}

func (sh *shell) dispatch(line string, out *os.File) {
	args, err := shlex.Split(line)
	if err != nil || len(args) == 0 {
		fmt.Fprintln(out, "parse error:", err)
		return
	}
	cmd, rest := args[0], args[1:]

	var result string
	switch cmd {
	case "help":
		result = helpText
	case "open":
		result = sh.cmdOpen(rest)
	case "close":
		result = sh.cmdClose(rest)
	case "bind":
		result = sh.cmdBind(rest)
	case "unbind":
		result = sh.cmdUnbind(rest)
	case "connect":
		result = sh.cmdConnect(rest)
	case "send":
		result = sh.cmdSend(rest)
	case "switch":
		result = sh.cmdSwitchCreate()
	case "port":
		result = sh.cmdPort(rest)
	case "xfer":
		result = sh.cmdXfer(rest)
	case "loopxfer":
		result = sh.cmdLoopXfer(rest)
	case "quit", "exit":
		os.Exit(0)
	default:
		result = "unknown command: " + cmd
	}
	fmt.Fprintln(out, result)
}

const helpText = `commands:
  open <uri>               open an endpoint, prints its descriptor
  close <desc>              close an endpoint, port, or loopback descriptor
  bind <a> <b>               bind two descriptors
  unbind <desc>              unbind a descriptor from its peer
  connect <uri>              connect a client session, prints its context
  send <ctx> <data>          send data over a client session
  switch                     create a switch, prints its descriptor
  port <switch> <name>       add a named port, prints its descriptor
  xfer <switch> <name> <data> inject data into a named port
  loopxfer <name> <data>     inject data into a loopback entry
  quit                       exit`

func (sh *shell) cmdOpen(args []string) string {
	if len(args) != 1 {
		return "usage: open <uri>"
	}
	desc, err := sh.f.Open(args[0])
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("opened %d", desc)
}

func (sh *shell) cmdClose(args []string) string {
	desc, err := parseDesc(args)
	if err != nil {
		return err.Error()
	}
	if err := sh.f.Close(desc); err != nil {
		return err.Error()
	}
	return "closed"
}

func (sh *shell) cmdBind(args []string) string {
	if len(args) != 2 {
		return "usage: bind <a> <b>"
	}
	a, errA := strconv.Atoi(args[0])
	b, errB := strconv.Atoi(args[1])
	if errA != nil || errB != nil {
		return "descriptors must be integers"
	}
	if err := sh.f.Bind(a, b); err != nil {
		return err.Error()
	}
	return "bound"
}

func (sh *shell) cmdUnbind(args []string) string {
	desc, err := parseDesc(args)
	if err != nil {
		return err.Error()
	}
	if err := sh.f.Unbind(desc); err != nil {
		return err.Error()
	}
	return "unbound"
}

func (sh *shell) cmdConnect(args []string) string {
	if len(args) != 1 {
		return "usage: connect <uri>"
	}
	ctx, err := sh.f.Connect(args[0])
	if err != nil {
		return err.Error()
	}
	sh.f.SetCB(ctx, func(_ int, payload []byte, _ any) {
		fmt.Printf("\nctx %d received %q\n", ctx, payload)
	}, func(_ int, events uint32, _ any) {
		fmt.Printf("\nctx %d closed (events=%d)\n", ctx, events)
	}, nil, 0)
	return fmt.Sprintf("connected %d", ctx)
}

func (sh *shell) cmdSend(args []string) string {
	if len(args) != 2 {
		return "usage: send <ctx> <data>"
	}
	ctx, err := strconv.Atoi(args[0])
	if err != nil {
		return "ctx must be an integer"
	}
	if err := sh.f.Send(ctx, []byte(args[1])); err != nil {
		return err.Error()
	}
	return "sent"
}

func (sh *shell) cmdSwitchCreate() string {
	id, err := sh.f.SwitchCreate()
	if err != nil {
		return err.Error()
	}
	sh.switches[id] = true
	return fmt.Sprintf("switch %d", id)
}

func (sh *shell) cmdPort(args []string) string {
	if len(args) != 2 {
		return "usage: port <switch> <name>"
	}
	sw, err := strconv.Atoi(args[0])
	if err != nil {
		return "switch must be an integer"
	}
	desc, err := sh.f.Port(sw, args[1])
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("port %d", desc)
}

func (sh *shell) cmdXfer(args []string) string {
	if len(args) != 3 {
		return "usage: xfer <switch> <name> <data>"
	}
	sw, err := strconv.Atoi(args[0])
	if err != nil {
		return "switch must be an integer"
	}
	if err := sh.f.Xfer(sw, args[1], []byte(args[2])); err != nil {
		return err.Error()
	}
	return "ok"
}

func (sh *shell) cmdLoopXfer(args []string) string {
	if len(args) != 2 {
		return "usage: loopxfer <name> <data>"
	}
	if err := sh.f.LoopbackXfer(args[0], []byte(args[1])); err != nil {
		return err.Error()
	}
	return "ok"
}

func parseDesc(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one descriptor")
	}
	return strconv.Atoi(args[0])
}
