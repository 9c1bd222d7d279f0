package server

import (
	"bufio"
	"fmt"
	"io"

	"github.com/aeolun/lairchat/pkg/protocol"
)

// Console is the operator's control loop. Like the acceptor it is a
// singleton next to the session workers: one reader, one server, no
// per-connection state.
type Console struct {
	server *Server
	in     io.Reader
	out    io.Writer
}

// NewConsole creates a console bound to a server. in is usually os.Stdin
// and out os.Stdout; tests substitute buffers.
func NewConsole(server *Server, in io.Reader, out io.Writer) *Console {
	return &Console{server: server, in: in, out: out}
}

// Run reads operator commands until quit or EOF. "quit" closes the lair and
// returns; "who" prints the roster; anything else draws a local error and
// never reaches a client. EOF leaves the server running, the console is not
// the only way to stop it.
func (c *Console) Run() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		command := scanner.Text()
		switch command {
		case "quit":
			c.server.Stop()
			return
		case "who":
			c.printRoster()
		default:
			fmt.Fprintf(c.out, "error: unknown command %s\n", command)
		}
	}
}

// printRoster writes the members and their full remote addresses. The
// operator sees host:port; clients asking over the wire get the host only.
func (c *Console) printRoster() {
	fmt.Fprintln(c.out, protocol.Banner(" The lair dwellers! ", 60))
	for _, member := range c.server.Registry().Snapshot() {
		fmt.Fprintf(c.out, "%s at %s\n", member.Nickname, member.Addr)
	}
}
