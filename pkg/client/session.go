// Package client implements the terminal client for the lair: it relays
// lines from the user to the server and decrypted frames back, and knows
// the handful of control tokens in between.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/aeolun/lairchat/pkg/crypto"
	"github.com/aeolun/lairchat/pkg/protocol"
)

// Loop outcomes that mean "stop cleanly", not "report a failure".
var (
	errQuitRequested = errors.New("quit requested")
	errLairClosed    = errors.New("lair closed")
)

// Session is one interactive connection to the lair.
type Session struct {
	Addr       string
	Passphrase string

	In  io.Reader
	Out io.Writer
}

// NewSession creates a session talking to addr on stdin/stdout. An empty
// passphrase selects the built-in default.
func NewSession(addr, passphrase string) *Session {
	return &Session{
		Addr:       addr,
		Passphrase: passphrase,
		In:         os.Stdin,
		Out:        os.Stdout,
	}
}

// Run connects and relays until the user quits, the lair closes, the
// context is cancelled or the connection breaks. Clean endings return nil.
func (s *Session) Run(ctx context.Context) error {
	passphrase := s.Passphrase
	if passphrase == "" {
		passphrase = crypto.DefaultPassphrase
	}
	cipher := crypto.NewCipher(passphrase)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to reach the lair at %s: %w", s.Addr, err)
	}
	defer conn.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Input runs detached: a blocked terminal read cannot be interrupted,
	// so the scanner feeds a channel and is abandoned at shutdown rather
	// than joined.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	// Closing the socket is the only way to interrupt a blocked read, so
	// the first loop to finish takes the other one down with it.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error {
		return s.recvLoop(gctx, conn, cipher)
	})

	g.Go(func() error {
		return s.sendLoop(gctx, conn, cipher, lines)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errQuitRequested),
		errors.Is(err, errLairClosed),
		errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// recvLoop prints every decrypted frame until the connection ends or the
// server announces it is closing.
func (s *Session) recvLoop(ctx context.Context, conn net.Conn, cipher *crypto.Cipher) error {
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("lost the lair: %w", err)
		}

		text, err := cipher.Decrypt(frame)
		if err != nil {
			return fmt.Errorf("undecipherable frame from the lair: %w", err)
		}

		fmt.Fprintln(s.Out, text)
		if text == protocol.MsgClosed {
			return errLairClosed
		}
	}
}

// sendLoop relays user lines to the server. {help} is expanded locally and
// never crosses the wire; {quit} is relayed and then ends the session. An
// input stream that runs out quits politely on the user's behalf.
func (s *Session) sendLoop(ctx context.Context, conn net.Conn, cipher *crypto.Cipher, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				sendText(conn, cipher, protocol.TokenQuit)
				return errQuitRequested
			}

			if line == protocol.TokenHelp {
				printHelp(s.Out)
				continue
			}

			if err := sendText(conn, cipher, line); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
			if line == protocol.TokenQuit {
				return errQuitRequested
			}
		}
	}
}

func sendText(conn net.Conn, cipher *crypto.Cipher, text string) error {
	frame, err := cipher.Encrypt(text)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, frame)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, protocol.Banner(" Available Commands ", 40))
	fmt.Fprintf(out, "%s:\tThis help message\n", protocol.TokenHelp)
	fmt.Fprintf(out, "%s:\tA list of connected users\n", protocol.TokenWho)
	fmt.Fprintf(out, "%s:\tExit this client session\n", protocol.TokenQuit)
}
