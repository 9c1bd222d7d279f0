// Command lair-client joins the lair from a terminal. It prompts for a
// nickname (the server drives that exchange) and then relays chat lines
// until {quit}, Ctrl-C, or the lair closing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/lairchat/pkg/client"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "Lair server address (host:port)")
	passphrase := flag.String("passphrase", "", "Shared passphrase (default: built-in, or LAIR_SERVER_PASSPHRASE)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lair-client %s\n", version)
		return
	}

	secret := *passphrase
	if secret == "" {
		secret = os.Getenv("LAIR_SERVER_PASSPHRASE")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := client.NewSession(*addr, secret)
	if err := sess.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
