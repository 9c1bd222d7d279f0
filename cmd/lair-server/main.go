// Command lair-server runs the lair: an encrypted TCP chatroom with an
// admin console on stdin.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/lairchat/pkg/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to the TOML config file")
	address := flag.String("address", "", "Listen address (overrides config)")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	debug := flag.Bool("debug", false, "Mirror debug logging to stdout")
	noConsole := flag.Bool("no-console", false, "Disable the admin console on stdin")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("lair-server %s\n", version)
		return
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config := tomlConfig.ToServerConfig()
	if *address != "" {
		config.ListenAddress = *address
	}
	if *port > 0 {
		config.Port = *port
	}

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if *debug {
		server.EnableDebugLogging()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	if !*noConsole {
		go server.NewConsole(srv, os.Stdin, os.Stdout).Run()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("Received %v, closing the lair", s)
		srv.Stop()
	case <-srv.Done():
		// The console already began shutdown; Stop is idempotent and
		// returns once the first call has fully drained the workers.
		srv.Stop()
	}
}
