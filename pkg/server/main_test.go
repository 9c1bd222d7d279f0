package server

import (
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/aeolun/lairchat/pkg/crypto"
)

// TestMain silences the package loggers once, before any test runs. Tests
// must not touch them afterwards; worker goroutines from earlier tests may
// still be writing through them.
func TestMain(m *testing.M) {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}

// newBareServer builds a server without touching the filesystem loggers.
// Every instance gets its own metrics registry, so tests can run as many
// servers as they like in one process.
func newBareServer(config ServerConfig) *Server {
	metrics := NewMetrics()
	registry := NewRegistry()
	registry.SetMetrics(metrics)

	return &Server{
		config:    config,
		cipher:    crypto.NewCipher(config.Passphrase),
		registry:  registry,
		metrics:   metrics,
		startTime: time.Now(),
		shutdown:  make(chan struct{}),
	}
}
