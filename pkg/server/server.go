// Package server implements the lair: an encrypted TCP chatroom where every
// client connection is driven by its own session worker and all shared state
// lives in the session registry.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/lairchat/pkg/crypto"
	"github.com/aeolun/lairchat/pkg/protocol"
)

// Package-level loggers, replaced by initLoggers once the log files are
// open. The defaults keep components usable before NewServer runs.
var (
	errorLog  = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	debugLog  = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	debugFile *os.File
)

// getServerDataDir returns the directory for server log files.
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share/lairchat
func getServerDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "lairchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "lairchat"), nil
}

// initLoggers sets up error and debug loggers. Errors go to both stderr and
// the error log file; debug output goes to its file only.
func initLoggers() error {
	dataDir, err := getServerDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	errorFile, err := os.OpenFile(filepath.Join(dataDir, "server-errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	debugFile, err = os.OpenFile(filepath.Join(dataDir, "server-debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open debug log: %w", err)
	}
	debugLog = log.New(debugFile, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	debugLog.Printf("=== Server started at %s ===", time.Now().Format(time.RFC3339))

	return nil
}

// EnableDebugLogging mirrors debug output to stdout as well as the log file.
func EnableDebugLogging() {
	if debugFile != nil {
		debugLog = log.New(io.MultiWriter(os.Stdout, debugFile), "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	}
}

// ServerConfig holds the runtime configuration of a lair server.
type ServerConfig struct {
	ListenAddress    string
	Port             int
	Passphrase       string
	MetricsPort      int
	WebSocketPort    int
	NicknameAttempts int
	WhoReplyInterval time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		ListenAddress:    "127.0.0.1",
		Port:             8888,
		Passphrase:       crypto.DefaultPassphrase,
		MetricsPort:      9090,
		WebSocketPort:    0,
		NicknameAttempts: 0,
		WhoReplyInterval: 100 * time.Millisecond,
	}
}

// Server is the lair itself: the TCP acceptor, the session registry and the
// broadcast machinery. Create one with NewServer, run it with Start, stop it
// with Stop.
type Server struct {
	config    ServerConfig
	cipher    *crypto.Cipher
	registry  *Registry
	metrics   *Metrics
	startTime time.Time

	listener        net.Listener
	metricsListener net.Listener
	wsListener      net.Listener

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// NewServer creates a server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if err := initLoggers(); err != nil {
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

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
	}, nil
}

// Start opens the listeners and launches the acceptor. It returns once the
// server is accepting; the caller decides how to wait (see Done).
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.ListenAddress, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("The lair is listening on %s", listener.Addr())

	if s.config.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			s.listener.Close()
			return err
		}
	}

	if s.config.WebSocketPort > 0 {
		if err := s.startWebSocketServer(); err != nil {
			s.listener.Close()
			if s.metricsListener != nil {
				s.metricsListener.Close()
			}
			return err
		}
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to, useful when the
// configured port is 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed when shutdown begins. Callers block on it to wait for a
// console quit or a signal handler to stop the server.
func (s *Server) Done() <-chan struct{} {
	return s.shutdown
}

// Registry exposes the session registry, mainly for the admin console.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Stop closes the lair: the sentinel goes out to every connected client,
// the listeners stop accepting, every connection is closed and the session
// workers drain. Safe to call more than once; the console and the signal
// handler may race here.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.Println("Closing the lair...")

		s.notifyClientsOfShutdown()

		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.metricsListener != nil {
			s.metricsListener.Close()
		}
		if s.wsListener != nil {
			s.wsListener.Close()
		}

		s.registry.CloseAll()
		s.wg.Wait()

		log.Println("The lair is closed")
	})
}

// acceptLoop accepts TCP connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection registers the connection, greets it and runs its session
// worker. One goroutine per connection, for its whole life.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := s.registry.Add(conn)
	if sess == nil {
		conn.Close()
		return
	}
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New connection from %s (session %d)", sess.RemoteAddr, sess.ID)

	if err := s.sendToSession(sess, protocol.MsgGreeting); err != nil {
		debugLog.Printf("Session %d: greeting failed: %v", sess.ID, err)
		s.disconnect(sess)
		return
	}

	s.sessionLoop(sess)
}

// sessionLoop drives a session through negotiation and, once admitted,
// the message loop. The deferred disconnect is the single exit path: it
// removes the session, closes the socket and announces the departure when
// one is due.
func (s *Server) sessionLoop(sess *Session) {
	defer s.disconnect(sess)

	nickname, err := s.negotiate(sess)
	if err != nil {
		debugLog.Printf("Session %d: negotiation ended: %v", sess.ID, err)
		return
	}
	debugLog.Printf("Session %d is now %q", sess.ID, nickname)

	if err := s.sendToSession(sess, protocol.Welcome(nickname)); err != nil {
		return
	}
	s.broadcastToAll(protocol.Entered(nickname), sess)

	s.messageLoop(sess)
}

// negotiate reads nickname candidates until one is admitted. Malformed and
// taken candidates draw a rejection frame and another attempt; by default
// there is no attempt limit. Read or decode failures end the session, no
// nickname slot was ever occupied.
func (s *Server) negotiate(sess *Session) (string, error) {
	attempts := 0
	for {
		select {
		case <-s.shutdown:
			return "", fmt.Errorf("server shutting down")
		default:
		}

		frame, err := sess.Conn.ReadFrame()
		if err != nil {
			return "", err
		}
		s.metrics.RecordFrameRead()

		candidate, err := s.cipher.Decrypt(frame)
		if err != nil {
			return "", fmt.Errorf("undecipherable candidate: %w", err)
		}

		if !protocol.ValidNickname(candidate) {
			s.metrics.RecordNicknameRejection()
			if err := s.sendToSession(sess, protocol.MsgBadNickname); err != nil {
				return "", err
			}
		} else if err := s.registry.SetNickname(sess, candidate); err != nil {
			s.metrics.RecordNicknameRejection()
			if err := s.sendToSession(sess, protocol.NicknameTaken(candidate)); err != nil {
				return "", err
			}
		} else {
			return candidate, nil
		}

		attempts++
		if s.config.NicknameAttempts > 0 && attempts >= s.config.NicknameAttempts {
			return "", fmt.Errorf("no admissible nickname after %d attempts", attempts)
		}
	}
}

// messageLoop handles frames from an admitted session until the client
// quits, disconnects or sends something undecipherable.
func (s *Server) messageLoop(sess *Session) {
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		frame, err := sess.Conn.ReadFrame()
		if err != nil {
			if err == io.EOF {
				debugLog.Printf("Session %d: client disconnected", sess.ID)
			} else {
				debugLog.Printf("Session %d: read error: %v", sess.ID, err)
			}
			s.disconnectionsSinceReport.Add(1)
			return
		}
		s.metrics.RecordFrameRead()

		text, err := s.cipher.Decrypt(frame)
		if err != nil {
			// Undecipherable frames and broken peers look the same from
			// here; the session ends either way.
			debugLog.Printf("Session %d: decode failure: %v", sess.ID, err)
			s.disconnectionsSinceReport.Add(1)
			return
		}

		switch protocol.ParseCommand(text) {
		case protocol.CmdQuit:
			debugLog.Printf("Session %d (%s) quit", sess.ID, sess.Nickname())
			s.disconnectionsSinceReport.Add(1)
			return
		case protocol.CmdWho:
			s.tellWho(sess)
		default:
			s.broadcastToAll(protocol.FormatChat(sess.Nickname(), text, time.Now()), sess)
		}
	}
}

// metricsLoggingLoop logs a liveness line every few seconds.
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			members := s.registry.CountMembers()
			total := s.registry.Count()
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] In the lair: %d members (%d connections) | joined: %d, left: %d | goroutines: %d",
				members, total, connected, disconnected, runtime.NumGoroutine())
		}
	}
}

// startMetricsServer serves /metrics and /health on the metrics port. Bind
// this to localhost or a private interface; it has no authentication.
func (s *Server) startMetricsServer() error {
	addr := fmt.Sprintf(":%d", s.config.MetricsPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port %d: %w", s.config.MetricsPort, err)
	}
	s.metricsListener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	log.Printf("Metrics server listening on %s (/metrics, /health)", listener.Addr())
	go func() {
		if err := http.Serve(listener, mux); err != nil {
			select {
			case <-s.shutdown:
			default:
				errorLog.Printf("Metrics server error: %v", err)
			}
		}
	}()

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"sessions":       s.registry.Count(),
	})
}
