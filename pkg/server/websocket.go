package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeolun/lairchat/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  protocol.MaxFrameSize,
	WriteBufferSize: protocol.MaxFrameSize,
	// Frames are end-to-end encrypted, origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the request and feeds the socket into the same
// accept path as TCP. One binary message carries one frame, which matches
// the one-read-one-frame transport exactly.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.wg.Add(1)
	go s.handleConnection(newWSConn(ws))
}

// WebSocketHandler returns the HTTP handler tree for the WebSocket
// listener, exposed so tests can mount it on an httptest server.
func (s *Server) WebSocketHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}

// startWebSocketServer serves the /ws endpoint on the configured port.
func (s *Server) startWebSocketServer() error {
	addr := fmt.Sprintf(":%d", s.config.WebSocketPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on websocket port %d: %w", s.config.WebSocketPort, err)
	}
	s.wsListener = listener

	log.Printf("WebSocket server listening on %s (/ws)", listener.Addr())
	go func() {
		if err := http.Serve(listener, s.WebSocketHandler()); err != nil {
			select {
			case <-s.shutdown:
			default:
				errorLog.Printf("WebSocket server error: %v", err)
			}
		}
	}()

	return nil
}

// wsConn adapts a WebSocket connection to net.Conn so session workers treat
// both transports identically.
type wsConn struct {
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read returns the next binary message as one read. A message longer than p
// is truncated, which downstream decoding rejects the same way it rejects
// any other damaged frame.
func (c *wsConn) Read(p []byte) (int, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Write sends p as one binary message.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
