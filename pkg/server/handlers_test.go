package server

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/lairchat/pkg/protocol"
)

// memberSession registers a pipe-backed session, promotes it and returns a
// channel of the decrypted frames arriving at the client end.
func memberSession(t *testing.T, s *Server, nickname string) (*Session, <-chan string) {
	t.Helper()
	sess, clientEnd := pipeSession(t, s.registry)
	require.NoError(t, s.registry.SetNickname(sess, nickname))
	return sess, drainFrames(s, clientEnd)
}

// drainFrames reads frames off conn until it closes, decrypting each into
// the returned channel. Keeps pipe writes from blocking the server side.
func drainFrames(s *Server, conn net.Conn) <-chan string {
	out := make(chan string, 32)
	go func() {
		defer close(out)
		for {
			frame, err := protocol.ReadFrame(conn)
			if err != nil {
				return
			}
			text, err := s.cipher.Decrypt(frame)
			if err != nil {
				return
			}
			out <- text
		}
	}()
	return out
}

func recvFrame(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case text, ok := <-ch:
		if !ok {
			t.Fatal("frame stream closed")
		}
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return ""
	}
}

func expectSilence(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case text := <-ch:
		t.Fatalf("expected no frame, got %q", text)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestBroadcastSkipsOriginator(t *testing.T) {
	s := newBareServer(DefaultConfig())
	bat, batRx := memberSession(t, s, "bat")
	_, ghostRx := memberSession(t, s, "ghost")
	_, wolfRx := memberSession(t, s, "wolf")

	s.broadcastToAll("hello everyone", bat)

	assert.Equal(t, "hello everyone", recvFrame(t, ghostRx))
	assert.Equal(t, "hello everyone", recvFrame(t, wolfRx))
	expectSilence(t, batRx)
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	s := newBareServer(DefaultConfig())
	_, ghostRx := memberSession(t, s, "ghost")
	_, pendingEnd := pipeSession(t, s.registry)
	pendingRx := drainFrames(s, pendingEnd)

	s.broadcastToAll("members only", nil)

	assert.Equal(t, "members only", recvFrame(t, ghostRx))
	expectSilence(t, pendingRx)
}

func TestBroadcastOversizeNotifiesOriginatorOnly(t *testing.T) {
	s := newBareServer(DefaultConfig())
	bat, batRx := memberSession(t, s, "bat")
	_, ghostRx := memberSession(t, s, "ghost")

	huge := strings.Repeat("x", protocol.MaxFrameSize)
	s.broadcastToAll(huge, bat)

	assert.Equal(t, protocol.MsgTooLong, recvFrame(t, batRx))
	expectSilence(t, ghostRx)
}

func TestBroadcastEvictsDeadMember(t *testing.T) {
	s := newBareServer(DefaultConfig())
	_, batRx := memberSession(t, s, "bat")
	ghost, _ := memberSession(t, s, "ghost")

	// Kill ghost's socket behind the registry's back; the next write fails.
	ghost.Conn.Close()

	s.broadcastToAll("anyone there?", nil)

	assert.Equal(t, "anyone there?", recvFrame(t, batRx))
	assert.Equal(t, "ghost has left the lair.", recvFrame(t, batRx))
	assert.False(t, s.registry.ContainsNickname("ghost"))
	assert.Equal(t, 1, s.registry.CountMembers())
}

func TestDisconnectAnnouncesExactlyOnce(t *testing.T) {
	s := newBareServer(DefaultConfig())
	_, batRx := memberSession(t, s, "bat")
	ghost, _ := memberSession(t, s, "ghost")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.disconnect(ghost)
		}()
	}
	wg.Wait()

	assert.Equal(t, "ghost has left the lair.", recvFrame(t, batRx))
	expectSilence(t, batRx)
}

func TestDisconnectPendingIsSilent(t *testing.T) {
	s := newBareServer(DefaultConfig())
	_, batRx := memberSession(t, s, "bat")
	pending, _ := pipeSession(t, s.registry)

	s.disconnect(pending)

	expectSilence(t, batRx)
	assert.Equal(t, 1, s.registry.Count())
}

func TestTellWhoStreamsRosterInJoinOrder(t *testing.T) {
	config := DefaultConfig()
	config.WhoReplyInterval = 0
	s := newBareServer(config)

	bat, batRx := memberSession(t, s, "bat")
	memberSession(t, s, "ghost")
	memberSession(t, s, "wolf")
	pipeSession(t, s.registry) // pending, must not appear

	s.tellWho(bat)

	assert.Equal(t, "bat at pipe\n", recvFrame(t, batRx))
	assert.Equal(t, "ghost at pipe\n", recvFrame(t, batRx))
	assert.Equal(t, "wolf at pipe\n", recvFrame(t, batRx))
	expectSilence(t, batRx)
}

func TestNotifyShutdownReachesPendingSessions(t *testing.T) {
	s := newBareServer(DefaultConfig())
	_, batRx := memberSession(t, s, "bat")
	_, pendingEnd := pipeSession(t, s.registry)
	pendingRx := drainFrames(s, pendingEnd)

	s.notifyClientsOfShutdown()

	assert.Equal(t, protocol.MsgClosed, recvFrame(t, batRx))
	assert.Equal(t, protocol.MsgClosed, recvFrame(t, pendingRx))
}

func TestSendToSession(t *testing.T) {
	s := newBareServer(DefaultConfig())
	sess, rx := memberSession(t, s, "bat")

	require.NoError(t, s.sendToSession(sess, "just you"))
	assert.Equal(t, "just you", recvFrame(t, rx))

	sess.Conn.Close()
	assert.Error(t, s.sendToSession(sess, "gone"))
}
