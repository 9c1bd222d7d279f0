package server

import (
	"log"
	"sync"
	"time"

	"github.com/aeolun/lairchat/pkg/protocol"
)

// sendToSession encrypts plaintext and writes the frame to one session.
func (s *Server) sendToSession(sess *Session, plaintext string) error {
	frame, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := sess.Conn.WriteFrame(frame); err != nil {
		s.metrics.RecordSendFailure()
		return err
	}
	s.metrics.RecordFrameSent()
	return nil
}

// broadcastToAll encrypts plaintext once and fans the frame out to every
// member except omit (nil omits nobody). An oversized frame is delivered
// nowhere; only the originator hears about it. Members whose write fails
// are evicted afterwards through the regular disconnect path, which also
// announces their departure.
func (s *Server) broadcastToAll(plaintext string, omit *Session) {
	frame, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		errorLog.Printf("Broadcast encrypt failed: %v", err)
		return
	}

	if len(frame) > protocol.MaxFrameSize {
		if omit != nil {
			if err := s.sendToSession(omit, protocol.MsgTooLong); err != nil {
				debugLog.Printf("Session %d: oversize notice failed: %v", omit.ID, err)
			}
		}
		return
	}

	var omitID uint64
	if omit != nil {
		omitID = omit.ID
	}
	targets := s.registry.MembersExcept(omitID)
	if len(targets) == 0 {
		return
	}
	s.metrics.RecordBroadcast()

	dead := s.broadcastToSessions(targets, frame)
	for _, sess := range dead {
		s.disconnect(sess)
	}
}

// broadcastToSessions writes frame to each target, splitting larger rooms
// across a bounded pool of senders so one slow socket only stalls its own
// chunk. Returns the sessions whose write failed.
func (s *Server) broadcastToSessions(targets []*Session, frame []byte) []*Session {
	const maxWorkers = 8
	const sessionsPerWorker = 16

	numWorkers := (len(targets) + sessionsPerWorker - 1) / sessionsPerWorker
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	chunkSize := (len(targets) + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	var deadMu sync.Mutex
	var dead []*Session

	for start := 0; start < len(targets); start += chunkSize {
		end := start + chunkSize
		if end > len(targets) {
			end = len(targets)
		}

		wg.Add(1)
		go func(chunk []*Session) {
			defer wg.Done()
			for _, sess := range chunk {
				if err := sess.Conn.WriteFrame(frame); err != nil {
					debugLog.Printf("Session %d: broadcast write failed: %v", sess.ID, err)
					s.metrics.RecordSendFailure()
					deadMu.Lock()
					dead = append(dead, sess)
					deadMu.Unlock()
					continue
				}
				s.metrics.RecordFrameSent()
			}
		}(targets[start:end])
	}

	wg.Wait()
	return dead
}

// tellWho streams the roster to one session, one frame per member, paced so
// the client's single-read loop sees them as separate frames.
func (s *Server) tellWho(sess *Session) {
	members := s.registry.Snapshot()
	for i, member := range members {
		if err := s.sendToSession(sess, protocol.WhoLine(member.Nickname, member.Host)); err != nil {
			debugLog.Printf("Session %d: roster reply failed: %v", sess.ID, err)
			return
		}
		if i < len(members)-1 {
			time.Sleep(s.config.WhoReplyInterval)
		}
	}
}

// disconnect removes the session from the registry and closes its
// connection. The departure is announced only when this call actually
// removed an admitted member, so however many paths race here, the lair
// hears about it once.
func (s *Server) disconnect(sess *Session) {
	nickname, removed := s.registry.Remove(sess.ID)
	if removed && nickname != "" {
		s.broadcastToAll(protocol.Left(nickname), nil)
	}
	sess.Close()
}

// notifyClientsOfShutdown sends the closing sentinel to every live
// connection, pending sessions included. Best effort: a client that cannot
// take the frame is about to be closed anyway.
func (s *Server) notifyClientsOfShutdown() {
	sessions := s.registry.AllSessions()
	if len(sessions) == 0 {
		return
	}

	frame, err := s.cipher.Encrypt(protocol.MsgClosed)
	if err != nil {
		errorLog.Printf("Failed to encrypt shutdown notice: %v", err)
		return
	}

	sent := 0
	for _, sess := range sessions {
		if err := sess.Conn.WriteFrame(frame); err == nil {
			sent++
		}
	}
	log.Printf("Shutdown notice delivered to %d/%d sessions", sent, len(sessions))
}
