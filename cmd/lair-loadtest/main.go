// Command lair-loadtest swarms a lair server with chattering clients and
// reports throughput, to answer "how many dwellers can one lair hold".
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/lairchat/pkg/crypto"
	"github.com/aeolun/lairchat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua Ut enim ad minim veniam quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat"

var loremWords = strings.Fields(loremIpsum)

const nicknameChars = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomNickname returns a 3-8 character alphanumeric name, the only kind
// the lair admits.
func randomNickname() string {
	n := 3 + rand.Intn(6)
	b := make([]byte, n)
	for i := range b {
		b[i] = nicknameChars[rand.Intn(len(nicknameChars))]
	}
	return string(b)
}

func randomMessage() string {
	n := 3 + rand.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats tracks swarm-wide counters.
type Stats struct {
	connected        atomic.Int64
	connectFailures  atomic.Int64
	nicknameRetries  atomic.Int64
	nicknameFailures atomic.Int64
	messagesSent     atomic.Int64
	sendFailures     atomic.Int64
	framesReceived   atomic.Int64
	corruptFrames    atomic.Int64
	disconnections   atomic.Int64
}

func (s *Stats) report(elapsed time.Duration) string {
	sent := s.messagesSent.Load()
	rate := float64(sent) / elapsed.Seconds()
	return fmt.Sprintf("connected %d, sent %d (%.1f/s), received %d, send failures %d, conn failures %d, corrupt %d, dropped %d, goroutines %d",
		s.connected.Load(), sent, rate, s.framesReceived.Load(),
		s.sendFailures.Load(), s.connectFailures.Load(),
		s.corruptFrames.Load(), s.disconnections.Load(), runtime.NumGoroutine())
}

// swarmClient is one fake dweller.
type swarmClient struct {
	id       int
	nickname string
	conn     net.Conn
	cipher   *crypto.Cipher
	stats    *Stats
}

func (c *swarmClient) send(text string) error {
	frame, err := c.cipher.Encrypt(text)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, frame)
}

func (c *swarmClient) readReply(timeout time.Duration) (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	frame, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return "", err
	}
	return c.cipher.Decrypt(frame)
}

// connect dials the lair and negotiates a nickname, retrying candidates
// that collide with other swarm members.
func (c *swarmClient) connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn

	greeting, err := c.readReply(5 * time.Second)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	if !strings.Contains(greeting, "Enter your name") {
		return fmt.Errorf("unexpected greeting: %q", greeting)
	}

	for attempt := 0; attempt < 10; attempt++ {
		candidate := randomNickname()
		if err := c.send(candidate); err != nil {
			return fmt.Errorf("send nickname: %w", err)
		}
		reply, err := c.readReply(5 * time.Second)
		if err != nil {
			return fmt.Errorf("nickname reply: %w", err)
		}
		if strings.Contains(reply, "Welcome to the Lair") {
			c.nickname = candidate
			return nil
		}
		c.stats.nicknameRetries.Add(1)
	}
	c.stats.nicknameFailures.Add(1)
	return fmt.Errorf("no admissible nickname after 10 attempts")
}

// run chats until the deadline or a stop signal, then leaves politely.
// A background drain keeps the socket readable so server broadcasts never
// back up into the lair's send path.
func (c *swarmClient) run(duration, minDelay, maxDelay time.Duration, stop <-chan struct{}) {
	dead := make(chan struct{})
	go func() {
		defer close(dead)
		for {
			frame, err := protocol.ReadFrame(c.conn)
			if err != nil {
				return
			}
			text, err := c.cipher.Decrypt(frame)
			if err != nil {
				c.stats.corruptFrames.Add(1)
				continue
			}
			c.stats.framesReceived.Add(1)
			if text == protocol.MsgClosed {
				return
			}
		}
	}()

	deadline := time.After(duration)
	for {
		delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)+1))
		select {
		case <-stop:
			c.leave()
			return
		case <-deadline:
			c.leave()
			return
		case <-dead:
			c.stats.disconnections.Add(1)
			c.conn.Close()
			return
		case <-time.After(delay):
		}

		text := randomMessage()
		if rand.Intn(25) == 0 {
			text = "{who}"
		}
		if err := c.send(text); err != nil {
			c.stats.sendFailures.Add(1)
			c.conn.Close()
			return
		}
		c.stats.messagesSent.Add(1)
	}
}

func (c *swarmClient) leave() {
	c.send(protocol.TokenQuit)
	c.conn.Close()
}

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8888", "Lair address (host:port)")
	numClients := flag.Int("clients", 50, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	minDelay := flag.Duration("min-delay", 250*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 2*time.Second, "Maximum delay between messages")
	passphrase := flag.String("passphrase", "", "Shared passphrase (default: built-in)")
	flag.Parse()

	if *maxDelay < *minDelay {
		log.Fatal("max-delay must not be below min-delay")
	}

	// Ramp clients up over the first quarter of the run.
	staggerDelay := *duration / 4 / time.Duration(*numClients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Printf("Swarming %s with %d clients for %v (ramp-up %v per client)",
		*serverAddr, *numClients, *duration, staggerDelay)

	secret := *passphrase
	if secret == "" {
		secret = crypto.DefaultPassphrase
	}
	cipher := crypto.NewCipher(secret)
	stats := &Stats{}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Print("Interrupted, recalling the swarm")
		close(stop)
	}()

	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Printf("Stats: %s", stats.report(time.Since(startTime)))
			case <-stop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
spawn:
	for i := 0; i < *numClients; i++ {
		select {
		case <-stop:
			break spawn
		default:
		}

		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot := &swarmClient{id: id, cipher: cipher, stats: stats}
			if err := bot.connect(*serverAddr); err != nil {
				stats.connectFailures.Add(1)
				if bot.conn != nil {
					bot.conn.Close()
				}
				return
			}
			stats.connected.Add(1)
			if id%100 == 0 {
				log.Printf("[bot %d] in the lair as %q", id, bot.nickname)
			}
			bot.run(*duration, *minDelay, *maxDelay, stop)
		}(i)

		time.Sleep(staggerDelay)
	}

	wg.Wait()
	log.Printf("Final: %s", stats.report(time.Since(startTime)))
}
