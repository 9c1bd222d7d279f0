// Package protocol defines the wire protocol of the lair: frame transport,
// control tokens, and the canonical message texts shared by server and
// clients. Frames themselves are produced by the crypto package; this
// package moves them and names what goes inside.
package protocol

import (
	"errors"
	"io"
)

const (
	// MaxFrameSize is the transport maximum for one encoded frame (4 KB).
	// It is the single oversize threshold: broadcasts whose encoded frame
	// exceeds it are dropped in favor of a notice to the sender, and the
	// read buffer is exactly this large.
	MaxFrameSize = 4096
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (4 KB)")
)

// ReadFrame performs a single read and returns the bytes that arrived.
// The protocol carries no delimiter: one read call corresponds to one
// frame, and a well-formed frame never exceeds MaxFrameSize. A torn or
// coalesced read surfaces downstream as a decode failure, which costs the
// session its connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, MaxFrameSize)
	n, err := r.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFrame writes one encoded frame in a single call.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	_, err := w.Write(frame)
	return err
}
