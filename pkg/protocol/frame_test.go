package protocol

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrameReturnsOneRead(t *testing.T) {
	frame, err := ReadFrame(strings.NewReader("some frame bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("some frame bytes"), frame)
}

func TestReadFrameCapsAtMaxFrameSize(t *testing.T) {
	big := bytes.Repeat([]byte{'x'}, MaxFrameSize+500)
	frame, err := ReadFrame(bytes.NewReader(big))
	require.NoError(t, err)
	assert.Len(t, frame, MaxFrameSize)
}

func TestReadFramePreservesWriteBoundaries(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	frames := [][]byte{
		[]byte("first"),
		[]byte("second frame"),
		[]byte("third"),
	}

	go func() {
		for _, f := range frames {
			_ = WriteFrame(client, f)
		}
	}()

	for _, want := range frames {
		require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
		got, err := ReadFrame(server)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, bytes.Repeat([]byte{'a'}, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len(), "oversized frame must not be written at all")
}

func TestWriteFrameAtLimit(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, bytes.Repeat([]byte{'a'}, MaxFrameSize))
	require.NoError(t, err)
	assert.Equal(t, MaxFrameSize, buf.Len())
}
