package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/pkg/packet"
)

// =============================================================================
// Fakes
// =============================================================================

// scriptConn replays chunks one Read at a time; a nil chunk is an empty
// read. After the script it reports empty reads until closed.
type scriptConn struct {
	mu     sync.Mutex
	chunks [][]byte
	writes [][]byte
	closed bool
}

func (c *scriptConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if len(c.chunks) == 0 {
		return 0, nil
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, bytes.Clone(p))
	return len(p), nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStream(t *testing.T, conn io.ReadWriteCloser, opts ...Option) *Stream {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(time.Millisecond)}, opts...)
	s, err := NewStream(conn, opts...)
	require.NoError(t, err)
	return s
}

func frame(t *testing.T, kind packet.Kind, handler, id uint16, payload []byte) []byte {
	t.Helper()
	p, err := packet.New(kind, handler, id, payload)
	require.NoError(t, err)
	buf, err := packet.Dump(p)
	require.NoError(t, err)
	return buf
}

// =============================================================================
// Receive
// =============================================================================

func TestStreamResyncDiscardsLeadingGarbage(t *testing.T) {
	reg := prometheus.NewRegistry()
	conn := &scriptConn{chunks: [][]byte{
		append([]byte{0x00, 0x13, 0x37}, frame(t, packet.KindEvent, 7, 0, []byte("x"))...),
	}}
	s := newStream(t, conn, WithMetrics(reg))

	p, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, packet.KindEvent, p.Kind)
	assert.Equal(t, uint16(7), p.HandlerID)
	assert.Equal(t, []byte("x"), p.Payload)
	assert.Equal(t, 3.0, testutil.ToFloat64(s.discarded))
}

func TestStreamReassemblesTrickledFrames(t *testing.T) {
	first := frame(t, packet.KindResponse, 3, 1, []byte{1, 2, 3})
	second := frame(t, packet.KindRPC, 4, 2, nil)

	var chunks [][]byte
	for _, b := range append(bytes.Clone(first), second...) {
		chunks = append(chunks, []byte{b}, nil)
	}
	s := newStream(t, &scriptConn{chunks: chunks})

	p, err := s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.RequestID)
	assert.Equal(t, []byte{1, 2, 3}, p.Payload)

	p, err = s.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, packet.KindRPC, p.Kind)
	assert.Equal(t, uint16(2), p.RequestID)
	assert.Empty(t, p.Payload)
	assert.Equal(t, 0.0, testutil.ToFloat64(s.discarded))
}

func TestStreamRejectsBadMarkers(t *testing.T) {
	good := frame(t, packet.KindRPC, 1, 1, []byte{0xaa})

	badEnd := bytes.Clone(good)
	badEnd[len(badEnd)-1] = 0x00
	s := newStream(t, &scriptConn{chunks: [][]byte{badEnd}})
	_, err := s.Receive(context.Background())
	assert.True(t, packet.HasCode(err, packet.CodeBadEnd), "got %v", err)

	badHeader := bytes.Clone(good)
	badHeader[packet.HeaderSize-1] = 0x00
	s = newStream(t, &scriptConn{chunks: [][]byte{badHeader}})
	_, err = s.Receive(context.Background())
	assert.True(t, errors.Is(err, packet.ErrProtocolViolation))
	assert.True(t, packet.HasCode(err, packet.CodeBadHeaderEnd))
}

func TestStreamReceiveHonoursContext(t *testing.T) {
	s := newStream(t, &scriptConn{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamCloseStopsReceive(t *testing.T) {
	s := newStream(t, &scriptConn{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

// =============================================================================
// Send
// =============================================================================

func TestStreamSendWritesWholeFrames(t *testing.T) {
	conn := &scriptConn{}
	s := newStream(t, conn)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := packet.New(packet.KindRPC, 1, uint16(i+1), bytes.Repeat([]byte{byte(i)}, 32))
			require.NoError(t, err)
			assert.NoError(t, s.Send(context.Background(), p))
		}()
	}
	wg.Wait()

	require.Len(t, conn.writes, 8)
	for _, w := range conn.writes {
		p, err := packet.Parse(w)
		require.NoError(t, err)
		assert.Len(t, p.Payload, 32)
	}

	require.NoError(t, s.Close())
	err := s.Send(context.Background(), packet.Packet{Header: packet.Header{Kind: packet.KindRPC}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDiscardCounterIsSharedPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newStream(t, &scriptConn{}, WithMetrics(reg))
	b := newStream(t, &scriptConn{}, WithMetrics(reg))
	assert.Same(t, a.discarded, b.discarded)
}
