package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/fwrpc/pkg/packet"
)

const readChunk = 512

// Stream is a Transport over a raw byte stream such as a serial port.
//
// A Read that returns no bytes and no error means "nothing yet"; the
// reader sleeps for the poll interval and tries again. Leading bytes
// before a START marker are discarded, logged and counted.
type Stream struct {
	rw        io.ReadWriteCloser
	logger    *slog.Logger
	poll      time.Duration
	discarded prometheus.Counter

	wmu sync.Mutex

	rmu        sync.Mutex
	rbuf       [readChunk]byte
	rpos, rend int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream wraps rw.
func NewStream(rw io.ReadWriteCloser, opts ...Option) (*Stream, error) {
	o := buildOptions(opts)
	counter, err := discardedBytes(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register stream metrics: %w", err)
	}
	return &Stream{
		rw:        rw,
		logger:    o.logger,
		poll:      o.poll,
		discarded: counter,
		closed:    make(chan struct{}),
	}, nil
}

// Send writes p in a single Write call.
func (s *Stream) Send(ctx context.Context, p packet.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := packet.Dump(p)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if _, err := s.rw.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive scans for the next START marker and reads one frame.
func (s *Stream) Receive(ctx context.Context) (packet.Packet, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	skipped := 0
	for {
		b, err := s.readByte(ctx)
		if err != nil {
			return packet.Packet{}, s.readErr(err)
		}
		if b == packet.Start {
			break
		}
		skipped++
	}
	if skipped > 0 {
		s.discarded.Add(float64(skipped))
		s.logger.Warn("discarded bytes before frame start", "discarded", skipped)
	}

	head := make([]byte, packet.HeaderSizeAfterStart)
	if err := s.readFull(ctx, head); err != nil {
		return packet.Packet{}, s.readErr(err)
	}
	h, err := packet.ParseHeaderAfterStart(head)
	if err != nil {
		return packet.Packet{}, err
	}

	tail := make([]byte, int(h.Length)+packet.TrailerSize)
	if err := s.readFull(ctx, tail); err != nil {
		return packet.Packet{}, s.readErr(err)
	}
	if end := tail[len(tail)-1]; end != packet.End {
		return packet.Packet{}, packet.Violation(packet.CodeBadEnd, "expected %#02x, got %#02x", packet.End, end)
	}
	return packet.Packet{Header: h, Payload: tail[:h.Length]}, nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rw.Close()
	})
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Stream) readErr(err error) error {
	if s.isClosed() {
		return ErrClosed
	}
	return err
}

func (s *Stream) readByte(ctx context.Context) (byte, error) {
	if s.rpos == s.rend {
		if err := s.fill(ctx); err != nil {
			return 0, err
		}
	}
	b := s.rbuf[s.rpos]
	s.rpos++
	return b, nil
}

func (s *Stream) readFull(ctx context.Context, dst []byte) error {
	for len(dst) > 0 {
		if s.rpos == s.rend {
			if err := s.fill(ctx); err != nil {
				return err
			}
		}
		n := copy(dst, s.rbuf[s.rpos:s.rend])
		s.rpos += n
		dst = dst[n:]
	}
	return nil
}

// fill blocks until at least one byte is buffered, polling on empty reads.
func (s *Stream) fill(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.rw.Read(s.rbuf[:])
		if n > 0 {
			s.rpos, s.rend = 0, n
			return nil
		}
		if err != nil {
			return err
		}
		t := time.NewTimer(s.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.closed:
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
	}
}
