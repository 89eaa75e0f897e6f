package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/fwrpc/pkg/packet"
)

// Path is the websocket endpoint a device serves frames on.
const Path = "/rpc"

// MessageConn is a message-oriented connection. *websocket.Conn satisfies it.
type MessageConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Message is a Transport carrying one frame per message.
type Message struct {
	conn   MessageConn
	logger *slog.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMessage wraps conn.
func NewMessage(conn MessageConn, opts ...Option) *Message {
	o := buildOptions(opts)
	return &Message{conn: conn, logger: o.logger, closed: make(chan struct{})}
}

// DialMessage connects to ws://addr/rpc.
func DialMessage(ctx context.Context, addr string, opts ...Option) (*Message, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	m := NewMessage(conn, opts...)
	m.logger.Debug("message transport connected", "url", u.String())
	return m, nil
}

// Send writes p as one binary message.
func (m *Message) Send(ctx context.Context, p packet.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := packet.Dump(p)
	if err != nil {
		return err
	}
	m.wmu.Lock()
	defer m.wmu.Unlock()
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	if err := m.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads the next frame. Cancelling ctx interrupts a pending read;
// the underlying connection is unusable afterwards.
func (m *Message) Receive(ctx context.Context) (packet.Packet, error) {
	if err := ctx.Err(); err != nil {
		return packet.Packet{}, err
	}
	if d, ok := m.conn.(readDeadliner); ok {
		// Zero when ctx has none, clearing any earlier deadline.
		deadline, _ := ctx.Deadline()
		_ = d.SetReadDeadline(deadline)
		stop := context.AfterFunc(ctx, func() { _ = d.SetReadDeadline(time.Now()) })
		defer stop()
	}

	for {
		kind, data, err := m.conn.ReadMessage()
		if err != nil {
			select {
			case <-m.closed:
				return packet.Packet{}, ErrClosed
			default:
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return packet.Packet{}, ctxErr
			}
			if deadline, has := ctx.Deadline(); has && !time.Now().Before(deadline) {
				return packet.Packet{}, context.DeadlineExceeded
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return packet.Packet{}, errors.Join(ErrClosed, err)
			}
			return packet.Packet{}, fmt.Errorf("read frame: %w", err)
		}
		if kind != websocket.BinaryMessage {
			m.logger.Debug("ignoring non-binary message", "type", kind, "bytes", len(data))
			continue
		}
		return packet.Parse(data)
	}
}

// Close closes the connection. It is safe to call more than once.
func (m *Message) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		m.wmu.Lock()
		_ = m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.wmu.Unlock()
		err = m.conn.Close()
	})
	return err
}
