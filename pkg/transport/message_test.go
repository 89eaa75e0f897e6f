package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/pkg/packet"
)

// echoDevice answers every RPC with a RESPONSE carrying the same id and
// payload, after first sending a text message that must be ignored.
func echoDevice(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != Path {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := packet.Parse(data)
			if err != nil {
				return
			}
			reply, _ := packet.New(packet.KindResponse, req.HandlerID, req.RequestID, req.Payload)
			buf, _ := packet.Dump(reply)
			_ = conn.WriteMessage(websocket.TextMessage, []byte("noise"))
			if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMessageRoundTrip(t *testing.T) {
	srv := echoDevice(t)
	ctx := context.Background()

	m, err := DialMessage(ctx, strings.TrimPrefix(srv.URL, "http://"), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()

	req, err := packet.New(packet.KindRPC, 5, 1, []byte("ping"))
	require.NoError(t, err)
	require.NoError(t, m.Send(ctx, req))

	reply, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, packet.KindResponse, reply.Kind)
	assert.Equal(t, uint16(5), reply.HandlerID)
	assert.Equal(t, uint16(1), reply.RequestID)
	assert.Equal(t, []byte("ping"), reply.Payload)
}

func TestMessageReceiveDeadline(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	m, err := DialMessage(context.Background(), strings.TrimPrefix(srv.URL, "http://"), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMessageReceiveClearsEarlierDeadline(t *testing.T) {
	srv := echoDevice(t)

	m, err := DialMessage(context.Background(), strings.TrimPrefix(srv.URL, "http://"), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer m.Close()

	ping, err := packet.New(packet.KindRPC, 1, 1, []byte("a"))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	require.NoError(t, m.Send(short, ping))
	_, err = m.Receive(short)
	cancel()
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)

	ping.RequestID = 2
	require.NoError(t, m.Send(context.Background(), ping))
	reply, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(2), reply.RequestID)
}

func TestMessageClose(t *testing.T) {
	srv := echoDevice(t)

	m, err := DialMessage(context.Background(), strings.TrimPrefix(srv.URL, "http://"), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())

	_, err = m.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	p, _ := packet.New(packet.KindRPC, 1, 1, nil)
	assert.ErrorIs(t, m.Send(context.Background(), p), ErrClosed)
}
