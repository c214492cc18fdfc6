package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/domain"
)

type fakeBus struct {
	tail  []domain.StreamMessage
	after []domain.StreamMessage

	mu     sync.Mutex
	readID string
}

func (f *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (f *fakeBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	f.mu.Lock()
	f.readID = lastID
	f.mu.Unlock()
	return f.after, nil
}
func (f *fakeBus) StreamTail(context.Context, string, int) ([]domain.StreamMessage, error) {
	return f.tail, nil
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, string) {
	t.Helper()
	hub := NewHub(bus, Config{Channel: "ledger:events", Stream: "ledger:events:stream"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, wantClients int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.clientCount() == wantClients }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_FiltersByUser(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url+"/ws?user="+strings.ToLower(alice.Hex()), 1)

	ctx := context.Background()
	require.NoError(t, hub.Emit(ctx, domain.Event{Name: domain.EventPositionOpened, User: &bob}))
	require.NoError(t, hub.Emit(ctx, domain.Event{Name: domain.EventPositionOpened, User: &alice}))

	ev := readEvent(t, conn)
	require.NotNil(t, ev.User)
	assert.Equal(t, alice, *ev.User)
}

func TestHub_ResubscribeByEvent(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, hub, url+"/ws", 1)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Events: []string{domain.EventSystemPaused}}))
	ctx := context.Background()
	require.Eventually(t, func() bool {
		c := firstClient(hub)
		return c != nil && !c.wants(eventHeader{Name: domain.EventPositionOpened})
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Emit(ctx, domain.Event{Name: domain.EventPositionOpened, User: &alice}))
	require.NoError(t, hub.Emit(ctx, domain.Event{Name: domain.EventSystemPaused}))
	assert.Equal(t, domain.EventSystemPaused, readEvent(t, conn).Name)
}

func TestHub_ReplaysStreamTail(t *testing.T) {
	payload, err := json.Marshal(domain.Event{Name: domain.EventDelegationCreated, User: &alice})
	require.NoError(t, err)
	bus := &fakeBus{tail: []domain.StreamMessage{{ID: "1-0", Payload: payload}}}

	hub, url := startHub(t, bus)
	conn := dial(t, hub, url+"/ws?replay=10", 1)
	assert.Equal(t, domain.EventDelegationCreated, readEvent(t, conn).Name)
}

func TestHub_CatchesUpAfterCursor(t *testing.T) {
	payload, err := json.Marshal(domain.Event{Name: domain.EventPositionClosed, User: &alice})
	require.NoError(t, err)
	bus := &fakeBus{
		tail:  []domain.StreamMessage{{ID: "9-0", Payload: []byte(`{"name":"tail"}`)}},
		after: []domain.StreamMessage{{ID: "5-1", Payload: payload}},
	}

	hub, url := startHub(t, bus)
	conn := dial(t, hub, url+"/ws?after=1750000000000&replay=10", 1)
	assert.Equal(t, domain.EventPositionClosed, readEvent(t, conn).Name)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, "1750000000000-0", bus.readID)
}

func TestHub_RejectsBadCursor(t *testing.T) {
	hub, url := startHub(t, &fakeBus{})
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws?after=yesterday", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, hub.clientCount())
}

func TestStreamCursor(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"":       {"", true},
		"17":     {"17-0", true},
		" 17-3 ": {"17-3", true},
		"17-x":   {"", false},
		"$":      {"", false},
	}
	for in, tc := range cases {
		got, ok := streamCursor(in)
		assert.Equal(t, tc.ok, ok, in)
		assert.Equal(t, tc.want, got, in)
	}
}

func TestHub_ConnectionsAfterRunDoNotBlock(t *testing.T) {
	hub := NewHub(nil, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	served := make(chan struct{})
	go func() {
		defer close(served)
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()
	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("connection to a stopped hub was left open")
	}

	unregistered := make(chan struct{})
	go func() {
		defer close(unregistered)
		(&client{hub: hub}).leave()
	}()
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after Run returned")
	}
	assert.Zero(t, hub.clientCount())
}

func TestFilter(t *testing.T) {
	f := newFilter([]string{alice.Hex()}, nil)
	assert.True(t, f.match(eventHeader{Name: "x", User: strings.ToLower(alice.Hex())}))
	assert.False(t, f.match(eventHeader{Name: "x", User: bob.Hex()}))
	assert.False(t, filter{none: true}.match(eventHeader{Name: "x"}))
	assert.True(t, newFilter(nil, nil).match(eventHeader{Name: "x"}))
}

func firstClient(h *Hub) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		return c
	}
	return nil
}
