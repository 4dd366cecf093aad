package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/jobs"
)

// channelBus is an in-process domain.SignalBus backed by one channel.
type channelBus struct {
	ch chan []byte
}

func newChannelBus() *channelBus {
	return &channelBus{ch: make(chan []byte, 16)}
}

func (b *channelBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *channelBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

var _ domain.SignalBus = (*channelBus)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventWallet(t *testing.T) {
	payload, err := json.Marshal(jobs.Event{JobID: "j1", Wallet: "0xABC", Status: domain.JobRunning})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", eventWallet(payload))

	assert.Equal(t, "", eventWallet([]byte("not json")))
}

func TestClientWantsWallet(t *testing.T) {
	c := &client{wallets: map[string]bool{}}
	assert.True(t, c.wantsWallet("0xabc"), "empty filter receives everything")

	c.setWallets([]string{" 0xABC ", ""})
	assert.True(t, c.wantsWallet("0xabc"))
	assert.False(t, c.wantsWallet("0xdef"))

	// Events without a parseable wallet go to everyone.
	assert.True(t, c.wantsWallet(""))
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) jobs.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev jobs.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_ForwardsJobEventsToClient(t *testing.T) {
	bus := newChannelBus()
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	payload, err := json.Marshal(jobs.Event{JobID: "j1", Wallet: "0xabc", Status: domain.JobCompleted})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, jobs.EventsChannel, payload))

	ev := readEvent(t, conn)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, domain.JobCompleted, ev.Status)
}

func TestHub_WalletQueryParamFiltersEvents(t *testing.T) {
	bus := newChannelBus()
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv, "?wallet=0xAAA")
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 5*time.Millisecond)

	// An event for another wallet is filtered out; the matching one arrives.
	other, _ := json.Marshal(jobs.Event{JobID: "skip", Wallet: "0xbbb", Status: domain.JobRunning})
	mine, _ := json.Marshal(jobs.Event{JobID: "keep", Wallet: "0xAAA", Status: domain.JobRunning})
	require.NoError(t, bus.Publish(ctx, jobs.EventsChannel, other))
	require.NoError(t, bus.Publish(ctx, jobs.EventsChannel, mine))

	ev := readEvent(t, conn)
	assert.Equal(t, "keep", ev.JobID)
}
