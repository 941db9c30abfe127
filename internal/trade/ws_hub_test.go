package trade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func dialHub(t *testing.T, hub *WSHub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.clientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, hub.clientCount())
}

func TestWSHub_BroadcastDeliversPriceUpdate(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	conn, cleanup := dialHub(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Broadcast(WSMessage{
		Type: "price_update", EventID: 7,
		BuyForPrice: 55, BuyAgainstPrice: 45,
		SellForPrice: 50, SellAgainstPrice: 45,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"event_id":7`) {
		t.Errorf("unexpected message: %s", data)
	}
}

func TestWSHub_BroadcastPrunesDeadClients(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	// Register a connection with no read pump so only the broadcast
	// path can remove it.
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.register <- conn
		serverConns <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	waitForClients(t, hub, 1)

	// Kill the server side so the next write fails, then broadcast
	// while another goroutine is still reading the client set. The
	// dead connection must drop out without racing it.
	(<-serverConns).Close()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				hub.clientCount()
			}
		}
	}()

	for i := 0; i < 10; i++ {
		hub.Broadcast(WSMessage{Type: "price_update", EventID: 1})
	}
	waitForClients(t, hub, 0)
	close(stop)
	<-done
}
