package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// acceptOneRegistration starts a test server that upgrades exactly one
// connection, reads its register frame, and hands the raw *websocket.Conn
// to fn for the test to drive.
func acceptOneRegistration(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	accepted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		var reg wire.RegisterFrame
		if err := conn.ReadJSON(&reg); err != nil {
			t.Errorf("read register: %v", err)
			return
		}
		fn(conn)
		close(accepted)
	}))
	t.Cleanup(func() {
		select {
		case <-accepted:
		case <-time.After(2 * time.Second):
		}
		srv.Close()
	})
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):] + "/"
}

func TestRelayPublishesShutdownOnUpstreamShutdownFrame(t *testing.T) {
	srv := acceptOneRegistration(t, func(conn *websocket.Conn) {
		defer conn.Close()
		frame := wire.PushFrame{Signal: wire.PushShutdown}
		data, _ := json.Marshal(frame)
		conn.WriteMessage(websocket.TextMessage, data)
	})

	out := New[wire.UpdateMessage]()
	sub := out.Subscribe()
	relay, err := NewRelay(wsURL(srv), out, telemetry.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	relay.Run()

	msg, ok := sub.Next()
	if !ok || msg.Signal != wire.Shutdown {
		t.Fatalf("expected clean Shutdown signal, got %+v ok=%v", msg, ok)
	}
}

func TestRelayPublishesShutdownOnExplicitClose(t *testing.T) {
	ready := make(chan struct{})
	srv := acceptOneRegistration(t, func(conn *websocket.Conn) {
		defer conn.Close()
		close(ready)
		conn.ReadMessage()
	})

	out := New[wire.UpdateMessage]()
	sub := out.Subscribe()
	relay, err := NewRelay(wsURL(srv), out, telemetry.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	<-ready
	done := make(chan struct{})
	go func() {
		relay.Run()
		close(done)
	}()
	relay.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	msg, ok := sub.Next()
	if !ok || msg.Signal != wire.Shutdown {
		t.Fatalf("expected clean Shutdown signal on explicit Close, got %+v ok=%v", msg, ok)
	}
}

func TestRelayPublishesUpstreamDisconnectedOnAbnormalClose(t *testing.T) {
	ready := make(chan struct{})
	srv := acceptOneRegistration(t, func(conn *websocket.Conn) {
		close(ready)
		conn.Close()
	})

	out := New[wire.UpdateMessage]()
	sub := out.Subscribe()
	relay, err := NewRelay(wsURL(srv), out, telemetry.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer relay.Close()

	<-ready
	relay.Run()

	msg, ok := sub.Next()
	if !ok || msg.Signal != wire.UpstreamDisconnected {
		t.Fatalf("expected UpstreamDisconnected signal, got %+v ok=%v", msg, ok)
	}
	if msg.Error == "" {
		t.Fatal("expected a non-empty error record on the abnormal disconnect message")
	}
}
