package localrt

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushServer serves the /ws push endpoint: each connecting client sends
// a CLIENT_REGISTER frame and then receives every subsequent cluster
// state update and the final SHUTDOWN frame.
type pushServer struct {
	logger telemetry.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newPushServer(logger telemetry.Logger) *pushServer {
	return &pushServer{
		logger:  logger.WithModule("localrt.push"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (s *pushServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

func (s *pushServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", telemetry.Err(err))
		return
	}

	var register wire.RegisterFrame
	if err := conn.ReadJSON(&register); err != nil {
		s.logger.Debug("ws client disconnected before registering", telemetry.Err(err))
		conn.Close()
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *pushServer) broadcastState(state wire.ClusterState) {
	s.broadcast(wire.PushFrame{Signal: wire.NetworkStatusUpdate, Data: state})
}

func (s *pushServer) broadcast(frame wire.PushFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to marshal push frame", telemetry.Err(err))
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("dropping disconnected push client", telemetry.Err(err))
		}
	}
}

func (s *pushServer) shutdown() {
	s.broadcast(wire.PushFrame{Signal: wire.PushShutdown})

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
}
