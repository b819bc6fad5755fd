package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"
	"github.com/creastat/clustermgr/workerrt"
)

// Relay bridges an upstream worker-runtime push endpoint to the
// in-process Broadcaster[wire.UpdateMessage]: it connects, registers
// itself, reads frames, classifies them, and republishes classified
// updates. On a clean close (upstream SHUTDOWN frame, or Close called by
// this process) it publishes wire.Shutdown; on an abnormal read error it
// publishes wire.UpstreamDisconnected wrapping
// workerrt.ErrUpstreamDisconnected, so a subscriber can tell a dropped
// connection apart from an intentional one. Exactly one of these is
// published before Run returns.
type Relay struct {
	conn   *websocket.Conn
	out    *Broadcaster[wire.UpdateMessage]
	logger telemetry.Logger

	zeroconfEnabled bool

	mu      sync.Mutex
	closing bool
}

// NewRelay dials the push endpoint at url and registers as a client.
func NewRelay(url string, out *Broadcaster[wire.UpdateMessage], logger telemetry.Logger) (*Relay, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("broadcast: dial push endpoint %s: %w", url, err)
	}

	r := &Relay{conn: conn, out: out, logger: logger.WithModule("relay")}

	payload := wire.RegisterFrame{
		Signal: wire.ClientRegister,
		OK:     true,
		UUID:   uuid.NewString(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broadcast: marshal register frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broadcast: send register frame: %w", err)
	}

	return r, nil
}

// SetZeroconfEnabled records the cluster's current zeroconf flag, applied
// to every ClusterState this relay projects from upstream frames.
func (r *Relay) SetZeroconfEnabled(enabled bool) {
	r.zeroconfEnabled = enabled
}

// Run reads frames from the upstream connection until it closes, the
// upstream sends SHUTDOWN, or an unrecoverable read error occurs.
func (r *Relay) Run() {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if r.isClosing() {
				r.logger.Debug("relay connection closed", telemetry.String("reason", RelaySentinel))
				r.out.Publish(wire.UpdateMessage{Signal: wire.Shutdown})
				return
			}
			disconnectErr := fmt.Errorf("%w: %w", workerrt.ErrUpstreamDisconnected, err)
			r.logger.Warn("upstream connection lost", telemetry.Err(disconnectErr))
			r.out.Publish(wire.UpdateMessage{Signal: wire.UpstreamDisconnected, Error: disconnectErr.Error()})
			return
		}

		var frame wire.PushFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Debug("dropping unparsable push frame", telemetry.Err(err))
			continue
		}

		switch {
		case frame.Signal.IsClusterUpdate():
			state, err := decodeClusterState(frame.Data)
			if err != nil {
				r.logger.Debug("dropping unparsable cluster update", telemetry.Err(err))
				continue
			}
			state.ZeroconfDiscovery = r.zeroconfEnabled
			r.out.Publish(wire.UpdateMessage{Signal: wire.NetworkUpdate, Data: &state})
		case frame.Signal.IsClusterShutdown():
			r.out.Publish(wire.UpdateMessage{Signal: wire.Shutdown})
			return
		default:
			r.logger.Debug("dropping unrecognized push signal", telemetry.String("signal", string(frame.Signal)))
		}
	}
}

func (r *Relay) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

func decodeClusterState(data any) (wire.ClusterState, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return wire.ClusterState{}, err
	}
	var state wire.ClusterState
	if err := json.Unmarshal(raw, &state); err != nil {
		return wire.ClusterState{}, err
	}
	return state, nil
}

// Close shuts down the underlying websocket connection, marking this as
// a caller-initiated shutdown so Run's subsequent read error is reported
// as a clean close rather than ErrUpstreamDisconnected.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	return r.conn.Close()
}
