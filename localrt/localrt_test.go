package localrt

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creastat/clustermgr/graph"
	"github.com/creastat/clustermgr/node"
	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"
)

type passthroughNode struct {
	id     string
	double bool
}

func (p *passthroughNode) ID() string { return p.id }

func (p *passthroughNode) Process(ctx context.Context, input <-chan any, output chan<- any) error {
	for v := range input {
		n := v.(int)
		if p.double {
			n *= 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- n:
		}
	}
	return nil
}

func buildTestPipeline(t *testing.T) (*graph.Pipeline, *node.Registry) {
	t.Helper()
	reg := node.NewRegistry()
	reg.MustRegister(node.Template{
		Name: "source", Kind: node.KindSource,
		New: func(params map[string]any) (node.Instance, error) { return &passthroughNode{id: "src"}, nil },
	})
	reg.MustRegister(node.Template{
		Name: "doubler", Kind: node.KindStep,
		New: func(params map[string]any) (node.Instance, error) { return &passthroughNode{id: "dbl", double: true}, nil },
	})
	reg.MustRegister(node.Template{
		Name: "sink", Kind: node.KindSink,
		New: func(params map[string]any) (node.Instance, error) { return &passthroughNode{id: "snk"}, nil },
	})

	p := graph.New("test", "")
	src, err := p.AddNode(reg, "source", "", "src", nil)
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	step, err := p.AddNode(reg, "doubler", "", "dbl", nil)
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	sink, err := p.AddNode(reg, "sink", "", "snk", nil)
	if err != nil {
		t.Fatalf("add sink: %v", err)
	}
	if _, err := p.AddEdge(src.ID, step.ID); err != nil {
		t.Fatalf("add edge 1: %v", err)
	}
	if _, err := p.AddEdge(step.ID, sink.ID); err != nil {
		t.Fatalf("add edge 2: %v", err)
	}

	for _, n := range p.AllNodes() {
		instance, err := n.Template.New(n.Params)
		if err != nil {
			t.Fatalf("instantiate %s: %v", n.Name, err)
		}
		n.Instance = instance
	}

	p.AssignWorker(src.ID, "w1")
	p.AssignWorker(step.ID, "w1")
	p.AssignWorker(sink.ID, "w1")
	if err := p.Instantiate(); err != nil {
		t.Fatalf("instantiate pipeline: %v", err)
	}
	return p, reg
}

func TestRuntimeCommitStartStop(t *testing.T) {
	pl, _ := buildTestPipeline(t)
	rt := New("127.0.0.1", 0, telemetry.Nop())

	mapping, err := pl.WorkerGraphMapping()
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	ctx := context.Background()
	if err := rt.AsyncCommit(ctx, pl, mapping); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := rt.AsyncStart(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	state := rt.State()
	if !state.Running {
		t.Fatal("expected state.Running after start")
	}

	if err := rt.AsyncStop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rt.State().Running {
		t.Fatal("expected state.Running false after stop")
	}
}

func TestPushEndpointServesRegisterAndBroadcast(t *testing.T) {
	rt := New("127.0.0.1", 0, telemetry.Nop())
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	register := wire.RegisterFrame{Signal: wire.ClientRegister, OK: true, UUID: "test-uuid"}
	if err := conn.WriteJSON(register); err != nil {
		t.Fatalf("write register: %v", err)
	}

	rt.Zeroconf(true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wire.PushFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !frame.Signal.IsClusterUpdate() {
		t.Fatalf("expected a cluster update frame, got %+v", frame)
	}
}
