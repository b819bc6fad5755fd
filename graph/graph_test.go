package graph

import (
	"errors"
	"testing"

	"github.com/creastat/clustermgr/node"
)

func testRegistry(t *testing.T) *node.Registry {
	t.Helper()
	reg := node.NewRegistry()
	reg.MustRegister(node.Template{Package: "", Name: "source", Kind: node.KindSource})
	reg.MustRegister(node.Template{Package: "", Name: "step", Kind: node.KindStep})
	reg.MustRegister(node.Template{Package: "", Name: "sink", Kind: node.KindSink})
	return reg
}

func TestPipelineAddNodeAndEdge(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")

	src, err := p.AddNode(reg, "source", "", "src", nil)
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	sink, err := p.AddNode(reg, "sink", "", "sink", nil)
	if err != nil {
		t.Fatalf("add sink: %v", err)
	}

	if _, err := p.AddEdge(src.ID, sink.ID); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	if len(p.AllEdges()) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(p.AllEdges()))
	}
}

func TestPipelineRejectsCycle(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")

	a, _ := p.AddNode(reg, "step", "", "a", nil)
	b, _ := p.AddNode(reg, "step", "", "b", nil)

	if _, err := p.AddEdge(a.ID, b.ID); err != nil {
		t.Fatalf("add a->b: %v", err)
	}
	if _, err := p.AddEdge(b.ID, a.ID); !errors.Is(err, ErrNotADag) {
		t.Fatalf("expected ErrNotADag, got %v", err)
	}
	// The rejected edge must not have been left in the graph.
	if len(p.AllEdges()) != 1 {
		t.Fatalf("expected cycle-forming edge to be rolled back, got %d edges", len(p.AllEdges()))
	}
}

func TestPipelineRejectsWrongKindEndpoints(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")

	src, _ := p.AddNode(reg, "source", "", "src", nil)
	sink, _ := p.AddNode(reg, "sink", "", "sink", nil)

	if _, err := p.AddEdge(sink.ID, src.ID); !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("expected ErrInvalidNode for sink-as-source, got %v", err)
	}
}

func TestPipelineInstantiateRequiresWorkers(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")
	n, _ := p.AddNode(reg, "step", "", "a", nil)

	if err := p.Instantiate(); !errors.Is(err, ErrInstantiationRefused) {
		t.Fatalf("expected ErrInstantiationRefused, got %v", err)
	}

	if err := p.AssignWorker(n.ID, "worker-1"); err != nil {
		t.Fatalf("assign worker: %v", err)
	}
	if err := p.Instantiate(); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if !p.Instantiated() {
		t.Fatal("expected pipeline to be instantiated")
	}

	if _, err := p.AddNode(reg, "step", "", "b", nil); !errors.Is(err, ErrAlreadyInstantiated) {
		t.Fatalf("expected structural mutation to be refused once instantiated, got %v", err)
	}
}

func TestPipelineDuplicateEdgeInsertIsNoOp(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")
	a, _ := p.AddNode(reg, "step", "", "a", nil)
	b, _ := p.AddNode(reg, "step", "", "b", nil)

	first, err := p.AddEdge(a.ID, b.ID)
	if err != nil {
		t.Fatalf("first edge: %v", err)
	}
	second, err := p.AddEdge(a.ID, b.ID)
	if err != nil {
		t.Fatalf("re-inserting the same edge should be a no-op, got: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the existing edge to be returned, got a new id %s vs %s", second.ID, first.ID)
	}
	if len(p.AllEdges()) != 1 {
		t.Fatalf("expected exactly 1 edge, got %d", len(p.AllEdges()))
	}
}

func TestRemoveEdgeRejectsIDMismatch(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")
	a, _ := p.AddNode(reg, "step", "", "a", nil)
	b, _ := p.AddNode(reg, "step", "", "b", nil)
	edge, err := p.AddEdge(a.ID, b.ID)
	if err != nil {
		t.Fatalf("add edge: %v", err)
	}

	if _, err := p.RemoveEdge(a.ID, b.ID, "not-"+edge.ID); !errors.Is(err, ErrEdgeIDMismatch) {
		t.Fatalf("expected ErrEdgeIDMismatch, got %v", err)
	}
	if len(p.AllEdges()) != 1 {
		t.Fatalf("mismatched remove must not delete the edge, got %d edges", len(p.AllEdges()))
	}

	removed, err := p.RemoveEdge(a.ID, b.ID, edge.ID)
	if err != nil {
		t.Fatalf("remove edge: %v", err)
	}
	if removed.ID != edge.ID {
		t.Fatalf("expected removed edge %s, got %s", edge.ID, removed.ID)
	}
	if len(p.AllEdges()) != 0 {
		t.Fatalf("expected no edges after removal, got %d", len(p.AllEdges()))
	}

	if _, err := p.RemoveEdge(a.ID, b.ID, ""); !errors.Is(err, ErrEdgeNotFound) {
		t.Fatalf("expected ErrEdgeNotFound for already-removed edge, got %v", err)
	}
}

func TestWorkerGraphMapping(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")
	a, _ := p.AddNode(reg, "step", "", "a", nil)
	b, _ := p.AddNode(reg, "step", "", "b", nil)

	if _, err := p.WorkerGraphMapping(); !errors.Is(err, ErrNotInstantiated) {
		t.Fatalf("expected ErrNotInstantiated before instantiate, got %v", err)
	}

	p.AssignWorker(a.ID, "w1")
	p.AssignWorker(b.ID, "w1")
	if err := p.Instantiate(); err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	mapping, err := p.WorkerGraphMapping()
	if err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if len(mapping["w1"]) != 2 {
		t.Fatalf("expected 2 nodes on w1, got %d", len(mapping["w1"]))
	}
}

func TestToWebJSONRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "desc")
	a, _ := p.AddNode(reg, "step", "", "a", nil)
	b, _ := p.AddNode(reg, "step", "", "b", nil)
	p.AddEdge(a.ID, b.ID)

	web := p.ToWebJSON()
	if len(web.Nodes) != 2 || len(web.Edges) != 1 {
		t.Fatalf("unexpected projection: %+v", web)
	}

	web.Name = "renamed"
	updated, err := p.UpdateFromWebJSON(web)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("expected name to update, got %q", updated.Name)
	}
}

func TestUpdateFromWebJSONRejectsIDMismatch(t *testing.T) {
	reg := testRegistry(t)
	p := New("p1", "")
	p.AddNode(reg, "step", "", "a", nil)

	web := p.ToWebJSON()
	web.ID = "not-the-pipeline-id"
	if _, err := p.UpdateFromWebJSON(web); !errors.Is(err, ErrPipelineIDMismatch) {
		t.Fatalf("expected ErrPipelineIDMismatch, got %v", err)
	}
}
