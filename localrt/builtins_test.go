package localrt

import (
	"context"
	"errors"
	"testing"
)

func TestBarrierNodeWaitsForAllBranches(t *testing.T) {
	tmpl := NewBarrierTemplate(2)
	inst, err := tmpl.New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b := inst.(*barrierNode)

	input := make(chan any, 8)
	output := make(chan any, 8)

	input <- 1
	input <- DoneMarker{}
	input <- 2
	input <- DoneMarker{}
	close(input)

	if err := b.Process(context.Background(), input, output); err != nil {
		t.Fatalf("process: %v", err)
	}
	close(output)

	var got []any
	for v := range output {
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("expected 2 forwarded values + 1 consolidated done, got %v", got)
	}
	if _, ok := got[len(got)-1].(DoneMarker); !ok {
		t.Fatalf("expected final value to be a DoneMarker, got %v", got[len(got)-1])
	}
}

func TestBarrierNodeFailsFastOnError(t *testing.T) {
	tmpl := NewBarrierTemplate(2)
	inst, _ := tmpl.New(nil)
	b := inst.(*barrierNode)

	input := make(chan any, 4)
	output := make(chan any, 4)
	input <- errMarker{err: errors.New("boom")}
	input <- DoneMarker{}
	close(input)

	err := b.Process(context.Background(), input, output)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}
