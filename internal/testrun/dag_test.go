package testrun

import "testing"

func TestDAG_ReadySet(t *testing.T) {
	specs := []Spec{
		{Name: "unit"},
		{Name: "integration", DependsOn: []string{"unit"}},
		{Name: "lint"},
	}
	d, err := newDAG(specs)
	if err != nil {
		t.Fatalf("newDAG: %v", err)
	}

	ready := d.ready()
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tests (unit, lint), got %v", ready)
	}

	d.markDone("unit", true)
	d.markDone("lint", true)

	ready = d.ready()
	if len(ready) != 1 || ready[0] != "integration" {
		t.Fatalf("expected integration to become ready, got %v", ready)
	}
}

func TestDAG_FailedDependencyBlocksDescendants(t *testing.T) {
	specs := []Spec{
		{Name: "unit"},
		{Name: "integration", DependsOn: []string{"unit"}},
		{Name: "e2e", DependsOn: []string{"integration"}},
	}
	d, err := newDAG(specs)
	if err != nil {
		t.Fatalf("newDAG: %v", err)
	}

	d.markDone("unit", false)

	if d.remaining() {
		if ready := d.ready(); len(ready) != 0 {
			t.Fatalf("expected no ready tests once unit failed, got %v", ready)
		}
	}

	blocked := d.blockedTests()
	if len(blocked) != 2 {
		t.Fatalf("expected integration and e2e both blocked, got %v", blocked)
	}
}

func TestDAG_DetectsCycle(t *testing.T) {
	specs := []Spec{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}
	_, err := newDAG(specs)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
}

func TestDAG_UnknownDependency(t *testing.T) {
	specs := []Spec{
		{Name: "a", DependsOn: []string{"ghost"}},
	}
	_, err := newDAG(specs)
	if err == nil {
		t.Fatal("expected an unknown dependency error")
	}
	if _, ok := err.(*UnknownDependencyError); !ok {
		t.Fatalf("expected *UnknownDependencyError, got %T", err)
	}
}
