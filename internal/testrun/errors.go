package testrun

import "fmt"

// CycleError is returned when a set of Specs' DependsOn edges form a cycle —
// there is no valid execution order.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among tests: %v", e.Members)
}

// UnknownDependencyError is returned when a Spec names a DependsOn entry
// that isn't in the suite.
type UnknownDependencyError struct {
	Test       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("test %q depends on unknown test %q", e.Test, e.Dependency)
}
