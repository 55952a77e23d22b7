package testrun

// dag tracks which tests are still blocked on unfinished dependencies and
// recomputes the ready set as tests complete — it's the scheduling core the
// parallel orchestrator drives.
type dag struct {
	specs   map[string]Spec
	order   []string // all test names, stable input order
	done    map[string]bool
	blocked map[string]bool // permanently skipped because a dependency failed
}

func newDAG(specs []Spec) (*dag, error) {
	byName := make(map[string]Spec, len(specs))
	order := make([]string, 0, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
		order = append(order, s.Name)
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &UnknownDependencyError{Test: s.Name, Dependency: dep}
			}
		}
	}
	if cyc := findCycle(byName); len(cyc) > 0 {
		return nil, &CycleError{Members: cyc}
	}
	return &dag{
		specs:   byName,
		order:   order,
		done:    make(map[string]bool, len(specs)),
		blocked: make(map[string]bool),
	}, nil
}

// findCycle returns the members of a cycle if one exists, via a standard
// three-color DFS, else nil.
func findCycle(specs map[string]Spec) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(specs))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range specs[name].DependsOn {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge; capture the cycle from dep onward.
				for i, n := range stack {
					if n == dep {
						cycle = append([]string{}, stack[i:]...)
						break
					}
				}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for name := range specs {
		if color[name] == white {
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// ready returns the names of tests whose dependencies have all completed
// (passed) and which are not themselves done or blocked yet, in stable
// input order.
func (d *dag) ready() []string {
	var out []string
	for _, name := range d.order {
		if d.done[name] || d.blocked[name] {
			continue
		}
		if d.dependenciesSatisfied(name) {
			out = append(out, name)
		}
	}
	return out
}

func (d *dag) dependenciesSatisfied(name string) bool {
	for _, dep := range d.specs[name].DependsOn {
		if !d.done[dep] {
			return false
		}
	}
	return true
}

// markDone records a completed test's pass/fail, blocking any dependents
// when it failed so they report VerdictSkipped rather than running.
func (d *dag) markDone(name string, passed bool) {
	d.done[name] = true
	if !passed {
		d.blockDependents(name)
	}
}

func (d *dag) blockDependents(failed string) {
	for _, s := range d.specs {
		for _, dep := range s.DependsOn {
			if dep == failed && !d.done[s.Name] && !d.blocked[s.Name] {
				d.blocked[s.Name] = true
				d.blockDependents(s.Name)
			}
		}
	}
}

// blockedTests returns the names of tests blocked by a failed dependency,
// in stable input order — these are reported as VerdictSkipped.
func (d *dag) blockedTests() []string {
	var out []string
	for _, name := range d.order {
		if d.blocked[name] {
			out = append(out, name)
		}
	}
	return out
}

func (d *dag) remaining() bool {
	for _, name := range d.order {
		if !d.done[name] && !d.blocked[name] {
			return true
		}
	}
	return false
}
