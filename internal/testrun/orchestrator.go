package testrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/solo-git/sologit/internal/logging"
)

// Options configures an Orchestrator run.
type Options struct {
	WorkDir    string // directory the subprocess/docker mount runs against
	LogDir     string // per-test stdout/stderr logs are written here, if non-empty
	ParallelN  int    // max concurrently-running tests; 0 means unlimited
	OnLine     func(OutputLine)
	Subprocess Executor
	Docker     Executor
}

// Orchestrator runs a set of test Specs honoring their dependency DAG in
// waves: every test whose dependencies are done runs in parallel, and the
// next ready set is computed only after the whole wave has finished, not
// as each test completes. Anything downstream of a failed dependency is
// skipped rather than run.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger
}

// NewOrchestrator builds an Orchestrator, defaulting missing executors to
// their standard implementations.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Subprocess == nil {
		opts.Subprocess = &SubprocessExecutor{}
	}
	return &Orchestrator{opts: opts, log: logging.For("testrun")}
}

// Run executes every Spec to completion (or cancellation), returning a
// Summary. Tests blocked by a failed dependency are reported with
// VerdictSkipped and never run.
func (o *Orchestrator) Run(ctx context.Context, specs []Spec) (Summary, error) {
	d, err := newDAG(specs)
	if err != nil {
		return Summary{}, err
	}
	specByName := make(map[string]Spec, len(specs))
	for _, s := range specs {
		specByName[s.Name] = s
	}

	var mu sync.Mutex
	outcomes := make(map[string]TestOutcome, len(specs))

	maxGoroutines := o.opts.ParallelN
	for d.remaining() {
		ready := d.ready()
		if len(ready) == 0 {
			// Nothing ready and nothing done — every remaining test is
			// blocked by a failed dependency; record them as skipped.
			break
		}

		p := pool.New().WithContext(ctx)
		if maxGoroutines > 0 {
			p = p.WithMaxGoroutines(maxGoroutines)
		}
		for _, name := range ready {
			name := name
			spec := specByName[name]
			p.Go(func(ctx context.Context) error {
				outcome := o.runOne(ctx, spec)
				mu.Lock()
				outcomes[name] = outcome
				mu.Unlock()
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			o.log.Error().Err(err).Msg("test batch returned an error")
		}

		for _, name := range ready {
			oc := outcomes[name]
			d.markDone(name, oc.Verdict == VerdictPass)
		}

		if ctx.Err() != nil {
			break
		}
	}

	for _, name := range d.blockedTests() {
		outcomes[name] = TestOutcome{Name: name, Verdict: VerdictSkipped}
	}

	ordered := make([]TestOutcome, 0, len(specs))
	for _, s := range specs {
		if oc, ok := outcomes[s.Name]; ok {
			ordered = append(ordered, oc)
		} else {
			ordered = append(ordered, TestOutcome{Name: s.Name, Verdict: VerdictSkipped})
		}
	}
	return newSummary(ordered), nil
}

func (o *Orchestrator) runOne(ctx context.Context, spec Spec) TestOutcome {
	executor := o.opts.Subprocess
	if spec.Mode == ExecDocker && o.opts.Docker != nil {
		executor = o.opts.Docker
	}

	var logFile *os.File
	if o.opts.LogDir != "" {
		if err := os.MkdirAll(o.opts.LogDir, 0o755); err == nil {
			f, ferr := os.Create(filepath.Join(o.opts.LogDir, spec.Name+".log"))
			if ferr == nil {
				logFile = f
				defer f.Close()
			}
		}
	}

	onLine := o.opts.OnLine
	outcome := executor.Execute(ctx, spec, o.opts.WorkDir, func(l OutputLine) {
		if logFile != nil {
			fmt.Fprintf(logFile, "[%s] %s\n", l.Stream, l.Line)
		}
		if onLine != nil {
			onLine(l)
		}
	})
	if logFile != nil {
		outcome.LogPath = logFile.Name()
	}
	o.log.Info().Str("test", spec.Name).Str("verdict", string(outcome.Verdict)).Msg("test finished")
	return outcome
}
