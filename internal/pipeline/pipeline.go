package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fedutinova/finsight/internal/common"
	"github.com/fedutinova/finsight/internal/extract"
	"github.com/fedutinova/finsight/internal/llm"
	"github.com/fedutinova/finsight/internal/search"
	"github.com/fedutinova/finsight/internal/storage"
)

// StepOutput is the result of one completed step, passed as context to the
// steps that declared a dependency on it.
type StepOutput struct {
	Step   string
	Output string
}

// Step is a named transformation stage with a declared dependency set. The
// run function receives the outputs of exactly the steps named in Requires,
// in that order.
type Step struct {
	Name     string
	Requires []string
	Run      func(ctx context.Context, deps []StepOutput) (string, error)
}

// Executor runs the fixed analysis DAG for one job:
//
//	extract ─> analyze ─┬─> advise
//	                    └─> assess_risk
//
// advise and assess_risk depend only on the immutable analyze output, so they
// run concurrently. Any step failure aborts the rest of the DAG and discards
// partial outputs; the job is atomic.
type Executor struct {
	storage     storage.Storage
	extractor   extract.TextExtractor
	completer   llm.Completer
	searcher    search.Searcher
	stepTimeout time.Duration
}

func NewExecutor(st storage.Storage, ex extract.TextExtractor, c llm.Completer, s search.Searcher, stepTimeout time.Duration) *Executor {
	return &Executor{
		storage:     st,
		extractor:   ex,
		completer:   c,
		searcher:    s,
		stepTimeout: stepTimeout,
	}
}

// Run executes the DAG over the artifact and aggregates the three analysis
// sections into one result string.
func (e *Executor) Run(ctx context.Context, artifactKey, query string) (string, error) {
	outputs, err := e.runDAG(ctx, e.steps(artifactKey, query))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Financial Analysis\n\n")
	sb.WriteString(strings.TrimSpace(outputs[stepAnalyze].Output))
	sb.WriteString("\n\n## Investment Recommendation\n\n")
	sb.WriteString(strings.TrimSpace(outputs[stepAdvise].Output))
	sb.WriteString("\n\n## Risk Assessment\n\n")
	sb.WriteString(strings.TrimSpace(outputs[stepAssessRisk].Output))
	sb.WriteString("\n")

	return sb.String(), nil
}

// runDAG executes steps in dependency order, running every ready step of a
// wave concurrently. Ordering within one job is fixed by the dependency
// edges; there is no ordering across jobs.
func (e *Executor) runDAG(ctx context.Context, steps []Step) (map[string]StepOutput, error) {
	done := make(map[string]StepOutput, len(steps))
	remaining := make([]Step, len(steps))
	copy(remaining, steps)

	var mu sync.Mutex

	for len(remaining) > 0 {
		var ready, blocked []Step
		for _, s := range remaining {
			if depsSatisfied(s, done) {
				ready = append(ready, s)
			} else {
				blocked = append(blocked, s)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("pipeline deadlock: unsatisfiable dependencies for %d steps", len(blocked))
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range ready {
			s := s
			deps := make([]StepOutput, len(s.Requires))
			for i, name := range s.Requires {
				deps[i] = done[name]
			}

			g.Go(func() error {
				stepCtx, cancel := context.WithTimeout(gctx, e.stepTimeout)
				defer cancel()

				out, err := s.Run(stepCtx, deps)
				if err != nil {
					return &common.StepError{Step: s.Name, Err: err}
				}

				mu.Lock()
				done[s.Name] = StepOutput{Step: s.Name, Output: out}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		remaining = blocked
	}

	return done, nil
}

func depsSatisfied(s Step, done map[string]StepOutput) bool {
	for _, name := range s.Requires {
		if _, ok := done[name]; !ok {
			return false
		}
	}
	return true
}
