package compiler

import (
	"context"
	"errors"
	"sync"

	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/locator"
)

// evaluation is the outcome of one source.
type evaluation struct {
	tree *evaluator.Tree
	err  error
}

// evaluateAll evaluates sources on a bounded worker pool. Results are stored
// by index, so the returned trees are in locator order no matter which
// worker finished first. Every failing source is reported.
func (c *Compiler) evaluateAll(ctx context.Context, sources []locator.Source) ([]*evaluator.Tree, []diag.Diagnostic, error) {
	results := make([]evaluation, len(sources))

	workerCount := c.workers
	if len(sources) < workerCount {
		workerCount = len(sources)
	}

	workQueue := make(chan int, len(sources))
	for i := range sources {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				// Check for cancellation between files
				select {
				case <-ctx.Done():
					return
				default:
				}

				results[idx] = c.evaluateOne(ctx, sources[idx])
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		trees = make([]*evaluator.Tree, 0, len(sources))
		ds    []diag.Diagnostic
		errs  []error
	)
	for _, r := range results {
		if r.err != nil {
			ds = append(ds, diag.FromError(diag.StageEvaluate, r.err)...)
			errs = append(errs, r.err)
			continue
		}
		trees = append(trees, r.tree)
	}
	if len(errs) > 0 {
		return nil, ds, errors.Join(errs...)
	}
	return trees, nil, nil
}

func (c *Compiler) evaluateOne(ctx context.Context, src locator.Source) evaluation {
	cs, err := locator.Read(src)
	if err != nil {
		c.tel.Metrics.RecordSource(src.Ext, "unreadable")
		return evaluation{err: err}
	}

	tree, err := c.evaluator.Evaluate(ctx, cs)
	if err != nil {
		c.tel.Metrics.RecordSource(src.Ext, "failed")
		return evaluation{err: err}
	}
	c.tel.Metrics.RecordSource(src.Ext, "ok")
	return evaluation{tree: tree}
}
