package relay

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs one request's terminal record with its classified
// error. Err is nil when the execution succeeded.
type BatchResult struct {
	Execution *Execution
	Err       error
}

// ExecuteBatch runs the requests concurrently with at most the configured
// Concurrency invocations in flight. Every request is eventually started
// and run to a terminal state; one execution failing never affects its
// siblings. Results are returned in request order regardless of completion
// order. The call returns once all executions have finished.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, requests []Request) []BatchResult {
	results := make([]BatchResult, len(requests))

	// A plain group, deliberately not errgroup.WithContext: a failed
	// execution is a result, not a reason to cancel the rest of the batch.
	group := new(errgroup.Group)
	group.SetLimit(o.concurrency)
	for i, req := range requests {
		group.Go(func() error {
			execution, err := o.Execute(ctx, req)
			results[i] = BatchResult{Execution: execution, Err: err}
			return nil
		})
	}
	// Wait never returns an error here; per-request errors land in results.
	_ = group.Wait()
	return results
}

// Succeeded counts the batch results that finished successfully.
func Succeeded(results []BatchResult) int {
	count := 0
	for _, r := range results {
		if r.Err == nil {
			count++
		}
	}
	return count
}
