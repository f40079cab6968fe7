package fetch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Job is a single URL to retrieve, tagged with the manifest path it will be
// published under so the Executor can match results back to plan entries.
type Job struct {
	Path    string
	Request Request
}

// JobResult pairs a Job with its outcome, preserving submission order so
// the Executor can report failures against a deterministic sequence.
type JobResult struct {
	Job    Job
	Result *Result
	Err    error
}

// Pool runs a batch of fetches concurrently over a fixed worker count. The
// Executor uses it during package publication, where package bodies are
// independent of one another and safe to fetch in parallel ahead of the
// one-at-a-time digest-gated write loop.
type Pool struct {
	fetcher Fetcher
	workers int
	logger  *slog.Logger
}

// NewPool creates a Pool bound to fetcher with the given worker count.
func NewPool(fetcher Fetcher, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{fetcher: fetcher, workers: workers, logger: logger}
}

// Execute runs jobs to completion and returns their results in the same
// order as the input slice, regardless of completion order.
func (p *Pool) Execute(ctx context.Context, jobs []Job) []JobResult {
	if len(jobs) == 0 {
		return nil
	}

	type indexed struct {
		job   Job
		index int
	}

	jobsChan := make(chan indexed, len(jobs))
	resultsChan := make(chan struct {
		res   JobResult
		index int
	}, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobsChan {
				result, err := p.fetcher.Fetch(ctx, item.job.Request)
				if err != nil {
					p.logger.Error("pool fetch failed", "path", item.job.Path, "url", item.job.Request.URL, "error", err)
				}
				resultsChan <- struct {
					res   JobResult
					index int
				}{JobResult{Job: item.job, Result: result, Err: err}, item.index}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobsChan)
		for i, job := range jobs {
			select {
			case jobsChan <- indexed{job: job, index: i}:
			case <-ctx.Done():
				resultsChan <- struct {
					res   JobResult
					index int
				}{JobResult{Job: job, Err: ctx.Err()}, i}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([]struct {
		res   JobResult
		index int
	}, 0, len(jobs))
	for r := range resultsChan {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	results := make([]JobResult, len(ordered))
	for i, r := range ordered {
		results[i] = r.res
	}
	return results
}
