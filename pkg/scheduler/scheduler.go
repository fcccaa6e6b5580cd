package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/probe"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

// Prober is the per-candidate reachability check. Implemented by
// probe.Runner; swapped for a fake in tests.
type Prober interface {
	Probe(ctx context.Context, candidate store.Candidate) probe.Result
}

// CandidateRemover is the slice of the config store the scheduler needs
type CandidateRemover interface {
	Remove(c store.Candidate) error
}

// Scheduler drives the prober over the full candidate set under a fixed
// concurrency cap and prunes the store of disproven candidates.
type Scheduler struct {
	store       CandidateRemover
	prober      Prober
	concurrency int
	logger      logging.Logger
}

// New creates a health-check scheduler
func New(store CandidateRemover, prober Prober, concurrency int, logger logging.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		store:       store,
		prober:      prober,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run probes every candidate and returns the ones that passed, sorted by
// ordinal. Failing candidates are removed from the store; a removal failure
// is logged and otherwise ignored, a follow-up run may retry it. No ordering
// is guaranteed between different candidates' probes. On cancellation the
// in-flight probes finish their cleanup, the rest of the queue is abandoned,
// and a cancelled error is returned alongside the results so far.
func (s *Scheduler) Run(ctx context.Context, candidates []store.Candidate) ([]store.Candidate, error) {
	if len(candidates) == 0 {
		s.logger.Infof("No candidates to health-check")
		return nil, nil
	}

	workers := s.concurrency
	if len(candidates) < workers {
		workers = len(candidates)
	}

	s.logger.Infof("Health-checking %d candidates with %d workers", len(candidates), workers)

	jobs := make(chan store.Candidate)
	results := make(chan probe.Result, len(candidates))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for candidate := range jobs {
				// Do not start new probes after cancellation; in-flight
				// probes handle their own cleanup
				if ctx.Err() != nil {
					return
				}
				results <- s.prober.Probe(ctx, candidate)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, candidate := range candidates {
			select {
			case jobs <- candidate:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	var passed []store.Candidate
	for result := range results {
		if result.Passed {
			s.logger.Infof("Candidate passed: %s", result.Candidate.FileName())
			passed = append(passed, result.Candidate)
			continue
		}
		if wasCancelled(result) {
			continue
		}

		s.logger.Warnf("Candidate failed, removing: %s, reason: %v",
			result.Candidate.FileName(), probe.HealthCheckError(result))
		if err := s.store.Remove(result.Candidate); err != nil {
			// Best effort; the candidate will be re-probed next run
			s.logger.Warnf("Failed to remove candidate %s: %v", result.Candidate.FileName(), err)
		}
	}

	sort.Slice(passed, func(i, j int) bool {
		return passed[i].Ordinal < passed[j].Ordinal
	})

	if err := ctx.Err(); err != nil {
		return passed, errors.NewCancelledError("health-check run cancelled", err)
	}

	s.logger.Infof("Health-check finished: %d of %d candidates passed", len(passed), len(candidates))
	return passed, nil
}

// wasCancelled reports whether the result's final attempt was cut short by
// cancellation rather than disproven; such candidates must not be pruned.
func wasCancelled(result probe.Result) bool {
	if len(result.Attempts) == 0 {
		return true
	}
	return result.Attempts[len(result.Attempts)-1].Outcome == probe.OutcomeCancelled
}
