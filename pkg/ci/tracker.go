package ci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/ros-tooling/ci-for-pr/pkg/log"
)

// Tracker defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollTimeout  = 30 * time.Second
	DefaultTimeout      = 2 * time.Hour
	DefaultMaxRetries   = 3
	DefaultWorkers      = 4
)

// TrackerOptions tunes polling.
type TrackerOptions struct {
	// PollInterval is how often every outstanding job is polled.
	PollInterval time.Duration

	// PollTimeout bounds a single status request.
	PollTimeout time.Duration

	// Timeout is how long each job may take to reach a terminal state.
	Timeout time.Duration

	// MaxRetries is the number of consecutive failed polls tolerated per
	// job. One more failure marks the job Errored.
	MaxRetries int

	// Workers is the number of concurrent status requests.
	Workers int
}

func (o *TrackerOptions) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
}

// Tracker polls jobs until each reaches a terminal state.
type Tracker struct {
	poller Poller
	opts   TrackerOptions
}

// NewTracker creates a tracker. Zero options take the defaults; use a
// negative MaxRetries to fail on the first error.
func NewTracker(poller Poller, opts TrackerOptions) *Tracker {
	opts.applyDefaults()
	return &Tracker{poller: poller, opts: opts}
}

type pollRequest struct {
	idx      int
	name     string
	remoteID string
}

type pollResult struct {
	idx    int
	status Status
	err    error
}

// Track polls jobs until every one is terminal and returns them. Jobs are
// updated in place; Track is their only writer while it runs. Each job has
// its own deadline; cancelling ctx marks every unfinished job TimedOut.
func (t *Tracker) Track(ctx context.Context, jobs []*Job) []*Job {
	outstanding := make(map[int]bool, len(jobs))
	for i, job := range jobs {
		if !job.State.Terminal() {
			outstanding[i] = true
		}
	}
	if len(outstanding) == 0 {
		return jobs
	}

	trackCtx, cancel := context.WithCancel(ctx)

	// Every job has at most one request queued or in flight, so these
	// buffers never fill.
	queue := make(chan pollRequest, len(jobs))
	results := make(chan pollResult, len(jobs))
	expired := make(chan int, len(jobs))

	var wg conc.WaitGroup
	for w := 0; w < t.opts.Workers; w++ {
		wg.Go(func() {
			t.worker(trackCtx, queue, results)
		})
	}

	timers := make(map[int]*time.Timer, len(outstanding))
	for idx := range outstanding {
		timers[idx] = time.AfterFunc(t.opts.Timeout, func() {
			expired <- idx
		})
	}

	inFlight := make(map[int]bool, len(outstanding))
	failures := make(map[int]int, len(outstanding))

	dispatch := func() {
		for idx, job := range jobs {
			if !outstanding[idx] || inFlight[idx] {
				continue
			}
			inFlight[idx] = true
			queue <- pollRequest{idx: idx, name: job.Name, remoteID: job.RemoteID}
		}
	}

	finish := func(idx int, state State, err error) {
		job := jobs[idx]
		if !job.transition(state) {
			return
		}
		job.Err = err
		delete(outstanding, idx)
		timers[idx].Stop()

		attrs := []any{"job", job.Name, "remote_id", job.RemoteID, "state", job.State}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		log.Info("job finished", attrs...)
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	dispatch()
	for len(outstanding) > 0 {
		select {
		case <-ctx.Done():
			for idx := range jobs {
				if outstanding[idx] {
					finish(idx, TimedOut, fmt.Errorf("tracking stopped: %w", ctx.Err()))
				}
			}

		case idx := <-expired:
			if outstanding[idx] {
				finish(idx, TimedOut, fmt.Errorf("no terminal state after %s", t.opts.Timeout))
			}

		case <-ticker.C:
			dispatch()

		case res := <-results:
			inFlight[res.idx] = false
			if !outstanding[res.idx] {
				continue
			}
			job := jobs[res.idx]
			job.Polls++

			if res.err != nil {
				if errors.Is(res.err, ErrJobNotFound) {
					finish(res.idx, Errored, res.err)
					continue
				}
				failures[res.idx]++
				if failures[res.idx] > t.opts.MaxRetries {
					finish(res.idx, Errored, fmt.Errorf("status unavailable after %d attempts: %w", failures[res.idx], res.err))
					continue
				}
				log.Debug("poll failed, retrying next interval", "job", job.Name, "attempt", failures[res.idx], "error", res.err)
				continue
			}

			failures[res.idx] = 0
			t.observe(job, res.status)
			if res.status.State.Terminal() {
				finish(res.idx, res.status.State, nil)
			}
		}
	}

	cancel()
	for _, timer := range timers {
		timer.Stop()
	}
	t.drain(&wg)
	return jobs
}

// drain waits for the workers to stop, but no longer than one poll timeout.
// A worker stuck in a Poll that ignores its context is left behind.
func (t *Tracker) drain(wg *conc.WaitGroup) {
	done := make(chan *panics.Recovered, 1)
	go func() {
		done <- wg.WaitAndRecover()
	}()

	select {
	case r := <-done:
		if r != nil {
			log.Error("poll worker panicked", "panic", r.Value)
		}
	case <-time.After(t.opts.PollTimeout):
		log.Warn("poll workers still busy after tracking ended", "grace", t.opts.PollTimeout)
	}
}

// observe copies what a successful poll revealed onto job.
func (t *Tracker) observe(job *Job, st Status) {
	if st.URL != "" {
		job.URL = st.URL
	}
	if st.Number != 0 {
		job.Number = st.Number
	}
	if len(st.Details) > 0 {
		job.Details = st.Details
	}
	if st.State == Running && job.State == Queued {
		job.transition(Running)
		log.Info("job running", "job", job.Name, "url", job.URL)
	}
}

func (t *Tracker) worker(ctx context.Context, queue <-chan pollRequest, results chan<- pollResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-queue:
			pollCtx, cancel := context.WithTimeout(ctx, t.opts.PollTimeout)
			status, err := t.poller.Poll(pollCtx, req.name, req.remoteID)
			cancel()

			select {
			case results <- pollResult{idx: req.idx, status: status, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}
