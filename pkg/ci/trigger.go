package ci

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/ros-tooling/ci-for-pr/pkg/log"
	"github.com/ros-tooling/ci-for-pr/pkg/publisher"
)

// Launcher starts jobs on the CI system.
type Launcher interface {
	// DefaultParams returns the parameters a job would run with by default.
	DefaultParams(ctx context.Context, job string) (map[string]string, error)

	// Launch queues job with params and returns the remote handle.
	Launch(ctx context.Context, job string, params map[string]string) (string, error)
}

// Authorizer checks once, before any job is started, that the caller may
// trigger CI.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// TriggerError reports a job that could not be started.
type TriggerError struct {
	Job string
	Err error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("failed to trigger %s: %v", e.Job, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// ParamNames names the job parameters that receive per-run values.
type ParamNames struct {
	ManifestURL string
	BuildArgs   string
	TestArgs    string
}

// BuildArgs returns the build arguments restricting a run to packages.
func BuildArgs(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	return "--packages-up-to " + strings.Join(packages, " ")
}

// TestArgs returns the test arguments restricting a run to packages.
func TestArgs(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	return "--packages-select " + strings.Join(packages, " ")
}

// Trigger starts jobs on a bounded pool.
type Trigger struct {
	launcher   Launcher
	authorizer Authorizer
	names      ParamNames
	workers    int
}

// NewTrigger creates a trigger. authorizer may be nil to skip the preflight.
func NewTrigger(launcher Launcher, authorizer Authorizer, names ParamNames, workers int) *Trigger {
	if workers <= 0 {
		workers = 1
	}
	return &Trigger{launcher: launcher, authorizer: authorizer, names: names, workers: workers}
}

// Start starts one job per name against the manifest at ref. Jobs that
// started are returned Queued, in the order of jobNames; every job that did
// not start has a TriggerError.
func (t *Trigger) Start(ctx context.Context, ref publisher.Ref, packages, jobNames []string) ([]*Job, []*TriggerError) {
	jobNames = uniq(jobNames)

	if t.authorizer != nil {
		if err := t.authorizer.Authorize(ctx); err != nil {
			log.Error("not authorized to trigger CI", "error", err)
			failures := make([]*TriggerError, len(jobNames))
			for i, name := range jobNames {
				failures[i] = &TriggerError{Job: name, Err: err}
			}
			return nil, failures
		}
	}

	started := make([]*Job, len(jobNames))
	failed := make([]*TriggerError, len(jobNames))

	p := pool.New().WithMaxGoroutines(t.workers)
	for i, name := range jobNames {
		p.Go(func() {
			job, err := t.start(ctx, name, ref, packages)
			if err != nil {
				log.Warn("failed to trigger job", "job", name, "error", err)
				failed[i] = &TriggerError{Job: name, Err: err}
				return
			}
			log.Info("triggered job", "job", name, "remote_id", job.RemoteID)
			started[i] = job
		})
	}
	p.Wait()

	var jobs []*Job
	var failures []*TriggerError
	for i := range jobNames {
		if started[i] != nil {
			jobs = append(jobs, started[i])
		}
		if failed[i] != nil {
			failures = append(failures, failed[i])
		}
	}
	return jobs, failures
}

func (t *Trigger) start(ctx context.Context, name string, ref publisher.Ref, packages []string) (*Job, error) {
	defaults, err := t.launcher.DefaultParams(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read job parameters: %w", err)
	}

	params := t.params(defaults, ref, packages)
	log.Debug("invoking job", "job", name, "params", params)

	remoteID, err := t.launcher.Launch(ctx, name, params)
	if err != nil {
		return nil, err
	}

	return &Job{
		Name:     name,
		Params:   params,
		RemoteID: remoteID,
		State:    Queued,
	}, nil
}

// params layers the run's values over the job defaults.
func (t *Trigger) params(defaults map[string]string, ref publisher.Ref, packages []string) map[string]string {
	params := make(map[string]string, len(defaults)+3)
	for k, v := range defaults {
		params[k] = v
	}
	if t.names.ManifestURL != "" {
		params[t.names.ManifestURL] = ref.URL
	}
	if t.names.BuildArgs != "" {
		params[t.names.BuildArgs] = appendArgs(params[t.names.BuildArgs], BuildArgs(packages))
	}
	if t.names.TestArgs != "" {
		params[t.names.TestArgs] = appendArgs(params[t.names.TestArgs], TestArgs(packages))
	}
	return params
}

func appendArgs(base, extra string) string {
	switch {
	case extra == "":
		return base
	case base == "":
		return extra
	default:
		return base + " " + extra
	}
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
