// Package orchestrator sequences one CI run: resolve the selection, synthesize
// and publish the manifest, trigger and track jobs, then report on the pull
// requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
	"github.com/ros-tooling/ci-for-pr/pkg/config"
	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
	"github.com/ros-tooling/ci-for-pr/pkg/manifest"
	"github.com/ros-tooling/ci-for-pr/pkg/publisher"
	"github.com/ros-tooling/ci-for-pr/pkg/report"
	"github.com/ros-tooling/ci-for-pr/pkg/resolver"
)

// Request is one invocation.
type Request struct {
	Selection resolver.Selection

	// Packages limits the build and tests to these packages.
	Packages []string

	// Jobs overrides the configured CI jobs.
	Jobs []string

	// Build triggers and tracks the jobs. Without it the run stops after
	// publishing the manifest.
	Build bool

	// ManifestOut also writes the synthesized manifest to this path.
	ManifestOut string
}

// Deps are the collaborators of a run. Trigger, Tracker and Reporter may be
// nil when the requests never build or comment.
type Deps struct {
	Manifests manifest.Fetcher
	Resolver  *resolver.Resolver
	Publisher publisher.Publisher
	Trigger   *ci.Trigger
	Tracker   *ci.Tracker
	Reporter  *report.Reporter
}

// DefaultCommentTimeout bounds comment posting once tracking is over.
const DefaultCommentTimeout = 2 * time.Minute

// Orchestrator runs requests against a fixed configuration.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	// CommentTimeout overrides DefaultCommentTimeout when positive.
	CommentTimeout time.Duration
}

func (o *Orchestrator) commentTimeout() time.Duration {
	if o.CommentTimeout > 0 {
		return o.CommentTimeout
	}
	return DefaultCommentTimeout
}

// New creates an orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Run executes req. A non-nil error means the run stopped before any job was
// triggered. Failures after that point are recorded on the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	logger := log.With("run_id", res.RunID)

	sel := req.Selection
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	targets := sel.Targets()
	if req.Build && (o.deps.Trigger == nil || o.deps.Tracker == nil) {
		return nil, errors.New("building requires a CI trigger and tracker")
	}
	if sel.Comment && o.deps.Reporter == nil {
		return nil, errors.New("commenting requires a reporter")
	}

	baseURL := o.cfg.ManifestURL()
	logger.Info("loading base manifest", "url", baseURL)
	base, err := manifest.Load(ctx, o.deps.Manifests, baseURL)
	if err != nil {
		return nil, err
	}

	overrides, err := o.deps.Resolver.Resolve(ctx, sel, base)
	if err != nil {
		return nil, err
	}
	res.Overrides = overrides

	synthesized, err := manifest.Synthesize(base, overrides)
	if err != nil {
		return nil, err
	}
	res.Manifest = synthesized
	for _, name := range manifest.Unknown(base, overrides) {
		logger.Warn("repository not in base manifest, appending", "name", name)
	}

	content, err := manifest.Marshal(synthesized)
	if err != nil {
		return nil, err
	}
	res.ManifestContent = string(content)

	if req.ManifestOut != "" {
		if err := os.WriteFile(req.ManifestOut, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write manifest: %w", err)
		}
		logger.Info("wrote manifest", "path", req.ManifestOut)
	}

	ref, err := o.deps.Publisher.Publish(ctx, content, title(sel, targets))
	if err != nil {
		return nil, err
	}
	res.ManifestRef = ref
	logger.Info("published manifest", "url", ref.URL)

	jobNames := req.Jobs
	if len(jobNames) == 0 {
		jobNames = o.cfg.CI.Jobs
	}

	if req.Build {
		jobs, failures := o.deps.Trigger.Start(ctx, ref, req.Packages, jobNames)
		res.TriggerFailures = failures
		logger.Log(ctx, log.LevelProgress, "tracking jobs", "started", len(jobs), "failed_to_start", len(failures))
		res.Jobs = o.deps.Tracker.Track(ctx, jobs)
	}

	res.Body = report.Render(report.Details{
		ManifestURL: ref.URL,
		BuildArgs:   ci.BuildArgs(req.Packages),
		TestArgs:    ci.TestArgs(req.Packages),
		Jobs:        jobNames,
		CIURL:       o.cfg.CI.URL,
	}, res.Jobs, res.TriggerFailures)

	if sel.Comment {
		// Comments go out even when ctx was cancelled during tracking.
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.commentTimeout())
		res.Commented = true
		res.Comments = o.deps.Reporter.Post(postCtx, targets, res.Body)
		cancel()
	}

	if err := res.Err(); err != nil {
		logger.Warn("run finished with failures", "error", err)
	} else {
		logger.Info("run finished")
	}
	return res, nil
}

// title describes the run on the published manifest.
func title(sel resolver.Selection, targets []github.PullRef) string {
	urls := make([]string, len(targets))
	for i, ref := range targets {
		urls[i] = ref.URL()
	}
	if sel.IsBranchMode() {
		if len(urls) == 0 {
			return "CI input for branch " + sel.Branch
		}
		return fmt.Sprintf("CI input for branch %s, PR %s", sel.Branch, strings.Join(urls, " "))
	}
	return "CI input for PR " + strings.Join(urls, " ")
}

// Result is what a run produced.
type Result struct {
	RunID string

	Overrides       []manifest.Override
	Manifest        manifest.Manifest
	ManifestContent string
	ManifestRef     publisher.Ref

	Jobs            []*ci.Job
	TriggerFailures []*ci.TriggerError

	// Commented reports whether comments were requested.
	Commented bool
	Comments  []report.CommentResult

	// Body is the rendered report.
	Body string
}

// Err combines every job that did not succeed, every job that did not start
// and every comment that was not posted. It is nil for a clean run.
func (r *Result) Err() error {
	var err error
	for _, f := range r.TriggerFailures {
		err = multierr.Append(err, f)
	}
	for _, job := range r.Jobs {
		if job.State == ci.Succeeded {
			continue
		}
		if job.Err != nil {
			err = multierr.Append(err, fmt.Errorf("job %s %s: %w", job.Name, job.State, job.Err))
		} else {
			err = multierr.Append(err, fmt.Errorf("job %s %s", job.Name, job.State))
		}
	}
	for _, c := range r.Comments {
		if c.Err != nil {
			err = multierr.Append(err, c.Err)
		}
	}
	return err
}

// Failed reports a partial failure.
func (r *Result) Failed() bool {
	return r.Err() != nil
}
