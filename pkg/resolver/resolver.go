// Package resolver turns a selection of pull requests or a branch name into
// manifest overrides.
package resolver

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
	"github.com/ros-tooling/ci-for-pr/pkg/manifest"
)

// PullFetcher reads pull request metadata from the hosting service.
type PullFetcher interface {
	FetchPRInfo(ctx context.Context, owner, repo string, number int) (*github.PRInfo, error)
}

// BranchChecker checks whether a branch exists on a remote repository.
type BranchChecker interface {
	HasBranch(ctx context.Context, url, branch string) (bool, error)
}

// Selection says what to build. Exactly one of Pulls and Branch is set.
type Selection struct {
	Pulls  []github.PullRef
	Branch string

	// CommentOn names the pull requests that receive results in branch mode.
	CommentOn []github.PullRef

	// Comment reports whether results will be posted.
	Comment bool
}

// Validate rejects selections that mix or omit modes.
func (s Selection) Validate() error {
	switch {
	case len(s.Pulls) > 0 && s.Branch != "":
		return &InvalidSelectionError{Reason: "pull requests and a branch cannot be combined"}
	case len(s.Pulls) == 0 && s.Branch == "":
		return &InvalidSelectionError{Reason: "either pull requests or a branch is required"}
	case s.Branch != "" && s.Comment && len(s.CommentOn) == 0:
		return &InvalidSelectionError{Reason: "branch mode needs pull requests to comment on"}
	case len(s.Pulls) > 0 && len(s.CommentOn) > 0:
		return &InvalidSelectionError{Reason: "pull requests to comment on only apply to branch mode"}
	}
	return nil
}

// IsBranchMode reports whether the selection names a branch.
func (s Selection) IsBranchMode() bool {
	return s.Branch != ""
}

// Targets returns the pull requests that results are reported on, without
// duplicates and in the order given.
func (s Selection) Targets() []github.PullRef {
	if s.IsBranchMode() {
		return dedupe(s.CommentOn)
	}
	return dedupe(s.Pulls)
}

func dedupe(refs []github.PullRef) []github.PullRef {
	seen := make(map[github.PullRef]bool, len(refs))
	out := make([]github.PullRef, 0, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// Options tunes resolution.
type Options struct {
	// Workers bounds concurrent lookups.
	Workers int

	// PinCommits uses the head commit instead of the head branch.
	PinCommits bool

	// CoreRepositories limits branch mode to these names. Empty means every
	// git repository of the base manifest.
	CoreRepositories []string
}

// Resolver resolves selections against the hosting service.
type Resolver struct {
	pulls    PullFetcher
	branches BranchChecker
	opts     Options
}

// New creates a resolver. branches may be nil when branch mode is unused.
func New(pulls PullFetcher, branches BranchChecker, opts Options) *Resolver {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Resolver{pulls: pulls, branches: branches, opts: opts}
}

// Resolve returns the overrides for sel. In pull request mode the overrides
// follow the order the pull requests were listed, so for two pull requests
// against the same repository the later one wins. In branch mode every
// CommentOn pull request must exist before any branch is looked up.
func (r *Resolver) Resolve(ctx context.Context, sel Selection, base manifest.Manifest) ([]manifest.Override, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if sel.IsBranchMode() {
		if err := r.checkPulls(ctx, dedupe(sel.CommentOn)); err != nil {
			return nil, err
		}
		return r.resolveBranch(ctx, sel.Branch, base)
	}
	return r.resolvePulls(ctx, dedupe(sel.Pulls))
}

func (r *Resolver) resolvePulls(ctx context.Context, refs []github.PullRef) ([]manifest.Override, error) {
	if r.pulls == nil {
		return nil, fmt.Errorf("no pull request source configured")
	}

	overrides := make([]manifest.Override, len(refs))
	errs := make([]error, len(refs))

	p := pool.New().WithMaxGoroutines(r.opts.Workers)
	for i, ref := range refs {
		p.Go(func() {
			overrides[i], errs[i] = r.resolvePull(ctx, ref)
		})
	}
	p.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]string, len(overrides))
	for _, o := range overrides {
		if prev, dup := seen[o.Name]; dup {
			log.Warn("multiple pull requests target the same repository, the later one wins",
				"repository", o.Name, "earlier", prev, "later", o.Source)
		}
		seen[o.Name] = o.Source
	}
	return overrides, nil
}

// checkPulls fails with the first missing pull request in refs order.
func (r *Resolver) checkPulls(ctx context.Context, refs []github.PullRef) error {
	if len(refs) == 0 {
		return nil
	}
	if r.pulls == nil {
		return fmt.Errorf("no pull request source configured")
	}

	errs := make([]error, len(refs))
	p := pool.New().WithMaxGoroutines(r.opts.Workers)
	for i, ref := range refs {
		p.Go(func() {
			_, err := r.pulls.FetchPRInfo(ctx, ref.Owner, ref.Repo, ref.Number)
			switch {
			case err == nil:
			case github.IsNotFoundError(err):
				errs[i] = &ReferenceNotFoundError{Ref: ref, Err: err}
			default:
				errs[i] = fmt.Errorf("failed to resolve %s: %w", ref, err)
			}
		})
	}
	p.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolvePull(ctx context.Context, ref github.PullRef) (manifest.Override, error) {
	info, err := r.pulls.FetchPRInfo(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		if github.IsNotFoundError(err) {
			return manifest.Override{}, &ReferenceNotFoundError{Ref: ref, Err: err}
		}
		return manifest.Override{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	if info.HeadCloneURL == "" {
		return manifest.Override{}, &ReferenceNotFoundError{Ref: ref, Reason: "head repository no longer exists"}
	}
	if info.State != "" && info.State != "open" {
		log.Warn("pull request is not open", "pull", ref.String(), "state", info.State)
	}

	name := info.Repository
	if name == "" {
		name = ref.FullName()
	}
	version := info.HeadRef
	if r.opts.PinCommits && info.HeadSHA != "" {
		version = info.HeadSHA
	}

	log.Debug("resolved pull request", "pull", ref.String(), "repository", name,
		"head", info.HeadRepository, "version", version)

	return manifest.Override{
		Name:    name,
		URL:     info.HeadCloneURL,
		Version: version,
		Source:  ref.String(),
	}, nil
}

func (r *Resolver) resolveBranch(ctx context.Context, branch string, base manifest.Manifest) ([]manifest.Override, error) {
	if r.branches == nil {
		return nil, fmt.Errorf("no branch checker configured")
	}

	var candidates []manifest.Entry
	if len(r.opts.CoreRepositories) > 0 {
		for _, name := range r.opts.CoreRepositories {
			e, ok := base.Get(name)
			if !ok {
				log.Warn("core repository not in base manifest, skipping", "repository", name)
				continue
			}
			candidates = append(candidates, e)
		}
	} else {
		candidates = base.Entries()
	}

	found := make([]bool, len(candidates))
	p := pool.New().WithMaxGoroutines(r.opts.Workers)
	for i, e := range candidates {
		if e.Type != manifest.TypeGit || e.URL == "" {
			continue
		}
		p.Go(func() {
			ok, err := r.branches.HasBranch(ctx, e.URL, branch)
			if err != nil {
				log.Warn("failed to check branch, keeping base entry",
					"repository", e.Name, "branch", branch, "error", err)
				return
			}
			found[i] = ok
		})
	}
	p.Wait()

	var overrides []manifest.Override
	for i, e := range candidates {
		if !found[i] {
			continue
		}
		overrides = append(overrides, manifest.Override{
			Name:    e.Name,
			Version: branch,
			Source:  "branch " + branch,
		})
	}
	log.Info("resolved branch", "branch", branch, "repositories", len(overrides), "checked", len(candidates))
	return overrides, nil
}
