package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
	"github.com/ros-tooling/ci-for-pr/pkg/config"
	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
	"github.com/ros-tooling/ci-for-pr/pkg/manifest"
	"github.com/ros-tooling/ci-for-pr/pkg/publisher"
	"github.com/ros-tooling/ci-for-pr/pkg/report"
	"github.com/ros-tooling/ci-for-pr/pkg/resolver"
)

const baseManifest = `repositories:
  ros2/rclcpp:
    type: git
    url: https://github.com/ros2/rclcpp.git
    version: master
  ros2/rclpy:
    type: git
    url: https://github.com/ros2/rclpy.git
    version: master
`

var rclpy353 = github.PullRef{Owner: "ros2", Repo: "rclpy", Number: 353}

type fakePulls map[github.PullRef]*github.PRInfo

func (f fakePulls) FetchPRInfo(_ context.Context, owner, repo string, number int) (*github.PRInfo, error) {
	info, ok := f[github.PullRef{Owner: owner, Repo: repo, Number: number}]
	if !ok {
		return nil, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	return info, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	err     error
	calls   int
	content string
	title   string
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Publish(_ context.Context, content []byte, title string) (publisher.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return publisher.Ref{}, &publisher.PublishError{Publisher: "fake", Err: p.err}
	}
	p.content = string(content)
	p.title = title
	return publisher.Ref{URL: "https://gist.example/raw/ros2.repos", ID: "1"}, nil
}

type fakeCI struct {
	mu       sync.Mutex
	reject   map[string]bool
	outcome  map[string]ci.State
	launched []string
	params   map[string]map[string]string
}

func (f *fakeCI) DefaultParams(_ context.Context, job string) (map[string]string, error) {
	return map[string]string{"CI_BUILD_ARGS": "--event-handlers console_direct+"}, nil
}

func (f *fakeCI) Launch(_ context.Context, job string, params map[string]string) (string, error) {
	if f.reject[job] {
		return "", errors.New("job does not exist")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, job)
	if f.params == nil {
		f.params = make(map[string]map[string]string)
	}
	f.params[job] = params
	return "q-" + job, nil
}

func (f *fakeCI) Poll(_ context.Context, job, remoteID string) (ci.Status, error) {
	state, ok := f.outcome[job]
	if !ok {
		state = ci.Succeeded
	}
	return ci.Status{State: state, Number: 7, URL: "https://ci.example/job/" + job + "/7/"}, nil
}

func (f *fakeCI) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

type fakeCommenter struct {
	mu     sync.Mutex
	fail   map[github.PullRef]bool
	bodies map[github.PullRef][]string
}

func (f *fakeCommenter) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ref := github.PullRef{Owner: owner, Repo: repo, Number: number}
	if f.fail[ref] {
		return 0, errors.New("forbidden")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = make(map[github.PullRef][]string)
	}
	f.bodies[ref] = append(f.bodies[ref], body)
	return int64(len(f.bodies)), nil
}

// fakeBranches holds "url@branch" keys of existing branches.
type fakeBranches map[string]bool

func (f fakeBranches) HasBranch(_ context.Context, url, branch string) (bool, error) {
	return f[url+"@"+branch], nil
}

type fakeMembers map[string]bool

func (f fakeMembers) IsActiveOrgMember(_ context.Context, org string) (bool, error) {
	return f[org], nil
}

type harness struct {
	cfg       *config.Config
	pulls     fakePulls
	publisher *fakePublisher
	ci        *fakeCI
	commenter *fakeCommenter
	members   fakeMembers
	branches  fakeBranches
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ros2.repos")
	if err := os.WriteFile(path, []byte(baseManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.BaseManifestURL = path
	cfg.CI.URL = "https://ci.example"
	cfg.CI.Jobs = []string{"ci_launcher"}

	return &harness{
		cfg: cfg,
		pulls: fakePulls{rclpy353: {
			Number:       353,
			State:        "open",
			Repository:   "ros2/rclpy",
			HeadCloneURL: "https://github.com/contrib/rclpy.git",
			HeadRef:      "spin-timeout",
			HeadSHA:      "abc123",
		}},
		publisher: &fakePublisher{},
		ci:        &fakeCI{},
		commenter: &fakeCommenter{},
		members:   fakeMembers{"ros2": true},
		branches:  fakeBranches{"https://github.com/ros2/rclpy.git@feature": true},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.cfg, Deps{
		Resolver:  resolver.New(h.pulls, h.branches, resolver.Options{Workers: 2}),
		Publisher: h.publisher,
		Trigger: ci.NewTrigger(h.ci, &OrgAuthorizer{Members: h.members, Orgs: h.cfg.GitHub.Organizations},
			ci.ParamNames{
				ManifestURL: h.cfg.CI.Params.ManifestURL,
				BuildArgs:   h.cfg.CI.Params.BuildArgs,
				TestArgs:    h.cfg.CI.Params.TestArgs,
			}, 2),
		Tracker:  ci.NewTracker(h.ci, ci.TrackerOptions{PollInterval: 5 * time.Millisecond, Timeout: 5 * time.Second}),
		Reporter: report.NewReporter(h.commenter, 2),
	})
}

func TestRun_FullSuccess(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353}, Comment: true},
		Packages:  []string{"rclpy"},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	if res.Failed() {
		t.Errorf("Failed() = true, Err() = %v", res.Err())
	}

	entry, _ := res.Manifest.Get("ros2/rclpy")
	if entry.URL != "https://github.com/contrib/rclpy.git" || entry.Version != "spin-timeout" {
		t.Errorf("rclpy entry = %+v", entry)
	}
	if !strings.Contains(h.publisher.content, "version: spin-timeout") {
		t.Errorf("published content:\n%s", h.publisher.content)
	}
	if h.publisher.title != "CI input for PR https://github.com/ros2/rclpy/pull/353" {
		t.Errorf("title = %q", h.publisher.title)
	}

	if len(res.Jobs) != 1 || res.Jobs[0].State != ci.Succeeded {
		t.Fatalf("jobs = %+v", res.Jobs)
	}
	params := h.ci.params["ci_launcher"]
	if params["CI_ROS2_REPOS_URL"] != "https://gist.example/raw/ros2.repos" {
		t.Errorf("manifest param = %q", params["CI_ROS2_REPOS_URL"])
	}
	if params["CI_BUILD_ARGS"] != "--event-handlers console_direct+ --packages-up-to rclpy" {
		t.Errorf("build args = %q", params["CI_BUILD_ARGS"])
	}

	bodies := h.commenter.bodies[rclpy353]
	if len(bodies) != 1 {
		t.Fatalf("comments on %s = %d, want 1", rclpy353, len(bodies))
	}
	if !strings.Contains(bodies[0], "buildStatus/icon?job=ci_launcher&build=7") {
		t.Errorf("comment body missing badge:\n%s", bodies[0])
	}
}

func TestRun_PartialTriggerFailure(t *testing.T) {
	h := newHarness(t)
	h.ci.reject = map[string]bool{"lint": true}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353}, Comment: true},
		Jobs:      []string{"lint", "build"},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.TriggerFailures) != 1 || res.TriggerFailures[0].Job != "lint" {
		t.Errorf("trigger failures = %+v", res.TriggerFailures)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Name != "build" || res.Jobs[0].State != ci.Succeeded {
		t.Errorf("jobs = %+v", res.Jobs)
	}
	if !res.Failed() {
		t.Error("Failed() = false, want true")
	}
	var triggerErr *ci.TriggerError
	if !errors.As(res.Err(), &triggerErr) {
		t.Errorf("Err() = %v, want TriggerError", res.Err())
	}
	if !strings.Contains(res.Body, "* lint failed to trigger") {
		t.Errorf("body:\n%s", res.Body)
	}
	if len(h.commenter.bodies[rclpy353]) != 1 {
		t.Error("comment not posted after partial failure")
	}
}

func TestRun_FailedJobIsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.ci.outcome = map[string]ci.State{"ci_launcher": ci.Failed}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353}},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Failed() {
		t.Error("Failed() = false for a failed job")
	}
}

func TestRun_FatalErrorsStopBeforeTrigger(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		sel     resolver.Selection
		check   func(t *testing.T, err error)
		publish int
	}{
		{
			name: "invalid selection",
			sel:  resolver.Selection{Pulls: []github.PullRef{rclpy353}, Branch: "feature"},
			check: func(t *testing.T, err error) {
				var target *resolver.InvalidSelectionError
				if !errors.As(err, &target) {
					t.Errorf("error = %v, want InvalidSelectionError", err)
				}
			},
		},
		{
			name: "unknown pull request",
			sel:  resolver.Selection{Pulls: []github.PullRef{{Owner: "ros2", Repo: "rclpy", Number: 1}}},
			check: func(t *testing.T, err error) {
				var target *resolver.ReferenceNotFoundError
				if !errors.As(err, &target) {
					t.Errorf("error = %v, want ReferenceNotFoundError", err)
				}
			},
		},
		{
			name:  "publish failure",
			setup: func(h *harness) { h.publisher.err = errors.New("rate limited") },
			sel:   resolver.Selection{Pulls: []github.PullRef{rclpy353}},
			check: func(t *testing.T, err error) {
				var target *publisher.PublishError
				if !errors.As(err, &target) {
					t.Errorf("error = %v, want PublishError", err)
				}
			},
			publish: 1,
		},
		{
			name:  "missing base manifest",
			setup: func(h *harness) { h.cfg.BaseManifestURL = "/nonexistent/ros2.repos" },
			sel:   resolver.Selection{Pulls: []github.PullRef{rclpy353}},
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			tt.sel.Comment = true
			res, err := h.orchestrator().Run(context.Background(), Request{Selection: tt.sel, Build: true})
			if res != nil {
				t.Errorf("Run() result = %+v, want nil", res)
			}
			tt.check(t, err)

			if h.publisher.calls != tt.publish {
				t.Errorf("publish calls = %d, want %d", h.publisher.calls, tt.publish)
			}
			if n := h.ci.launchCount(); n != 0 {
				t.Errorf("launched %d jobs after a fatal error", n)
			}
			if len(h.commenter.bodies) != 0 {
				t.Errorf("posted comments after a fatal error: %v", h.commenter.bodies)
			}
		})
	}
}

func TestRun_DryRun(t *testing.T) {
	h := newHarness(t)
	out := filepath.Join(t.TempDir(), "out.repos")

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection:   resolver.Selection{Pulls: []github.PullRef{rclpy353}},
		ManifestOut: out,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if h.ci.launchCount() != 0 {
		t.Error("dry run launched jobs")
	}
	if len(h.commenter.bodies) != 0 {
		t.Error("dry run posted comments")
	}
	if res.Failed() {
		t.Errorf("Err() = %v", res.Err())
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(written) != res.ManifestContent {
		t.Errorf("written manifest differs from published one:\n%s", written)
	}
	m, err := manifest.Parse(written)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Equal(res.Manifest) {
		t.Error("written manifest does not parse back to the synthesized one")
	}
	if !strings.HasPrefix(res.Body, "Manifest: https://gist.example/raw/ros2.repos\n") {
		t.Errorf("body:\n%s", res.Body)
	}
}

func TestRun_UnauthorizedFailsEveryJob(t *testing.T) {
	h := newHarness(t)
	h.members = fakeMembers{}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353}},
		Jobs:      []string{"lint", "build"},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.TriggerFailures) != 2 || len(res.Jobs) != 0 {
		t.Errorf("failures = %d, jobs = %d", len(res.TriggerFailures), len(res.Jobs))
	}
	if h.ci.launchCount() != 0 {
		t.Error("launched jobs without authorization")
	}
}

func TestRun_CommentFailureIsPartial(t *testing.T) {
	h := newHarness(t)
	other := github.PullRef{Owner: "ros2", Repo: "rclcpp", Number: 9}
	h.pulls[other] = &github.PRInfo{
		Number: 9, State: "open", Repository: "ros2/rclcpp",
		HeadCloneURL: "https://github.com/contrib/rclcpp.git", HeadRef: "spin-timeout",
	}
	h.commenter.fail = map[github.PullRef]bool{rclpy353: true}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353, other}, Comment: true},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.commenter.bodies[other]) != 1 {
		t.Error("comment on the healthy pull request was not posted")
	}
	var commentErr *report.CommentError
	if !errors.As(res.Err(), &commentErr) || commentErr.Ref != rclpy353 {
		t.Errorf("Err() = %v, want CommentError for %s", res.Err(), rclpy353)
	}
}

func TestRun_InterruptStillComments(t *testing.T) {
	h := newHarness(t)
	h.ci.outcome = map[string]ci.State{"ci_launcher": ci.Running}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := h.orchestrator().Run(ctx, Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353}, Comment: true},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Jobs) != 1 || res.Jobs[0].State != ci.TimedOut {
		t.Fatalf("jobs = %+v, want one timed_out job", res.Jobs)
	}
	if len(res.Comments) != 1 || res.Comments[0].Err != nil {
		t.Fatalf("comments = %+v, want one posted comment", res.Comments)
	}
	bodies := h.commenter.bodies[rclpy353]
	if len(bodies) != 1 || !strings.Contains(bodies[0], "ci_launcher") {
		t.Errorf("comment bodies = %q", bodies)
	}
}

func TestRun_BranchModeUnknownCommentTarget(t *testing.T) {
	h := newHarness(t)
	missing := github.PullRef{Owner: "ros2", Repo: "rclpy", Number: 999999}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Branch: "feature", CommentOn: []github.PullRef{missing}, Comment: true},
		Build:     true,
	})
	if res != nil {
		t.Errorf("Run() result = %+v, want nil", res)
	}
	var target *resolver.ReferenceNotFoundError
	if !errors.As(err, &target) || target.Ref != missing {
		t.Fatalf("Run() error = %v, want ReferenceNotFoundError for %s", err, missing)
	}
	if h.publisher.calls != 0 {
		t.Errorf("publish calls = %d, want 0", h.publisher.calls)
	}
	if n := h.ci.launchCount(); n != 0 {
		t.Errorf("launched %d jobs for an unknown comment target", n)
	}
}

func TestRun_BranchMode(t *testing.T) {
	h := newHarness(t)

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Branch: "feature", CommentOn: []github.PullRef{rclpy353}, Comment: true},
		Build:     true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	entry, _ := res.Manifest.Get("ros2/rclpy")
	if entry.URL != "https://github.com/ros2/rclpy.git" || entry.Version != "feature" {
		t.Errorf("rclpy entry = %+v", entry)
	}
	if entry, _ := res.Manifest.Get("ros2/rclcpp"); entry.Version != "master" {
		t.Errorf("rclcpp entry = %+v, want base kept", entry)
	}
	if len(h.commenter.bodies[rclpy353]) != 1 {
		t.Error("comment not posted on the branch-mode target")
	}
}

func TestRun_LogsAppendedRepositories(t *testing.T) {
	var buf bytes.Buffer
	if err := log.Init(log.Options{Level: "debug", Writer: &buf}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = log.Init(log.Options{}) })

	h := newHarness(t)
	extra := github.PullRef{Owner: "ros2", Repo: "rcl_logging", Number: 4}
	h.pulls[extra] = &github.PRInfo{
		Number: 4, State: "open", Repository: "ros2/rcl_logging",
		HeadCloneURL: "https://github.com/contrib/rcl_logging.git", HeadRef: "spin-timeout",
	}

	res, err := h.orchestrator().Run(context.Background(), Request{
		Selection: resolver.Selection{Pulls: []github.PullRef{rclpy353, extra}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := res.Manifest.Get("ros2/rcl_logging"); !ok {
		t.Fatal("unknown repository was not appended")
	}
	out := buf.String()
	if !strings.Contains(out, "repository not in base manifest") || !strings.Contains(out, "name=ros2/rcl_logging") {
		t.Errorf("missing warning for the appended repository:\n%s", out)
	}
	if strings.Contains(out, "name=ros2/rclpy") {
		t.Errorf("warned about a repository of the base manifest:\n%s", out)
	}
}

func TestTitle(t *testing.T) {
	other := github.PullRef{Owner: "ros2", Repo: "rclcpp", Number: 9}
	tests := []struct {
		sel  resolver.Selection
		want string
	}{
		{
			sel:  resolver.Selection{Pulls: []github.PullRef{rclpy353, other}},
			want: "CI input for PR https://github.com/ros2/rclpy/pull/353 https://github.com/ros2/rclcpp/pull/9",
		},
		{
			sel:  resolver.Selection{Branch: "feature"},
			want: "CI input for branch feature",
		},
		{
			sel:  resolver.Selection{Branch: "feature", CommentOn: []github.PullRef{other}},
			want: "CI input for branch feature, PR https://github.com/ros2/rclcpp/pull/9",
		},
	}
	for _, tt := range tests {
		if got := title(tt.sel, tt.sel.Targets()); got != tt.want {
			t.Errorf("title() = %q, want %q", got, tt.want)
		}
	}
}

func TestOrgAuthorizer(t *testing.T) {
	ctx := context.Background()

	a := &OrgAuthorizer{Members: fakeMembers{"ros2": true}, Orgs: []string{"ros", "ros2"}}
	if err := a.Authorize(ctx); err != nil {
		t.Errorf("Authorize() error = %v", err)
	}

	a = &OrgAuthorizer{Members: fakeMembers{}, Orgs: []string{"ros", "ros2"}}
	err := a.Authorize(ctx)
	if err == nil || !strings.Contains(err.Error(), "ros, ros2") {
		t.Errorf("Authorize() error = %v", err)
	}

	a = &OrgAuthorizer{Members: fakeMembers{}}
	if err := a.Authorize(ctx); err == nil {
		t.Error("Authorize() with no organizations should fail")
	}
}

func ExampleResult_Err() {
	res := &Result{TriggerFailures: []*ci.TriggerError{{Job: "lint", Err: errors.New("no such job")}}}
	fmt.Println(res.Failed())
	// Output: true
}
