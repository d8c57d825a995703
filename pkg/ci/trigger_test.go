package ci

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ros-tooling/ci-for-pr/pkg/publisher"
)

type fakeLauncher struct {
	mu       sync.Mutex
	defaults map[string]map[string]string
	reject   map[string]error
	launched map[string]map[string]string
}

func (f *fakeLauncher) DefaultParams(_ context.Context, job string) (map[string]string, error) {
	d, ok := f.defaults[job]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLauncher) Launch(_ context.Context, job string, params map[string]string) (string, error) {
	if err := f.reject[job]; err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launched == nil {
		f.launched = make(map[string]map[string]string)
	}
	f.launched[job] = params
	return "queue-" + job, nil
}

type fakeAuthorizer struct{ err error }

func (a fakeAuthorizer) Authorize(context.Context) error { return a.err }

var testParams = ParamNames{ManifestURL: "CI_ROS2_REPOS_URL", BuildArgs: "CI_BUILD_ARGS", TestArgs: "CI_TEST_ARGS"}

var testRef = publisher.Ref{URL: "https://gist.githubusercontent.com/u/1/raw/ros2.repos", ID: "1"}

func TestStart_OneRejectedJobDoesNotStopOthers(t *testing.T) {
	launcher := &fakeLauncher{reject: map[string]error{"lint": errors.New("no such job")}}
	trigger := NewTrigger(launcher, nil, testParams, 2)

	jobs, failures := trigger.Start(context.Background(), testRef, nil, []string{"lint", "build"})

	if len(jobs) != 1 || jobs[0].Name != "build" {
		t.Fatalf("jobs = %+v, want only build", jobs)
	}
	if jobs[0].State != Queued || jobs[0].RemoteID != "queue-build" {
		t.Errorf("build job = %+v, want queued with remote id", jobs[0])
	}
	if len(failures) != 1 || failures[0].Job != "lint" {
		t.Fatalf("failures = %+v, want only lint", failures)
	}
	var trigErr *TriggerError
	if !errors.As(error(failures[0]), &trigErr) {
		t.Error("failure should be a *TriggerError")
	}
}

func TestStart_Parameters(t *testing.T) {
	launcher := &fakeLauncher{defaults: map[string]map[string]string{
		"ci_launcher": {
			"CI_BUILD_ARGS":     "--event-handlers console_direct+",
			"CI_TEST_ARGS":      "",
			"CI_USE_CONNEXTDDS": "true",
		},
	}}
	trigger := NewTrigger(launcher, nil, testParams, 1)

	jobs, failures := trigger.Start(context.Background(), testRef, []string{"rclpy", "rclcpp"}, []string{"ci_launcher"})
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}

	params := jobs[0].Params
	want := map[string]string{
		"CI_ROS2_REPOS_URL": testRef.URL,
		"CI_BUILD_ARGS":     "--event-handlers console_direct+ --packages-up-to rclpy rclcpp",
		"CI_TEST_ARGS":      "--packages-select rclpy rclcpp",
		"CI_USE_CONNEXTDDS": "true",
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("param %s = %q, want %q", k, params[k], v)
		}
	}
	if launcher.launched["ci_launcher"]["CI_ROS2_REPOS_URL"] != testRef.URL {
		t.Error("launcher did not receive the manifest URL")
	}
}

func TestStart_NoPackagesKeepsDefaults(t *testing.T) {
	launcher := &fakeLauncher{defaults: map[string]map[string]string{
		"ci_launcher": {"CI_BUILD_ARGS": "--foo"},
	}}
	jobs, _ := NewTrigger(launcher, nil, testParams, 1).Start(context.Background(), testRef, nil, []string{"ci_launcher"})

	if got := jobs[0].Params["CI_BUILD_ARGS"]; got != "--foo" {
		t.Errorf("CI_BUILD_ARGS = %q, want defaults unchanged", got)
	}
}

func TestStart_UnauthorizedFailsEveryJobBeforeLaunching(t *testing.T) {
	launcher := &fakeLauncher{}
	auth := fakeAuthorizer{err: errors.New("not an active member of ros2")}
	trigger := NewTrigger(launcher, auth, testParams, 2)

	jobs, failures := trigger.Start(context.Background(), testRef, nil, []string{"lint", "build"})

	if len(jobs) != 0 {
		t.Errorf("jobs = %+v, want none", jobs)
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %+v, want one per job", failures)
	}
	if len(launcher.launched) != 0 {
		t.Error("no job should be launched without authorization")
	}
}

func TestStart_DuplicateJobNames(t *testing.T) {
	launcher := &fakeLauncher{}
	jobs, _ := NewTrigger(launcher, nil, testParams, 2).Start(context.Background(), testRef, nil, []string{"build", "build", ""})
	if len(jobs) != 1 {
		t.Errorf("jobs = %+v, want a single build", jobs)
	}
}

func TestBuildAndTestArgs(t *testing.T) {
	if BuildArgs(nil) != "" || TestArgs(nil) != "" {
		t.Error("no packages should mean no extra args")
	}
	if got := BuildArgs([]string{"a", "b"}); got != "--packages-up-to a b" {
		t.Errorf("BuildArgs() = %q", got)
	}
	if got := TestArgs([]string{"a"}); got != "--packages-select a" {
		t.Errorf("TestArgs() = %q", got)
	}
}
