// Package ci starts CI jobs for a published manifest and follows them until
// they finish.
package ci

import (
	"context"
	"errors"
)

// State is the lifecycle state of a CI job.
type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Errored   State = "errored"
	TimedOut  State = "timed_out"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Errored, TimedOut:
		return true
	}
	return false
}

// ErrJobNotFound is returned by a Poller when the remote job no longer
// exists. The tracker marks such jobs Errored without retrying.
var ErrJobNotFound = errors.New("remote job not found")

// Job is one triggered CI job. After Trigger.Start returns, only the
// Tracker modifies a Job.
type Job struct {
	// Name is the CI job type, e.g. "ci_launcher".
	Name string `json:"name"`

	// Params are the parameters the job was started with.
	Params map[string]string `json:"params,omitempty"`

	// RemoteID is the handle the CI system returned when accepting the job.
	RemoteID string `json:"remote_id"`

	State State `json:"state"`

	// URL links to the job's page once the CI system has assigned a build.
	URL string `json:"url,omitempty"`

	// Number is the build number, zero until known.
	Number int `json:"number,omitempty"`

	// Details holds extra report lines published by the job, such as the
	// badges of downstream builds.
	Details []string `json:"details,omitempty"`

	// Polls counts status requests, including failed ones.
	Polls int `json:"polls"`

	// Err explains an Errored or TimedOut job.
	Err error `json:"-"`
}

// transition moves the job to state to. It refuses to leave a terminal state.
func (j *Job) transition(to State) bool {
	if j.State.Terminal() {
		return false
	}
	j.State = to
	return true
}

// Status is one observation of a remote job.
type Status struct {
	State   State
	URL     string
	Number  int
	Details []string
}

// Poller reads the status of remote jobs. Poll must return once ctx is done;
// the tracker stops waiting for a poll that outlives its PollTimeout.
type Poller interface {
	Poll(ctx context.Context, name, remoteID string) (Status, error)
}
