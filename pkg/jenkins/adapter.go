package jenkins

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
)

// CI adapts a Client to the ci package. Remote IDs are queue item ids.
type CI struct {
	client *Client

	// builds caches queue item -> build number, since queue items expire
	// shortly after their build starts.
	builds sync.Map
}

var (
	_ ci.Launcher = (*CI)(nil)
	_ ci.Poller   = (*CI)(nil)
)

// NewCI wraps client.
func NewCI(client *Client) *CI {
	return &CI{client: client}
}

// DefaultParams returns the job's parameter defaults.
func (a *CI) DefaultParams(ctx context.Context, job string) (map[string]string, error) {
	return a.client.JobParameters(ctx, job)
}

// Launch queues job and returns its queue item id.
func (a *CI) Launch(ctx context.Context, job string, params map[string]string) (string, error) {
	id, err := a.client.BuildWithParameters(ctx, job, params)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Poll reports the state of the build started from queue item remoteID.
func (a *CI) Poll(ctx context.Context, job, remoteID string) (ci.Status, error) {
	number, ok := a.buildNumber(remoteID)
	if !ok {
		id, err := strconv.ParseInt(remoteID, 10, 64)
		if err != nil {
			return ci.Status{}, fmt.Errorf("invalid queue id %q: %w", remoteID, ci.ErrJobNotFound)
		}

		item, err := a.client.QueueItem(ctx, id)
		if err != nil {
			if IsNotFoundError(err) {
				return ci.Status{}, fmt.Errorf("queue item %d: %w", id, ci.ErrJobNotFound)
			}
			return ci.Status{}, err
		}
		if item.Cancelled {
			return ci.Status{State: ci.Errored, Details: []string{"cancelled while queued"}}, nil
		}
		if item.Executable == nil {
			log.Debug("job still queued", "job", job, "queue_id", id, "why", item.Why)
			return ci.Status{State: ci.Queued}, nil
		}
		number = item.Executable.Number
		a.builds.Store(remoteID, number)
	}

	build, err := a.client.Build(ctx, job, number)
	if err != nil {
		if IsNotFoundError(err) {
			return ci.Status{}, fmt.Errorf("build %s #%d: %w", job, number, ci.ErrJobNotFound)
		}
		return ci.Status{}, err
	}

	status := ci.Status{
		State:  stateOf(build),
		URL:    build.URL,
		Number: build.Number,
	}
	if status.State.Terminal() {
		status.Details = a.consoleBadges(ctx, job, number)
	}
	return status, nil
}

func (a *CI) buildNumber(remoteID string) (int, bool) {
	v, ok := a.builds.Load(remoteID)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// stateOf maps a Jenkins build to a job state.
func stateOf(b *Build) ci.State {
	if b.Building || b.Result == "" {
		return ci.Running
	}
	switch b.Result {
	case ResultSuccess:
		return ci.Succeeded
	case ResultFailure, ResultUnstable:
		return ci.Failed
	default:
		return ci.Errored
	}
}

// consoleBadges returns the markdown list lines a launcher job prints for
// the builds it started. A console that cannot be read yields none.
func (a *CI) consoleBadges(ctx context.Context, job string, number int) []string {
	text, err := a.client.ConsoleText(ctx, job, number)
	if err != nil {
		log.Warn("failed to read console output", "job", job, "build", number, "error", err)
		return nil
	}
	return BadgeLines(text)
}

// BadgeLines returns the lines of console output that start with "*".
func BadgeLines(console string) []string {
	var lines []string
	for _, line := range strings.Split(console, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "*") {
			lines = append(lines, line)
		}
	}
	return lines
}
