// Package report renders job results as markdown and posts them on pull
// requests.
package report

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
)

// Badge is the rendered summary of one finished job.
type Badge struct {
	Job      string
	State    ci.State
	URL      string
	ImageURL string
	Detail   string
}

// NewBadge builds the badge of job as served by the CI server at ciURL.
func NewBadge(ciURL string, job *ci.Job) Badge {
	b := Badge{Job: job.Name, State: job.State, URL: job.URL}
	if job.Number > 0 {
		b.ImageURL = fmt.Sprintf("%s/buildStatus/icon?job=%s&build=%d",
			strings.TrimSuffix(ciURL, "/"), url.QueryEscape(job.Name), job.Number)
	}
	if job.Err != nil && (job.State == ci.Errored || job.State == ci.TimedOut) {
		b.Detail = job.Err.Error()
	}
	return b
}

// Markdown renders the badge as one list line.
func (b Badge) Markdown() string {
	var sb strings.Builder
	sb.WriteString("* ")
	sb.WriteString(b.Job)
	switch {
	case b.ImageURL != "" && b.URL != "":
		fmt.Fprintf(&sb, " [![Build Status](%s)](%s)", b.ImageURL, b.URL)
	case b.URL != "":
		fmt.Fprintf(&sb, " (%s)", b.URL)
	}
	sb.WriteString(" ")
	sb.WriteString(string(b.State))
	if b.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(b.Detail)
	}
	return sb.String()
}

// Details describes the inputs of a run.
type Details struct {
	ManifestURL string
	BuildArgs   string
	TestArgs    string
	Jobs        []string
	CIURL       string
}

// Render composes the comment body: the run details, one badge per tracked
// job followed by the lines it reported, and one line per job that failed to
// start.
func Render(d Details, jobs []*ci.Job, failures []*ci.TriggerError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Manifest: %s\n", d.ManifestURL)
	fmt.Fprintf(&sb, "BUILD args: %s\n", d.BuildArgs)
	fmt.Fprintf(&sb, "TEST args: %s\n", d.TestArgs)
	fmt.Fprintf(&sb, "Job: %s\n", strings.Join(d.Jobs, ", "))

	if len(jobs) == 0 && len(failures) == 0 {
		return sb.String()
	}

	sb.WriteString("\n")
	for _, job := range jobs {
		sb.WriteString(NewBadge(d.CIURL, job).Markdown())
		sb.WriteString("\n")
		for _, line := range job.Details {
			sb.WriteString("  ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	for _, f := range failures {
		fmt.Fprintf(&sb, "* %s failed to trigger: %v\n", f.Job, f.Err)
	}
	return sb.String()
}
