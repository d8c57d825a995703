package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PullRef identifies a single pull request. The zero value is invalid.
type PullRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

var (
	pullURLPattern   = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)/?$`)
	shortPullPattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)
)

// ParsePullRef parses a pull request reference.
// Supported formats:
//   - <owner>/<repo>#<n>
//   - https://github.com/<owner>/<repo>/pull/<n>
func ParsePullRef(ref string) (PullRef, error) {
	ref = strings.TrimSpace(ref)

	matches := shortPullPattern.FindStringSubmatch(ref)
	if matches == nil {
		matches = pullURLPattern.FindStringSubmatch(ref)
	}
	if matches == nil {
		return PullRef{}, fmt.Errorf("pull request %q doesn't match ORG/REPO#NUMBER format", ref)
	}

	num, err := strconv.Atoi(matches[3])
	if err != nil || num <= 0 {
		return PullRef{}, fmt.Errorf("pull request number %q isn't a positive number", matches[3])
	}

	return PullRef{Owner: matches[1], Repo: matches[2], Number: num}, nil
}

// ParsePullRefs parses every reference, failing on the first bad one.
func ParsePullRefs(refs []string) ([]PullRef, error) {
	out := make([]PullRef, 0, len(refs))
	for _, r := range refs {
		ref, err := ParsePullRef(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// FullName returns the repository full name (owner/repo).
func (r PullRef) FullName() string {
	return r.Owner + "/" + r.Repo
}

// String returns the owner/repo#n form.
func (r PullRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// URL returns the GitHub web URL of the pull request.
func (r PullRef) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.Owner, r.Repo, r.Number)
}

// IsZero reports whether r is unset.
func (r PullRef) IsZero() bool {
	return r == PullRef{}
}
