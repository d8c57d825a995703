package resolver

import (
	"fmt"

	"github.com/ros-tooling/ci-for-pr/pkg/github"
)

// InvalidSelectionError reports a selection that cannot be resolved, such as
// both pull requests and a branch, or neither.
type InvalidSelectionError struct {
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	return "invalid selection: " + e.Reason
}

// ReferenceNotFoundError reports a pull request that does not exist or whose
// head can no longer be fetched.
type ReferenceNotFoundError struct {
	Ref    github.PullRef
	Reason string
	Err    error
}

func (e *ReferenceNotFoundError) Error() string {
	msg := fmt.Sprintf("pull request %s not found", e.Ref)
	if e.Reason != "" {
		msg = fmt.Sprintf("pull request %s: %s", e.Ref, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReferenceNotFoundError) Unwrap() error {
	return e.Err
}
