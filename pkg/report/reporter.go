package report

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
)

// Commenter posts issue comments.
type Commenter interface {
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
}

// CommentError reports a pull request that did not receive its comment.
type CommentError struct {
	Ref github.PullRef
	Err error
}

func (e *CommentError) Error() string {
	return fmt.Sprintf("failed to comment on %s: %v", e.Ref, e.Err)
}

func (e *CommentError) Unwrap() error {
	return e.Err
}

// CommentResult is the outcome for one pull request.
type CommentResult struct {
	Ref       github.PullRef
	CommentID int64
	Err       *CommentError
}

// Reporter posts one new comment per pull request.
type Reporter struct {
	commenter Commenter
	workers   int
}

// NewReporter creates a reporter posting through commenter.
func NewReporter(commenter Commenter, workers int) *Reporter {
	if workers <= 0 {
		workers = 1
	}
	return &Reporter{commenter: commenter, workers: workers}
}

// Post comments body on every ref. A failure on one pull request does not
// stop the others; results follow the order of refs.
func (r *Reporter) Post(ctx context.Context, refs []github.PullRef, body string) []CommentResult {
	results := make([]CommentResult, len(refs))

	p := pool.New().WithMaxGoroutines(r.workers)
	for i, ref := range refs {
		p.Go(func() {
			results[i].Ref = ref
			id, err := r.commenter.CreateIssueComment(ctx, ref.Owner, ref.Repo, ref.Number, body)
			if err != nil {
				log.Warn("failed to post comment", "pull", ref.String(), "error", err)
				results[i].Err = &CommentError{Ref: ref, Err: err}
				return
			}
			log.Info("posted comment", "pull", ref.URL(), "comment_id", id)
			results[i].CommentID = id
		})
	}
	p.Wait()

	return results
}
