package publisher

import (
	"context"
	"fmt"

	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
)

// GistCreator creates gists on the hosting service.
type GistCreator interface {
	CreateGist(ctx context.Context, description string, public bool, files []github.GistFile) (*github.GistInfo, error)
}

// GistPublisher stores each manifest in a new public gist.
type GistPublisher struct {
	client   GistCreator
	fileName string
}

// NewGistPublisher creates a gist publisher. The manifest is stored under
// fileName inside the gist.
func NewGistPublisher(client GistCreator, fileName string) *GistPublisher {
	return &GistPublisher{client: client, fileName: fileName}
}

// Name returns "gist".
func (p *GistPublisher) Name() string {
	return "gist"
}

// Publish creates one public gist and returns the raw URL of the manifest.
func (p *GistPublisher) Publish(ctx context.Context, content []byte, title string) (Ref, error) {
	gist, err := p.client.CreateGist(ctx, title, true, []github.GistFile{{
		Name:    p.fileName,
		Content: string(content),
	}})
	if err != nil {
		return Ref{}, &PublishError{Publisher: p.Name(), Err: err}
	}

	rawURL := gist.RawURLs[p.fileName]
	if rawURL == "" {
		return Ref{}, &PublishError{
			Publisher: p.Name(),
			Err:       fmt.Errorf("gist %s has no raw URL for %s", gist.ID, p.fileName),
		}
	}

	log.Info("created gist", "id", gist.ID, "url", gist.HTMLURL)
	return Ref{URL: rawURL, ID: gist.ID, HTMLURL: gist.HTMLURL}, nil
}
