// Package gitremote answers questions about remote git repositories without
// cloning them.
package gitremote

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Lister lists the references of remote repositories.
type Lister struct {
	// Token is the optional authentication token for private remotes
	Token string

	list func(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error)
}

// NewLister creates a lister. An empty token lists anonymously.
func NewLister(token string) *Lister {
	return &Lister{Token: token, list: lsRemote}
}

func lsRemote(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
}

func (p *Lister) auth() transport.AuthMethod {
	if p.Token == "" {
		return nil
	}
	return &http.BasicAuth{
		Username: "x-access-token", // Generic token auth convention
		Password: p.Token,
	}
}

// Branches returns the branch names advertised by the remote at url.
func (p *Lister) Branches(ctx context.Context, url string) ([]string, error) {
	list := p.list
	if list == nil {
		list = lsRemote
	}

	refs, err := list(ctx, url, p.auth())
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list references of %s: %w", url, err)
	}

	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	return branches, nil
}

// HasBranch reports whether branch exists on the remote at url.
func (p *Lister) HasBranch(ctx context.Context, url, branch string) (bool, error) {
	branches, err := p.Branches(ctx, url)
	if err != nil {
		return false, err
	}
	for _, b := range branches {
		if b == branch {
			return true, nil
		}
	}
	return false, nil
}
