package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
)

// FetchPRInfo fetches pull request information using go-github SDK
func (c *Client) FetchPRInfo(ctx context.Context, owner, repo string, prNumber int) (*PRInfo, error) {
	pr, _, err := c.GitHubClient().PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR %s/%s#%d: %w", owner, repo, prNumber, err)
	}

	return convertFromGitHubPR(pr), nil
}

// convertFromGitHubPR converts a github.PullRequest to our PRInfo type
func convertFromGitHubPR(pr *github.PullRequest) *PRInfo {
	info := &PRInfo{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		URL:       pr.GetHTMLURL(),
		CreatedAt: pr.GetCreatedAt().Time,
		UpdatedAt: pr.GetUpdatedAt().Time,
	}

	if user := pr.GetUser(); user != nil {
		info.Author = user.GetLogin()
	}

	if base := pr.GetBase(); base != nil {
		info.BaseRef = base.GetRef()
		info.BaseSHA = base.GetSHA()
		if base.GetRepo() != nil {
			info.Repository = base.GetRepo().GetFullName()
		}
	}

	if head := pr.GetHead(); head != nil {
		info.HeadRef = head.GetRef()
		info.HeadSHA = head.GetSHA()
		// Repo is nil when the fork has been deleted
		if head.GetRepo() != nil {
			info.HeadRepository = head.GetRepo().GetFullName()
			info.HeadCloneURL = head.GetRepo().GetCloneURL()
		}
	}

	return info
}

// CreateGist creates a new gist and returns its ID and file raw URLs.
func (c *Client) CreateGist(ctx context.Context, description string, public bool, files []GistFile) (*GistInfo, error) {
	gistFiles := make(map[github.GistFilename]github.GistFile, len(files))
	for _, f := range files {
		gistFiles[github.GistFilename(f.Name)] = github.GistFile{
			Filename: github.Ptr(f.Name),
			Content:  github.Ptr(f.Content),
		}
	}

	gist, _, err := c.GitHubClient().Gists.Create(ctx, &github.Gist{
		Description: github.Ptr(description),
		Public:      github.Ptr(public),
		Files:       gistFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gist: %w", err)
	}

	info := &GistInfo{
		ID:      gist.GetID(),
		HTMLURL: gist.GetHTMLURL(),
		RawURLs: make(map[string]string, len(gist.Files)),
	}
	for name, f := range gist.Files {
		info.RawURLs[string(name)] = f.GetRawURL()
	}
	return info, nil
}

// CreateIssueComment creates a new comment on an issue or PR
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (int64, error) {
	comment, _, err := c.GitHubClient().Issues.CreateComment(ctx, owner, repo, issueNumber, &github.IssueComment{Body: &body})
	if err != nil {
		return 0, fmt.Errorf("failed to create issue comment: %w", err)
	}
	return comment.GetID(), nil
}

// GetCurrentUser retrieves the authenticated user's identity information
// Returns ActorInfo with login and type (User or App)
func (c *Client) GetCurrentUser(ctx context.Context) (*ActorInfo, error) {
	user, _, err := c.GitHubClient().Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	info := &ActorInfo{
		Login:  user.GetLogin(),
		Type:   user.GetType(),
		Source: "token",
	}

	// Bot usernames end with "[bot]", e.g. "github-actions[bot]"
	if user.GetType() == "Bot" && info.Login != "" {
		if idx := strings.Index(info.Login, "[bot]"); idx > 0 {
			info.AppSlug = info.Login[:idx]
			info.Type = "App"
		}
	}

	return info, nil
}

// IsActiveOrgMember reports whether the authenticated user is an active
// member of org. A missing membership is (false, nil).
func (c *Client) IsActiveOrgMember(ctx context.Context, org string) (bool, error) {
	membership, _, err := c.GitHubClient().Organizations.GetOrgMembership(ctx, "", org)
	if err != nil {
		if IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read membership in %s: %w", org, err)
	}
	return membership.GetState() == "active", nil
}

// SearchOpenPulls lists open, non-archived pull requests authored by login.
func (c *Client) SearchOpenPulls(ctx context.Context, login string) ([]PullSummary, error) {
	query := fmt.Sprintf("is:open is:pr author:%s archived:false", login)
	opts := &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var pulls []PullSummary
	for {
		result, resp, err := c.GitHubClient().Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to search pull requests: %w", err)
		}

		for _, issue := range result.Issues {
			owner, repo, ok := splitRepositoryURL(issue.GetRepositoryURL())
			if !ok {
				continue
			}
			pulls = append(pulls, PullSummary{
				Ref:   PullRef{Owner: owner, Repo: repo, Number: issue.GetNumber()},
				Title: issue.GetTitle(),
				URL:   issue.GetHTMLURL(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return pulls, nil
}

// splitRepositoryURL extracts owner and repo from an API repository URL
// such as https://api.github.com/repos/ros2/rclpy.
func splitRepositoryURL(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[len(parts)-2], parts[len(parts)-1], true
}

// FetchRaw downloads a plain document such as a raw.githubusercontent.com
// file. The token is only attached for the API host.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.HasPrefix(rawURL, c.baseURL+"/") {
		c.setHeaders(req)
	}

	resp, err := c.Do(req, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	data, err := resp.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return data, nil
}
