package github

import "time"

// PRInfo contains the pull request fields the resolver needs
type PRInfo struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	URL    string `json:"url"`
	Author string `json:"author"`

	// Repository is the base repository full name (the one contributed to).
	Repository string `json:"repository"`
	BaseRef    string `json:"base_ref"`
	BaseSHA    string `json:"base_sha"`

	// HeadRepository is the full name of the repository holding the
	// changes; empty when the fork was deleted.
	HeadRepository string `json:"head_repository,omitempty"`
	HeadCloneURL   string `json:"head_clone_url,omitempty"`
	HeadRef        string `json:"head_ref"`
	HeadSHA        string `json:"head_sha"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PullSummary is one hit of an open pull request search
type PullSummary struct {
	Ref   PullRef `json:"ref"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
}

// GistFile is the content of one file in a new gist
type GistFile struct {
	Name    string
	Content string
}

// GistInfo describes a created gist
type GistInfo struct {
	ID      string            `json:"id"`
	HTMLURL string            `json:"html_url"`
	RawURLs map[string]string `json:"raw_urls"`
}

// ActorInfo represents the authenticated GitHub user or app
type ActorInfo struct {
	Login   string `json:"login"`              // Username or app name
	Type    string `json:"type"`               // "User" or "App"
	Source  string `json:"source,omitempty"`   // "token" or "app"
	AppSlug string `json:"app_slug,omitempty"` // App slug if type is "App"
}
