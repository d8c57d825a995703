// Package publisher stores a synthesized manifest somewhere a CI runner can
// download it from.
package publisher

import (
	"context"
	"fmt"
)

// Ref points at a published manifest. A Ref is never updated: publishing
// again creates a new one.
type Ref struct {
	// URL is the raw document URL handed to the CI job.
	URL string `json:"url"`

	// ID identifies the stored document within its publisher.
	ID string `json:"id,omitempty"`

	// HTMLURL is a human-friendly page for the document, when there is one.
	HTMLURL string `json:"html_url,omitempty"`
}

// Publisher is the interface for storing manifests.
type Publisher interface {
	// Publish stores content under a new reference. title describes the run.
	Publish(ctx context.Context, content []byte, title string) (Ref, error)

	// Name returns the provider name (e.g., "gist", "file")
	Name() string
}

// PublishError is returned when a manifest could not be stored. A run cannot
// continue without a published manifest.
type PublishError struct {
	// Publisher is the provider that failed
	Publisher string

	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish manifest via %s: %v", e.Publisher, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
