package github

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	vcr "gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// VCRModeEnv switches recorder tests between replay and record.
const VCRModeEnv = "CI_FOR_PR_VCR_MODE"

// recorderMode determines whether we're recording or replaying
type recorderMode int

const (
	// modeReplay uses existing fixtures only
	modeReplay recorderMode = iota
	// modeRecord records new fixtures (overwrites existing)
	modeRecord
)

func getRecorderMode() recorderMode {
	if os.Getenv(VCRModeEnv) == "record" {
		return modeRecord
	}
	return modeReplay
}

// NewRecorder creates a new VCR recorder for testing GitHub API interactions.
//
// The recorder will:
//   - In replay mode (default): use recorded fixtures from testdata/fixtures/
//   - In record mode (CI_FOR_PR_VCR_MODE=record): record new API interactions
//
// Usage:
//
//	rec, err := NewRecorder(t, "fixture_name")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer rec.Stop()
//
//	client := NewClient("test-token", WithHTTPClient(rec.HTTPClient()))
//
// IMPORTANT: When recording new fixtures, you must set a real GitHub token:
//
//	CI_FOR_PR_VCR_MODE=record GITHUB_TOKEN=your_token go test ./pkg/github/...
func NewRecorder(t *testing.T, name string) (*Recorder, error) {
	t.Helper()

	mode := getRecorderMode()

	// go-vcr adds the ".yaml" extension
	fixturePath := filepath.Join("testdata", "fixtures", name)

	vcrMode := vcr.ModeReplaying
	if mode == modeRecord {
		vcrMode = vcr.ModeRecording
	}

	r, err := vcr.NewAsMode(fixturePath, vcrMode, nil)
	if err != nil {
		if errors.Is(err, cassette.ErrCassetteNotFound) {
			return nil, fmt.Errorf("cassette %q not found: %w", fixturePath, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	r.AddSaveFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Authorization")
		return nil
	})

	return &Recorder{recorder: r, mode: mode}, nil
}

// Recorder wraps the go-vcr recorder
type Recorder struct {
	recorder *vcr.Recorder
	mode     recorderMode
}

// Stop stops the recorder
func (r *Recorder) Stop() error {
	if r.recorder != nil {
		if err := r.recorder.Stop(); err != nil {
			return fmt.Errorf("failed to stop recorder: %w", err)
		}
	}
	return nil
}

// IsRecording returns true if we're in record mode
func (r *Recorder) IsRecording() bool {
	return r.mode == modeRecord
}

// HTTPClient returns an HTTP client configured to use the recorder
func (r *Recorder) HTTPClient() *http.Client {
	return &http.Client{
		Transport: r.recorder,
	}
}
