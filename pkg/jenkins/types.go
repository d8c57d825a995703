package jenkins

// QueueItem is an entry of the build queue.
type QueueItem struct {
	ID         int64     `json:"id"`
	Cancelled  bool      `json:"cancelled"`
	Why        string    `json:"why"`
	Executable *BuildRef `json:"executable"`
}

// BuildRef points at the build a queue item turned into.
type BuildRef struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Build is the status of one build.
type Build struct {
	Number   int    `json:"number"`
	URL      string `json:"url"`
	Building bool   `json:"building"`
	// Result is empty while the build runs.
	Result string `json:"result"`
}

// Build results reported by Jenkins.
const (
	ResultSuccess  = "SUCCESS"
	ResultUnstable = "UNSTABLE"
	ResultFailure  = "FAILURE"
	ResultAborted  = "ABORTED"
	ResultNotBuilt = "NOT_BUILT"
)
