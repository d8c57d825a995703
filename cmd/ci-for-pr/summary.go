package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ros-tooling/ci-for-pr/pkg/manifest"
	"github.com/ros-tooling/ci-for-pr/pkg/orchestrator"
)

var bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))

type jobSummary struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

type commentSummary struct {
	Pull      string `json:"pull"`
	CommentID int64  `json:"comment_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type resultSummary struct {
	RunID       string              `json:"run_id"`
	ManifestURL string              `json:"manifest_url"`
	Overrides   []manifest.Override `json:"overrides"`
	Jobs        []jobSummary        `json:"jobs"`
	Comments    []commentSummary    `json:"comments,omitempty"`
	Body        string              `json:"body"`
	Failed      bool                `json:"failed"`
}

func summarize(res *orchestrator.Result) resultSummary {
	s := resultSummary{
		RunID:       res.RunID,
		ManifestURL: res.ManifestRef.URL,
		Overrides:   res.Overrides,
		Jobs:        []jobSummary{},
		Body:        res.Body,
		Failed:      res.Failed(),
	}
	for _, job := range res.Jobs {
		js := jobSummary{Name: job.Name, State: string(job.State), Number: job.Number, URL: job.URL}
		if job.Err != nil {
			js.Error = job.Err.Error()
		}
		s.Jobs = append(s.Jobs, js)
	}
	for _, f := range res.TriggerFailures {
		s.Jobs = append(s.Jobs, jobSummary{Name: f.Job, State: "not_started", Error: f.Err.Error()})
	}
	for _, c := range res.Comments {
		cs := commentSummary{Pull: c.Ref.String(), CommentID: c.CommentID}
		if c.Err != nil {
			cs.Error = c.Err.Err.Error()
		}
		s.Comments = append(s.Comments, cs)
	}
	return s
}

// printResult writes the per-job and per-PR summary followed by the report.
func printResult(w io.Writer, res *orchestrator.Result, asJSON bool) error {
	s := summarize(res)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "Run %s\nManifest: %s\n\n", s.RunID, s.ManifestURL)

	if len(s.Overrides) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Repository", "Version", "URL", "From"})
		for _, o := range s.Overrides {
			tw.AppendRow(table.Row{o.Name, o.Version, o.URL, o.Source})
		}
		tw.Render()
		fmt.Fprintln(w)
	}

	if len(s.Jobs) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Job", "State", "Build", "URL", "Error"})
		for _, j := range s.Jobs {
			build := ""
			if j.Number > 0 {
				build = fmt.Sprintf("#%d", j.Number)
			}
			tw.AppendRow(table.Row{j.Name, j.State, build, j.URL, j.Error})
		}
		tw.Render()
		fmt.Fprintln(w)
	}

	if len(s.Comments) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Pull request", "Comment", "Error"})
		for _, c := range s.Comments {
			id := ""
			if c.CommentID != 0 {
				id = fmt.Sprint(c.CommentID)
			}
			tw.AppendRow(table.Row{c.Pull, id, c.Error})
		}
		tw.Render()
		fmt.Fprintln(w)
	}

	if res.Commented {
		fmt.Fprintln(w, bannerStyle.Render(">>> AUTO-COMMENTED BELOW CONTENT ON ALL PRS <<<"))
	} else {
		fmt.Fprintln(w, bannerStyle.Render(">>> COPY-PASTE BELOW CONTENT TO PRS <<<"))
	}
	fmt.Fprint(w, s.Body)
	return nil
}
