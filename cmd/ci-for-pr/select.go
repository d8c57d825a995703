package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/ros-tooling/ci-for-pr/pkg/github"
)

func ciHuhTheme() *huh.Theme {
	t := *huh.ThemeCharm()
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(lipgloss.Color("#7D56F4"))
	t.Focused.SelectedPrefix = t.Focused.SelectedPrefix.Foreground(lipgloss.Color("#7D56F4"))
	return &t
}

// selectPulls lists the open pull requests of the authenticated user and
// returns the ones picked.
func selectPulls(ctx context.Context, gh *github.Client) ([]github.PullRef, error) {
	actor, err := gh.GetCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to identify GitHub user: %w", err)
	}

	pulls, err := gh.SearchOpenPulls(ctx, actor.Login)
	if err != nil {
		return nil, err
	}
	if len(pulls) == 0 {
		return nil, fmt.Errorf("no open pull requests found for %s", actor.Login)
	}

	byKey := make(map[string]github.PullRef, len(pulls))
	options := make([]huh.Option[string], 0, len(pulls))
	for _, pr := range pulls {
		key := pr.Ref.String()
		byKey[key] = pr.Ref
		options = append(options, huh.NewOption(fmt.Sprintf("%s  %s", key, pr.Title), key))
	}

	var chosen []string
	field := huh.NewMultiSelect[string]().
		Title("Pull requests to comment on").
		Description("space to toggle, enter to confirm").
		Options(options...).
		Value(&chosen)

	form := huh.NewForm(huh.NewGroup(field)).
		WithTheme(ciHuhTheme()).
		WithShowHelp(false)
	if err := form.RunWithContext(ctx); err != nil {
		return nil, err
	}

	refs := make([]github.PullRef, 0, len(chosen))
	for _, key := range chosen {
		refs = append(refs, byKey[key])
	}
	return refs, nil
}
