package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
	"github.com/ros-tooling/ci-for-pr/pkg/config"
	"github.com/ros-tooling/ci-for-pr/pkg/github"
	"github.com/ros-tooling/ci-for-pr/pkg/gitremote"
	"github.com/ros-tooling/ci-for-pr/pkg/jenkins"
	"github.com/ros-tooling/ci-for-pr/pkg/log"
	"github.com/ros-tooling/ci-for-pr/pkg/orchestrator"
	"github.com/ros-tooling/ci-for-pr/pkg/publisher"
	"github.com/ros-tooling/ci-for-pr/pkg/report"
	"github.com/ros-tooling/ci-for-pr/pkg/resolver"
)

func runCI(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := log.Init(log.Options{Level: cfg.LogLevel, Writer: cmd.ErrOrStderr()}); err != nil {
		return err
	}

	token, err := github.TokenFromEnv()
	if err != nil {
		log.Warn("no GitHub token, continuing unauthenticated", "error", err)
	}
	gh := github.NewClient(token, githubOptions(cfg)...)

	sel, err := selection(ctx, gh)
	if err != nil {
		return explainAuth(err)
	}

	req := orchestrator.Request{
		Selection:   sel,
		Packages:    viper.GetStringSlice("packages"),
		Jobs:        viper.GetStringSlice("jobs"),
		Build:       viper.GetBool("build"),
		ManifestOut: viper.GetString("manifest-out"),
	}

	deps, err := buildDeps(ctx, cfg, gh, token, req.Build)
	if err != nil {
		return explainAuth(err)
	}

	res, err := orchestrator.New(cfg, deps).Run(ctx, req)
	if err != nil {
		return explainAuth(err)
	}

	if err := printResult(cmd.OutOrStdout(), res, viper.GetBool("json")); err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return &exitError{code: 2, err: err}
	}
	return nil
}

// loadConfig reads the project file and layers flags and environment on top.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadFromCurrentDir()
	}
	if err != nil {
		return nil, err
	}

	var src string
	cfg.Target, src = config.ResolveString(viper.GetString("target"), cfg.Target, config.DefaultTarget)
	log.Debug("resolved target", "value", cfg.Target, "source", src)
	cfg.BaseManifestURL, _ = config.ResolveString(viper.GetString("base-manifest"), cfg.BaseManifestURL, config.DefaultBaseManifestURL)
	cfg.Publisher, _ = config.ResolveString(viper.GetString("publisher"), cfg.Publisher, config.DefaultPublisher)
	cfg.PublishDir, _ = config.ResolveString(viper.GetString("publish-dir"), cfg.PublishDir, "")
	cfg.LogLevel, _ = config.ResolveString(viper.GetString("log-level"), cfg.LogLevel, "info")
	cfg.CI.Jobs, _ = config.ResolveStrings(viper.GetStringSlice("jobs"), cfg.CI.Jobs, []string{config.DefaultJob})
	if viper.GetBool("pin-commits") {
		cfg.PinCommits = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selection builds the resolver selection from the flags, asking the user
// which pull requests to comment on in interactive mode.
func selection(ctx context.Context, gh *github.Client) (resolver.Selection, error) {
	pulls, err := github.ParsePullRefs(viper.GetStringSlice("pulls"))
	if err != nil {
		return resolver.Selection{}, &resolver.InvalidSelectionError{Reason: err.Error()}
	}
	commentOn, err := github.ParsePullRefs(viper.GetStringSlice("comment-on"))
	if err != nil {
		return resolver.Selection{}, &resolver.InvalidSelectionError{Reason: err.Error()}
	}

	sel := resolver.Selection{
		Pulls:     pulls,
		Branch:    viper.GetString("branch"),
		CommentOn: commentOn,
		Comment:   viper.GetBool("comment"),
	}

	if viper.GetBool("interactive") {
		if !sel.IsBranchMode() {
			return resolver.Selection{}, &resolver.InvalidSelectionError{Reason: "interactive selection only applies to branch mode"}
		}
		picked, err := selectPulls(ctx, gh)
		if err != nil {
			return resolver.Selection{}, err
		}
		sel.CommentOn = append(sel.CommentOn, picked...)
	}

	return sel, sel.Validate()
}

func buildDeps(ctx context.Context, cfg *config.Config, gh *github.Client, token string, build bool) (orchestrator.Deps, error) {
	registry, err := publisher.NewRegistry(
		publisher.NewGistPublisher(gh, cfg.ManifestFile),
		publisher.NewFilePublisher(cfg.PublishDir, cfg.ManifestFile),
	)
	if err != nil {
		return orchestrator.Deps{}, err
	}
	pub, err := registry.Get(cfg.Publisher)
	if err != nil {
		return orchestrator.Deps{}, err
	}

	deps := orchestrator.Deps{
		Manifests: gh,
		Resolver: resolver.New(gh, gitremote.NewLister(token), resolver.Options{
			Workers:          cfg.Workers,
			PinCommits:       cfg.PinCommits,
			CoreRepositories: cfg.CoreRepositories,
		}),
		Publisher: pub,
		Reporter:  report.NewReporter(gh, cfg.Workers),
	}
	if !build {
		return deps, nil
	}

	if token == "" {
		return orchestrator.Deps{}, errors.New("triggering CI requires a GitHub token")
	}
	user := cfg.CI.User
	if user == "" {
		actor, err := gh.GetCurrentUser(ctx)
		if err != nil {
			return orchestrator.Deps{}, fmt.Errorf("failed to identify CI user: %w", err)
		}
		user = actor.Login
	}

	adapter := jenkins.NewCI(jenkins.NewClient(cfg.CI.URL, jenkinsOptions(cfg, user, token)...))

	deps.Trigger = ci.NewTrigger(adapter,
		&orchestrator.OrgAuthorizer{Members: gh, Orgs: cfg.GitHub.Organizations},
		ci.ParamNames{
			ManifestURL: cfg.CI.Params.ManifestURL,
			BuildArgs:   cfg.CI.Params.BuildArgs,
			TestArgs:    cfg.CI.Params.TestArgs,
		}, cfg.Workers)
	deps.Tracker = ci.NewTracker(adapter, trackerOptions(cfg))
	return deps, nil
}

func githubOptions(cfg *config.Config) []github.ClientOption {
	opts := []github.ClientOption{
		github.WithRetryConfig(cfg.HTTP.RetryConfig()),
		github.WithRateLimitTracking(true),
	}
	if cfg.GitHub.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}
	return opts
}

func jenkinsOptions(cfg *config.Config, user, token string) []jenkins.ClientOption {
	return []jenkins.ClientOption{
		jenkins.WithCredentials(user, token),
		jenkins.WithRequestsPerSecond(cfg.CI.RequestsPerSecond),
		jenkins.WithRetryConfig(cfg.HTTP.RetryConfig()),
	}
}

// trackerOptions maps the tracking section onto the tracker, where zero
// retries is spelled as a negative value.
func trackerOptions(cfg *config.Config) ci.TrackerOptions {
	retries := cfg.Tracking.Retries()
	if retries == 0 {
		retries = -1
	}
	return ci.TrackerOptions{
		PollInterval: cfg.Tracking.PollInterval,
		PollTimeout:  cfg.Tracking.PollTimeout,
		Timeout:      cfg.Tracking.Timeout,
		MaxRetries:   retries,
		Workers:      cfg.Workers,
	}
}

// explainAuth points at the token variable when GitHub rejected the token.
func explainAuth(err error) error {
	if github.IsAuthenticationError(err) {
		return fmt.Errorf("%w (check %s or %s)", err, github.TokenEnv, github.FallbackTokenEnv)
	}
	return err
}
