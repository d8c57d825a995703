package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

var rootCmd = &cobra.Command{
	Use:   "ci-for-pr",
	Short: "Run CI for a set of pull requests across repositories",
	Long: `ci-for-pr builds a repos manifest that points every affected repository at
the branch of its pull request (or at a shared branch), publishes it, triggers
the CI jobs against it and reports the results on the pull requests.

Examples:
  ci-for-pr -p ros2/rclpy#353 -p ros2/rclcpp#1020 -k rclpy -b -c
  ci-for-pr -B feature/spin-timeout --comment-on ros2/rclpy#353 -b -c
  ci-for-pr -B feature/spin-timeout -i -b -c`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runCI,
}

func main() {
	cobra.OnInitialize(initConfig)
	addFlags()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		code := 1
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(code)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CI_FOR_PR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addFlags() {
	f := rootCmd.Flags()
	f.StringSliceP("pulls", "p", nil, "pull requests to test together (ORG/REPO#NUMBER or URL, repeatable)")
	f.StringP("branch", "B", "", "test this branch on every repository that has it")
	f.StringSlice("comment-on", nil, "pull requests that receive results in branch mode")
	f.BoolP("interactive", "i", false, "pick the pull requests to comment on from your open ones")
	f.StringSliceP("packages", "k", nil, "packages to build and test (default: everything)")
	f.StringSliceP("jobs", "j", nil, "CI jobs to trigger (default from config)")
	f.StringP("target", "t", "", "release branch of the base manifest (default \"master\")")
	f.BoolP("build", "b", false, "trigger the CI jobs and wait for them")
	f.BoolP("comment", "c", false, "post the results on the pull requests")
	f.String("publisher", "", "where to publish the manifest: gist or file")
	f.String("publish-dir", "", "output directory of the file publisher")
	f.String("base-manifest", "", "base manifest URL template or absolute path")
	f.Bool("pin-commits", false, "use pull request head commits instead of branches")
	f.String("manifest-out", "", "also write the manifest to this file")
	f.String("config", "", "config file (default: search .ci-for-pr/config.yaml upward)")
	f.String("log-level", "", "log level: debug, info, progress, minimal")
	f.Bool("json", false, "print the result as JSON")

	_ = viper.BindPFlags(f)
}
