// Package cmd implements the phoenixd command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/internal/server/handlers"
)

// VersionInfo holds build metadata injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var appIdentity *config.Identity

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "phoenixd",
	Short: "Plot plan execution daemon for PoCX wallets",
	Long: `phoenixd executes plot plans: ordered lists of resume, plot and checkpoint
items that fill drives with PoCX plot files.

Run it as a daemon with "phoenixd serve" and drive it over HTTP, or run a
single plan headless with "phoenixd run --plan plan.yaml".`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records build metadata for version output.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, BuildDate: buildDate}
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity resolved by initConfig, or nil.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ce *cliError
	if errors.As(err, &ce) {
		if observability.CLILogger != nil {
			observability.CLILogger.Error(ce.msg, zap.Error(ce.err), zap.Int("exit_code", ce.code))
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", ce)
		}
		return ce.code
	}
	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func initConfig(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("phoenixd", verbose)

	id := config.DefaultIdentity
	appIdentity = &id

	config.SetConfigFile(cfgFile)
	if _, err := config.Load(cmd.Context()); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	return nil
}

// cliError carries an exit code through cobra's error return.
type cliError struct {
	code int
	msg  string
	err  error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *cliError) Unwrap() error { return e.err }

// exitError wraps err so Execute exits with code.
func exitError[C ~int](code C, msg string, err error) error {
	return &cliError{code: int(code), msg: msg, err: err}
}

// ExitWithCode logs and terminates the process immediately.
func ExitWithCode[C ~int](logger *zap.Logger, code C, msg string, err error) {
	if logger != nil {
		logger.Error(msg, zap.Error(err), zap.Int("exit_code", int(code)))
	}
	os.Exit(int(code))
}
