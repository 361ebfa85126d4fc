// Package cli provides the subanon command line interface.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/subanon/internal/core/ports/driving"
	"github.com/custodia-labs/subanon/internal/logger"
)

var version = "dev"

// Exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitPartialFailure = 2
	ExitAborted        = 3
)

var (
	transferService driving.TransferService
	batchService    driving.BatchService
	rosterService   driving.RosterService
	settingsService driving.SettingsService
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "subanon",
	Short: "Anonymised transfer of student submissions between assignments",
	Long: `subanon copies every submission of a source assignment into a destination
assignment under stable pseudonyms, so graders never see who wrote what.

It writes an anonymised roster for the destination course and an
instructor-held key that maps pseudonyms back to students.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress to stderr")
}

// Services holds the core services the commands drive.
type Services struct {
	Transfer driving.TransferService
	Batch    driving.BatchService
	Roster   driving.RosterService
	Settings driving.SettingsService
}

// SetServices injects the core services.
func SetServices(s Services) {
	transferService = s.Transfer
	batchService = s.Batch
	rosterService = s.Roster
	settingsService = s.Settings
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// exitError carries a process exit code alongside the error to report.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

// Silent reports whether err was already presented to the user.
func Silent(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.err == nil
}
