package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer submissions under pseudonyms",
	Long: `Copy every submission of the source assignment into the destination
assignment. Each student is replaced by a stable pseudonym in the owner
name, the filenames and the file contents.

Assignments are given as course/assignment, e.g. --from 12345/67890.
Credentials are read from --email and --token, or from SUBANON_EMAIL,
SUBANON_PASSWORD and SUBANON_TOKEN. The password is prompted for when
neither a password nor a token is available.

Exit status is 0 when every submission succeeded, 2 when some failed or
were skipped and 3 when the run was aborted.`,
	Args: cobra.NoArgs,
	RunE: runTransfer,
}

var transferFlags struct {
	from        string
	to          string
	email       string
	token       string
	salt        string
	concurrency int
	rosterOut   string
	keyOut      string
	localDir    string
	resume      string
}

// credentialsEnv holds credentials supplied through the environment.
type credentialsEnv struct {
	Email    string `env:"SUBANON_EMAIL"`
	Password string `env:"SUBANON_PASSWORD"`
	Token    string `env:"SUBANON_TOKEN"`
}

func init() {
	f := transferCmd.Flags()
	f.StringVar(&transferFlags.from, "from", "", "source assignment as course/assignment")
	f.StringVar(&transferFlags.to, "to", "", "destination assignment as course/assignment")
	f.StringVar(&transferFlags.email, "email", "", "instructor account email")
	f.StringVar(&transferFlags.token, "token", "", "pre-issued access token instead of a password")
	f.StringVar(&transferFlags.salt, "salt", "", "salt for pseudonym generation (default: configured or random)")
	f.IntVar(&transferFlags.concurrency, "concurrency", 0, "submissions processed in parallel (default: configured)")
	f.StringVar(&transferFlags.rosterOut, "roster-out", "anonymised_roster.csv", "where to write the anonymised roster")
	f.StringVar(&transferFlags.keyOut, "key-out", "anonymised_key.json", "where to write the instructor key")
	f.StringVar(&transferFlags.localDir, "local-dir", "", "write anonymised submissions to this directory instead of uploading")
	f.StringVar(&transferFlags.resume, "resume", "", "reuse the pseudonyms of a previous batch")
	_ = transferCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(transferCmd)
}

func runTransfer(cmd *cobra.Command, _ []string) error {
	if transferService == nil {
		return errors.New("transfer service not configured")
	}

	req, err := transferRequest()
	if err != nil {
		return err
	}
	if req.Credentials, err = credentials(cmd); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if req.LocalDir != "" {
		cmd.Printf("Transferring %s to %s\n", req.Source, req.LocalDir)
	} else {
		cmd.Printf("Transferring %s to %s\n", req.Source, req.Destination)
	}

	report, err := transferService.Run(ctx, req, progressPrinter(cmd.OutOrStdout()))
	if report == nil {
		if err == nil {
			err = errors.New("transfer produced no report")
		}
		return fmt.Errorf("transfer failed: %w", err)
	}

	written, writeErr := writeArtifacts(report.Roster, report.Key, transferFlags.rosterOut, transferFlags.keyOut)
	cmd.Println()
	cmd.Println(renderSummary(report.Summary, written))
	if writeErr != nil {
		return &exitError{code: ExitError, err: writeErr}
	}
	if err != nil && report.Summary.Outcome != domain.OutcomeAborted {
		cmd.Println(errorStyle.Render("Error: " + err.Error()))
	}

	switch report.Summary.Outcome {
	case domain.OutcomeAllSucceeded:
		return nil
	case domain.OutcomePartialFailure:
		return &exitError{code: ExitPartialFailure}
	default:
		return &exitError{code: ExitAborted}
	}
}

func transferRequest() (driving.TransferRequest, error) {
	var req driving.TransferRequest

	src, err := domain.ParseAssignmentRef(transferFlags.from)
	if err != nil {
		return req, fmt.Errorf("--from: %w", err)
	}
	req.Source = src

	switch {
	case transferFlags.localDir != "":
		req.LocalDir = transferFlags.localDir
	case transferFlags.to == "":
		return req, errors.New("--to is required unless --local-dir is set")
	default:
		if req.Destination, err = domain.ParseAssignmentRef(transferFlags.to); err != nil {
			return req, fmt.Errorf("--to: %w", err)
		}
	}

	req.Salt = transferFlags.salt
	req.Concurrency = transferFlags.concurrency
	req.ResumeBatchID = transferFlags.resume
	return req, nil
}

// credentials merges flags over the environment and prompts for a missing password.
func credentials(cmd *cobra.Command) (domain.Credentials, error) {
	var ev credentialsEnv
	if err := env.Parse(&ev); err != nil {
		return domain.Credentials{}, fmt.Errorf("read credentials from environment: %w", err)
	}

	creds := domain.Credentials{Email: ev.Email, Password: ev.Password, Token: ev.Token}
	if transferFlags.email != "" {
		creds.Email = transferFlags.email
	}
	if transferFlags.token != "" {
		creds.Token = transferFlags.token
	}

	if !creds.UsesToken() && creds.Password == "" {
		if creds.Email == "" {
			return creds, errors.New("an --email or --token is required")
		}
		cmd.Printf("Password for %s: ", creds.Email)
		creds.Password = readPassword(cmd.InOrStdin())
		cmd.Println()
	}
	return creds, creds.Validate()
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword(in io.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	input, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(input)
}

// progressPrinter prints terminal submission states as they happen.
func progressPrinter(w io.Writer) driving.ProgressFunc {
	var mu sync.Mutex
	return func(ev driving.ProgressEvent) {
		if !ev.State.IsTerminal() {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		label := successStyle.Render(fmt.Sprintf("%-9s", ev.State))
		switch ev.State {
		case domain.StateFailed:
			label = errorStyle.Render(fmt.Sprintf("%-9s", ev.State))
		case domain.StateSkipped:
			label = warningStyle.Render(fmt.Sprintf("%-9s", ev.State))
		}
		line := fmt.Sprintf("  %s %s", label, ev.SubmissionID)
		if ev.Token != "" {
			line += " " + mutedStyle.Render(string(ev.Token))
		}
		fmt.Fprintln(w, line)
	}
}

// writeArtifacts writes the roster and key files. The key is readable by the owner only.
func writeArtifacts(roster, key []byte, rosterPath, keyPath string) ([]string, error) {
	var written []string
	if len(roster) > 0 && rosterPath != "" {
		if err := os.WriteFile(rosterPath, roster, 0o644); err != nil {
			return written, fmt.Errorf("write roster: %w", err)
		}
		written = append(written, rosterPath)
	}
	if len(key) > 0 && keyPath != "" {
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return written, fmt.Errorf("write key: %w", err)
		}
		written = append(written, keyPath)
	}
	return written, nil
}

func outcomeLabel(o domain.OutcomeKind) string {
	switch o {
	case domain.OutcomeAllSucceeded:
		return successStyle.Render("all succeeded")
	case domain.OutcomePartialFailure:
		return warningStyle.Render("partial failure")
	case domain.OutcomeAborted:
		return errorStyle.Render("aborted")
	default:
		return mutedStyle.Render("running")
	}
}

// renderSummary formats the final report of a run.
func renderSummary(s domain.Summary, files []string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Transfer Summary") + "\n")
	fmt.Fprintf(&b, "Batch:     %s\n", s.BatchID)
	fmt.Fprintf(&b, "Outcome:   %s\n", outcomeLabel(s.Outcome))
	if s.AbortReason != "" {
		fmt.Fprintf(&b, "Reason:    %s\n", s.AbortReason)
	}
	fmt.Fprintf(&b, "Succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(&b, "Failed:    %d\n", len(s.Failed))
	fmt.Fprintf(&b, "Skipped:   %d\n", len(s.Skipped))
	fmt.Fprintf(&b, "Pending:   %d", len(s.Pending))

	for _, r := range s.Failed {
		fmt.Fprintf(&b, "\n%s %s %s: %s", errorStyle.Render("failed "), r.SubmissionID, r.Token, r.Reason)
	}
	for _, r := range s.Skipped {
		fmt.Fprintf(&b, "\n%s %s %s: %s", warningStyle.Render("skipped"), r.SubmissionID, r.Token, r.Reason)
	}
	for _, p := range s.Pending {
		fmt.Fprintf(&b, "\n%s %s (%s)", mutedStyle.Render("pending"), p.SubmissionID, p.State)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "\n%s %s %s", warningStyle.Render("warning"), w.SubmissionID, w.Warning)
	}
	for _, f := range files {
		fmt.Fprintf(&b, "\nWrote %s", f)
	}
	return summaryBox.Render(b.String())
}

// runContext returns the command context, defaulting to Background.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
