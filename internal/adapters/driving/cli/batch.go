package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect past transfer batches",
	Long:  `List and inspect the transfer batches recorded in the local ledger.`,
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transfer batches",
	Args:  cobra.NoArgs,
	RunE:  runBatchList,
}

var batchShowCmd = &cobra.Command{
	Use:   "show [batch-id]",
	Short: "Show one batch and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchShow,
}

func init() {
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchShowCmd)
	rootCmd.AddCommand(batchCmd)
}

func runBatchList(cmd *cobra.Command, _ []string) error {
	if batchService == nil {
		return errors.New("batch service not configured")
	}

	batches, err := batchService.List(runContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}
	if len(batches) == 0 {
		cmd.Println("No batches recorded.")
		return nil
	}

	for _, b := range batches {
		cmd.Printf("%s  %s  %s -> %s  %s\n",
			b.ID, b.CreatedAt.Local().Format(time.DateTime), b.Source, target(b), outcomeLabel(b.Outcome))
	}
	return nil
}

func runBatchShow(cmd *cobra.Command, args []string) error {
	if batchService == nil {
		return errors.New("batch service not configured")
	}

	detail, err := batchService.Get(runContext(cmd), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("batch %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}

	b := detail.Batch
	cmd.Println(titleStyle.Render("Batch " + b.ID))
	cmd.Printf("  Source:      %s\n", b.Source)
	cmd.Printf("  Destination: %s\n", target(b))
	cmd.Printf("  Created:     %s\n", b.CreatedAt.Local().Format(time.DateTime))
	if b.IsFinished() {
		cmd.Printf("  Finished:    %s\n", b.FinishedAt.Local().Format(time.DateTime))
	}
	cmd.Printf("  Outcome:     %s\n", outcomeLabel(b.Outcome))
	if b.AbortReason != "" {
		cmd.Printf("  Reason:      %s\n", b.AbortReason)
	}
	cmd.Printf("  Salt:        %s\n", maskSecret(b.Salt))
	cmd.Printf("  Students:    %d\n", detail.Mappings)
	cmd.Println()

	if len(detail.Results) == 0 {
		cmd.Println("No results recorded.")
		return nil
	}
	for _, r := range detail.Results {
		line := fmt.Sprintf("  %-9s %s %s", r.Status, r.SubmissionID, r.Token)
		if r.DestinationSubmissionID != "" {
			line += " -> " + r.DestinationSubmissionID
		}
		if r.Reason != "" {
			line += ": " + r.Reason
		}
		cmd.Println(line)
		for _, w := range r.Warnings {
			cmd.Println("    " + warningStyle.Render(w.String()))
		}
	}
	return nil
}

func target(b domain.BatchRecord) string {
	if b.LocalDir != "" {
		return b.LocalDir
	}
	return b.Destination.String()
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
