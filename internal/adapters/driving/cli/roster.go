package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Work with anonymised rosters",
}

var rosterExportCmd = &cobra.Command{
	Use:   "export [batch-id]",
	Short: "Regenerate the roster and key of a batch",
	Long: `Rebuild the anonymised roster and the instructor key from the identity
mappings recorded for a batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterExport,
}

var rosterFlags struct {
	out    string
	keyOut string
}

func init() {
	rosterExportCmd.Flags().StringVarP(&rosterFlags.out, "out", "o", "anonymised_roster.csv", "where to write the roster")
	rosterExportCmd.Flags().StringVar(&rosterFlags.keyOut, "key-out", "", "where to write the instructor key (default: not written)")
	rosterCmd.AddCommand(rosterExportCmd)
	rootCmd.AddCommand(rosterCmd)
}

func runRosterExport(cmd *cobra.Command, args []string) error {
	if rosterService == nil {
		return errors.New("roster service not configured")
	}

	export, err := rosterService.Export(runContext(cmd), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("batch %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to export roster: %w", err)
	}

	written, err := writeArtifacts(export.Roster, export.Key, rosterFlags.out, rosterFlags.keyOut)
	for _, f := range written {
		cmd.Printf("Wrote %s\n", f)
	}
	return err
}
