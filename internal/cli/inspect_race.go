package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"raceline/internal/persist"
)

// NewInspectRaceCommand prints a persisted race's summary document.
func NewInspectRaceCommand(rootOpts *RootOptions) *cobra.Command {
	var dataDir, backend string

	cmd := &cobra.Command{
		Use:           "inspect-race <raceId>",
		Short:         "Print a persisted race's summary",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectRace(rootOpts, cmd, args[0], backend, dataDir)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "persistence root directory or database path")
	cmd.Flags().StringVar(&backend, "backend", "file", "persistence backend (file|sqlite)")
	return cmd
}

func runInspectRace(opts *RootOptions, cmd *cobra.Command, raceID, backend, dataDir string) error {
	store, err := persist.Open(backend, dataDir)
	if err != nil {
		return fmt.Errorf("open persistence backend: %w", err)
	}
	defer store.Close()

	body, err := store.Read(context.Background(), raceID, persist.KeySummary)
	if err != nil {
		return fmt.Errorf("read summary: %w", err)
	}
	summary, err := persist.UnmarshalSummary(body)
	if err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "race:        %s\n", summary.RaceID)
	fmt.Fprintf(cmd.OutOrStdout(), "cycle seed:  %s\n", summary.CycleSeed)
	fmt.Fprintf(cmd.OutOrStdout(), "total ticks: %d\n", summary.TotalTicks)
	fmt.Fprintf(cmd.OutOrStdout(), "winner:      %s\n", summary.WinnerID)
	fmt.Fprintf(cmd.OutOrStdout(), "finish order: %v\n", summary.FinishOrder)
	fmt.Fprintf(cmd.OutOrStdout(), "checksum:    %s\n", summary.Checksum)
	return nil
}
