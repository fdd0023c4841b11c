package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/buildlead/dsa-harvester/internal/store"
	"github.com/buildlead/dsa-harvester/internal/tracker"
)

// newExportCmd creates the 'export' subcommand writing a filtered CSV.
func newExportCmd() *cobra.Command {
	var (
		out           string
		minAmount     string
		receivedAfter string
		approvedAfter string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports saved projects as CSV",
		Long: `Writes every saved project matching the filters as CSV, with
empty and sentinel-only columns pruned. Without --out the CSV goes to
stdout.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runExportCommand(out, minAmount, receivedAfter, approvedAfter)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.Flags().StringVar(&minAmount, "min-amount", "", "minimum estimated amount")
	cmd.Flags().StringVar(&receivedAfter, "received-after", "", "received date cutoff (YYYY-MM-DD)")
	cmd.Flags().StringVar(&approvedAfter, "approved-after", "", "approved date cutoff (YYYY-MM-DD)")
	return cmd
}

func runExportCommand(out, minAmount, receivedAfter, approvedAfter string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var filters store.ExportFilters
	if minAmount != "" {
		amount, err := strconv.ParseFloat(minAmount, 64)
		if err != nil {
			return fmt.Errorf("invalid --min-amount %q", minAmount)
		}
		filters.MinEstimatedAmount = &amount
	}
	if receivedAfter != "" {
		t, ok := tracker.ParseDate(receivedAfter)
		if !ok {
			return fmt.Errorf("invalid --received-after %q", receivedAfter)
		}
		filters.ReceivedAfter = &t
	}
	if approvedAfter != "" {
		t, ok := tracker.ParseDate(approvedAfter)
		if !ok {
			return fmt.Errorf("invalid --approved-after %q", approvedAfter)
		}
		filters.ApprovedAfter = &t
	}

	data, err := a.Store.ExportCSV(filters)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("no projects match the filters")
	}

	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), out)
	return nil
}
