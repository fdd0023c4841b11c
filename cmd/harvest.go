package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newHarvestCmd creates the 'harvest' subcommand running one county to
// completion without the HTTP server.
func newHarvestCmd() *cobra.Command {
	var countyID string

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs a single harvest job for one county",
		Long: `Walks one county's districts and projects, saving every new
project record, then exits. Ctrl-C stops the run cleanly; already-saved
records are kept and a later run picks up where this one left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvestCommand(cmd, countyID)
		},
	}
	cmd.Flags().StringVar(&countyID, "county", "", "county code to harvest (e.g. 34)")
	_ = cmd.MarkFlagRequired("county")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, countyID string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Store.CountyByCode(countyID); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobID, err := a.Controller.Start(countyID)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("cancelling harvest", zap.Int64("job_id", jobID))
			if _, err := a.Controller.Cancel(); err != nil {
				a.Logger.Warn("cancel failed", zap.Error(err))
			}
		case <-ticker.C:
		}

		job, err := a.Controller.Status(jobID)
		if err != nil {
			return err
		}
		if !job.Status.Terminal() {
			continue
		}
		fmt.Printf("job %d %s: %d/%d processed, %d saved\n",
			job.ID, job.Status, job.Processed, job.Total, job.SuccessCount)
		if job.ErrorMessage != "" {
			return fmt.Errorf("harvest failed: %s", job.ErrorMessage)
		}
		return nil
	}
}
