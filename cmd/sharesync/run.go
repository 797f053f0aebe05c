package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/sharesync/internal/config"
	"github.com/sonroyaalmerol/sharesync/internal/orchestrator"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
	"github.com/sonroyaalmerol/sharesync/internal/utils"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one replication run for the configured profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), cfg)
		},
	}
}

func executeRun(ctx context.Context, cfg *config.Config) error {
	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.pub.Close()

	runID := uuid.New().String()
	syslog.L.Info().
		WithMessage("starting replication run").
		WithField("run_id", runID).
		WithField("profile", cfg.Profile.Name).
		Write()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		if !s.orch.Phase().Terminal() {
			syslog.L.Warn().WithMessage("interrupt received, stopping run").Write()
			_ = s.orch.Stop()
		}
	}()

	summary, runErr := s.orch.Run(ctx)
	printSummary(summary)

	if runErr != nil {
		return runErr
	}
	if summary.Phase != orchestrator.PhaseCompleted {
		return fmt.Errorf("executeRun: run ended in phase %s", summary.Phase)
	}
	return nil
}

func printSummary(s orchestrator.RunSummary) {
	fmt.Printf("\nProfile:   %s\n", s.Profile)
	fmt.Printf("Outcome:   %s", s.Phase)
	if s.Resumed {
		fmt.Printf(" (resumed)")
	}
	fmt.Println()
	fmt.Printf("Chunks:    %d succeeded, %d failed, %d skipped", s.Succeeded, s.Failed, s.Skipped)
	if s.Stopped > 0 {
		fmt.Printf(", %d not started", s.Stopped)
	}
	fmt.Println()
	fmt.Printf("Copied:    %s across %d files (of %s total)\n",
		utils.HumanizeBytes(uint64(s.CopiedBytes)), s.CopiedFiles,
		utils.HumanizeBytes(uint64(s.TotalBytes)))
	fmt.Printf("Duration:  %s\n", s.Duration.Round(time.Millisecond))
}
