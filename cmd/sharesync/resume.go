package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/sharesync/internal/checkpoint"
	"github.com/sonroyaalmerol/sharesync/internal/config"
)

// resume is run with a guard: it refuses to start unless a checkpoint
// exists, so a mistyped invocation cannot silently kick off a full copy.
func resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted replication run from its checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := checkpoint.NewStore(cfg.CheckpointDir)
			if err != nil {
				return err
			}
			cp, err := store.Load(cfg.Profile.Name)
			if err != nil {
				return err
			}
			if cp == nil {
				return fmt.Errorf("resume: no checkpoint found for profile %q", cfg.Profile.Name)
			}
			if !cp.Matches(cfg.MaxChunkBytes, cfg.MaxChunkFiles) {
				return fmt.Errorf("resume: checkpoint for %q was taken with different chunk thresholds; use run instead",
					cfg.Profile.Name)
			}

			fmt.Printf("Resuming %q: %d chunk(s) already completed\n",
				cfg.Profile.Name, len(cp.CompletedChunks))
			return executeRun(cmd.Context(), cfg)
		},
	}
}
