package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/sharesync/internal/config"
	"github.com/sonroyaalmerol/sharesync/internal/netmap"
	"github.com/sonroyaalmerol/sharesync/internal/snapshots"
)

func reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Release snapshots and drive mappings left behind by a crashed run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			provider, err := snapshots.NewVSSProvider()
			if err != nil {
				return err
			}
			snapMgr, err := snapshots.NewManager(provider, cfg.TrackingDir)
			if err != nil {
				return err
			}
			driveMgr, err := netmap.NewManager(netmap.NewWNetConnector(), cfg.TrackingDir)
			if err != nil {
				return err
			}

			snapRecs, _ := snapMgr.Active()
			mapRecs, _ := driveMgr.Active()
			fmt.Printf("Found %d tracked snapshot(s), %d tracked mapping(s)\n",
				len(snapRecs), len(mapRecs))

			errs := errors.Join(
				snapMgr.ReconcileOrphans(),
				driveMgr.ReconcileOrphans(),
			)
			if errs != nil {
				return fmt.Errorf("reconcile: %w", errs)
			}

			fmt.Println("Reconciliation complete")
			return nil
		},
	}
}
