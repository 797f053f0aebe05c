package main

import (
	"fmt"

	"github.com/sonroyaalmerol/sharesync/internal/checkpoint"
	"github.com/sonroyaalmerol/sharesync/internal/config"
	"github.com/sonroyaalmerol/sharesync/internal/netmap"
	"github.com/sonroyaalmerol/sharesync/internal/orchestrator"
	"github.com/sonroyaalmerol/sharesync/internal/progress"
	"github.com/sonroyaalmerol/sharesync/internal/snapshots"
	"github.com/sonroyaalmerol/sharesync/internal/worker"
)

// stack bundles everything a run needs, wired against the real OS providers.
type stack struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	collector *progress.Collector
	pub       *progress.Publisher
}

func buildStack(cfg *config.Config) (*stack, error) {
	provider, err := snapshots.NewVSSProvider()
	if err != nil {
		return nil, fmt.Errorf("buildStack: %w", err)
	}

	snapMgr, err := snapshots.NewManager(provider, cfg.TrackingDir)
	if err != nil {
		return nil, fmt.Errorf("buildStack: %w", err)
	}

	driveMgr, err := netmap.NewManager(netmap.NewWNetConnector(), cfg.TrackingDir)
	if err != nil {
		return nil, fmt.Errorf("buildStack: %w", err)
	}

	cpStore, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("buildStack: %w", err)
	}

	collector := progress.NewCollector()
	pub := progress.NewPublisher(progress.LogSink{}, collector)

	orch := orchestrator.New(cfg, worker.NewExecLauncher(), snapMgr, driveMgr, cpStore, pub)

	if store := platformCredentialStore(); store != nil {
		cred, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("buildStack: error loading stored credential -> %w", err)
		}
		if cred != nil {
			orch.SetCredential(cred)
		}
	}

	return &stack{cfg: cfg, orch: orch, collector: collector, pub: pub}, nil
}
