package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/sharesync/internal/config"
	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

var serviceInterval time.Duration

func serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service [install|uninstall|start|stop|restart]",
		Short: "Run sharesync as a system service, replicating on an interval",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prg := &program{interval: serviceInterval}

			svcConfig := &service.Config{
				Name:        "ShareSync",
				DisplayName: "ShareSync Replicator",
				Description: "Replicates shares through snapshot-backed copy jobs",
				Arguments:   []string{"service", "--config", configPath},
			}

			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return fmt.Errorf("service: %w", err)
			}
			prg.svc = svc

			if len(args) == 1 {
				if err := service.Control(svc, args[0]); err != nil {
					return fmt.Errorf("service: failed to %s -> %w", args[0], err)
				}
				fmt.Printf("Service %s: ok\n", args[0])
				return nil
			}

			if err := syslog.L.SetServiceLogger(svc); err != nil {
				syslog.L.Error(err).WithMessage("falling back to console logging").Write()
			}
			return svc.Run()
		},
	}

	cmd.Flags().DurationVar(&serviceInterval, "interval", time.Hour,
		"time between replication runs")
	return cmd
}

// program is the kardianos/service payload: a replication loop plus a config
// watcher so profile edits take effect on the next cycle without a restart.
type program struct {
	svc      service.Service
	interval time.Duration

	cancel  context.CancelFunc
	stopped chan struct{}

	mu  sync.Mutex
	cfg *config.Config
}

func (p *program) Start(s service.Service) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p.cfg = cfg

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})

	watcher, err := config.NewWatcher(func(next *config.Config) {
		p.mu.Lock()
		p.cfg = next
		p.mu.Unlock()
		syslog.L.Info().WithMessage("configuration reloaded").Write()
	})
	if err != nil {
		syslog.L.Error(err).WithMessage("config watcher unavailable, edits need a restart").Write()
		watcher = nil
	} else if err := watcher.Watch(configPath); err != nil {
		syslog.L.Error(err).WithMessage("config watcher unavailable, edits need a restart").Write()
		_ = watcher.Close()
		watcher = nil
	}

	go p.loop(ctx, watcher)
	return nil
}

func (p *program) loop(ctx context.Context, watcher *config.Watcher) {
	defer close(p.stopped)
	if watcher != nil {
		defer watcher.Close()
	}

	for {
		p.mu.Lock()
		cfg := p.cfg
		p.mu.Unlock()

		if err := executeRun(ctx, cfg); err != nil {
			syslog.L.Error(err).WithMessage("scheduled run failed").Write()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.stopped:
	case <-time.After(30 * time.Second):
		syslog.L.Warn().WithMessage("replication loop did not stop in time").Write()
	}
	return nil
}
