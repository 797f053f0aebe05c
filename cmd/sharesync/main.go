package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/sharesync/internal/syslog"
)

var Version = "v0.0.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "sharesync",
		Short: "Snapshot-backed share replication orchestrator",
		Long: "sharesync replicates one share to another through bounded, " +
			"restartable copy jobs, optionally reading from a VSS snapshot so " +
			"open files do not block the run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "sharesync.yaml",
		"path to the profile configuration file")

	root.AddCommand(
		runCommand(),
		resumeCommand(),
		reconcileCommand(),
		serviceCommand(),
		credentialCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		syslog.L.Error(err).WithMessage("command failed").Write()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sharesync version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sharesync", Version)
		},
	}
}
