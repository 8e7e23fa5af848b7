// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package cmd

import (
	"os"

	"github.com/crosslane/relayer/cmd/run"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "crosslane-relay",
	Short:        "Crosslane Relay syncs finality, parachain heads and messages between bridged chains",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(run.Command())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
