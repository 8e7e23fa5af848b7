package run

import (
	"github.com/spf13/cobra"

	"github.com/crosslane/relayer/cmd/run/finality"
	"github.com/crosslane/relayer/cmd/run/messages"
	"github.com/crosslane/relayer/cmd/run/parachains"
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a relay service",
		Args:  cobra.MinimumNArgs(1),
	}

	cmd.AddCommand(finality.Command())
	cmd.AddCommand(parachains.Command())
	cmd.AddCommand(messages.Command())

	return cmd
}
