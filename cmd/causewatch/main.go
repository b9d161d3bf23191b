package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/causewatch/causewatch/internal/cli"
)

func main() {
	command := NewCauseWatchCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCauseWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causewatch [flags] [options]",
		Short: "causewatch administers the ingestion pipeline.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdStats())
	cmd.AddCommand(cli.NewCmdSync())
	cmd.AddCommand(cli.NewCmdFetch())
	cmd.AddCommand(cli.NewCmdBackfill())
	cmd.AddCommand(cli.NewCmdResetCursor())

	return cmd
}
