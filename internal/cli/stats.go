package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StatsOptions struct {
	GlobalOptions
}

func DefaultStatsOptions() *StatsOptions {
	return &StatsOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStats() *cobra.Command {
	o := DefaultStatsOptions()
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Display aggregate ingestion statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *StatsOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *StatsOptions) Run(ctx context.Context, args []string) error {
	s, err := o.Store()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Statistics(ctx)
	if err != nil {
		return err
	}
	return printResponse(stats, o.Output)
}
