package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/causewatch/causewatch/internal/store/model"
)

// CatalogProjectID is the placeholder project id carried by catalog sync
// jobs, which concern the whole catalog rather than one project.
const CatalogProjectID = "catalog"

type SyncOptions struct {
	GlobalOptions
}

func DefaultSyncOptions() *SyncOptions {
	return &SyncOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdSync() *cobra.Command {
	o := DefaultSyncOptions()
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Queue a catalog synchronization job.",
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

func (o *SyncOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *SyncOptions) Run(ctx context.Context, args []string) error {
	s, err := o.Store()
	if err != nil {
		return err
	}
	defer s.Close()

	exists, err := s.Job().PendingExists(ctx, CatalogProjectID, model.KindCauseSync)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("a catalog sync job is already pending")
	}

	job, err := s.Job().Create(ctx, model.Job{
		ProjectID: CatalogProjectID,
		Kind:      model.KindCauseSync,
	})
	if err != nil {
		return err
	}
	return printResponse(job, o.Output)
}
