package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/causewatch/causewatch/internal/store/model"
)

type ResetCursorOptions struct {
	GlobalOptions

	Platform string
	Purge    bool
}

func DefaultResetCursorOptions() *ResetCursorOptions {
	return &ResetCursorOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Platform:      string(model.PlatformTwitter),
	}
}

func NewCmdResetCursor() *cobra.Command {
	o := DefaultResetCursorOptions()
	cmd := &cobra.Command{
		Use:   "reset-cursor PROJECT_ID",
		Short: "Reset a project's platform cursor, optionally purging its stored posts first.",
		Args:  cobra.ExactArgs(1),
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

func (o *ResetCursorOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Platform, "platform", "p", o.Platform, "Platform cursor to reset. One of: (twitter, farcaster).")
	fs.BoolVar(&o.Purge, "purge", false, "Delete the project's stored posts before resetting the cursor.")
}

func (o *ResetCursorOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if _, err := kindForPlatform(o.Platform); err != nil {
		return err
	}
	return nil
}

func (o *ResetCursorOptions) Run(ctx context.Context, args []string) error {
	s, err := o.Store()
	if err != nil {
		return err
	}
	defer s.Close()

	projectID := args[0]
	if _, err := s.Account().Get(ctx, projectID); err != nil {
		return fmt.Errorf("loading account %s: %w", projectID, err)
	}

	purged := int64(0)
	if o.Purge {
		purged, err = s.Post().DeleteByProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("purging posts for %s: %w", projectID, err)
		}
	}

	if err := s.Account().ResetCursor(ctx, projectID, model.Platform(o.Platform)); err != nil {
		return fmt.Errorf("resetting cursor for %s: %w", projectID, err)
	}

	return printResponse(map[string]any{
		"project_id":   projectID,
		"platform":     o.Platform,
		"purged_posts": purged,
	}, o.Output)
}
