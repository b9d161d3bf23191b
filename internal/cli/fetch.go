package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/causewatch/causewatch/internal/store/model"
)

type FetchOptions struct {
	GlobalOptions

	Platform string
}

func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Platform:      string(model.PlatformTwitter),
	}
}

func NewCmdFetch() *cobra.Command {
	o := DefaultFetchOptions()
	cmd := &cobra.Command{
		Use:   "fetch PROJECT_ID",
		Short: "Queue a fetch job for one project, due immediately.",
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

func (o *FetchOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Platform, "platform", "p", o.Platform, "Platform to fetch. One of: (twitter, farcaster).")
}

func (o *FetchOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if _, err := kindForPlatform(o.Platform); err != nil {
		return err
	}
	return nil
}

func (o *FetchOptions) Run(ctx context.Context, args []string) error {
	kind, err := kindForPlatform(o.Platform)
	if err != nil {
		return err
	}

	s, err := o.Store()
	if err != nil {
		return err
	}
	defer s.Close()

	projectID := args[0]
	if _, err := s.Account().Get(ctx, projectID); err != nil {
		return fmt.Errorf("loading account %s: %w", projectID, err)
	}

	exists, err := s.Job().PendingExists(ctx, projectID, kind)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("a pending %s job already exists for %s", kind, projectID)
	}

	job, err := s.Job().Create(ctx, model.Job{
		ProjectID: projectID,
		Kind:      kind,
	})
	if err != nil {
		return err
	}
	return printResponse(job, o.Output)
}

func kindForPlatform(platform string) (model.JobKind, error) {
	switch model.Platform(platform) {
	case model.PlatformTwitter:
		return model.KindTwitterFetch, nil
	case model.PlatformFarcaster:
		return model.KindFarcasterFetch, nil
	default:
		return "", fmt.Errorf("unknown platform: %s", platform)
	}
}
