package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/fetcher"
	"github.com/causewatch/causewatch/internal/jobs"
	"github.com/causewatch/causewatch/internal/store/model"
)

type BackfillOptions struct {
	GlobalOptions

	Platform    string
	DelayMin    time.Duration
	DelayMax    time.Duration
	MaxAttempts int
}

func DefaultBackfillOptions() *BackfillOptions {
	return &BackfillOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Platform:      string(model.PlatformTwitter),
		DelayMin:      5 * time.Second,
		DelayMax:      15 * time.Second,
		MaxAttempts:   2,
	}
}

func NewCmdBackfill() *cobra.Command {
	o := DefaultBackfillOptions()
	cmd := &cobra.Command{
		Use:   "backfill [PROJECT_ID...]",
		Short: "Fetch a set of projects immediately, bypassing the job queue. All projects with a handle when none are given.",
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

func (o *BackfillOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Platform, "platform", "p", o.Platform, "Platform to fetch. One of: (twitter, farcaster).")
	fs.DurationVar(&o.DelayMin, "delay-min", o.DelayMin, "Minimum pause between handles.")
	fs.DurationVar(&o.DelayMax, "delay-max", o.DelayMax, "Maximum pause between handles.")
	fs.IntVar(&o.MaxAttempts, "max-attempts", o.MaxAttempts, "Per-handle attempts on transient failures.")
}

func (o *BackfillOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if _, err := kindForPlatform(o.Platform); err != nil {
		return err
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max-attempts must be at least 1")
	}
	if o.DelayMax < o.DelayMin {
		return fmt.Errorf("delay-max must not be below delay-min")
	}
	return nil
}

func (o *BackfillOptions) Run(ctx context.Context, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	f, err := newFetcher(cfg, model.Platform(o.Platform))
	if err != nil {
		return err
	}

	s, err := o.Store()
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := jobs.Backfill(ctx, s, f, args, jobs.BackfillConfig{
		Delay:       fetcher.DelayWindow{Min: o.DelayMin, Max: o.DelayMax},
		MaxAttempts: o.MaxAttempts,
	})
	if err != nil {
		return err
	}
	return printResponse(results, o.Output)
}

// newFetcher builds the platform fetcher from the environment configuration,
// the same way the daemon does.
func newFetcher(cfg *config.Config, platform model.Platform) (fetcher.Fetcher, error) {
	opts := fetcher.Options{
		Lookback:  cfg.Ingest.LookbackWindow,
		MaxItems:  cfg.Ingest.FetchPageSize,
		ScanLimit: cfg.Ingest.FetchScanLimit,
	}

	switch platform {
	case model.PlatformTwitter:
		if cfg.Ingest.ScraperBaseURL == "" {
			return nil, fmt.Errorf("CAUSEWATCH_SCRAPER_BASE_URL is not set")
		}
		sessions, err := fetcher.NewScraperSessionProvider(fetcher.ScraperOptions{
			BaseURL:  cfg.Ingest.ScraperBaseURL,
			Username: cfg.Ingest.ScraperUsername,
			Password: cfg.Ingest.ScraperPassword,
		})
		if err != nil {
			return nil, err
		}
		return fetcher.NewTwitterFetcher(sessions, opts), nil
	case model.PlatformFarcaster:
		if cfg.Ingest.FarcasterAPIURL == "" {
			return nil, fmt.Errorf("CAUSEWATCH_FARCASTER_API_URL is not set")
		}
		source, err := fetcher.NewFarcasterClient(fetcher.FarcasterOptions{
			BaseURL: cfg.Ingest.FarcasterAPIURL,
		})
		if err != nil {
			return nil, err
		}
		return fetcher.NewFarcasterFetcher(source, opts), nil
	default:
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}
}
