package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"

	"github.com/causewatch/causewatch/internal/config"
	"github.com/causewatch/causewatch/internal/store"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GlobalOptions struct {
	Output string
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		Output: jsonFormat,
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

// Store opens the data store described by the environment configuration.
// The caller owns Close.
func (o *GlobalOptions) Store() (store.Store, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	return store.NewStore(db), nil
}
