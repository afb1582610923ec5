package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Proged2021/Time-card-app-V2/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// loadConfig is replaced in tests.
	loadConfig func() config.App
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for attendctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{loadConfig: config.Load}

	cmd := &cobra.Command{
		Use:   "attendctl",
		Short: "Operate the QR attendance service",
		Long:  "Apply migrations, seed rosters and issue or inspect identity tokens.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// config returns validated configuration.
func (o *RootOptions) config() (config.App, error) {
	load := o.loadConfig
	if load == nil {
		load = config.Load
	}
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return config.App{}, err
	}
	return cfg, nil
}

// print writes v as indented JSON or the text form.
func (o *RootOptions) print(w io.Writer, text string, v any) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
