// Package config implements the 'coral-trace config' command family.
package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-trace/internal/cli/helpers"
	"github.com/coral-mesh/coral-trace/internal/config"
	"github.com/coral-mesh/coral-trace/internal/safe"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect tracer configuration",
		Long: `Inspect tracer configuration.

Configuration is layered: built-in defaults, then the YAML file, then
CORAL_TRACE_* environment variables. Millisecond options accept -1 to
disable the corresponding feature.`,
	}

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

func newShowCmd() *cobra.Command {
	var (
		path     string
		defaults bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the configuration the tracer would run with, after merging
the file given by --config and the environment.

Use --defaults to print the built-in defaults only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.OutOrStdout(), path, defaults)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to a tracer YAML config")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show built-in defaults, ignoring file and environment")

	return cmd
}

func runShow(out io.Writer, path string, defaults bool) error {
	cfg := config.DefaultConfig()
	if !defaults {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

type validationResult struct {
	Path  string `json:"path" header:"PATH"`
	Valid bool   `json:"valid" header:"VALID"`
	Error string `json:"error,omitempty" header:"ERROR"`
}

func newValidateCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate tracer config files",
		Long: `Validate one or more tracer config files and report any errors.

Checks each file for:
- YAML syntax and unknown keys
- Millisecond options that are neither positive nor -1
- A positive poll interval and stack sampling period
- Non-negative flush retention counts`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON}); err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), args, helpers.OutputFormat(format))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, []helpers.OutputFormat{
		helpers.FormatTable,
		helpers.FormatJSON,
	})

	return cmd
}

func runValidate(out io.Writer, paths []string, format helpers.OutputFormat) error {
	results := make([]validationResult, 0, len(paths))
	invalid := 0
	for _, p := range paths {
		r := validationResult{Path: p, Valid: true}
		if err := validateFile(p); err != nil {
			r.Valid = false
			r.Error = err.Error()
			invalid++
		}
		results = append(results, r)
	}

	switch format {
	case helpers.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Results      []validationResult `json:"results"`
			ValidCount   int                `json:"valid_count"`
			InvalidCount int                `json:"invalid_count"`
		}{results, len(results) - invalid, invalid}); err != nil {
			return err
		}
	default:
		f := &helpers.TableFormatter{HeaderStyle: helpers.Render(helpers.HeaderStyle)}
		if err := f.Format(results, out); err != nil {
			return err
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d config files invalid", invalid, len(results))
	}
	return nil
}

func validateFile(path string) error {
	data, err := safe.ReadFile(path, &safe.FileOptions{AllowSymlinks: true})
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	_, err = config.Parse(data)
	return err
}
