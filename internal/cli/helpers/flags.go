package helpers

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-trace/internal/constants"
)

// AddFormatFlag registers --format/-o limited to formats, with completion.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, formats []OutputFormat) {
	names := formatNames(formats)
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(names, cobra.ShellCompDirectiveNoFileComp))
}

// AddDatabaseFlag adds the --db flag pointing at an operation store.
func AddDatabaseFlag(cmd *cobra.Command, dbVar *string) {
	cmd.Flags().StringVar(dbVar, "db", constants.DefaultDatabaseFile, "Path to the DuckDB operation store")
	_ = cmd.MarkFlagFilename("db", "duckdb", "db")
}

// ValidateFormat reports an error naming the accepted formats when format
// is not one of them.
func ValidateFormat(format string, formats []OutputFormat) error {
	if slices.Contains(formats, OutputFormat(format)) {
		return nil
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(formatNames(formats), ", "))
}

func formatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}
