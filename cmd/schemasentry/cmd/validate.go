package cmd

import (
	"fmt"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/schemasentry/internal/sqlcheck"
)

var validateCmd = &cobra.Command{
	Use:   "validate [sql]",
	Short: "Classify a SQL statement offline",
	Long: `Runs the cleanup and classification pipeline over a SQL string
without touching any database, and prints the verdict. Exits non-zero
when the statement would be rejected by the service.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	verdict := sqlcheck.Validate(args[0])

	out := cmd.OutOrStdout()
	if len(verdict.Statements) > 0 {
		fmt.Fprint(out, renderStatementTable(verdict.Statements))
	}

	if verdict.Valid {
		fmt.Fprintln(out, color.Green.Sprint("VALID"))
		fmt.Fprintf(out, "normalized: %s\n", verdict.Normalized)
		return nil
	}

	fmt.Fprintln(out, color.Red.Sprint("REJECTED"))
	fmt.Fprintf(out, "reason: %s\n", verdict.Reason)
	cmd.SilenceUsage = true
	return fmt.Errorf("query rejected: %s", verdict.Reason)
}

// truncateStatement keeps table rows readable for long statements.
func truncateStatement(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return strings.TrimSpace(text[:max-3]) + "..."
}
