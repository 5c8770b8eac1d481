package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Execute runs the CLI against the environment-configured backend.
func Execute() int {
	root := NewRootCmd(OpenFromEnv)
	if err := root.Execute(); err != nil {
		if output, _ := root.PersistentFlags().GetString("output"); output == "json" {
			_ = printJSON(os.Stdout, map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// NewRootCmd builds the command tree. open is called lazily by commands that
// need the database or queue.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "iamctl",
		Short:         "Administer users, roles and auth jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("output", "o", "text", "Output format: text or json")

	app := &cliApp{open: open}
	root.AddCommand(
		newUserCmd(app),
		newRoleCmd(app),
		newPolicyCmd(app),
		newJobsCmd(app),
	)
	return root
}

type cliApp struct {
	open Opener
}

// withBackend opens the backend for the duration of fn.
func (a *cliApp) withBackend(ctx context.Context, fn func(*Backend) error) error {
	b, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = b.Close()
	}()
	return fn(b)
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

// render prints v as JSON or runs text when the output format is text.
func render(cmd *cobra.Command, v any, text func(io.Writer)) error {
	if outputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), v)
	}
	text(cmd.OutOrStdout())
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requiredFlags marks names as required on fs.
func requiredFlags(cmd *cobra.Command, fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if fs.Lookup(name) != nil {
			_ = cmd.MarkFlagRequired(name)
		}
	}
}
