package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/filecache/filecache"
)

func newTryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "try <abs-path> --check <command>",
		Short: "Place candidate content into a file, run a check, revert on failure",
		Long: `Place candidate content into a file through update, run the check command
and revert the file when the check fails. Without --keep the file is
reverted after a passing check too.

The revert restores the file's snapshot, which is the content from before the
first update since the file was last cached or reverted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := updateContent(cmd)
			if err != nil {
				return err
			}
			req := filecache.TrialRequest{
				Path:    args[0],
				Content: content,
				Command: a.v.GetString("check"),
				Dir:     a.v.GetString("dir"),
				Keep:    a.v.GetBool("keep"),
				Timeout: a.v.GetDuration("check-timeout"),
			}
			res := filecache.RunTrial(cmd.Context(), a.fc, uuid.NewString(), req)

			if format := a.v.GetString("output"); format != "text" {
				if err := render(cmd.OutOrStdout(), format, res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: exit %d, %d error(s), reverted=%t\n", res.Status, res.ExitCode, res.ErrorCount, res.Reverted)
				if res.Output != "" {
					fmt.Fprintln(out, res.Output)
				}
			}

			switch res.Status {
			case filecache.TrialPassed:
				return nil
			case filecache.TrialError:
				return fmt.Errorf("trial error: %s", res.Error)
			default:
				return fmt.Errorf("check failed with exit code %d", res.ExitCode)
			}
		},
	}
	f := cmd.Flags()
	f.String("check", "", "check command, shell-quoted (required)")
	f.String("dir", "", "working directory for the check (default: the file's directory)")
	f.Bool("keep", false, "keep the candidate when the check passes")
	f.Duration("check-timeout", filecache.DefaultTrialTimeout, "kill the check after this long")
	f.String("content", "", "candidate content")
	f.String("from", "", "read candidate content from this file")
	f.StringP("output", "o", "text", "output format: text, json or yaml")
	cmd.MarkFlagRequired("check") //nolint:errcheck
	return cmd
}
