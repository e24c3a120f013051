package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newCacheCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cache <abs-path>...",
		Short: "Snapshot the current content of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				if err := a.fc.Cache(p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cached %s\n", p)
			}
			return nil
		},
	}
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <abs-path>",
		Short: "Print the live content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := a.fc.Read(args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <abs-path>",
		Short: "Replace a file's content, keeping its prior content for revert",
		Long: `Replace a file's content. The new content comes from --content, --from
or stdin. If the file has no snapshot yet its current content is snapshotted
first; an existing snapshot is kept, so revert restores the content from
before the first update.

update waits while another writer holds <file>.lock. --timeout bounds the wait.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := updateContent(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := waitContext(cmd, a.v.GetDuration("timeout"))
			defer cancel()
			if err := a.fc.Update(ctx, args[0], content); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s (%d bytes)\n", args[0], len(content))
			return nil
		},
	}
	cmd.Flags().String("content", "", "new content")
	cmd.Flags().String("from", "", "read new content from this file")
	cmd.Flags().Duration("timeout", 0, "give up waiting for the lock after this long (0 waits forever)")
	return cmd
}

func newRevertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <abs-path>",
		Short: "Restore a file to its snapshot and discard the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := waitContext(cmd, a.v.GetDuration("timeout"))
			defer cancel()
			if err := a.fc.Revert(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 0, "give up waiting for the lock after this long (0 waits forever)")
	return cmd
}

func updateContent(cmd *cobra.Command) (string, error) {
	flags := cmd.Flags()
	if flags.Changed("content") && flags.Changed("from") {
		return "", errors.New("--content and --from are mutually exclusive")
	}
	if flags.Changed("content") {
		return flags.GetString("content")
	}
	if from, _ := flags.GetString("from"); from != "" {
		data, err := os.ReadFile(from)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
