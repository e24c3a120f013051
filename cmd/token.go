package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/filecache/filecache"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "token <subject>",
		Short:       "Issue a bearer token for a server started with --secret",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"cache": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.v.GetString("secret")
			if secret == "" {
				return errors.New("--secret (or FILECACHE_SECRET) is required")
			}
			tok, err := filecache.IssueToken(secret, args[0], a.v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "HS256 secret shared with the server")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
