package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/filecache/filecache"
)

func newSeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <abs-dir>",
		Short: "Snapshot every file under a directory",
		Long: `Snapshot every regular file under a directory. Hidden entries, lock
sentinels and names matching the ignore file (default <dir>/.cacheignore)
are skipped. Capacity still applies: older snapshots are evicted first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ignore *filecache.CacheIgnore
			if path := a.v.GetString("ignore-file"); path != "" {
				ignore = filecache.LoadCacheIgnore(a.fc.Fs(), path)
			}
			res, err := a.fc.Seed(args[0], ignore)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d, skipped %d, evicted %d in %s\n",
				res.Cached, res.Skipped, res.Evicted, res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().String("ignore-file", "", "ignore patterns file (default <dir>/.cacheignore)")
	return cmd
}
