package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/filecache/filecache"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over HTTP and run submitted trials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := filecache.NewDaemon(a.fc, a.bus, filecache.DaemonConfig{
				Listen:    a.v.GetString("listen"),
				Secret:    a.v.GetString("secret"),
				Workers:   a.v.GetInt("workers"),
				ResultTTL: a.v.GetDuration("trial-ttl"),
				StatsRoot: statsRoot(a.v.GetString("state")),
				Watch:     a.v.GetBool("watch"),
				Insecure:  a.v.GetBool("insecure"),
			})
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("listen", "127.0.0.1:8090", "HTTP listen address")
	f.String("secret", "", "HS256 secret for bearer tokens")
	f.Bool("insecure", false, "serve without --secret, leaving the API unauthenticated")
	f.Int("workers", 2, "trials run concurrently")
	f.Duration("trial-ttl", filecache.DefaultResultTTL, "how long finished trial results are kept")
	f.Bool("watch", true, "publish change events for cached files")
	return cmd
}

// statsRoot picks the directory whose disk usage the stats endpoint reports.
func statsRoot(state string) string {
	if state != "" {
		if p, err := homedir.Expand(state); err == nil {
			return filepath.Dir(p)
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return string(filepath.Separator)
}
