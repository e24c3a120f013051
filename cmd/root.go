package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ghyeongl/filecache/filecache"
)

const defaultStatePath = "~/.filecache/state.db"

// app carries the configuration and the cache shared by every subcommand.
type app struct {
	v     *viper.Viper
	fc    *filecache.FileCache
	bus   *filecache.EventBus
	store *filecache.Store
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree with a fresh configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "filecache",
		Short: "Snapshot, update and revert files under a cross-process lock",
		Long: `filecache keeps one snapshot of a file's prior content so a write can be
undone once. Writers of the same file serialize through a <file>.lock
sentinel shared by every process using the same convention.

Configuration comes from flags, FILECACHE_* environment variables and an
optional --config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	// --poll_interval and --poll-interval are the same flag.
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, toml or json)")
	pf.Int("capacity", filecache.DefaultCapacity, "maximum number of snapshots kept")
	pf.Duration("poll-interval", filecache.DefaultPollInterval, "wait between lock sentinel checks")
	pf.String("state", defaultStatePath, "snapshot journal (sqlite); empty keeps snapshots in memory only")
	pf.String("log-dir", "", "directory for rotating log files")
	pf.BoolP("verbose", "v", false, "debug logging on the console")

	root.AddCommand(
		newCacheCmd(a),
		newReadCmd(a),
		newUpdateCmd(a),
		newRevertCmd(a),
		newStatusCmd(a),
		newEntriesCmd(a),
		newSeedCmd(a),
		newTryCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
	)
	for _, c := range root.Commands() {
		a.closeAfter(c)
	}
	return root
}

// closeAfter releases the journal when c finishes, whether or not it failed.
// Post-run hooks are skipped on error, so the release wraps RunE instead.
func (a *app) closeAfter(c *cobra.Command) {
	run := c.RunE
	if run == nil {
		return
	}
	c.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	v := a.v
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("FILECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := slog.LevelWarn
	if cmd.Name() == "serve" {
		level = slog.LevelInfo
	}
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	filecache.InitLogger(v.GetString("log-dir"), level)

	if cmd.Annotations["cache"] == "none" {
		return nil
	}

	if state := v.GetString("state"); state != "" {
		path, err := homedir.Expand(state)
		if err != nil {
			return fmt.Errorf("expand state path: %w", err)
		}
		store, err := filecache.OpenStore(path)
		if err != nil {
			return err
		}
		a.store = store
	}

	a.bus = filecache.NewEventBus()
	fc, err := filecache.New(filecache.Options{
		Capacity:     v.GetInt("capacity"),
		PollInterval: v.GetDuration("poll-interval"),
		Store:        a.store,
		Events:       a.bus,
	})
	if err != nil {
		a.close() //nolint:errcheck
		return err
	}
	a.fc = fc
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
