package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/filecache/filecache"
)

// statusRow is the rendered form of a PathState.
type statusRow struct {
	Path     string `json:"path" yaml:"path"`
	Scenario string `json:"scenario" yaml:"scenario"`
	Exists   bool   `json:"exists" yaml:"exists"`
	Cached   bool   `json:"cached" yaml:"cached"`
	Locked   bool   `json:"locked" yaml:"locked"`
	Dirty    bool   `json:"dirty" yaml:"dirty"`
}

func toRow(st filecache.PathState, _ int) statusRow {
	return statusRow{
		Path:     st.Path,
		Scenario: string(st.Scenario()),
		Exists:   st.Exists,
		Cached:   st.Cached,
		Locked:   st.Locked,
		Dirty:    st.Dirty,
	}
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <abs-path>...",
		Short: "Show whether files are cached, locked or modified since their snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states := make([]filecache.PathState, 0, len(args))
			for _, p := range args {
				st, err := a.fc.Status(p)
				if err != nil {
					return err
				}
				states = append(states, st)
			}
			return writeRows(cmd.OutOrStdout(), a.v.GetString("output"), lo.Map(states, toRow))
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newEntriesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List cached files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			states, err := a.fc.StatusAll()
			if err != nil {
				return err
			}
			return writeRows(cmd.OutOrStdout(), a.v.GetString("output"), lo.Map(states, toRow))
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func writeRows(w io.Writer, format string, rows []statusRow) error {
	if format != "text" {
		return render(w, format, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSCENARIO\tLOCKED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", r.Path, r.Scenario, r.Locked)
	}
	return tw.Flush()
}
