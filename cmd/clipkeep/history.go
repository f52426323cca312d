package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/message"
)

func addListFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("limit", 50, "maximum entries to show")
	f.Int("offset", 0, "entries to skip")
	f.Bool("json", false, "output raw JSON")
}

func newHistoryCmd() *cobra.Command {
	v := viper.New()
	cmd := newClientCmd(v, &cobra.Command{
		Use:     "history",
		Aliases: []string{"ls"},
		Short:   "List recent entries, pinned first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.OutOrStdout(), v, &message.Message{Type: message.TypeList})
		},
	})
	addListFlags(cmd)
	return cmd
}

func newSearchCmd() *cobra.Command {
	v := viper.New()
	cmd := newClientCmd(v, &cobra.Command{
		Use:   "search <text>",
		Short: "List entries containing text (case-insensitive)",
		Long: `Matches text entries by content and image entries by their preview.
The query is matched literally: % and _ have no special meaning.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.OutOrStdout(), v, &message.Message{
				Type:  message.TypeSearch,
				Query: strings.Join(args, " "),
			})
		},
	})
	addListFlags(cmd)
	return cmd
}

func newShowCmd() *cobra.Command {
	v := viper.New()
	cmd := newClientCmd(v, &cobra.Command{
		Use:   "show",
		Short: "Remember the focused window as the paste target and list history",
		Long: `Records the currently focused window as the target of the next paste,
notifies watchers with a show event, and prints the first page of history.

Bind this to a hotkey to drive an external picker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.OutOrStdout(), v, &message.Message{Type: message.TypeShow})
		},
	})
	cmd.Flags().Bool("json", false, "output raw JSON")
	return cmd
}

func runList(w io.Writer, v *viper.Viper, req *message.Message) error {
	req.Limit = v.GetInt("limit")
	req.Offset = v.GetInt("offset")
	resp, err := request(v, req)
	if err != nil {
		return err
	}
	if v.GetBool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Entries)
	}
	printEntries(w, resp.Entries)
	return nil
}

func printEntries(w io.Writer, entries []message.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tPIN\tKIND\tAGE\tPREVIEW\n")
	_, _ = fmt.Fprintf(tw, "--\t---\t----\t---\t-------\n")
	for _, e := range entries {
		pin := ""
		if e.Pinned {
			pin = "*"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, pin, e.Kind, fmtAge(e.Timestamp), oneLine(e.Preview, 60))
	}
	_ = tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return t.Format("15:04:05")
	}
	return t.Format("2006-01-02")
}
