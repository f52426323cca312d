package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/activation"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()
	cmd := newClientCmd(v, &cobra.Command{
		Use:   "status",
		Short: "Show daemon state",
		Long: `Displays the running daemon's listener state, clipboard backend, database
location and entry count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := request(v, &message.Message{Type: message.TypeStatus})
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				enc, _ := json.MarshalIndent(resp.Status, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(enc))
				return nil
			}
			printStatus(cmd.OutOrStdout(), resp.Status, ipc.SocketPath(v.GetString("socket")))
			return nil
		},
	})
	cmd.Flags().Bool("json", false, "output raw JSON")
	return cmd
}

func printStatus(out io.Writer, st *message.Status, socket string) {
	if st == nil {
		fmt.Fprintln(out, "No status returned.")
		return
	}
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Endpoint:\t%s\n", socket)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started:\t%s (%s)\n", st.StartedAt.UTC().Format(time.RFC3339), fmtAge(st.StartedAt))
	}
	fmt.Fprintf(w, "Listener:\t%s\n", st.Listener)
	fmt.Fprintf(w, "Backend:\t%s\n", st.Backend)
	fmt.Fprintf(w, "Database:\t%s\n", st.Database)
	fmt.Fprintf(w, "Entries:\t%d\n", st.Entries)
	fmt.Fprintf(w, "Watchers:\t%d\n", st.Watchers)
	_ = w.Flush()
}

func newWatchCmd() *cobra.Command {
	v := viper.New()
	cmd := newClientCmd(v, &cobra.Command{
		Use:   "watch",
		Short: "Stream history events as JSON lines",
		Long: `Prints one JSON object per history event (added, changed, show) until
interrupted. UI layers can use this instead of polling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			enc := json.NewEncoder(cmd.OutOrStdout())
			return activation.Watch(ctx, dialer(v), func(msg *message.Message) {
				_ = enc.Encode(msg)
			})
		},
	})
	return cmd
}
