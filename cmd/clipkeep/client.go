package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/activation"
	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/message"
)

const requestTimeout = 10 * time.Second

// dialer returns an activation.Dialer for the configured endpoint.
func dialer(v *viper.Viper) activation.Dialer {
	path := ipc.SocketPath(v.GetString("socket"))
	return func(ctx context.Context) (net.Conn, error) {
		conn, err := ipc.Dial(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("no clipkeep daemon on %s (start one with \"clipkeep daemon\"): %w", path, err)
		}
		return conn, nil
	}
}

// request sends one request to the daemon.
func request(v *viper.Viper, req *message.Message) (*message.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return activation.Request(ctx, dialer(v), req)
}

// newClientCmd builds a daemon client command with the shared flags.
func newClientCmd(v *viper.Viper, cmd *cobra.Command) *cobra.Command {
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) }
	addSocketFlag(cmd)
	addConfigFlag(cmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

// idCmd builds a command that sends typ with a single entry id argument.
func idCmd(use, short string, typ message.Type, done string) *cobra.Command {
	v := viper.New()
	return newClientCmd(v, &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := request(v, &message.Message{Type: typ, ID: id}); err != nil {
				return err
			}
			if done != "" {
				fmt.Fprintf(cmd.OutOrStdout(), done+"\n", id)
			}
			return nil
		},
	})
}

func newPasteCmd() *cobra.Command {
	cmd := idCmd("paste", "Paste an entry into the window captured by the last show", message.TypePaste, "")
	cmd.Long = `Puts the entry back on the clipboard and, on Windows, restores focus to the
window that was active when "clipkeep show" ran and sends Ctrl+V to it.

On other platforms the entry is only placed on the clipboard.`
	return cmd
}

func newPinCmd() *cobra.Command {
	return idCmd("pin", "Toggle the pinned flag of an entry", message.TypePin, "toggled pin on %d")
}

func newDeleteCmd() *cobra.Command {
	return idCmd("delete", "Delete an entry", message.TypeDelete, "deleted %d")
}

func newClearCmd() *cobra.Command {
	v := viper.New()
	return newClientCmd(v, &cobra.Command{
		Use:   "clear",
		Short: "Delete every unpinned entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := request(v, &message.Message{Type: message.TypeClear}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared unpinned history")
			return nil
		},
	})
}
