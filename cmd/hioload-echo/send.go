// File: cmd/hioload-echo/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-pipeline/adapters"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/bootstrap"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/spf13/cobra"
)

var errNoReply = errors.New("connection closed before a reply arrived")

type sendFlags struct {
	host    string
	port    int
	timeout time.Duration
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one line to an echo server and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, f, strings.Join(args, " "))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", "127.0.0.1", "server host")
	fl.IntVarP(&f.port, "port", "p", 9119, "server port")
	fl.DurationVar(&f.timeout, "timeout", 5*time.Second, "overall deadline")
	return cmd
}

func runSend(cmd *cobra.Command, f sendFlags, message string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	metrics := control.Default()
	replies := make(chan string, 1)
	closed := make(chan struct{})
	client := bootstrap.NewClient().
		NumLoops(1).
		Metrics(metrics).
		ChannelFactory(channel.Factory(channel.Config{Metrics: metrics})).
		Initializer(lineInitializer(0, metrics, func() api.Handler {
			return &replyCollector{
				Handler: adapters.Func("reply", func(_ api.HandlerContext, msg any) {
					if line, ok := msg.(string); ok {
						select {
						case replies <- line:
						default:
						}
					}
				}),
				closed: closed,
			}
		}))
	defer func() { _ = client.Shutdown(context.Background()) }()

	connected := make(chan error, 1)
	var conn api.Channel
	client.Connect(channel.NewHostAddress(f.host, f.port), func(ch api.Channel, err error) {
		conn = ch
		connected <- err
	})
	select {
	case err := <-connected:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("connect: %w", ctx.Err())
	}

	written := make(chan error, 1)
	conn.Write([]byte(message+"\n"), func(_ api.Channel, err error) { written <- err })
	if err := <-written; err != nil {
		return err
	}

	select {
	case line := <-replies:
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	case <-closed:
		if strings.EqualFold(strings.TrimSpace(message), closeWord) {
			return nil
		}
		return errNoReply
	case <-ctx.Done():
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
}

// replyCollector hands inbound lines to the embedded func handler and
// signals when the connection goes inactive.
type replyCollector struct {
	api.Handler
	closed chan struct{}
}

func (r *replyCollector) OnInactive(ctx api.HandlerContext) {
	close(r.closed)
	ctx.FireInactive()
}
