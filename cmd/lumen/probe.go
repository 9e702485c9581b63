package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/lumenstream/internal/errors"
	"github.com/vango-dev/lumenstream/pkg/client"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

type probeOptions struct {
	server   string
	name     string
	duration time.Duration
	timeout  time.Duration
	effect   int
	mode     string
	params   []string
	jsonOut  bool
}

func probeCmd() *cobra.Command {
	var opts probeOptions

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a server and report what arrives",
		Long: `Connect to a running server as a client, optionally send commands,
receive for a while and print reception statistics.

Examples:
  lumen probe
  lumen probe --server 10.0.0.2:8081 --duration 30s
  lumen probe --effect 3 --param speed=2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmds, err := opts.commands()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runProbe(ctx, cmd.OutOrStdout(), opts, cmds)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.server, "server", "s", "127.0.0.1:8081", "Server address")
	f.StringVarP(&opts.name, "name", "n", "probe", "Client name sent with Connect")
	f.DurationVarP(&opts.duration, "duration", "d", 5*time.Second, "How long to receive")
	f.DurationVar(&opts.timeout, "timeout", 3*time.Second, "How long to wait for the server to answer")
	f.IntVar(&opts.effect, "effect", -1, "Send SetEffect with this id")
	f.StringVar(&opts.mode, "mode", "", "Send SetColorMode with this mode")
	f.StringArrayVar(&opts.params, "param", nil, "Send SetParameter name=value (repeatable)")
	f.BoolVar(&opts.jsonOut, "json", false, "Print statistics as JSON")

	return cmd
}

// commands builds the commands requested by flags.
func (o *probeOptions) commands() ([]protocol.Command, error) {
	var cmds []protocol.Command
	if o.effect >= 0 {
		cmds = append(cmds, protocol.SetEffect{EffectID: uint32(o.effect)})
	}
	if o.mode != "" {
		cmds = append(cmds, protocol.SetColorMode{Mode: o.mode})
	}
	for _, p := range o.params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, errors.New("E303").
				WithDetail(fmt.Sprintf("--param %q", p)).
				WithExample("lumen probe --param speed=2")
		}
		cmds = append(cmds, protocol.SetParameter{Name: name, Value: value})
	}
	return cmds, nil
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions, cmds []protocol.Command) error {
	c, err := client.Dial(client.Config{Server: opts.server, Name: opts.name})
	if err != nil {
		return errors.New("E303").WithDetail("--server " + opts.server).Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	connectCtx, connectCancel := context.WithTimeout(ctx, opts.timeout)
	err = c.Connect(connectCtx)
	connectCancel()
	if err != nil {
		cancel()
		<-done
		return errors.New("E301").WithDetail(fmt.Sprintf("%s after %s", opts.server, opts.timeout)).Wrap(err)
	}
	if !opts.jsonOut {
		success("Connected to %s from %s", opts.server, c.LocalAddr())
	}

	for _, cmd := range cmds {
		seq, err := c.SendCommand(cmd, true)
		if err != nil {
			cancel()
			<-done
			return err
		}
		if !opts.jsonOut {
			info("sent %s (seq %d)", cmd.ID(), seq)
		}
	}

	select {
	case <-time.After(opts.duration):
	case <-ctx.Done():
	}
	cancel()
	if err := <-done; err != nil {
		return err
	}

	stats := c.Stats()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	g, _, ok := c.Frame()
	fmt.Fprintln(out)
	if ok {
		fmt.Fprintf(out, "  Matrix:     %dx%d %s\n", g.Width, g.Height, g.Format)
	}
	fmt.Fprintf(out, "  Packets:    %d (%d bytes)\n", stats.Packets, stats.Bytes)
	fmt.Fprintf(out, "  Updates:    %d full, %d diff\n", stats.Full, stats.Diff)
	fmt.Fprintf(out, "  Spectrum:   %d\n", stats.Spectrum)
	fmt.Fprintf(out, "  Dropped:    %d discarded, %d stale, %d malformed\n", stats.Discarded, stats.Stale, stats.Malformed)
	fmt.Fprintf(out, "  RTT:        %s\n", stats.RTT)
	if stats.Full == 0 {
		warn("no full frame received")
	}
	return nil
}
