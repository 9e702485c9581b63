package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/lumenstream/internal/capture"
	"github.com/vango-dev/lumenstream/internal/errors"
)

type inspectOptions struct {
	port    uint16
	limit   int
	quiet   bool
	jsonOut bool
}

func inspectCmd() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect <capture.pcap>",
		Short: "Decode stream traffic from a pcap capture",
		Long: `Decode every stream datagram in a pcap capture, print one line per
datagram and a summary.

Capture with e.g. 'tcpdump -w session.pcap udp port 8081'.

Examples:
  lumen inspect session.pcap
  lumen inspect session.pcap --port 9000 --quiet
  lumen inspect session.pcap --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.Uint16VarP(&opts.port, "port", "p", 8081, "Stream UDP port (0 for any)")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Stop after this many datagrams (0 for all)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Print only the summary")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON")

	return cmd
}

func runInspect(out io.Writer, path string, opts inspectOptions) error {
	sc, err := capture.Open(path, capture.Options{Port: opts.port})
	if err != nil {
		return errors.New("E302").WithDetail(path).Wrap(err)
	}
	defer sc.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	lines := !opts.quiet && !opts.jsonOut
	if lines {
		fmt.Fprintln(tw, "TIME\tFROM\tTO\tTYPE\tSEQ\tFRAG\tFLAGS\tBYTES")
	}

	var start time.Time
	for n := 0; sc.Next(); n++ {
		if opts.limit > 0 && n >= opts.limit {
			break
		}
		rec := sc.Record()
		if n == 0 {
			start = rec.Time
		}
		if !lines {
			continue
		}
		offset := rec.Time.Sub(start).Round(time.Microsecond)
		if rec.Packet == nil {
			fmt.Fprintf(tw, "+%s\t%s\t%s\tmalformed\t-\t-\t-\t%d\t%v\n", offset, rec.Src, rec.Dst, rec.Size, rec.Err)
			continue
		}
		p := rec.Packet
		fmt.Fprintf(tw, "+%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\t%d\n",
			offset, rec.Src, rec.Dst, p.Type, p.Sequence, p.FragmentID+1, p.FragmentCount, p.Flags, rec.Size)
	}
	if err := sc.Err(); err != nil {
		return errors.New("E302").WithDetail(path).Wrap(err)
	}
	tw.Flush()

	sum := sc.Summary()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Datagrams:  %d (%d bytes) over %s\n", sum.Datagrams, sum.Bytes, sum.Duration())
	fmt.Fprintf(out, "  Messages:   %d complete, %d malformed datagrams\n", sum.Messages, sum.Malformed)
	fmt.Fprintf(out, "  Reassembly: %d pending, %d expired, %d inconsistent, %d oversize\n",
		sum.Reassembly.Pending, sum.Reassembly.Expired, sum.Reassembly.Inconsistent, sum.Reassembly.Oversize)
	for _, name := range sum.Types() {
		fmt.Fprintf(out, "  %-20s %d\n", name, sum.ByType[name])
	}
	peers := make([]string, 0, len(sum.Peers))
	for addr := range sum.Peers {
		peers = append(peers, addr)
	}
	sort.Strings(peers)
	for _, addr := range peers {
		pc := sum.Peers[addr]
		fmt.Fprintf(out, "  peer %-21s sent %d, received %d\n", addr, pc.Sent, pc.Received)
	}
	return nil
}
