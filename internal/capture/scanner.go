package capture

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/protocol"
)

// Direction of a datagram relative to the stream port.
type Direction uint8

const (
	DirUnknown Direction = iota
	DirToServer
	DirToClient
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirToServer:
		return "to-server"
	case DirToClient:
		return "to-client"
	default:
		return "unknown"
	}
}

// Options configures a Scanner.
type Options struct {
	// Port selects datagrams whose source or destination is this UDP port.
	// 0 accepts every UDP datagram.
	Port uint16

	// ReassemblyTTL bounds how long fragments of one message are kept.
	// Default: fragment.DefaultTTL.
	ReassemblyTTL time.Duration
}

// Record is one captured datagram.
type Record struct {
	Time      time.Time
	Src       string
	Dst       string
	Direction Direction
	Size      int

	// Packet is nil when Err is set.
	Packet *protocol.Packet
	Err    error

	// Message is set when this datagram completed a logical message.
	Message *fragment.Message
}

// Summary aggregates a scan.
type Summary struct {
	Datagrams  int                   `json:"datagrams"`
	Bytes      int                   `json:"bytes"`
	Malformed  int                   `json:"malformed"`
	Messages   int                   `json:"messages"`
	ByType     map[string]int        `json:"by_type"`
	Peers      map[string]PeerCounts `json:"peers"`
	First      time.Time             `json:"first"`
	Last       time.Time             `json:"last"`
	Reassembly fragment.Stats        `json:"reassembly"`
}

// PeerCounts counts traffic for one client address.
type PeerCounts struct {
	Sent     int `json:"sent"`
	Received int `json:"received"`
}

// Duration returns the time between the first and last datagram.
func (s Summary) Duration() time.Duration { return s.Last.Sub(s.First) }

// Types returns the packet type names seen, sorted.
func (s Summary) Types() []string {
	names := make([]string, 0, len(s.ByType))
	for name := range s.ByType {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scanner reads datagrams from a pcap stream.
type Scanner struct {
	closer    io.Closer
	source    *gopacket.PacketSource
	options   Options
	assembler *fragment.Assembler

	rec     Record
	err     error
	summary Summary
}

// Open opens a pcap file for scanning.
func Open(path string, opts Options) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sc, err := NewScanner(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: %s: %w", path, err)
	}
	sc.closer = f
	return sc, nil
}

// NewScanner reads a pcap stream from r.
func NewScanner(r io.Reader, opts Options) (*Scanner, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.Lazy = true
	src.NoCopy = true

	return &Scanner{
		source:    src,
		options:   opts,
		assembler: fragment.NewAssembler(fragment.Config{TTL: opts.ReassemblyTTL}),
		summary: Summary{
			ByType: make(map[string]int),
			Peers:  make(map[string]PeerCounts),
		},
	}, nil
}

// Next advances to the next datagram. It returns false at the end of the
// capture or on a read error, reported by Err.
func (s *Scanner) Next() bool {
	for {
		pkt, err := s.source.NextPacket()
		if err == io.EOF {
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		if s.decode(pkt) {
			return true
		}
	}
}

// Record returns the datagram read by the last call to Next.
func (s *Scanner) Record() Record { return s.rec }

// Err returns the first read error, if any.
func (s *Scanner) Err() error { return s.err }

// Summary returns the aggregate of every datagram read so far.
func (s *Scanner) Summary() Summary {
	out := s.summary
	out.Reassembly = s.assembler.Stats()
	return out
}

// Close closes the underlying file when the Scanner was created by Open.
func (s *Scanner) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// decode fills s.rec from pkt and reports whether pkt is a stream datagram.
func (s *Scanner) decode(pkt gopacket.Packet) bool {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return false
	}
	udp := udpLayer.(*layers.UDP)
	port := layers.UDPPort(s.options.Port)
	if s.options.Port != 0 && udp.SrcPort != port && udp.DstPort != port {
		return false
	}

	var srcIP, dstIP string
	if netLayer := pkt.NetworkLayer(); netLayer != nil {
		src, dst := netLayer.NetworkFlow().Endpoints()
		srcIP, dstIP = src.String(), dst.String()
	}

	ts := pkt.Metadata().Timestamp
	rec := Record{
		Time: ts,
		Src:  joinHostPort(srcIP, uint16(udp.SrcPort)),
		Dst:  joinHostPort(dstIP, uint16(udp.DstPort)),
		Size: len(udp.Payload),
	}
	switch {
	case s.options.Port == 0:
	case udp.DstPort == port:
		rec.Direction = DirToServer
	default:
		rec.Direction = DirToClient
	}

	var l Layer
	if err := l.DecodeFromBytes(udp.Payload, gopacket.NilDecodeFeedback); err != nil {
		rec.Err = err
	} else {
		rec.Packet = &l.Packet
		// Sequences restart per session, so buffers are kept per flow.
		rec.Message, rec.Err = s.assembler.Add(rec.Src+">"+rec.Dst, rec.Packet, ts)
		if rec.Message != nil {
			rec.Message.Sender = rec.Src
		}
	}
	s.assembler.Purge(ts)

	s.rec = rec
	s.count(rec)
	return true
}

func (s *Scanner) count(rec Record) {
	sum := &s.summary
	if sum.Datagrams == 0 {
		sum.First = rec.Time
	}
	sum.Last = rec.Time
	sum.Datagrams++
	sum.Bytes += rec.Size

	switch rec.Direction {
	case DirToServer:
		pc := sum.Peers[rec.Src]
		pc.Sent++
		sum.Peers[rec.Src] = pc
	case DirToClient:
		pc := sum.Peers[rec.Dst]
		pc.Received++
		sum.Peers[rec.Dst] = pc
	}

	if rec.Packet == nil {
		sum.Malformed++
		return
	}
	sum.ByType[rec.Packet.Type.String()]++
	if rec.Message != nil {
		sum.Messages++
	}
}

func joinHostPort(host string, port uint16) string {
	if host == "" {
		return ":" + strconv.Itoa(int(port))
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
