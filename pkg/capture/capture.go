// Package capture provides the libpcap-backed frame source.
package capture

import (
	"fmt"
	"time"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"pmtud/pkg/core"
	"pmtud/pkg/logging"
)

// Filter narrows capture to ICMP Fragmentation-Needed and ICMPv6
// Packet-Too-Big messages that are not already broadcast. It is attached
// before the first read so the parser never sees unrelated traffic.
const Filter = "((icmp and icmp[0] == 3 and icmp[1] == 4) or " +
	" (icmp6 and ip6[40+0] == 2 and ip6[40+1] == 0)) and " +
	"(ether dst not ff:ff:ff:ff:ff:ff)"

// SnapLen is the capture snapshot length in bytes.
const SnapLen = 2048

// defaultTimeout bounds one blocking read; it is the event loop's drain
// boundary, so shutdown is seen once the capture has been idle this long.
const defaultTimeout = 250 * time.Millisecond

// Options controls how the capture handle is opened.
type Options struct {
	// Promiscuous enables promiscuous mode on the interface.
	Promiscuous bool

	// Timeout overrides the read timeout. Zero means the default.
	Timeout time.Duration
}

// Source is a live capture handle on one interface.
type Source struct {
	handle *pcap.Handle
	iface  string
}

var _ core.CaptureSource = (*Source)(nil)

// Open opens a live capture on iface with the PMTUD filter attached.
func Open(iface string, opts Options) (*Source, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	handle, err := pcap.OpenLive(iface, SnapLen, opts.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture on %s: %w", iface, err)
	}

	if handle.LinkType() != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("interface %s is not Ethernet (link type %v)", iface, handle.LinkType())
	}

	if err := handle.SetBPFFilter(Filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to attach BPF filter: %w", err)
	}

	logging.Debugf("capture open on %s snaplen=%d promisc=%v timeout=%v",
		iface, SnapLen, opts.Promiscuous, timeout)

	return &Source{handle: handle, iface: iface}, nil
}

// ReadFrame returns the next frame. The returned slice is reused on the
// next call. core.ErrTimeout marks the end of a drain cycle.
func (s *Source) ReadFrame() ([]byte, core.FrameInfo, error) {
	data, ci, err := s.handle.ZeroCopyReadPacketData()
	if err != nil {
		if err == pcap.NextErrorTimeoutExpired {
			return nil, core.FrameInfo{}, core.ErrTimeout
		}
		return nil, core.FrameInfo{}, err
	}
	return data, core.FrameInfo{CaptureLength: ci.CaptureLength, Length: ci.Length}, nil
}

// Stats returns the handle's receive and drop counters.
func (s *Source) Stats() (core.CaptureStats, error) {
	st, err := s.handle.Stats()
	if err != nil {
		return core.CaptureStats{}, fmt.Errorf("capture stats: %w", err)
	}
	return core.CaptureStats{
		Received:  uint32(st.PacketsReceived),
		Dropped:   uint32(st.PacketsDropped),
		IfDropped: uint32(st.PacketsIfDropped),
	}, nil
}

// Close releases the capture handle.
func (s *Source) Close() {
	s.handle.Close()
}
