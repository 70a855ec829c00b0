package relay

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	testSrcMAC = net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	testDstMAC = net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
)

// innerIPv4TCP builds the quoted inner IPv4+TCP header bytes that ride in
// an ICMP Fragmentation-Needed payload.
func innerIPv4TCP(t *testing.T, srcPort uint16) []byte {
	t.Helper()

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{198, 51, 100, 7},
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: 80,
		Seq:     1,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcp))
	return buf.Bytes()
}

// innerIPv6TCP builds the quoted inner IPv6+TCP header bytes for an ICMPv6
// Packet-Too-Big payload.
func innerIPv6TCP(t *testing.T, srcPort uint16) []byte {
	t.Helper()

	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::99"),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: 443,
		Seq:     1,
		Window:  65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcp))
	return buf.Bytes()
}

// fragNeededFrame builds an Ethernet / IPv4 / ICMP Fragmentation-Needed
// frame quoting an inner IPv4+TCP header with the given source port.
func fragNeededFrame(t *testing.T, srcIP net.IP, innerSrcPort uint16) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       testSrcMAC,
		DstMAC:       testDstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    net.IP{192, 0, 2, 5},
	}
	icmpLayer := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(
			layers.ICMPv4TypeDestinationUnreachable,
			layers.ICMPv4CodeFragmentationNeeded),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		eth, ip, icmpLayer, gopacket.Payload(innerIPv4TCP(t, innerSrcPort))))
	return buf.Bytes()
}

// fragNeededVLANFrame is fragNeededFrame with an 802.1Q tag inserted.
func fragNeededVLANFrame(t *testing.T, srcIP net.IP, innerSrcPort uint16) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       testSrcMAC,
		DstMAC:       testDstMAC,
		EthernetType: layers.EthernetTypeDot1Q,
	}
	dot1q := &layers.Dot1Q{
		VLANIdentifier: 100,
		Type:           layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    net.IP{192, 0, 2, 5},
	}
	icmpLayer := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(
			layers.ICMPv4TypeDestinationUnreachable,
			layers.ICMPv4CodeFragmentationNeeded),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		eth, dot1q, ip, icmpLayer, gopacket.Payload(innerIPv4TCP(t, innerSrcPort))))
	return buf.Bytes()
}

// packetTooBigFrame builds an Ethernet / IPv6 / ICMPv6 Packet-Too-Big frame
// quoting an inner IPv6+TCP header.
func packetTooBigFrame(t *testing.T, srcIP net.IP, innerSrcPort uint16) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       testSrcMAC,
		DstMAC:       testDstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolICMPv6,
		SrcIP:      srcIP,
		DstIP:      net.ParseIP("2001:db8::5"),
	}
	icmpLayer := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypePacketTooBig, 0),
	}
	require.NoError(t, icmpLayer.SetNetworkLayerForChecksum(ip))

	// Four MTU bytes follow the 4-byte ICMPv6 header, then the quoted
	// inner packet.
	payload := append([]byte{0x00, 0x00, 0x05, 0x00}, innerIPv6TCP(t, innerSrcPort)...)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		eth, ip, icmpLayer, gopacket.Payload(payload)))
	return buf.Bytes()
}

// TestFixtureFramesAreWellFormed decodes the fixtures with an independent
// ICMP parser so the other tests aren't exercising malformed input.
func TestFixtureFramesAreWellFormed(t *testing.T) {
	frame := fragNeededFrame(t, net.IP{10, 0, 0, 1}, 1234)
	msg, err := icmp.ParseMessage(1, frame[34:])
	require.NoError(t, err)
	assert.Equal(t, ipv4.ICMPTypeDestinationUnreachable, msg.Type)
	assert.Equal(t, 4, msg.Code)
	body, ok := msg.Body.(*icmp.DstUnreach)
	require.True(t, ok)
	assert.Equal(t, byte(4), body.Data[0]>>4)

	frame = packetTooBigFrame(t, net.ParseIP("2001:db8::1"), 1234)
	msg, err = icmp.ParseMessage(58, frame[54:])
	require.NoError(t, err)
	assert.Equal(t, ipv6.ICMPTypePacketTooBig, msg.Type)
	assert.Equal(t, 0, msg.Code)
	ptb, ok := msg.Body.(*icmp.PacketTooBig)
	require.True(t, ok)
	assert.Equal(t, 1280, ptb.MTU)
	assert.Equal(t, byte(6), ptb.Data[0]>>4)
}
