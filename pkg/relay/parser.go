// Package relay implements the PMTUD relay engine: frame classification,
// rate-limit admission, the broadcast MAC rewrite, and the event loop that
// drives them from a capture source.
package relay

import (
	"net"

	"pmtud/pkg/bitmap"
)

// Frame layout constants for DLT_EN10MB capture.
const (
	etherHeaderLen = 14
	etherTypeVLAN  = 0x8100
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86dd

	// minFrameLen is Ethernet + minimal outer IPv4 + ICMP header + enough
	// of the quoted inner header to identify it.
	minFrameLen = etherHeaderLen + 20 + 8 + 8
)

// Family identifies the outer L3 protocol of an accepted frame.
type Family int

// Outer L3 families.
const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Reason enumerates why a frame was refused. ReasonNone means accepted.
type Reason int

// Reject reasons. The string forms are part of the packet log format.
const (
	ReasonNone Reason = iota
	ReasonFrameTooShort
	ReasonAlreadyBroadcast
	ReasonUnsupportedL3
	ReasonIPv4BadHeaderLen
	ReasonIPv4NotICMP
	ReasonIPv6NotICMPv6
	ReasonPayloadTooShort
	ReasonBadInnerIPVersion
	ReasonInnerL4TooShort
	ReasonPortNotAllowed
	ReasonSourceRateLimit
	ReasonIfaceRateLimit
)

var reasonText = map[Reason]string{
	ReasonNone:              "transmitting",
	ReasonFrameTooShort:     "frame too short",
	ReasonAlreadyBroadcast:  "already broadcast",
	ReasonUnsupportedL3:     "unsupported L3",
	ReasonIPv4BadHeaderLen:  "IPv4 header invalid length",
	ReasonIPv4NotICMP:       "IPv4 protocol not ICMP",
	ReasonIPv6NotICMPv6:     "IPv6 next header not ICMPv6",
	ReasonPayloadTooShort:   "payload too short",
	ReasonBadInnerIPVersion: "invalid inner IP version",
	ReasonInnerL4TooShort:   "inner L4 too short",
	ReasonPortNotAllowed:    "L4 source port not on allow-list",
	ReasonSourceRateLimit:   "source rate limit",
	ReasonIfaceRateLimit:    "interface rate limit",
}

func (r Reason) String() string {
	return reasonText[r]
}

// Classification is the parser's verdict on a captured frame.
//
// SrcKey aliases the frame buffer (4 bytes for IPv4, 16 for IPv6) and is
// only valid until the next capture pull.
type Classification struct {
	SrcKey []byte
	Family Family
	Reject Reason
}

// Accepted reports whether the frame passed classification.
func (c Classification) Accepted() bool {
	return c.Reject == ReasonNone
}

// SourceIP renders the source key, or "?" when classification failed before
// one was extracted.
func (c Classification) SourceIP() string {
	switch len(c.SrcKey) {
	case net.IPv4len, net.IPv6len:
		return net.IP(c.SrcKey).String()
	}
	return "?"
}

func reject(reason Reason) Classification {
	return Classification{Reject: reason}
}

// Parse classifies a captured frame. It assumes the BPF filter has already
// narrowed traffic to ICMP Fragmentation-Needed / Packet-Too-Big and does
// not re-check ICMP type or code. ports may be nil, disabling the inner
// source-port check. Parse performs no allocation and never reads past
// len(frame).
func Parse(frame []byte, ports *bitmap.BitMap) Classification {
	if len(frame) < minFrameLen {
		return reject(ReasonFrameTooShort)
	}

	// A frame already addressed to the broadcast MAC is one of ours coming
	// back; forwarding it again would loop.
	if frame[0] == 0xff && frame[1] == 0xff && frame[2] == 0xff &&
		frame[3] == 0xff && frame[4] == 0xff && frame[5] == 0xff {
		return reject(ReasonAlreadyBroadcast)
	}

	l3Offset := etherHeaderLen
	etherType := uint16(frame[12])<<8 | uint16(frame[13])
	if etherType == etherTypeVLAN {
		etherType = uint16(frame[16])<<8 | uint16(frame[17])
		l3Offset = etherHeaderLen + 4
	}

	var c Classification
	var icmpOffset int

	switch etherType {
	case etherTypeIPv4:
		if frame[l3Offset]>>4 != 4 {
			return reject(ReasonUnsupportedL3)
		}
		headerLen := int(frame[l3Offset]&0x0f) * 4
		if headerLen < 20 {
			return reject(ReasonIPv4BadHeaderLen)
		}
		if frame[l3Offset+9] != 1 {
			return reject(ReasonIPv4NotICMP)
		}
		// Outer IPv4 + ICMP header, plus the quoted inner IPv4 header and
		// the first 8 bytes of its L4 header.
		if len(frame) < l3Offset+20+8+20+8 {
			return reject(ReasonFrameTooShort)
		}
		icmpOffset = l3Offset + headerLen
		c.SrcKey = frame[l3Offset+12 : l3Offset+16]
		c.Family = FamilyIPv4

	case etherTypeIPv6:
		if frame[l3Offset]>>4 != 6 {
			return reject(ReasonUnsupportedL3)
		}
		// Extension headers are not parsed; the BPF filter matches ICMPv6
		// directly after the fixed header only.
		if frame[l3Offset+6] != 58 {
			return reject(ReasonIPv6NotICMPv6)
		}
		if len(frame) < l3Offset+40+8+32 {
			return reject(ReasonFrameTooShort)
		}
		icmpOffset = l3Offset + 40
		c.SrcKey = frame[l3Offset+8 : l3Offset+24]
		c.Family = FamilyIPv6

	default:
		return reject(ReasonUnsupportedL3)
	}

	if ports != nil {
		if r := checkInnerPort(frame, icmpOffset, ports); r != ReasonNone {
			// The source is already known; keep it for the packet log.
			c.Reject = r
			return c
		}
	}

	return c
}

// checkInnerPort applies the optional L4 source-port allow-list to the IP
// header quoted in the ICMP payload. Parsing is optimistic: it trusts the
// version nibble, does not verify the inner protocol carries ports, and
// does not follow IPv6 extension headers. False admits are bounded by the
// broadcast rate limits downstream.
func checkInnerPort(frame []byte, icmpOffset int, ports *bitmap.BitMap) Reason {
	payloadOffset := icmpOffset + 8
	if len(frame) < payloadOffset+9 {
		return ReasonPayloadTooShort
	}

	var l4Offset int
	switch frame[payloadOffset] >> 4 {
	case 4:
		l4Offset = payloadOffset + int(frame[payloadOffset]&0x0f)*4
	case 6:
		l4Offset = payloadOffset + 40
	default:
		return ReasonBadInnerIPVersion
	}

	if len(frame) < l4Offset+2 {
		return ReasonInnerL4TooShort
	}
	port := int(frame[l4Offset])<<8 | int(frame[l4Offset+1])
	if !ports.Get(port) {
		return ReasonPortNotAllowed
	}
	return ReasonNone
}
