// Package inject provides the AF_PACKET raw frame injector.
package inject

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"pmtud/pkg/core"
)

var broadcastAddr = &packet.Addr{
	HardwareAddr: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
}

// Injector writes raw Ethernet frames on one interface. Frames carry their
// own link-layer header; the socket only needs the target interface.
type Injector struct {
	conn  *packet.Conn
	iface string
	drops uint64
}

var _ core.Injector = (*Injector)(nil)

// Open binds a raw packet socket to iface. Protocol zero keeps the socket
// send-only.
func Open(iface string) (*Injector, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", iface, err)
	}

	conn, err := packet.Listen(ifi, packet.Raw, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw socket on %s: %w", iface, err)
	}

	return &Injector{conn: conn, iface: iface}, nil
}

// Inject sends one frame. Send-buffer exhaustion (ENOBUFS, seen during IRQ
// storms) drops the frame and returns nil; dropping is preferable to
// blocking the capture drain. Any other failure is returned.
func (i *Injector) Inject(frame []byte) error {
	if _, err := i.conn.WriteTo(frame, broadcastAddr); err != nil {
		if errors.Is(err, unix.ENOBUFS) {
			atomic.AddUint64(&i.drops, 1)
			return nil
		}
		return fmt.Errorf("raw send on %s: %w", i.iface, err)
	}
	return nil
}

// Drops returns the number of frames dropped on send-buffer exhaustion.
func (i *Injector) Drops() uint64 {
	return atomic.LoadUint64(&i.drops)
}

// Close releases the send socket.
func (i *Injector) Close() error {
	return i.conn.Close()
}
