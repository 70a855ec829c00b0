package relay

// RewriteBroadcast redirects a frame to the broadcast MAC in place: the
// destination becomes ff:ff:ff:ff:ff:ff and the source becomes the frame's
// original destination, so receivers can tell which cluster member the ICMP
// message was hashed to. No other bytes change.
func RewriteBroadcast(frame []byte) {
	var dst [6]byte
	copy(dst[:], frame[:6])

	for i := 0; i < 6; i++ {
		frame[i] = 0xff
	}
	copy(frame[6:12], dst[:])
}
