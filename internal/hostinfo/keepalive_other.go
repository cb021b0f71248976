//go:build !linux

package hostinfo

// Only SO_KEEPALIVE itself is assumed off linux.
func probeKeepalive() Keepalive {
	return KeepaliveBasic
}
