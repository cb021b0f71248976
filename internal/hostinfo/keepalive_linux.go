//go:build linux

package hostinfo

import "golang.org/x/sys/unix"

// probeKeepalive sets each keep-alive option on a scratch socket and reads
// it back.
func probeKeepalive() Keepalive {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return KeepaliveNone
	}
	defer unix.Close(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return KeepaliveNone
	}

	opts := []struct {
		opt int
		val int
	}{
		{unix.TCP_KEEPIDLE, 7},
		{unix.TCP_KEEPINTVL, 3},
		{unix.TCP_KEEPCNT, 5},
	}
	honoured := 0
	for _, o := range opts {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, o.opt, o.val); err != nil {
			continue
		}
		got, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, o.opt)
		if err == nil && got == o.val {
			honoured++
		}
	}

	switch honoured {
	case len(opts):
		return KeepaliveFull
	case 0:
		return KeepaliveBasic
	default:
		return KeepalivePartial
	}
}
