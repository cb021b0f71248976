//go:build !windows

package hostinfo

import "golang.org/x/sys/unix"

func privileged() bool {
	return unix.Geteuid() == 0
}
