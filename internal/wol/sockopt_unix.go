//go:build unix

package wol

import "syscall"

// enableBroadcast sets SO_BROADCAST so writes to broadcast addresses are
// not rejected with EACCES.
func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}
