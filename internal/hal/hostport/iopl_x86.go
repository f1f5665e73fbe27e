//go:build linux && (386 || amd64)

package hostport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseIOPL asks the kernel for I/O privilege level 3. /dev/port does not
// need it, but it tells apart "not root" from "no port device".
func RaiseIOPL() error {
	if err := unix.Iopl(3); err != nil {
		return fmt.Errorf("hostport: iopl: %w", err)
	}
	return nil
}
