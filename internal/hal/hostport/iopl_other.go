//go:build linux && !(386 || amd64)

package hostport

// RaiseIOPL is only meaningful on x86.
func RaiseIOPL() error {
	return ErrUnsupported
}
