//go:build linux

// Package hostport drives real I/O ports of the host through /dev/port.
//
// Only port access is available from user space. The processor primitives
// of hal.Platform (descriptor table loads, the interrupt flag, HLT) are
// recorded as a sticky ErrUnsupported instead of being executed.
package hostport

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/irqcore/internal/hal"
	"golang.org/x/sys/unix"
)

// DefaultPath is the character device exposing the port space.
const DefaultPath = "/dev/port"

// ErrUnsupported is recorded when a privileged processor instruction is
// requested from user space.
var ErrUnsupported = errors.New("hostport: privileged instruction not available from user space")

// Port performs port I/O with pread/pwrite at the port number offset.
type Port struct {
	fd   int
	path string
	log  *slog.Logger
	err  error
}

// Open opens path for reading and writing.
func Open(path string, log *slog.Logger) (*Port, error) {
	return open(path, unix.O_RDWR, log)
}

// OpenReadOnly opens path for reading only. Writes fail and are recorded.
func OpenReadOnly(path string, log *slog.Logger) (*Port, error) {
	return open(path, unix.O_RDONLY, log)
}

func open(path string, mode int, log *slog.Logger) (*Port, error) {
	if log == nil {
		log = slog.Default()
	}
	fd, err := unix.Open(path, unix.O_CLOEXEC|mode, 0)
	if err != nil {
		return nil, fmt.Errorf("hostport: open %s: %w", path, err)
	}
	return &Port{fd: fd, path: path, log: log.With("component", "hostport")}, nil
}

func (p *Port) fail(err error) {
	if p.err == nil {
		p.err = err
		p.log.Warn("port access failed", "path", p.path, "error", err)
	}
}

// InByte reads one port. Failed reads return 0xff, as a floating bus would.
func (p *Port) InByte(port uint16) byte {
	var b [1]byte
	n, err := unix.Pread(p.fd, b[:], int64(port))
	switch {
	case err != nil:
		p.fail(fmt.Errorf("hostport: inb 0x%04x: %w", port, err))
		return 0xff
	case n != 1:
		p.fail(fmt.Errorf("hostport: inb 0x%04x: short read", port))
		return 0xff
	}
	return b[0]
}

// OutByte writes one port.
func (p *Port) OutByte(port uint16, value byte) {
	n, err := unix.Pwrite(p.fd, []byte{value}, int64(port))
	switch {
	case err != nil:
		p.fail(fmt.Errorf("hostport: outb 0x%04x: %w", port, err))
	case n != 1:
		p.fail(fmt.Errorf("hostport: outb 0x%04x: short write", port))
	}
}

// Err returns the first failure recorded.
func (p *Port) Err() error { return p.err }

// Close releases the device.
func (p *Port) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// Platform adapts a Port to hal.Platform.
type Platform struct {
	*Port

	// exit is called by Stop; tests replace it.
	exit func(code int)
}

// NewPlatform wraps port.
func NewPlatform(port *Port) *Platform {
	return &Platform{Port: port, exit: os.Exit}
}

func (p *Platform) unsupported(op string) {
	p.fail(fmt.Errorf("%s: %w", op, ErrUnsupported))
}

func (p *Platform) LoadGDT(hal.DescriptorTable)   { p.unsupported("lgdt") }
func (p *Platform) ReloadSegments(uint16, uint16) { p.unsupported("segment reload") }
func (p *Platform) LoadIDT(hal.DescriptorTable)   { p.unsupported("lidt") }
func (p *Platform) ReadCR2() uint32               { p.unsupported("mov cr2"); return 0 }
func (p *Platform) EnableInterrupts()             { p.unsupported("sti") }
func (p *Platform) DisableInterrupts()            { p.unsupported("cli") }
func (p *Platform) Halt()                         { p.unsupported("hlt") }

// Stop terminates the process.
func (p *Platform) Stop() {
	p.log.Error("processor stop requested, exiting")
	p.Close()
	p.exit(1)
	select {}
}

var _ hal.Platform = (*Platform)(nil)
