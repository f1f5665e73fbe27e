//go:build linux

// Command picprobe prints the interrupt controller registers of the host it
// runs on, read through /dev/port. It needs root.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/irqcore/internal/hal/hostport"
	"github.com/tinyrange/irqcore/internal/pic"
)

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("picprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("port", hostport.DefaultPath, "port space device")
	registers := fs.Bool("registers", false, "also read IRR and ISR (writes OCW3 to the command ports)")
	iopl := fs.Bool("iopl", false, "check that the process may raise its I/O privilege level")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if *iopl {
		if err := hostport.RaiseIOPL(); err != nil {
			return err
		}
		log.Info("iopl raised")
	}

	open := hostport.OpenReadOnly
	if *registers {
		open = hostport.Open
	}
	port, err := open(*path, log)
	if err != nil {
		return err
	}
	platform := hostport.NewPlatform(port)
	defer platform.Close()

	return probe(stdout, pic.New(platform, log), *registers, platform.Err)
}

// probe prints the controller state. errFn reports the first failed port
// access.
func probe(w io.Writer, ctrl *pic.Controller, registers bool, errFn func() error) error {
	primary, secondary := ctrl.Masks()
	fmt.Fprintf(w, "IMR  primary=0x%02x secondary=0x%02x\n", primary, secondary)
	if registers {
		isr := ctrl.ReadISR()
		// IRR last so the controller is left selecting it, as firmware does.
		irr := ctrl.ReadIRR()
		fmt.Fprintf(w, "IRR  0x%04x\nISR  0x%04x\n", irr, isr)
	}
	if err := errFn(); err != nil {
		return fmt.Errorf("port access: %w", err)
	}

	// The vector bases are write-only, so the host mapping cannot be read
	// back; the column shows where irqcore would remap each line.
	fmt.Fprintln(w, "enabled lines:")
	for irq := uint8(0); irq < pic.IRQCount; irq++ {
		if ctrl.Enabled(irq) {
			fmt.Fprintf(w, "  IRQ%-2d vector after remap 0x%02x\n", irq, pic.VectorFor(irq))
		}
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "picprobe: %v\n", err)
		os.Exit(1)
	}
}
