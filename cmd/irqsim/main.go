// Command irqsim boots the interrupt core on the simulated machine, replays
// an input scenario against it and shows the resulting screen.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/irqcore/internal/config"
	"github.com/tinyrange/irqcore/internal/console"
	"github.com/tinyrange/irqcore/internal/diag"
	"github.com/tinyrange/irqcore/internal/hal/sim"
	"github.com/tinyrange/irqcore/internal/interrupt"
	"github.com/tinyrange/irqcore/internal/kernel"
	"github.com/tinyrange/irqcore/internal/scenario"
)

// exitStopped is the exit status when the scenario ended in a fatal fault.
const exitStopped = 2

const demoScenario = `name: demo
steps:
  - move: {dx: 40, dy: 25}
  - press: left
  - hold: 4
  - release: left
  - move: {dx: -120, dy: -60}
  - press: right
  - move: {dx: 10, dy: 10}
  - release: right
  - draw: {x: 300, y: 300, w: 200, h: 100, color: 0xe63946}
  - idle: 64
`

type options struct {
	configPath   string
	scenarioPath string
	diagPath     string
	writeConfig  string
	policy       string
	spurious     bool
	idle         int
	render       string
	debug        bool
}

func run(args []string, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("irqsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.configPath, "config", "", "configuration file (default ./"+config.DefaultFilename+" if present)")
	fs.StringVar(&o.scenarioPath, "scenario", "", "scenario file to replay (default: built-in demo)")
	fs.StringVar(&o.diagPath, "diag", "", "write diagnostic records to this file")
	fs.StringVar(&o.writeConfig, "write-config", "", "write a configuration template to this file and exit")
	fs.StringVar(&o.policy, "policy", "", "unhandled exception policy: halt or ignore")
	fs.BoolVar(&o.spurious, "spurious", false, "check IRQ7 and IRQ15 for spurious interrupts")
	fs.IntVar(&o.idle, "idle", 0, "timer ticks to run after the scenario")
	fs.StringVar(&o.render, "render", "auto", "draw the screen: auto, always or never")
	fs.BoolVar(&o.debug, "debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1, fmt.Errorf("parse flags: %w", err)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if o.writeConfig != "" {
		if err := config.WriteTemplate(o.writeConfig, config.Default()); err != nil {
			return 1, err
		}
		fmt.Fprintf(stdout, "wrote %s\n", o.writeConfig)
		return 0, nil
	}

	cfg, err := loadConfig(fs, &o)
	if err != nil {
		return 1, err
	}

	sc, err := loadScenario(o.scenarioPath)
	if err != nil {
		return 1, err
	}

	var records *diag.Buffer
	d := &diag.Log{}
	diagPath := o.diagPath
	if diagPath == "" {
		diagPath = cfg.DiagPath
	}
	if diagPath != "" {
		d, err = diag.OpenFile(diagPath)
		if err != nil {
			return 1, err
		}
	} else {
		records = &diag.Buffer{}
		d.Open(records)
	}
	defer d.Close()

	s, err := kernel.NewSimulation(cfg, log, d)
	if err != nil {
		return 1, err
	}

	bar := newProgress(stderr, sc)
	err = s.Replay(sc, func(int, scenario.Step) {
		if bar != nil {
			bar.Add(1)
		}
	})
	if bar != nil {
		bar.Finish()
	}
	code := 0
	switch {
	case errors.Is(err, sim.ErrStopped):
		log.Warn("processor stopped", "scenario", sc.Name, "reason", err)
		code = exitStopped
	case err != nil:
		return 1, fmt.Errorf("replay %s: %w", sc.Name, err)
	}
	if o.idle > 0 {
		s.Idle(o.idle)
	}

	log.Info("scenario finished", "scenario", sc.Name, "status", s.Kernel.Status())
	if records != nil {
		if err := printRecords(stdout, records); err != nil {
			return 1, err
		}
	}
	if err := render(stdout, s, o.render); err != nil {
		return 1, err
	}
	return code, nil
}

func loadConfig(fs *flag.FlagSet, o *options) (config.Config, error) {
	cfg := config.Default()
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultFilename); err == nil {
			path = config.DefaultFilename
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	// Flags given explicitly override the file.
	var ferr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "policy":
			if _, err := interrupt.ParsePolicy(o.policy); err != nil {
				ferr = err
				return
			}
			cfg.Kernel.ExceptionPolicy = o.policy
		case "spurious":
			cfg.Kernel.CheckSpurious = o.spurious
		}
	})
	return cfg, ferr
}

func loadScenario(path string) (*scenario.Scenario, error) {
	if path == "" {
		return scenario.Parse([]byte(demoScenario))
	}
	return scenario.Load(path)
}

func newProgress(w io.Writer, sc *scenario.Scenario) *progressbar.ProgressBar {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return progressbar.NewOptions(len(sc.Steps),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(sc.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func printRecords(w io.Writer, buf *diag.Buffer) error {
	records, err := diag.ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("read diagnostics: %w", err)
	}
	for _, r := range records {
		fmt.Fprintln(w, r.String())
	}
	return nil
}

func render(w io.Writer, s *kernel.Simulation, mode string) error {
	opts := console.Options{}
	switch mode {
	case "never":
		return nil
	case "always":
		opts.Cols, opts.Rows = 80, 24
	case "auto":
		f, ok := w.(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			return nil
		}
		cols, rows, err := term.GetSize(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("terminal size: %w", err)
		}
		opts.Cols, opts.Rows = cols, rows-1
	default:
		return fmt.Errorf("unknown render mode %q", mode)
	}
	return console.Render(w, s.Kernel.Framebuffer(), opts)
}

func main() {
	code, err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "irqsim: %v\n", err)
	}
	os.Exit(code)
}
