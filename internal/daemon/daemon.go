// Package daemon is the process glue shared by can2udp and iio2udp: flag
// handling, the pid file, optional capture and debug HTTP, and the exit codes
// init scripts rely on.
package daemon

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/banshee-data/udpbridge/internal/bridge"
	"github.com/banshee-data/udpbridge/internal/capture"
	"github.com/banshee-data/udpbridge/internal/debug"
	"github.com/banshee-data/udpbridge/internal/metrics"
	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/pidfile"
	"github.com/banshee-data/udpbridge/internal/sink"
	"github.com/banshee-data/udpbridge/internal/version"
)

// Exit codes.
const (
	ExitOK = 0
	// ExitFailure covers bad usage, an instance already running and a fatal
	// runtime error.
	ExitFailure    = 1
	ExitKillFailed = 4
	ExitPidFile    = 8
	ExitStartup    = 10
)

// KillTimeout is how long -k waits for the running instance to exit.
const KillTimeout = 5 * time.Second

// Program describes one daemon.
type Program struct {
	Name          string
	DefaultConfig string
	// Load reads the configuration file. It may fill in deps, for example a
	// sensor source rooted where the file says.
	Load func(path string, deps *bridge.Deps) (bridge.Config, error)

	// Deps are passed to bridge.Start after Load.
	Deps   bridge.Deps
	Stdout io.Writer
	Stderr io.Writer
	// NewPidFile defaults to pidfile.New.
	NewPidFile func(path string) *pidfile.File
	// NoSignals skips installing signal handlers.
	NoSignals bool
	// Started is called once the bridge is running.
	Started func(*bridge.System)
}

// Main parses args and runs. It returns the process exit code.
func (p *Program) Main(args []string) int {
	opts, err := ParseFlags(p.Name, p.DefaultConfig, args, p.stderr())
	if errors.Is(err, flag.ErrHelp) {
		return ExitOK
	}
	if err != nil {
		fmt.Fprintf(p.stderr(), "%s: %v\n", p.Name, err)
		return ExitFailure
	}
	return p.Run(opts)
}

func (p *Program) stderr() io.Writer {
	if p.Stderr == nil {
		return os.Stderr
	}
	return p.Stderr
}

func (p *Program) stdout() io.Writer {
	if p.Stdout == nil {
		return os.Stdout
	}
	return p.Stdout
}

// Run executes the daemon with parsed options.
func (p *Program) Run(opts Options) int {
	if opts.Version {
		fmt.Fprintln(p.stdout(), version.String(p.Name))
		return ExitOK
	}
	monitoring.SetVerbose(opts.Verbose)

	pidPath := opts.PidFile
	if pidPath == "" {
		pidPath = pidfile.Path(p.Name)
	}
	newPidFile := p.NewPidFile
	if newPidFile == nil {
		newPidFile = pidfile.New
	}
	pf := newPidFile(pidPath)

	if opts.Kill {
		if err := pf.Kill(syscall.SIGTERM, KillTimeout); err != nil {
			monitoring.Logf("Failed to stop %s: %v", p.Name, err)
			return ExitKillFailed
		}
		monitoring.Logf("Stopped %s", p.Name)
		return ExitOK
	}

	if pid, ok := pf.Running(); ok && pid != pf.Pid {
		monitoring.Logf("Already running, pid=%d", pid)
		return ExitFailure
	}

	monitoring.Logf("Starting %s", version.String(p.Name))

	if !opts.Foreground {
		if err := pf.Create(); err != nil {
			monitoring.Logf("Failed to create pid file: %v", err)
			return ExitPidFile
		}
		defer func() {
			if err := pf.Remove(); err != nil {
				monitoring.Logf("Warning: %v", err)
			}
		}()
	}

	deps := p.Deps
	cfg, err := p.Load(opts.ConfigPath, &deps)
	if err != nil {
		monitoring.Logf("Failed to load configuration: %v", err)
		return ExitStartup
	}

	m := metrics.New()
	if deps.Observer == nil {
		deps.Observer = m
	}

	var (
		tail     *debug.Tail
		recorder *capture.Writer
		taps     []sink.Tap
	)
	if opts.CapturePath != "" {
		recorder, err = capture.Create(opts.CapturePath, capture.Options{})
		if err != nil {
			monitoring.Logf("Failed to start capture: %v", err)
			return ExitStartup
		}
		defer func() {
			monitoring.Logf("Captured %d packets to %s", recorder.Count(), opts.CapturePath)
			recorder.Close()
		}()
		taps = append(taps, recorder)
	}
	if opts.DebugListen != "" {
		tail = debug.NewTail()
		taps = append(taps, tail)
	}
	if len(taps) > 0 && cfg.Sink.Tap == nil {
		cfg.Sink.Tap = sink.NewTee(taps...)
	}

	sys, err := bridge.Start(cfg, deps)
	if err != nil {
		monitoring.Logf("Failed to start: %v", err)
		return ExitStartup
	}

	if !p.NoSignals {
		stopSignals := sys.HandleSignals()
		defer stopSignals()
	}

	if opts.DebugListen != "" {
		srv, err := serveDebug(opts.DebugListen, debug.Options{
			Status:   func() any { return sys.Status() },
			Gatherer: m.Registry(),
			Tail:     tail,
		})
		if err != nil {
			monitoring.Logf("Failed to start debug server: %v", err)
			sys.Stop()
			return ExitStartup
		}
		defer shutdownServer(srv)
	}

	monitoring.Logf("Started and working...")
	if p.Started != nil {
		p.Started(sys)
	}

	err = sys.Run()
	monitoring.Logf("Terminating.")
	if err != nil {
		monitoring.Logf("Bridge failed: %v", err)
		return ExitFailure
	}
	return ExitOK
}

func serveDebug(addr string, opts debug.Options) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	debug.Attach(mux, opts)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("Debug server error: %v", err)
		}
	}()
	monitoring.Logf("Debug routes on http://%s/debug/", ln.Addr())
	return srv, nil
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		monitoring.Logf("Debug server shutdown error: %v", err)
		srv.Close()
	}
}
