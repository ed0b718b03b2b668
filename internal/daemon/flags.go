package daemon

import (
	"flag"
	"fmt"
	"io"
)

// Options are the command line settings shared by the bridge daemons.
type Options struct {
	ConfigPath string
	// Foreground (-t) skips the pid file.
	Foreground bool
	// Daemon (-D) keeps the pid file. It is the default; the flag exists so
	// init scripts written for the original tools keep working.
	Daemon      bool
	Verbose     bool
	Kill        bool
	PidFile     string
	DebugListen string
	CapturePath string
	Version     bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(name, defaultConfig string, args []string, output io.Writer) (Options, error) {
	var o Options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.ConfigPath, "c", defaultConfig, "configuration file (.json, .yaml or .yml)")
	fs.BoolVar(&o.Foreground, "t", false, "run in the foreground without a pid file")
	fs.BoolVar(&o.Daemon, "D", false, "run as a supervised daemon with a pid file (default)")
	fs.BoolVar(&o.Verbose, "v", false, "verbose logging")
	fs.BoolVar(&o.Kill, "k", false, "stop the running instance and exit")
	fs.StringVar(&o.PidFile, "pidfile", "", "pid file path (default /run/"+name+".pid)")
	fs.StringVar(&o.DebugListen, "debug-listen", "", "serve /debug/ admin routes on this address, e.g. localhost:8080")
	fs.StringVar(&o.CapturePath, "capture", "", "also write every sent packet to this pcap file")
	fs.BoolVar(&o.Version, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [-t|-D] [-v] [-k] [-c config] [options]\n\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return o, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if o.Foreground && o.Daemon {
		return o, fmt.Errorf("-t and -D are mutually exclusive")
	}
	return o, nil
}
