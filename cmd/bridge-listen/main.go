// Command bridge-listen receives can2udp and iio2udp broadcasts, decodes
// them and optionally records them to sqlite. With -replay it reads a
// capture file instead of a socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/udpbridge/internal/debug"
	"github.com/banshee-data/udpbridge/internal/listen"
	"github.com/banshee-data/udpbridge/internal/monitoring"
	"github.com/banshee-data/udpbridge/internal/packet"
	"github.com/banshee-data/udpbridge/internal/recorddb"
	"github.com/banshee-data/udpbridge/internal/version"
)

const name = "bridge-listen"

type options struct {
	listen      string
	replay      string
	port        uint
	dbPath      string
	rcvBuf      int
	debugListen string
	verbose     bool
	version     bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.listen, "listen", fmt.Sprintf(":%d", packet.DefaultBusPort), "UDP address to receive on")
	fs.StringVar(&o.replay, "replay", "", "read datagrams from a pcap file instead of the network")
	fs.UintVar(&o.port, "port", 0, "with -replay, only UDP destination port (0 for all)")
	fs.StringVar(&o.dbPath, "db", "", "record packets to this sqlite database")
	fs.IntVar(&o.rcvBuf, "rcvbuf", 4<<20, "socket receive buffer in bytes")
	fs.StringVar(&o.debugListen, "debug-listen", "", "serve debug routes on this address")
	fs.BoolVar(&o.verbose, "v", false, "log every packet")
	fs.BoolVar(&o.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.port > 0xFFFF {
		return o, fmt.Errorf("port %d out of range", o.port)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	if o.version {
		fmt.Fprintln(stdout, version.String(name))
		return 0
	}
	monitoring.SetVerbose(o.verbose)

	cfg := listen.Config{Address: o.listen, RcvBuf: o.rcvBuf}

	var db *recorddb.DB
	if o.dbPath != "" {
		db, err = recorddb.Open(o.dbPath)
		if err != nil {
			monitoring.Logf("Failed to open database: %v", err)
			return 1
		}
		defer db.Close()

		source := o.listen
		if o.replay != "" {
			source = o.replay
		}
		session, err := db.StartSession(source, time.Now())
		if err != nil {
			monitoring.Logf("Failed to start session: %v", err)
			return 1
		}
		monitoring.Logf("Recording session %s to %s", session.ID, o.dbPath)
		defer func() {
			if err := session.End(time.Now()); err != nil {
				monitoring.Logf("Warning: %v", err)
			}
		}()
		cfg.Recorder = session
	}

	var tail *debug.Tail
	if o.debugListen != "" {
		tail = debug.NewTail()
		cfg.Tap = tail
	}
	l := listen.New(cfg)

	if o.debugListen != "" {
		mux := http.NewServeMux()
		debug.Attach(mux, debug.Options{
			Status: func() any { return l.Counts() },
			Tail:   tail,
		})
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				monitoring.Logf("Failed to attach database routes: %v", err)
				return 1
			}
		}
		srv, err := serveDebug(o.debugListen, mux)
		if err != nil {
			monitoring.Logf("Failed to start debug server: %v", err)
			return 1
		}
		defer shutdownServer(srv)
	}

	if o.replay != "" {
		if _, err := l.Replay(ctx, o.replay, uint16(o.port)); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("Replay failed: %v", err)
			return 1
		}
		return 0
	}
	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Logf("Listener failed: %v", err)
		return 1
	}
	return 0
}

func serveDebug(addr string, h http.Handler) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
