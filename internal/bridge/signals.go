package bridge

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/udpbridge/internal/monitoring"
)

// HandleSignals turns SIGINT, SIGTERM and SIGQUIT into RequestShutdown.
// SIGHUP is logged and ignored. The returned func stops forwarding; Stop
// calls it too, before the shutdown notifier is closed.
func (s *System) HandleSignals() (stop func()) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	return s.forwardSignals(sigs, func() { signal.Stop(sigs) })
}

// forwardSignals handles everything received on sigs until the returned
// func is called. The func is idempotent and returns once the forwarding
// goroutine has exited.
func (s *System) forwardSignals(sigs <-chan os.Signal, release func()) func() {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		for {
			select {
			case sig := <-sigs:
				s.handleSignal(sig)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			release()
			close(done)
			<-exited
		})
	}

	s.sigMu.Lock()
	s.sigStops = append(s.sigStops, stop)
	s.sigMu.Unlock()
	return stop
}

func (s *System) stopSignals() {
	s.sigMu.Lock()
	stops := s.sigStops
	s.sigStops = nil
	s.sigMu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

func (s *System) handleSignal(sig os.Signal) {
	if sig == syscall.SIGHUP {
		monitoring.Logf("Received %v, ignoring", sig)
		return
	}
	monitoring.Logf("Received %v, shutting down", sig)
	if err := s.RequestShutdown(); err != nil {
		monitoring.Logf("Warning: shutdown request failed: %v", err)
	}
}
