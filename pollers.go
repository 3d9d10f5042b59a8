package fps

import (
	"context"
	"sync"
	"time"
)

// poller runs fn on a ticker until stopped. Used for the FPS's shared
// status and position pollers; starting an already-running poller is a
// no-op, as is stopping an already-stopped one.
type poller struct {
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func newPoller() *poller {
	return &poller{}
}

func (p *poller) start(interval time.Duration, fn func()) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	stop := p.stop
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (p *poller) stopPoller() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}

// StartPollers launches the shared GET_STATUS and GET_ACTUAL_POSITION
// background pollers at their configured delays.
func (fps *FPS) StartPollers() {
	statusDelay := fps.cfg.FPS.StatusPollerDelay
	if statusDelay <= 0 {
		statusDelay = 1
	}
	fps.statusPoller.start(secondsToDuration(statusDelay), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fps.UpdateStatus(ctx, nil); err != nil {
			fps.log.WithError(err).Debug("status poller failed")
		}
	})

	positionDelay := fps.cfg.FPS.PositionPollerDelay
	if positionDelay <= 0 {
		positionDelay = 1
	}
	fps.positionPoller.start(secondsToDuration(positionDelay), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fps.UpdatePosition(ctx, nil); err != nil {
			fps.log.WithError(err).Debug("position poller failed")
		}
	})
}

// StopPollers stops both background pollers. Called by the trajectory
// engine around the Start/Supervise stages, since the status they'd report
// mid-move is meaningless for the purposes a poller serves.
func (fps *FPS) StopPollers() {
	fps.statusPoller.stopPoller()
	fps.positionPoller.stopPoller()
}

// StartPollersIfConfigured restarts the pollers only if the configuration's
// start_pollers option is set, matching the FPS-level default used at
// startup and after a completed trajectory.
func (fps *FPS) StartPollersIfConfigured() {
	if fps.cfg.FPS.StartPollers {
		fps.StartPollers()
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
