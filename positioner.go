package fps

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Positioner is the per-robot state mirrored from firmware replies. All
// mutable fields are guarded by mu; callers that need a consistent
// multi-field view should use Snapshot.
type Positioner struct {
	PositionerID   uint16
	InterfaceIndex int
	Bus            int

	mu             sync.RWMutex
	alpha          *float64
	beta           *float64
	status         PositionerStatus
	bootStatus     BootloaderStatus
	firmware       string
	disabled       bool
	offline        bool
	precise        bool
	collided       bool

	send       func(ctx context.Context, id CommandID, data []byte, timeout time.Duration) (*Command, error)
	gotoSingle func(ctx context.Context, positionerID uint16, alpha, beta float64, speed float64) error
	log        *log.Entry
}

// SetGotoHook wires the FPS supervisor's cowboy single-positioner move
// synthesis into this positioner, so Goto has somewhere to delegate to.
func (p *Positioner) SetGotoHook(hook func(ctx context.Context, positionerID uint16, alpha, beta float64, speed float64) error) {
	p.gotoSingle = hook
}

// Goto drives the positioner to (alpha, beta) and blocks until
// DISPLACEMENT_COMPLETED or timeout. Rejected if disabled or
// uninitialised. speed of 0 means "use the configured default".
func (p *Positioner) Goto(ctx context.Context, alpha, beta, speed float64) error {
	if p.Disabled() {
		return fmt.Errorf("%w: positioner %d", ErrPositionerDisabled, p.PositionerID)
	}
	if !p.Status().Has(SystemInitialized) {
		return fmt.Errorf("%w: positioner %d not initialised", ErrPositionerNotReady, p.PositionerID)
	}
	if p.gotoSingle == nil {
		return fmt.Errorf("goto not wired: no FPS hook registered for positioner %d", p.PositionerID)
	}
	return p.gotoSingle(ctx, p.PositionerID, alpha, beta, speed)
}

// NewPositioner builds a positioner in its UNKNOWN initial state. send is
// the FPS supervisor's choke point, used for the safety commands this type
// issues on its own (SEND_TRAJECTORY_ABORT during initialise).
func NewPositioner(id uint16, send func(ctx context.Context, cmd CommandID, data []byte, timeout time.Duration) (*Command, error)) *Positioner {
	return &Positioner{
		PositionerID: id,
		send:         send,
		log:          log.WithField("positioner_id", id),
	}
}

// PositionerSnapshot is a consistent point-in-time copy of a Positioner's
// fields, used by the reporting hook and by callers that must not observe
// a torn read across concurrent updates.
type PositionerSnapshot struct {
	PositionerID uint16
	Alpha, Beta  *float64
	Status       PositionerStatus
	BootStatus   BootloaderStatus
	Firmware     string
	Disabled     bool
	Offline      bool
	Collided     bool
	InBootloader bool
}

// Snapshot returns a consistent copy of the positioner's fields.
func (p *Positioner) Snapshot() PositionerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PositionerSnapshot{
		PositionerID: p.PositionerID,
		Alpha:        p.alpha,
		Beta:         p.beta,
		Status:       p.status,
		BootStatus:   p.bootStatus,
		Firmware:     p.firmware,
		Disabled:     p.disabled,
		Offline:      p.offline,
		Collided:     p.collided,
		InBootloader: inBootloader(p.firmware),
	}
}

func inBootloader(firmware string) bool {
	return len(firmware) >= 8 && firmware[3:5] == "80"
}

// Reset clears runtime state. Per-positioner pollers are stopped by the
// caller (the FPS supervisor owns poller lifetime).
func (p *Positioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alpha = nil
	p.beta = nil
	p.status = 0
	p.bootStatus = 0
	p.collided = false
}

// SetFirmware records the decoded "MM.mm.pp" firmware version string.
func (p *Positioner) SetFirmware(firmware string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.firmware = firmware
}

// Firmware returns the last known firmware version string, or "" if
// unknown.
func (p *Positioner) Firmware() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.firmware
}

// InBootloader reports whether the positioner's last known firmware
// version indicates bootloader mode (minor version "80").
func (p *Positioner) InBootloader() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return inBootloader(p.firmware)
}

// UpdateStatus decodes a raw status word read off GET_STATUS, interpreting
// it as BootloaderStatus while in bootloader mode and as PositionerStatus
// otherwise. The sticky collision flag is only ever set here, and is
// cleared by ClearCollision (invoked on STOP_TRAJECTORY) or Reset.
func (p *Positioner) UpdateStatus(raw uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if inBootloader(p.firmware) {
		p.bootStatus = BootloaderStatus(raw)
		return
	}

	p.status = PositionerStatus(raw)
	if p.status.Collided() {
		p.collided = true
	}
}

// ClearCollision clears the sticky collision flag. Called after a
// STOP_TRAJECTORY completes.
func (p *Positioner) ClearCollision() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collided = false
}

// Collided reports the sticky collision flag.
func (p *Positioner) Collided() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.collided
}

// Status returns the last known PositionerStatus.
func (p *Positioner) Status() PositionerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// UpdatePosition stores the current alpha/beta position in degrees.
func (p *Positioner) UpdatePosition(alphaDeg, betaDeg float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alpha = &alphaDeg
	p.beta = &betaDeg
}

// Position returns the last known (alpha, beta) in degrees, or false if
// never updated.
func (p *Positioner) Position() (alpha, beta float64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.alpha == nil || p.beta == nil {
		return 0, 0, false
	}
	return *p.alpha, *p.beta, true
}

// SetDisabled marks the positioner as disabled (FPS.SendCommand then
// refuses it every command not flagged safe).
func (p *Positioner) SetDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = disabled
}

// Disabled reports whether the positioner is disabled.
func (p *Positioner) Disabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.disabled
}

// SetOffline marks the positioner as known-physical but unresponsive.
// Per the data model invariant, offline implies disabled.
func (p *Positioner) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
	if offline {
		p.disabled = true
	}
}

// Offline reports whether the positioner is marked offline.
func (p *Positioner) Offline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offline
}

// SetPreciseMoves records whether precise-move mode is enabled for this
// positioner.
func (p *Positioner) SetPreciseMoves(precise bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.precise = precise
}

// Initialise verifies the positioner has completed its firmware boot
// sequence and both arms have been datum-initialised, issues a defensive
// SEND_TRAJECTORY_ABORT, and optionally disables precise-move mode on both
// arms. Returns immediately (success) if the positioner is in bootloader
// mode, since the restricted bootloader command set doesn't support these
// checks.
func (p *Positioner) Initialise(ctx context.Context, disablePreciseMoves bool) error {
	if p.InBootloader() {
		return nil
	}

	status := p.Status()
	if !status.Has(SystemInitialized) {
		return fmt.Errorf("%w: positioner %d not SYSTEM_INITIALIZED", ErrPositionerNotReady, p.PositionerID)
	}
	if !status.Has(DatumAlphaInitialized) || !status.Has(DatumBetaInitialized) {
		return fmt.Errorf("%w: positioner %d missing datum initialisation", ErrPositionerNotReady, p.PositionerID)
	}

	if _, err := p.send(ctx, SendTrajectoryAbort, nil, 2*time.Second); err != nil {
		return err
	}

	if disablePreciseMoves {
		if _, err := p.send(ctx, SwitchOffPreciseMoveAlpha, nil, 2*time.Second); err != nil {
			p.log.WithError(err).Warn("failed to disable precise move on alpha")
		}
		if _, err := p.send(ctx, SwitchOffPreciseMoveBeta, nil, 2*time.Second); err != nil {
			p.log.WithError(err).Warn("failed to disable precise move on beta")
		}
		p.SetPreciseMoves(false)
	}

	return nil
}

// WaitForStatus polls Status at pollInterval until every bit in want is
// set, or until timeout elapses.
func (p *Positioner) WaitForStatus(ctx context.Context, want PositionerStatus, pollInterval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if p.Status().Has(want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: positioner %d did not reach status %v within %s",
				ErrCommandTimedOut, p.PositionerID, want, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
