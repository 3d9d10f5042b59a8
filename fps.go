package fps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdss/fps-core/internal/config"
	"github.com/sdss/fps-core/internal/observer"
)

// FPS is the process-wide supervisor: the single choke point every command
// passes through, the owner of the CAN manager and every known Positioner,
// and the keeper of the global locked/moving state. Grounded on
// original_source/src/jaeger/fps.py's FPS class, adapted from a class that
// wraps a CAN bus directly into one that wraps the adjacent CANManager.
type FPS struct {
	mu  sync.RWMutex
	cfg *config.Config

	manager     *CANManager
	positioners map[uint16]*Positioner
	ieb         *IEB

	locked   bool
	lockedBy []uint16
	tempBits FPSStatus

	statusPoller   *poller
	positionPoller *poller
	lowTemp        *LowTempMonitor

	lockFile *LockFile

	broadcaster *observer.Broadcaster

	log *log.Entry
}

var (
	globalFPS   *FPS
	globalFPSMu sync.Mutex
)

// NewFPS builds an FPS over cfg. The CAN manager is constructed but no
// interface is opened and no background loop is running until Start.
func NewFPS(cfg *config.Config) (*FPS, error) {
	manager, err := NewCANManager(cfg.CAN.UIDBits)
	if err != nil {
		return nil, err
	}

	fps := &FPS{
		cfg:            cfg,
		manager:        manager,
		positioners:    make(map[uint16]*Positioner),
		tempBits:       TemperatureUnknown,
		statusPoller:   newPoller(),
		positionPoller: newPoller(),
		broadcaster:    observer.NewBroadcaster(),
		log:            log.WithField("component", "fps"),
	}
	manager.NumPositioners = fps.knownPositionerCount
	manager.OnCollision = fps.onCollisionDetected
	return fps, nil
}

// GetFPS installs fps as the process-wide singleton. Only one FPS instance
// may exist per process, matching the original's single-instance-per-bus
// assumption (enforced physically by the lock file, logically here).
func GetFPS(cfg *config.Config) (*FPS, error) {
	globalFPSMu.Lock()
	defer globalFPSMu.Unlock()
	if globalFPS != nil {
		return nil, ErrAlreadyRunning
	}
	fps, err := NewFPS(cfg)
	if err != nil {
		return nil, err
	}
	globalFPS = fps
	return fps, nil
}

// Shutdown stops every background loop, closes every CAN interface, and
// releases the lock file (if held). Safe to call once.
func (fps *FPS) Shutdown() error {
	globalFPSMu.Lock()
	if globalFPS == fps {
		globalFPS = nil
	}
	globalFPSMu.Unlock()

	fps.StopPollers()
	fps.mu.RLock()
	lowTemp := fps.lowTemp
	fps.mu.RUnlock()
	if lowTemp != nil {
		lowTemp.Stop()
	}

	fps.manager.Stop()

	if fps.lockFile != nil {
		return fps.lockFile.Release()
	}
	return nil
}

// Start acquires the lock file (if configured), opens every configured CAN
// profile's channels, launches the manager's dispatcher, and starts the
// pollers if the configuration asks for it.
func (fps *FPS) Start(lockPath string) error {
	if fps.cfg.FPS.UseLock {
		lf, err := AcquireLockFile(lockPath)
		if err != nil {
			return err
		}
		fps.lockFile = lf
	}

	for _, profile := range fps.cfg.CAN.Profiles {
		for _, channel := range profile.Channels {
			fps.manager.OpenChannel(profile.Interface, channel, profile.Args)
		}
	}

	fps.manager.Start()
	fps.StartPollersIfConfigured()
	return nil
}

// SetIEB wires the instrumentation box used for the sync line relay and
// (indirectly, via StartLowTempMonitor) the temperature sensor.
func (fps *FPS) SetIEB(ieb *IEB) {
	fps.mu.Lock()
	defer fps.mu.Unlock()
	fps.ieb = ieb
}

// AddObserver registers o to receive every event the supervisor and
// trajectory engine emit.
func (fps *FPS) AddObserver(o observer.Observer) {
	fps.broadcaster.Add(o)
}

// AddPositioner registers a newly discovered positioner, wiring its private
// send closure (which captures the id and goes through SendCommand) and its
// goto hook, and routes it to the given CAN interface.
func (fps *FPS) AddPositioner(id uint16, interfaceIndex int) *Positioner {
	pid := id
	send := func(ctx context.Context, cmdID CommandID, data []byte, timeout time.Duration) (*Command, error) {
		return fps.SendCommand(ctx, cmdID, []uint16{pid}, data, timeout, false)
	}

	p := NewPositioner(id, send)
	p.SetGotoHook(fps.gotoSinglePositioner)
	p.InterfaceIndex = interfaceIndex

	fps.mu.Lock()
	fps.positioners[id] = p
	fps.mu.Unlock()

	fps.manager.SetPositionerBus(id, interfaceIndex)

	for _, disabledID := range fps.cfg.FPS.DisabledPositioners {
		if disabledID == id {
			p.SetDisabled(true)
			break
		}
	}

	return p
}

// Positioner looks up a known positioner by id.
func (fps *FPS) Positioner(id uint16) (*Positioner, bool) {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	p, ok := fps.positioners[id]
	return p, ok
}

// Positioners returns a snapshot copy of every known positioner, keyed by
// id.
func (fps *FPS) Positioners() map[uint16]*Positioner {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	out := make(map[uint16]*Positioner, len(fps.positioners))
	for id, p := range fps.positioners {
		out[id] = p
	}
	return out
}

// Config returns the FPS's configuration.
func (fps *FPS) Config() *config.Config {
	return fps.cfg
}

// SafeMode returns the configured safe-mode beta floor.
func (fps *FPS) SafeMode() config.SafeMode {
	return fps.cfg.SafeMode
}

// LatticePosition returns the configured lattice (parked/folded) position,
// the resting (alpha, beta) a positioner is expected to be at when not
// participating in a configuration.
func (fps *FPS) LatticePosition() (alpha, beta float64) {
	return fps.cfg.FPS.LatticeAlpha, fps.cfg.FPS.LatticeBeta
}

// recomputeMotionStatus derives the motion/health component of FPSStatus
// from every known positioner's last reported status: any initialised
// positioner that hasn't reported DISPLACEMENT_COMPLETED is still moving;
// any sticky collision makes the whole FPS report collided.
func (fps *FPS) recomputeMotionStatus() FPSStatus {
	collided := false
	moving := false
	for _, p := range fps.Positioners() {
		if p.Offline() || p.Disabled() {
			continue
		}
		if p.Collided() {
			collided = true
		}
		status := p.Status()
		if status.Has(SystemInitialized) && !status.Has(DisplacementCompleted) {
			moving = true
		}
	}
	switch {
	case collided:
		return Collided
	case moving:
		return Moving
	default:
		return Idle
	}
}

// GlobalStatus returns the combined motion/health and temperature status.
func (fps *FPS) GlobalStatus() FPSStatus {
	fps.mu.RLock()
	temp := fps.tempBits
	fps.mu.RUnlock()
	return fps.recomputeMotionStatus() | temp
}

// Locked reports whether the FPS is currently locked (a collision was
// detected and not yet cleared).
func (fps *FPS) Locked() bool {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	return fps.locked
}

// LockedBy returns the ids of the positioners that caused the current lock.
func (fps *FPS) LockedBy() []uint16 {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	return append([]uint16(nil), fps.lockedBy...)
}

// Moving reports whether any positioner is mid-trajectory.
func (fps *FPS) Moving() bool {
	return fps.recomputeMotionStatus() == Moving
}

// Lock marks the FPS locked, attributing the lock to the given positioner
// ids (normally the ones that reported collision).
func (fps *FPS) Lock(lockedBy []uint16) {
	fps.mu.Lock()
	defer fps.mu.Unlock()
	fps.locked = true
	fps.lockedBy = append([]uint16(nil), lockedBy...)
}

// Unlock clears the lock, refusing if any positioner still has a sticky
// collision flag set.
func (fps *FPS) Unlock() error {
	fps.mu.Lock()
	defer fps.mu.Unlock()
	for _, p := range fps.positioners {
		if p.Collided() {
			return ErrStillCollided
		}
	}
	fps.locked = false
	fps.lockedBy = nil
	return nil
}

// onCollisionDetected is wired into the CAN manager as OnCollision: it is
// invoked directly off the notifier's dispatch goroutine whenever a
// COLLISION_DETECTED reply arrives, independent of (and faster than) the
// next GET_STATUS poll that will set the positioner's own sticky flag.
func (fps *FPS) onCollisionDetected(positionerID uint16) {
	fps.mu.Lock()
	fps.locked = true
	already := false
	for _, id := range fps.lockedBy {
		if id == positionerID {
			already = true
			break
		}
	}
	if !already {
		fps.lockedBy = append(fps.lockedBy, positionerID)
	}
	fps.mu.Unlock()

	fps.observe("warning", "collision detected", map[string]any{"positioner_id": positionerID})
}

// StopTrajectory issues STOP_TRAJECTORY to every positioner. When
// clearFlags is true it also clears every positioner's sticky collision
// flag and unlocks the FPS, matching the "STOP_TRAJECTORY with
// clear_flags=true" recovery path.
func (fps *FPS) StopTrajectory(ctx context.Context, clearFlags bool) error {
	_, err := fps.SendCommand(ctx, StopTrajectory, []uint16{0}, nil, 2*time.Second, true)

	if clearFlags {
		for _, p := range fps.Positioners() {
			p.ClearCollision()
		}
		fps.mu.Lock()
		fps.locked = false
		fps.lockedBy = nil
		fps.mu.Unlock()
	}

	return err
}

// SendCommand is the single choke point every command passes through: it
// resolves the descriptor, enforces the locked/moving/disabled/bootloader
// preconditions, builds and dispatches the Command, and waits for it to
// reach a terminal state. sendNow bypasses the FIFO queue (used for
// emergency/abort commands); otherwise the command is enqueued behind
// whatever traffic is already in flight.
func (fps *FPS) SendCommand(ctx context.Context, id CommandID, positionerIDs []uint16, data []byte, timeout time.Duration, sendNow bool) (*Command, error) {
	desc, err := LookupCommand(id)
	if err != nil {
		return nil, err
	}

	broadcast := len(positionerIDs) == 1 && positionerIDs[0] == 0

	if !desc.Safe && fps.Locked() {
		return nil, ErrFPSLocked
	}
	if desc.MoveCommand && !sendNow && fps.Moving() {
		return nil, ErrFPSMoving
	}

	if !broadcast {
		for _, pid := range positionerIDs {
			p, ok := fps.Positioner(pid)
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownPositioner, pid)
			}
			if p.Disabled() && !desc.Safe {
				return nil, fmt.Errorf("%w: positioner %d", ErrPositionerDisabled, pid)
			}
			if desc.Bootloader != p.InBootloader() {
				return nil, fmt.Errorf("%w: positioner %d", ErrBootloaderMismatch, pid)
			}
		}
	}

	var payload [][]byte
	if data != nil {
		payload = [][]byte{data}
	}

	cmd, err := NewCommand(id, positionerIDs, payload, timeout)
	if err != nil {
		return nil, err
	}

	if sendNow {
		if err := fps.manager.SendNow(cmd, fps.knownPositionerIDsSorted()); err != nil {
			return cmd, err
		}
	} else {
		fps.manager.Enqueue(cmd)
	}

	if err := cmd.Wait(ctx); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// UpdateStatus issues GET_STATUS to positionerIDs (nil means broadcast to
// everyone) and applies every reply to its positioner. One retry is
// attempted on timeout, since a dropped broadcast reply is common enough
// on a busy bus to not be worth surfacing on the first miss.
func (fps *FPS) UpdateStatus(ctx context.Context, positionerIDs []uint16) error {
	cmd, err := fps.sendWithOneRetry(ctx, GetStatus, positionerIDs)
	if err != nil {
		return err
	}
	for _, reply := range cmd.Replies() {
		if p, ok := fps.Positioner(reply.PositionerID); ok {
			p.UpdateStatus(decodeStatusWord(reply.Data))
		}
	}
	return nil
}

// UpdatePosition issues GET_ACTUAL_POSITION to positionerIDs (nil means
// broadcast) and applies every reply's decoded position to its positioner.
func (fps *FPS) UpdatePosition(ctx context.Context, positionerIDs []uint16) error {
	cmd, err := fps.sendWithOneRetry(ctx, GetActualPosition, positionerIDs)
	if err != nil {
		return err
	}
	motorSteps := fps.cfg.Positioner.MotorSteps
	for _, reply := range cmd.Replies() {
		p, ok := fps.Positioner(reply.PositionerID)
		if !ok {
			continue
		}
		alpha, beta, err := decodePositionReply(reply.Data, motorSteps)
		if err != nil {
			fps.log.WithError(err).WithField("positioner_id", reply.PositionerID).Warn("malformed position reply")
			continue
		}
		p.UpdatePosition(alpha, beta)
	}
	return nil
}

// UpdateFirmwareVersion issues GET_FIRMWARE_VERSION to positionerIDs (nil
// means broadcast) and records the decoded version on each positioner.
func (fps *FPS) UpdateFirmwareVersion(ctx context.Context, positionerIDs []uint16) error {
	cmd, err := fps.sendWithOneRetry(ctx, GetFirmwareVersion, positionerIDs)
	if err != nil {
		return err
	}
	for _, reply := range cmd.Replies() {
		p, ok := fps.Positioner(reply.PositionerID)
		if !ok {
			continue
		}
		fw, err := decodeFirmwareVersion(reply.Data)
		if err != nil {
			fps.log.WithError(err).WithField("positioner_id", reply.PositionerID).Warn("malformed firmware reply")
			continue
		}
		p.SetFirmware(fw)
	}
	return nil
}

func (fps *FPS) sendWithOneRetry(ctx context.Context, id CommandID, positionerIDs []uint16) (*Command, error) {
	targets := positionerIDs
	if targets == nil {
		targets = []uint16{0}
	}
	cmd, err := fps.SendCommand(ctx, id, targets, nil, 2*time.Second, false)
	if err != nil && errors.Is(err, ErrCommandTimedOut) {
		cmd, err = fps.SendCommand(ctx, id, targets, nil, 2*time.Second, false)
	}
	return cmd, err
}

// positionsSnapshot returns the last known (alpha, beta) for each of the
// given positioner ids, omitting any without a known position yet.
func (fps *FPS) positionsSnapshot(pids []uint16) map[uint16][2]float64 {
	out := make(map[uint16][2]float64, len(pids))
	for _, pid := range pids {
		p, ok := fps.Positioner(pid)
		if !ok {
			continue
		}
		alpha, beta, ok := p.Position()
		if !ok {
			continue
		}
		out[pid] = [2]float64{alpha, beta}
	}
	return out
}

// OnlineCount returns the number of known positioners not marked offline,
// used to size the broadcast START_TRAJECTORY payload.
func (fps *FPS) OnlineCount() int {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	n := 0
	for _, p := range fps.positioners {
		if !p.Offline() {
			n++
		}
	}
	return n
}

func (fps *FPS) knownPositionerCount() int {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	return len(fps.positioners)
}

func (fps *FPS) knownPositionerIDsSorted() []uint16 {
	fps.mu.RLock()
	ids := make([]uint16, 0, len(fps.positioners))
	for id := range fps.positioners {
		ids = append(ids, id)
	}
	fps.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot is a consistent, serialisable point-in-time view of the whole
// FPS, used by the reporting/observability hook.
type Snapshot struct {
	Locked      bool
	LockedBy    []uint16
	Status      FPSStatus
	Positioners map[uint16]PositionerSnapshot
}

// Snapshot returns a consistent copy of the FPS's state.
func (fps *FPS) Snapshot() Snapshot {
	positioners := fps.Positioners()
	out := make(map[uint16]PositionerSnapshot, len(positioners))
	for id, p := range positioners {
		out[id] = p.Snapshot()
	}
	return Snapshot{
		Locked:      fps.Locked(),
		LockedBy:    fps.LockedBy(),
		Status:      fps.GlobalStatus(),
		Positioners: out,
	}
}

func (fps *FPS) observe(level, message string, fields map[string]any) {
	entry := fps.log.WithFields(log.Fields(fields))
	switch level {
	case "error":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	case "debug":
		entry.Debug(message)
	default:
		entry.Info(message)
	}
	fps.broadcaster.Notify(observer.Event{Level: level, Message: message, Fields: fields})
}

// Initialise probes the bus for connected positioners (GET_ID broadcast),
// registers the ones configured as offline at their fixed coordinates,
// refreshes firmware/status/position, runs each positioner's own Initialise
// precondition check, applies the configured collision-detection overrides,
// locks the FPS if any positioner already reports a sticky collision, and
// finally cross-checks the fibre/positioner layout. Grounded on
// original_source/src/jaeger/fps.py's FPS.initialise coroutine.
func (fps *FPS) Initialise(ctx context.Context) error {
	timeout := time.Duration(fps.cfg.FPS.InitialiseTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := fps.SendCommand(probeCtx, GetID, []uint16{0}, nil, timeout, true)
	if err != nil && !errors.Is(err, ErrCommandTimedOut) {
		return fmt.Errorf("GET_ID probe failed: %w", err)
	}
	if cmd != nil {
		for _, reply := range cmd.Replies() {
			if _, exists := fps.Positioner(reply.PositionerID); !exists {
				fps.AddPositioner(reply.PositionerID, reply.InterfaceIndex)
			} else {
				fps.manager.SetPositionerBus(reply.PositionerID, reply.InterfaceIndex)
			}
		}
	}

	for id, coords := range fps.cfg.FPS.OfflinePositioners {
		p, ok := fps.Positioner(id)
		if !ok {
			p = fps.AddPositioner(id, 0)
		}
		p.SetOffline(true)
		p.UpdatePosition(coords[0], coords[1])
	}

	if err := fps.UpdateFirmwareVersion(ctx, nil); err != nil {
		fps.log.WithError(err).Warn("failed to update firmware versions during initialise")
	}
	if err := fps.UpdateStatus(ctx, nil); err != nil {
		fps.log.WithError(err).Warn("failed to update status during initialise")
	}
	if err := fps.UpdatePosition(ctx, nil); err != nil {
		fps.log.WithError(err).Warn("failed to update positions during initialise")
	}

	for _, p := range fps.Positioners() {
		if p.Offline() {
			continue
		}
		if err := p.Initialise(ctx, fps.cfg.Positioner.DisablePreciseMoves); err != nil {
			fps.log.WithError(err).WithField("positioner_id", p.PositionerID).Warn("positioner failed to initialise")
		}
	}

	fps.disableCollisionDetection(ctx)

	if collided := fps.collidedPositionerIDs(); len(collided) > 0 {
		fps.Lock(collided)
	}

	if err := fps.CheckFibreAssignments(); err != nil {
		fps.observe("warning", "fibre assignment check failed", map[string]any{"error": err.Error()})
	}

	return nil
}

func (fps *FPS) collidedPositionerIDs() []uint16 {
	var ids []uint16
	for _, p := range fps.Positioners() {
		if p.Collided() {
			ids = append(ids, p.PositionerID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// disableCollisionDetection switches each configured positioner's arms into
// the "WITHOUT_COLLISION_DETECTION" loop mode, open- or closed-loop
// depending on whether it's also listed under open_loop_positioners.
func (fps *FPS) disableCollisionDetection(ctx context.Context) {
	for _, pid := range fps.cfg.FPS.DisableCollisionDetectPositioners {
		alphaCmd, betaCmd := AlphaClosedLoopWithoutCollisionDetection, BetaClosedLoopWithoutCollisionDetection
		if fps.isOpenLoop(pid) {
			alphaCmd, betaCmd = AlphaOpenLoopWithoutCollisionDetection, BetaOpenLoopWithoutCollisionDetection
		}
		if _, err := fps.SendCommand(ctx, alphaCmd, []uint16{pid}, nil, 2*time.Second, false); err != nil {
			fps.log.WithError(err).WithField("positioner_id", pid).Warn("failed to disable alpha collision detection")
		}
		if _, err := fps.SendCommand(ctx, betaCmd, []uint16{pid}, nil, 2*time.Second, false); err != nil {
			fps.log.WithError(err).WithField("positioner_id", pid).Warn("failed to disable beta collision detection")
		}
	}
}

func (fps *FPS) isOpenLoop(pid uint16) bool {
	for _, id := range fps.cfg.FPS.OpenLoopPositioners {
		if id == pid {
			return true
		}
	}
	return false
}

// CheckFibreAssignments verifies that every positioner the configuration
// names as disabled is actually known to the supervisor, i.e. either it
// responded to the GET_ID probe or it was registered as offline. Ids listed
// only as offline are not checked; the first unknown id is returned.
// A configured id that is neither is almost always a typo in the
// configuration file or a fibre plugged into the wrong connector.
func (fps *FPS) CheckFibreAssignments() error {
	fps.mu.RLock()
	defer fps.mu.RUnlock()
	for _, id := range fps.cfg.FPS.DisabledPositioners {
		if _, ok := fps.positioners[id]; !ok {
			return fmt.Errorf("%w: configured disabled positioner %d never responded", ErrUnknownPositioner, id)
		}
	}
	return nil
}

// Goto drives a single positioner to an absolute (alpha, beta), synthesising
// a minimal cowboy two-point trajectory. Non-cowboy moves (path-planned
// through kaiju's collision-avoidance grid) are out of scope; see
// ErrNotCowboy.
func (fps *FPS) Goto(ctx context.Context, positionerID uint16, alpha, beta, speed float64) error {
	if fps.Locked() {
		return ErrFPSLocked
	}
	if fps.Moving() {
		return ErrFPSMoving
	}

	p, ok := fps.Positioner(positionerID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPositioner, positionerID)
	}
	return p.Goto(ctx, alpha, beta, speed)
}

// gotoSinglePositioner is wired as the positioner's goto hook: it validates
// speed, refreshes the current position, synthesises the two-point
// trajectory, and hands it to SendTrajectory. Grounded on
// original_source/src/jaeger/commands/goto.py's go_cowboy branch.
func (fps *FPS) gotoSinglePositioner(ctx context.Context, positionerID uint16, alpha, beta, speed float64) error {
	if speed == 0 {
		speed = fps.cfg.Positioner.MotorSpeed
	}
	if speed < 500 || speed > 5000 {
		return fmt.Errorf("%w: speed %.1f out of range [500, 5000]", ErrConfigInvalid, speed)
	}

	if err := fps.UpdatePosition(ctx, []uint16{positionerID}); err != nil {
		fps.log.WithError(err).WithField("positioner_id", positionerID).Warn("failed to refresh position before goto")
	}

	p, ok := fps.Positioner(positionerID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPositioner, positionerID)
	}
	curAlpha, curBeta, ok := p.Position()
	if !ok {
		return fmt.Errorf("%w: positioner %d has no known position", ErrPositionerNotReady, positionerID)
	}

	moveTime := math.Max(gotoMoveTimeSeconds(alpha-curAlpha, speed), gotoMoveTimeSeconds(beta-curBeta, speed))
	const startDelay = 0.1

	data := TrajectoryData{
		positionerID: TrajectoryEntry{
			Alpha: []TrajectorySample{
				{AngleDeg: curAlpha, TimeS: startDelay},
				{AngleDeg: alpha, TimeS: startDelay + moveTime},
			},
			Beta: []TrajectorySample{
				{AngleDeg: curBeta, TimeS: startDelay},
				{AngleDeg: beta, TimeS: startDelay + moveTime},
			},
		},
	}

	_, err := SendTrajectory(ctx, fps, data, fps.cfg.FPS.UseSyncLine, fps.cfg.Positioner.TrajectoryDumpPath,
		map[string]any{"kind": "goto_cowboy", "positioner_id": positionerID})
	return err
}

// gotoMoveTimeSeconds converts a commanded-speed, angular-delta pair into a
// move duration. speedRPM is treated as motor RPM at a 1:1 output ratio (6
// degrees of arm travel per RPM-second); this is a documented engineering
// approximation, not a transcription of a specific formula, since the
// retrieved original sources reference but do not define one (see
// DESIGN.md).
func gotoMoveTimeSeconds(deltaDeg, speedRPM float64) float64 {
	degPerSec := speedRPM * 6.0
	if degPerSec <= 0 {
		degPerSec = 1
	}
	return math.Abs(deltaDeg) / degPerSec
}

// StartLowTempMonitor builds and starts the low-temperature monitor reading
// sensor at the configured interval.
func (fps *FPS) StartLowTempMonitor(sensor Device) {
	monitor := NewLowTempMonitor(fps, sensor)
	fps.mu.Lock()
	fps.lowTemp = monitor
	fps.mu.Unlock()
	monitor.Start()
}

func (fps *FPS) setTemperatureBits(bits FPSStatus) {
	fps.mu.Lock()
	defer fps.mu.Unlock()
	fps.tempBits = bits
}
