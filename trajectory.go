package fps

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sdss/fps-core/internal/crc"
)

// TrajectorySample is one (angle, time) waypoint of a single arm.
type TrajectorySample struct {
	AngleDeg float64
	TimeS    float64
}

// TrajectoryEntry is the full alpha/beta waypoint list for one positioner.
type TrajectoryEntry struct {
	Alpha []TrajectorySample
	Beta  []TrajectorySample
}

// TrajectoryData maps positioner id to its per-arm waypoint lists.
type TrajectoryData map[uint16]TrajectoryEntry

// Failure kinds recorded in TrajectoryError.FailedPositioners.
const (
	FailureNoData            = "NO_DATA"
	FailureNotReady           = "NOT_READY"
	FailureSafeMode           = "SAFE_MODE"
	FailureInvalidTrajectory  = "INVALID_TRAJECTORY"
	FailureValueOutOfRange    = "VALUE_OUT_OF_RANGE"
)

// TrajectoryError carries a reference to the failed Trajectory plus a
// per-positioner failure-kind map.
type TrajectoryError struct {
	Trajectory        *Trajectory
	FailedPositioners map[uint16]string
	Err               error
}

func (e *TrajectoryError) Error() string {
	return fmt.Sprintf("trajectory failed: %v (failed positioners: %v)", e.Err, e.FailedPositioners)
}

func (e *TrajectoryError) Unwrap() error { return e.Err }

// Trajectory is the handle returned by SendTrajectory; it carries the
// validated data, run-time bookkeeping, and the eventual dump journal.
type Trajectory struct {
	fps         *FPS
	data        TrajectoryData
	useSyncLine bool
	dumpPath    string
	extra       map[string]any

	nAlpha, nBeta map[uint16]int
	moveTime      float64

	startTime, endTime             time.Time
	trajectorySendTime             float64
	trajectoryStartTime            float64
	initialPositions, finalPositions map[uint16][2]float64
	success                         bool
}

type trajectoryDumpRecord struct {
	StartTime            string                  `json:"start_time"`
	EndTime               string                  `json:"end_time"`
	Success               bool                    `json:"success"`
	UseSyncLine           bool                    `json:"use_sync_line"`
	TrajectorySendTime    float64                 `json:"trajectory_send_time"`
	TrajectoryStartTime   float64                 `json:"trajectory_start_time"`
	InitialPositions      map[uint16][2]float64   `json:"initial_positions"`
	FinalPositions        map[uint16][2]float64   `json:"final_positions"`
	Trajectory            TrajectoryData          `json:"trajectory"`
	Extra                 map[string]any          `json:"extra,omitempty"`
	Checksum              uint16                  `json:"checksum"`
}

// SendTrajectory validates, uploads, and starts data on fps, returning the
// Trajectory handle regardless of outcome (callers inspect err for
// failure). When dumpDir is not empty, the handle's dump journal is
// written, even on failure; with an empty dumpDir no journal is written.
func SendTrajectory(ctx context.Context, fps *FPS, data TrajectoryData, useSyncLine bool, dumpDir string, extra map[string]any) (*Trajectory, error) {
	traj := &Trajectory{
		fps:         fps,
		data:        data,
		useSyncLine: useSyncLine,
		dumpPath:    dumpDir,
		extra:       extra,
		nAlpha:      make(map[uint16]int),
		nBeta:       make(map[uint16]int),
	}

	traj.startTime = time.Now()
	defer func() {
		traj.endTime = time.Now()
		traj.writeDump()
	}()

	if err := traj.validate(); err != nil {
		fps.observe("error", "trajectory validation failed", map[string]any{"error": err.Error()})
		return traj, err
	}

	if err := traj.send(ctx); err != nil {
		fps.StopTrajectory(ctx, false)
		traj.success = false
		return traj, err
	}

	if err := traj.start(ctx); err != nil {
		fps.StopTrajectory(ctx, false)
		traj.success = false
		return traj, err
	}

	traj.success = true
	return traj, nil
}

func (t *Trajectory) fail(kind string, failed map[uint16]string, err error) error {
	return &TrajectoryError{Trajectory: t, FailedPositioners: failed, Err: err}
}

// validate implements the Validate stage: non-empty, no duplicates (maps
// can't hold duplicate keys so this is implicit), both arms non-empty,
// safe-mode beta floor, and n_points/move_time bookkeeping.
func (t *Trajectory) validate() error {
	if len(t.data) == 0 {
		return t.fail(FailureNoData, nil, ErrTrajectoryEmpty)
	}

	cfg := t.fps.SafeMode()
	var moveTime float64
	failed := make(map[uint16]string)
	sawSafeModeViolation := false

	for pid, entry := range t.data {
		if len(entry.Alpha) == 0 || len(entry.Beta) == 0 {
			failed[pid] = FailureNoData
			continue
		}
		if cfg.Enabled {
			for _, s := range entry.Beta {
				if s.AngleDeg < cfg.MinBeta {
					failed[pid] = FailureSafeMode
					sawSafeModeViolation = true
					break
				}
			}
			if _, alreadyFailed := failed[pid]; alreadyFailed {
				continue
			}
		}
		t.nAlpha[pid] = len(entry.Alpha)
		t.nBeta[pid] = len(entry.Beta)
		for _, s := range entry.Alpha {
			if s.TimeS > moveTime {
				moveTime = s.TimeS
			}
		}
		for _, s := range entry.Beta {
			if s.TimeS > moveTime {
				moveTime = s.TimeS
			}
		}
	}

	if len(failed) > 0 {
		err := error(ErrMissingArm)
		if sawSafeModeViolation {
			err = ErrSafeModeViolation
		}
		return &TrajectoryError{Trajectory: t, FailedPositioners: failed, Err: err}
	}

	t.moveTime = moveTime
	return nil
}

// send implements the Send stage.
func (t *Trajectory) send(ctx context.Context) error {
	if t.fps.Locked() {
		return t.fail("", nil, ErrFPSLocked)
	}
	if t.fps.Moving() {
		return t.fail("", nil, ErrFPSMoving)
	}

	failed := make(map[uint16]string)
	for pid := range t.data {
		p, ok := t.fps.Positioner(pid)
		if !ok || p.Disabled() {
			failed[pid] = FailureNotReady
			continue
		}
		status := p.Status()
		if !status.Has(DatumAlphaInitialized) || !status.Has(DatumBetaInitialized) || !status.Has(DisplacementCompleted) {
			failed[pid] = FailureNotReady
		}
	}
	if len(failed) > 0 {
		return &TrajectoryError{Trajectory: t, FailedPositioners: failed, Err: ErrPositionerNotReady}
	}

	if _, err := t.fps.SendCommand(ctx, SendTrajectoryAbort, []uint16{0}, nil, 2*time.Second, true); err != nil {
		t.fps.log.WithError(err).Warn("SEND_TRAJECTORY_ABORT before trajectory failed")
	}
	if _, err := t.fps.SendCommand(ctx, StopTrajectory, []uint16{0}, nil, 2*time.Second, true); err != nil {
		t.fps.log.WithError(err).Warn("STOP_TRAJECTORY before trajectory failed")
	}
	t.fps.UpdateStatus(ctx, nil)

	t.initialPositions = t.fps.positionsSnapshot(t.pidsSorted())

	sendStart := time.Now()

	for _, pid := range t.pidsSorted() {
		payload := encodeNewTrajectoryPayload(uint16(t.nAlpha[pid]), uint16(t.nBeta[pid]))
		if _, err := t.fps.SendCommand(ctx, SendNewTrajectory, []uint16{pid}, payload, 5*time.Second, false); err != nil {
			return &TrajectoryError{Trajectory: t, FailedPositioners: map[uint16]string{pid: FailureInvalidTrajectory}, Err: err}
		}
	}

	cfg := t.fps.Config()
	if err := t.streamArm(ctx, t.data, true, cfg.Positioner.MotorSteps, cfg.Positioner.TimeStep); err != nil {
		return err
	}
	if err := t.streamArm(ctx, t.data, false, cfg.Positioner.MotorSteps, cfg.Positioner.TimeStep); err != nil {
		return err
	}

	for _, pid := range t.pidsSorted() {
		if _, err := t.fps.SendCommand(ctx, TrajectoryDataEnd, []uint16{pid}, nil, 5*time.Second, false); err != nil {
			return &TrajectoryError{Trajectory: t, FailedPositioners: map[uint16]string{pid: FailureInvalidTrajectory}, Err: err}
		}
	}

	t.trajectorySendTime = time.Since(sendStart).Seconds()
	return nil
}

// streamArm uploads one arm (alpha when isAlpha, beta otherwise), walking
// the points in chunks of trajectory_data_n_points. Each point is its own
// SEND_TRAJECTORY_DATA command, sent concurrently to every positioner that
// still has a sample at that point index; points go out one after another.
func (t *Trajectory) streamArm(ctx context.Context, data TrajectoryData, isAlpha bool, motorSteps int64, timeStep float64) error {
	chunkSize := t.fps.Config().Positioner.TrajectoryDataNPoints
	if chunkSize <= 0 {
		chunkSize = 10
	}

	maxLen := 0
	for _, entry := range data {
		arm := entry.Beta
		if isAlpha {
			arm = entry.Alpha
		}
		if len(arm) > maxLen {
			maxLen = len(arm)
		}
	}

	for chunkStart := 0; chunkStart < maxLen; chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > maxLen {
			chunkEnd = maxLen
		}

		for point := chunkStart; point < chunkEnd; point++ {
			payloads := make(map[uint16][]byte)
			for pid, entry := range data {
				arm := entry.Beta
				if isAlpha {
					arm = entry.Alpha
				}
				if point >= len(arm) {
					continue
				}
				payloads[pid] = encodeTrajectoryPoint(arm[point], motorSteps, timeStep)
			}
			if len(payloads) == 0 {
				continue
			}
			if failed, err := t.sendConcurrent(ctx, SendTrajectoryData, payloads, 5*time.Second); err != nil {
				return &TrajectoryError{Trajectory: t, FailedPositioners: failed, Err: err}
			}
		}
	}
	return nil
}

// sendConcurrent fires one unicast Command per (positioner, payload) pair
// concurrently and waits for all to finish, collecting per-positioner
// failures rather than stopping at the first one.
func (t *Trajectory) sendConcurrent(ctx context.Context, id CommandID, payloads map[uint16][]byte, timeout time.Duration) (map[uint16]string, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := make(map[uint16]string)

	for pid, payload := range payloads {
		wg.Add(1)
		go func(pid uint16, payload []byte) {
			defer wg.Done()
			if _, err := t.fps.SendCommand(ctx, id, []uint16{pid}, payload, timeout, false); err != nil {
				mu.Lock()
				failed[pid] = FailureInvalidTrajectory
				mu.Unlock()
			}
		}(pid, payload)
	}
	wg.Wait()

	if len(failed) > 0 {
		return failed, ErrInvalidTrajectory
	}
	return nil, nil
}

// start implements the Start and Supervise stages.
func (t *Trajectory) start(ctx context.Context) error {
	startBegin := time.Now()

	if t.useSyncLine {
		if !t.fps.SyncLineOpen() {
			return t.fail("", nil, ErrSyncLineNotOpen)
		}
		if err := t.fps.CloseSyncLine(); err != nil {
			return err
		}
		time.AfterFunc(500*time.Millisecond, func() {
			if err := t.fps.OpenSyncLine(); err != nil {
				t.fps.log.WithError(err).Warn("failed to reopen sync line")
			}
		})
	} else {
		online := t.fps.OnlineCount()
		payload := make([]byte, 2)
		binary.LittleEndian.PutUint16(payload, uint16(online))
		if _, err := t.fps.SendCommand(ctx, StartTrajectory, []uint16{0}, payload, 2*time.Second, false); err != nil {
			return t.fail("", nil, fmt.Errorf("START_TRAJECTORY: %w", err))
		}
	}

	t.trajectoryStartTime = time.Since(startBegin).Seconds()

	t.fps.StopPollers()
	defer t.fps.StartPollersIfConfigured()

	deadline := time.Now().Add(time.Duration(t.moveTime+3) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.fps.Locked() {
				return t.fail("", nil, ErrFPSLocked)
			}
			status := t.fps.GlobalStatus()
			if status&Idle != 0 {
				goto supervised
			}
			if time.Now().After(deadline) {
				return t.fail("", nil, ErrTrajectoryStuck)
			}
		}
	}

supervised:
	// Firmware sometimes asserts DISPLACEMENT_COMPLETED without the arm
	// having moved; re-issue the abort and verify actual position.
	if _, err := t.fps.SendCommand(ctx, SendTrajectoryAbort, []uint16{0}, nil, 2*time.Second, true); err != nil {
		t.fps.log.WithError(err).Warn("post-motion SEND_TRAJECTORY_ABORT failed")
	}
	t.fps.UpdatePosition(ctx, nil)

	t.finalPositions = t.fps.positionsSnapshot(t.pidsSorted())

	for pid, entry := range t.data {
		lastAlpha := entry.Alpha[len(entry.Alpha)-1].AngleDeg
		lastBeta := entry.Beta[len(entry.Beta)-1].AngleDeg
		final, ok := t.finalPositions[pid]
		if !ok {
			continue
		}
		if math.Abs(final[0]-lastAlpha) > 0.1 || math.Abs(final[1]-lastBeta) > 0.1 {
			return &TrajectoryError{
				Trajectory:        t,
				FailedPositioners: map[uint16]string{pid: FailureValueOutOfRange},
				Err:               ErrPositionOutOfTolerance,
			}
		}
	}

	return nil
}

func (t *Trajectory) pidsSorted() []uint16 {
	ids := make([]uint16, 0, len(t.data))
	for pid := range t.data {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// writeDump writes the structured journal record for this trajectory run.
// Failures to write are logged, not surfaced, since the trajectory outcome
// itself has already been decided.
func (t *Trajectory) writeDump() {
	if t.dumpPath == "" {
		return
	}

	record := trajectoryDumpRecord{
		StartTime:           t.startTime.Format(time.RFC3339Nano),
		EndTime:              t.endTime.Format(time.RFC3339Nano),
		Success:              t.success,
		UseSyncLine:          t.useSyncLine,
		TrajectorySendTime:   t.trajectorySendTime,
		TrajectoryStartTime:  t.trajectoryStartTime,
		InitialPositions:     t.initialPositions,
		FinalPositions:       t.finalPositions,
		Trajectory:           t.data,
		Extra:                t.extra,
	}

	body, err := json.Marshal(record)
	if err != nil {
		log.WithError(err).Error("failed to marshal trajectory dump")
		return
	}

	var sum crc.CRC16
	sum.Block(body)
	record.Checksum = uint16(sum)

	body, err = json.MarshalIndent(record, "", "  ")
	if err != nil {
		log.WithError(err).Error("failed to marshal trajectory dump")
		return
	}

	name := fmt.Sprintf("trajectory-%s.json", t.startTime.Format("20060102T150405.000"))
	path := filepath.Join(t.dumpPath, name)
	if err := os.MkdirAll(t.dumpPath, 0o755); err != nil {
		log.WithError(err).WithField("path", t.dumpPath).Warn("failed to create trajectory dump directory")
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.WithError(err).WithField("path", path).Warn("failed to write trajectory dump")
	}
}

func encodeNewTrajectoryPayload(nAlpha, nBeta uint16) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], nAlpha)
	binary.LittleEndian.PutUint16(buf[2:4], nBeta)
	return buf
}

// encodeTrajectoryPoint converts one (angle_deg, time_s) waypoint into the
// 8-byte little-endian (steps int32, ticks uint32) wire payload.
func encodeTrajectoryPoint(sample TrajectorySample, motorSteps int64, timeStep float64) []byte {
	steps := int32(math.Round(sample.AngleDeg / 360 * float64(motorSteps)))
	ticks := uint32(math.Round(sample.TimeS / timeStep))

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(steps))
	binary.LittleEndian.PutUint32(buf[4:8], ticks)
	return buf
}

// AngleToSteps converts an angle in degrees to motor steps, matching the
// encoding used for SEND_TRAJECTORY_DATA and GO_TO_ABSOLUTE_POSITION.
func AngleToSteps(angleDeg float64, motorSteps int64) int32 {
	return int32(math.Round(angleDeg / 360 * float64(motorSteps)))
}

// StepsToAngle is the inverse of AngleToSteps.
func StepsToAngle(steps int32, motorSteps int64) float64 {
	return float64(steps) / float64(motorSteps) * 360
}
