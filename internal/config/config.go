// Package config loads the FPS configuration file, an INI document with
// one section per subsystem plus one [profiles.<name>] section per CAN
// interface profile.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Positioner groups the options shared by every physical positioner.
type Positioner struct {
	MotorSpeed            float64
	MotorSteps            int64
	TimeStep              float64
	TrajectoryDataNPoints int
	DisablePreciseMoves   bool
	PositionPollerDelay   float64
	StatusPollerDelay     float64
	TrajectoryDumpPath    string
}

// SafeMode restricts the beta range accepted in trajectories.
type SafeMode struct {
	Enabled bool
	MinBeta float64
}

// LowTemperature configures the low-temperature monitor.
type LowTemperature struct {
	Sensor                string
	ColdThreshold         float64
	VeryColdThreshold     float64
	Interval              float64
	RPMCold               float64
	RPMNormal             float64
	HoldingTorqueVeryCold float64
	HoldingTorqueNormal   float64
}

// FPS groups the supervisor-level options.
type FPS struct {
	UseSyncLine                       bool
	UseLock                          bool
	StartPollers                     bool
	InitialiseTimeout                float64
	StatusPollerDelay                float64
	PositionPollerDelay              float64
	DisabledPositioners              []uint16
	OfflinePositioners               map[uint16][2]float64
	DisableCollisionDetectPositioners []uint16
	OpenLoopPositioners              []uint16
	LatticeAlpha                     float64
	LatticeBeta                     float64
}

// Profile is one named CAN interface configuration.
type Profile struct {
	Name      string
	Interface string
	Channels  []string
	Args      map[string]string
}

// CAN groups the transport-level options.
type CAN struct {
	UIDBits  uint
	Profiles map[string]Profile
}

// Config is the fully parsed FPS configuration.
type Config struct {
	Positioner     Positioner
	FPS            FPS
	SafeMode       SafeMode
	LowTemperature LowTemperature
	CAN            CAN
}

// Load parses path into a Config, applying defaults for any option a
// section omits.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return FromFile(file)
}

// FromFile builds a Config from an already-loaded ini.File, so callers
// (and tests) can construct one in-memory via ini.Empty() plus NewKey.
func FromFile(file *ini.File) (*Config, error) {
	cfg := Default()

	pos := file.Section("positioner")
	cfg.Positioner.MotorSpeed = pos.Key("motor_speed").MustFloat64(cfg.Positioner.MotorSpeed)
	cfg.Positioner.MotorSteps = pos.Key("motor_steps").MustInt64(cfg.Positioner.MotorSteps)
	cfg.Positioner.TimeStep = pos.Key("time_step").MustFloat64(cfg.Positioner.TimeStep)
	cfg.Positioner.TrajectoryDataNPoints = pos.Key("trajectory_data_n_points").MustInt(cfg.Positioner.TrajectoryDataNPoints)
	cfg.Positioner.DisablePreciseMoves = pos.Key("disable_precise_moves").MustBool(cfg.Positioner.DisablePreciseMoves)
	cfg.Positioner.PositionPollerDelay = pos.Key("position_poller_delay").MustFloat64(cfg.Positioner.PositionPollerDelay)
	cfg.Positioner.StatusPollerDelay = pos.Key("status_poller_delay").MustFloat64(cfg.Positioner.StatusPollerDelay)
	cfg.Positioner.TrajectoryDumpPath = pos.Key("trajectory_dump_path").MustString(cfg.Positioner.TrajectoryDumpPath)

	fpsSec := file.Section("fps")
	cfg.FPS.UseSyncLine = fpsSec.Key("use_sync_line").MustBool(cfg.FPS.UseSyncLine)
	cfg.FPS.UseLock = fpsSec.Key("use_lock").MustBool(cfg.FPS.UseLock)
	cfg.FPS.StartPollers = fpsSec.Key("start_pollers").MustBool(cfg.FPS.StartPollers)
	cfg.FPS.InitialiseTimeout = fpsSec.Key("initialise_timeouts").MustFloat64(cfg.FPS.InitialiseTimeout)
	cfg.FPS.StatusPollerDelay = fpsSec.Key("status_poller_delay").MustFloat64(cfg.FPS.StatusPollerDelay)
	cfg.FPS.PositionPollerDelay = fpsSec.Key("position_poller_delay").MustFloat64(cfg.FPS.PositionPollerDelay)
	cfg.FPS.DisabledPositioners = parseIDList(fpsSec.Key("disabled_positioners").String())
	cfg.FPS.DisableCollisionDetectPositioners = parseIDList(fpsSec.Key("disable_collision_detection_positioners").String())
	cfg.FPS.OpenLoopPositioners = parseIDList(fpsSec.Key("open_loop_positioners").String())

	safe := file.Section("safe_mode")
	if safe.HasKey("enabled") {
		cfg.SafeMode.Enabled = safe.Key("enabled").MustBool(false)
	}
	cfg.SafeMode.MinBeta = safe.Key("min_beta").MustFloat64(cfg.SafeMode.MinBeta)

	lowtemp := file.Section("lowtemp")
	cfg.LowTemperature.Sensor = lowtemp.Key("sensor").MustString(cfg.LowTemperature.Sensor)
	cfg.LowTemperature.ColdThreshold = lowtemp.Key("cold_threshold").MustFloat64(cfg.LowTemperature.ColdThreshold)
	cfg.LowTemperature.VeryColdThreshold = lowtemp.Key("very_cold_threshold").MustFloat64(cfg.LowTemperature.VeryColdThreshold)
	cfg.LowTemperature.Interval = lowtemp.Key("interval").MustFloat64(cfg.LowTemperature.Interval)
	cfg.LowTemperature.RPMCold = lowtemp.Key("rpm_cold").MustFloat64(cfg.LowTemperature.RPMCold)
	cfg.LowTemperature.RPMNormal = lowtemp.Key("rpm_normal").MustFloat64(cfg.LowTemperature.RPMNormal)
	cfg.LowTemperature.HoldingTorqueVeryCold = lowtemp.Key("holding_torque_very_cold").MustFloat64(cfg.LowTemperature.HoldingTorqueVeryCold)
	cfg.LowTemperature.HoldingTorqueNormal = lowtemp.Key("holding_torque_normal").MustFloat64(cfg.LowTemperature.HoldingTorqueNormal)

	can := file.Section("can")
	cfg.CAN.UIDBits = uint(can.Key("uid_bits").MustUint(uint(cfg.CAN.UIDBits)))
	cfg.CAN.Profiles = make(map[string]Profile)

	for _, section := range file.Sections() {
		name := section.Name()
		const prefix = "profiles."
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		profileName := name[len(prefix):]
		args := make(map[string]string)
		for _, key := range section.Keys() {
			switch key.Name() {
			case "interface", "channel", "channels":
			default:
				args[key.Name()] = key.String()
			}
		}
		cfg.CAN.Profiles[profileName] = Profile{
			Name:      profileName,
			Interface: section.Key("interface").String(),
			Channels:  splitCSV(section.Key("channels").String()),
			Args:      args,
		}
	}

	return cfg, nil
}

// Default returns a Config populated with the typical values named in the
// configuration reference (MOTOR_STEPS=2^30, TIME_STEP=0.5ms, etc).
func Default() *Config {
	return &Config{
		Positioner: Positioner{
			MotorSpeed:            1000,
			MotorSteps:            1 << 30,
			TimeStep:              5e-4,
			TrajectoryDataNPoints: 10,
			StatusPollerDelay:     1.0,
			PositionPollerDelay:   1.0,
			TrajectoryDumpPath:    "/data/fps/trajectories",
		},
		FPS: FPS{
			UseSyncLine:         true,
			UseLock:             true,
			StartPollers:        true,
			InitialiseTimeout:   5,
			StatusPollerDelay:   1.0,
			PositionPollerDelay: 1.0,
			LatticeAlpha:        0,
			LatticeBeta:         180,
		},
		SafeMode: SafeMode{Enabled: true, MinBeta: 160},
		LowTemperature: LowTemperature{
			ColdThreshold:         0,
			VeryColdThreshold:     -10,
			Interval:              60,
			RPMCold:               500,
			RPMNormal:             1000,
			HoldingTorqueVeryCold: 30,
			HoldingTorqueNormal:   20,
		},
		CAN: CAN{UIDBits: 6, Profiles: map[string]Profile{}},
	}
}

func parseIDList(raw string) []uint16 {
	if raw == "" {
		return nil
	}
	var ids []uint16
	var current uint32
	have := false
	flush := func() {
		if have {
			ids = append(ids, uint16(current))
		}
		current, have = 0, false
	}
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			current = current*10 + uint32(r-'0')
			have = true
		default:
			flush()
		}
	}
	flush()
	return ids
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i, r := range raw {
		if r == ',' {
			out = append(out, trimASCIISpace(raw[start:i]))
			start = i + 1
		}
	}
	out = append(out, trimASCIISpace(raw[start:]))
	return out
}

func trimASCIISpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
