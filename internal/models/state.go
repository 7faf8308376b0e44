package models

import "time"

// Mode is the navigation mode of the robot.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeManual     Mode = "manual"
	ModeInspecting Mode = "inspection_running"
	ModePaused     Mode = "inspection_paused"
	ModeEStopped   Mode = "emergency_stopped"
)

// MotionIntent is the commanded drive expressed as a linear percentage and a
// turn bias. linear in [-100,100]; turn in [-1,1] where the sign picks the
// side. Pivot turns both wheels at opposite signs.
type MotionIntent struct {
	LinearPct float64 `json:"linear_pct"`
	TurnBias  float64 `json:"turn_bias"`
	Pivot     bool    `json:"pivot"`
}

// Zero reports whether the intent commands no motion.
func (m MotionIntent) Zero() bool {
	return m.LinearPct == 0 && (!m.Pivot || m.TurnBias == 0)
}

// Pose is the odometric position estimate, the only position source.
type Pose struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingDeg float64 `json:"theta"`
}

// RobotState is owned and mutated exclusively by the control tick.
type RobotState struct {
	Mode        Mode
	Intent      MotionIntent
	SetpointPct float64
	Pose        Pose
	DutyLeft    float64
	DutyRight   float64
	LightPct    float64
	LightOn     bool
}

// SafetyStatus is owned and mutated exclusively by the safety supervisor
// inside the control tick.
type SafetyStatus struct {
	EStopLatched     bool
	EStopHardwareOn  bool // hardware line currently reads pressed
	LastCommandAt    time.Time
	ConnectionAlive  bool
	DistanceM        float64
	GeofenceBreached bool
}

// SensorReadings is the latest poll of the range/battery collaborator.
type SensorReadings struct {
	FrontCM    float64   `json:"front"`
	RearCM     float64   `json:"rear"`
	LeftCM     float64   `json:"left"`
	BatterySOC float64   `json:"battery_soc"`
	Stale      bool      `json:"stale"`
	ReadAt     time.Time `json:"read_at"`
}

// TelemetrySnapshot is the immutable point-in-time union pushed at 5 Hz and
// returned by the status query.
type TelemetrySnapshot struct {
	Timestamp        time.Time      `json:"timestamp"`
	Pose             Pose           `json:"pose"`
	Mode             Mode           `json:"mode"`
	SpeedSetpoint    float64        `json:"speed_setpoint"`
	DutyLeft         float64        `json:"duty_left"`
	DutyRight        float64        `json:"duty_right"`
	DistanceTraveled float64        `json:"distance_traveled"`
	BatterySOC       float64        `json:"battery_soc"`
	SensorDistances  SensorDistance `json:"sensor_distances"`
	SensorsStale     bool           `json:"sensors_stale"`
	EStopLatched     bool           `json:"estop_latched"`
	ConnectionAlive  bool           `json:"connection_alive"`
	GeofenceBreached bool           `json:"geofence_breached"`
	LightPct         float64        `json:"light_pct"`
	LightOn          bool           `json:"light_on"`
}

type SensorDistance struct {
	Front float64 `json:"front"`
	Rear  float64 `json:"rear"`
	Left  float64 `json:"left"`
}
