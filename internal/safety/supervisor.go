// Package safety implements the supervisor that can force zero velocity
// regardless of any other component's intent: e-stop latch, link watchdog and
// pit-length geofence. It runs once per control tick, on the control
// goroutine; it has no locking of its own.
package safety

import (
	"time"

	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// Events reports which overrides newly tripped on a tick, so the control loop
// can react once per transition (mode change, LED pattern, logging).
type Events struct {
	WatchdogTripped bool
	GeofenceTripped bool
}

type Supervisor struct {
	line       hardware.EStopLine
	watchdog   time.Duration
	pitLengthM float64

	status models.SafetyStatus
}

func NewSupervisor(line hardware.EStopLine, watchdog time.Duration, pitLengthM float64, now time.Time) *Supervisor {
	return &Supervisor{
		line:       line,
		watchdog:   watchdog,
		pitLengthM: pitLengthM,
		status: models.SafetyStatus{
			ConnectionAlive: true,
			LastCommandAt:   now,
		},
	}
}

// LatchEStop engages the sticky emergency latch. Idempotent.
func (s *Supervisor) LatchEStop(reason string) {
	if s.status.EStopLatched {
		return
	}
	s.status.EStopLatched = true
	utils.Logger.Errorf("EMERGENCY STOP latched: %s", reason)
}

// TryReleaseEStop clears the latch only when the hardware line also reads
// released. Both conditions are evaluated here, on the control goroutine, so
// the check is atomic with respect to the tick.
func (s *Supervisor) TryReleaseEStop() error {
	if !s.status.EStopLatched {
		return utils.NewValidationError("emergency stop is not latched")
	}
	if s.line.Pressed() {
		return utils.NewSafetyOverrideError(utils.FaultEStopLatched,
			"hardware e-stop line still pressed; release refused")
	}
	s.status.EStopLatched = false
	utils.Logger.Warnf("emergency stop released by operator")
	return nil
}

// Heartbeat records a valid command arrival. The link watchdog self-heals on
// the spot; an e-stop latch is never bypassed by a heartbeat.
func (s *Supervisor) Heartbeat(now time.Time) {
	s.status.LastCommandAt = now
	if !s.status.ConnectionAlive && !s.status.EStopLatched {
		s.status.ConnectionAlive = true
		utils.Logger.Infof("command link restored")
	}
}

// ClearGeofence acknowledges the breach. The caller is expected to also reset
// the odometer, otherwise the fence re-trips on the next tick.
func (s *Supervisor) ClearGeofence() {
	if s.status.GeofenceBreached {
		s.status.GeofenceBreached = false
		utils.Logger.Warnf("geofence breach acknowledged by operator override")
	}
}

// Tick re-evaluates every override against the current time and odometric
// distance. Runs unconditionally each control tick.
func (s *Supervisor) Tick(now time.Time, distanceM float64) Events {
	var ev Events

	s.status.EStopHardwareOn = s.line.Pressed()
	s.status.DistanceM = distanceM

	if s.status.ConnectionAlive && now.Sub(s.status.LastCommandAt) > s.watchdog {
		s.status.ConnectionAlive = false
		ev.WatchdogTripped = true
		utils.Logger.Warnf("link watchdog expired after %s of command silence; forcing stop", s.watchdog)
	}

	if !s.status.GeofenceBreached && distanceM >= s.pitLengthM {
		s.status.GeofenceBreached = true
		ev.GeofenceTripped = true
		utils.Logger.Warnf("pit limit reached at %.1f m; forcing stop until override", distanceM)
	}

	return ev
}

// Override returns the highest-priority active override, if any.
// Precedence: e-stop > geofence > dead link.
func (s *Supervisor) Override() (utils.FaultClass, bool) {
	switch {
	case s.status.EStopLatched:
		return utils.FaultEStopLatched, true
	case s.status.GeofenceBreached:
		return utils.FaultGeofence, true
	case !s.status.ConnectionAlive:
		return utils.FaultConnectionLoss, true
	}
	return "", false
}

// Veto forces the intent to zero while any override is active. The motor
// driver only ever sees the returned intent.
func (s *Supervisor) Veto(intent models.MotionIntent) models.MotionIntent {
	if _, active := s.Override(); active {
		return models.MotionIntent{}
	}
	return intent
}

// Status returns a copy of the current safety state for telemetry.
func (s *Supervisor) Status() models.SafetyStatus {
	return s.status
}
