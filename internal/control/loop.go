// Package control runs the fixed-rate control tick that owns all mutable
// robot state. Every other activity talks to it through the serialized
// command queue or reads the immutable snapshot it publishes each tick.
package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"inspection-robot/internal/drive"
	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/nav"
	"inspection-robot/internal/safety"
	"inspection-robot/internal/sensors"
	"inspection-robot/internal/utils"
)

// commandQueueSize bounds pending commands; the queue drains fully each tick.
const commandQueueSize = 64

// Auditor receives operational history. Implementations must not block; the
// database trail writes asynchronously.
type Auditor interface {
	LogCommand(cmd models.MotionCommand, ack models.CommandAck)
	StartSession(at time.Time)
	EndSession(at time.Time, distanceM float64, completed bool)
	RecordSnapshot(distanceM float64, sizeBytes int, at time.Time)
}

type request struct {
	cmd   models.MotionCommand
	reply chan models.CommandAck
}

type Loop struct {
	machine    *nav.Machine
	supervisor *safety.Supervisor
	driver     *drive.Driver
	odometry   *drive.Odometry
	encoder    hardware.EncoderSource
	monitor    *sensors.Monitor
	camera     hardware.Camera
	leds       hardware.LedPanel
	auditor    Auditor

	tick     time.Duration
	commands chan request
	estopIn  <-chan struct{}
	forced   atomic.Bool

	lightOn      bool
	lightPct     float64
	brakePending bool
	ledPattern   string

	snapshot atomic.Value // models.TelemetrySnapshot
}

type Deps struct {
	Machine    *nav.Machine
	Supervisor *safety.Supervisor
	Driver     *drive.Driver
	Odometry   *drive.Odometry
	Encoder    hardware.EncoderSource
	Monitor    *sensors.Monitor
	Camera     hardware.Camera
	Leds       hardware.LedPanel
	Auditor    Auditor
	EStopLine  hardware.EStopLine
	Tick       time.Duration
	LightPct   float64
}

func NewLoop(d Deps) *Loop {
	l := &Loop{
		machine:    d.Machine,
		supervisor: d.Supervisor,
		driver:     d.Driver,
		odometry:   d.Odometry,
		encoder:    d.Encoder,
		monitor:    d.Monitor,
		camera:     d.Camera,
		leds:       d.Leds,
		auditor:    d.Auditor,
		tick:       d.Tick,
		commands:   make(chan request, commandQueueSize),
		estopIn:    d.EStopLine.Events(),
		lightPct:   d.LightPct,
	}
	l.snapshot.Store(l.buildSnapshot(time.Now()))
	return l
}

// Run drives the control tick until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	utils.Logger.Infof("control loop started (tick %s)", l.tick)
	for {
		select {
		case <-ctx.Done():
			l.driver.ForceStop()
			utils.Logger.Infof("control loop stopped, motors cut")
			return
		case now := <-ticker.C:
			l.step(now)
		}
	}
}

// Submit queues one command and waits for its acknowledgment.
func (l *Loop) Submit(ctx context.Context, cmd models.MotionCommand) models.CommandAck {
	req := request{cmd: cmd, reply: make(chan models.CommandAck, 1)}
	select {
	case l.commands <- req:
	case <-ctx.Done():
		return l.ackFor(cmd, models.AckRejected, utils.FaultValidation, "command queue saturated")
	}
	select {
	case ack := <-req.reply:
		return ack
	case <-ctx.Done():
		return l.ackFor(cmd, models.AckRejected, utils.FaultValidation, "acknowledgment timed out")
	}
}

// ForceEStop latches emergency stop ahead of the queue: the flag is set
// before this returns, so no motion command queued earlier can take effect
// after it. Applied at the top of the next tick.
func (l *Loop) ForceEStop() models.CommandAck {
	l.forced.Store(true)
	return l.ackFor(models.MotionCommand{Action: models.ActionEStop},
		models.AckAccepted, "", "emergency stop latched")
}

// Snapshot returns the most recent published telemetry snapshot.
func (l *Loop) Snapshot() models.TelemetrySnapshot {
	return l.snapshot.Load().(models.TelemetrySnapshot)
}

// CaptureStill grabs the latest camera frame and records it against the
// current odometric position. Safe from any goroutine: the camera collaborator
// is internally synchronized and only the snapshot slot is read.
func (l *Loop) CaptureStill() ([]byte, error) {
	frame, err := l.camera.LatestFrame()
	if err != nil {
		return nil, utils.NewHardwareFault("camera unavailable", err)
	}
	if l.auditor != nil {
		snap := l.Snapshot()
		l.auditor.RecordSnapshot(snap.DistanceTraveled, len(frame), time.Now())
	}
	return frame, nil
}

// step is one control tick: safety events, supervisor, queued commands,
// veto, drive ramp, odometry, snapshot.
func (l *Loop) step(now time.Time) {
	// 1. hardware e-stop edges and the forced latch beat everything else
	for drained := false; !drained; {
		select {
		case <-l.estopIn:
			l.engageEStop("hardware e-stop button")
		default:
			drained = true
		}
	}
	if l.forced.Swap(false) {
		l.engageEStop("operator force-estop")
	}

	// 2. supervisor runs unconditionally, not only on command arrival
	ev := l.supervisor.Tick(now, l.odometry.DistanceM())
	if ev.WatchdogTripped {
		l.machine.Halt()
	}

	// 3. serialized command drain; each command is acknowledged
	for drained := false; !drained; {
		select {
		case req := <-l.commands:
			ack := l.apply(req.cmd, now)
			if l.auditor != nil {
				l.auditor.LogCommand(req.cmd, ack)
			}
			req.reply <- ack
		default:
			drained = true
		}
	}

	// 4. post-veto intent is the only thing the driver ever sees
	intent := l.supervisor.Veto(l.machine.Intent())
	switch {
	case l.brakePending:
		l.driver.Brake()
		l.brakePending = false
	case intent.Zero():
		l.driver.Stop()
	default:
		l.driver.Apply(intent)
	}
	l.driver.Tick()

	// 5. integrate odometry from the encoder ticks of this period
	tl, tr := l.encoder.TakeTicks()
	l.odometry.Integrate(tl, tr)

	// 6. publish the snapshot and refresh signaling
	l.snapshot.Store(l.buildSnapshot(now))
	l.updateLeds()
}

func (l *Loop) engageEStop(reason string) {
	l.supervisor.LatchEStop(reason)
	l.machine.EStop()
	l.driver.ForceStop()
}

// apply interprets one command. Validation failures reject with the state
// unchanged; active overrides acknowledge motion commands as suppressed.
func (l *Loop) apply(cmd models.MotionCommand, now time.Time) models.CommandAck {
	l.supervisor.Heartbeat(now)

	switch cmd.Action {
	case models.ActionForward, models.ActionBackward,
		models.ActionTurnLeft, models.ActionTurnRight,
		models.ActionPivotLeft, models.ActionPivotRight:
		if err := l.machine.Drive(cmd.Action); err != nil {
			return l.reject(cmd, err)
		}
		return l.motionAck(cmd)

	case models.ActionStop:
		if err := l.machine.Drive(cmd.Action); err != nil {
			return l.reject(cmd, err)
		}
		return l.ackFor(cmd, models.AckAccepted, "", "ramping to stop")

	case models.ActionBrake:
		if err := l.machine.Drive(cmd.Action); err != nil {
			return l.reject(cmd, err)
		}
		if _, overridden := l.supervisor.Override(); !overridden {
			l.brakePending = true
		}
		return l.ackFor(cmd, models.AckAccepted, "", "braking")

	case models.ActionSetSpeed:
		v := l.machine.SetSpeed(cmd.ValueOr(l.machine.Setpoint(), 0, 100))
		return l.ackFor(cmd, models.AckAccepted, "", speedMsg(v))
	case models.ActionSpeedUp:
		return l.ackFor(cmd, models.AckAccepted, "", speedMsg(l.machine.SpeedUp()))
	case models.ActionSpeedDown:
		return l.ackFor(cmd, models.AckAccepted, "", speedMsg(l.machine.SpeedDown()))

	case models.ActionInspStart:
		if err := l.machine.StartInspection(); err != nil {
			return l.reject(cmd, err)
		}
		l.odometry.Reset()
		l.setLighting(true, l.lightPct)
		if l.auditor != nil {
			l.auditor.StartSession(now)
		}
		return l.motionAck(cmd)

	case models.ActionInspStop:
		if err := l.machine.StopInspection(); err != nil {
			return l.reject(cmd, err)
		}
		l.setLighting(false, l.lightPct)
		if l.auditor != nil {
			l.auditor.EndSession(now, l.odometry.DistanceM(), true)
		}
		return l.ackFor(cmd, models.AckAccepted, "", "inspection finished")

	case models.ActionInspPause:
		if err := l.machine.PauseInspection(); err != nil {
			return l.reject(cmd, err)
		}
		return l.ackFor(cmd, models.AckAccepted, "", "inspection paused")

	case models.ActionInspResume:
		if err := l.machine.ResumeInspection(); err != nil {
			return l.reject(cmd, err)
		}
		return l.motionAck(cmd)

	case models.ActionEStop:
		l.engageEStop("operator estop command")
		return l.ackFor(cmd, models.AckAccepted, "", "emergency stop latched")

	case models.ActionEStopClear:
		if err := l.supervisor.TryReleaseEStop(); err != nil {
			return l.reject(cmd, err)
		}
		if err := l.machine.ReleaseEStop(); err != nil {
			return l.reject(cmd, err)
		}
		l.driver.Release()
		return l.ackFor(cmd, models.AckAccepted, "", "emergency stop released")

	case models.ActionLightOn:
		l.setLighting(true, l.lightPct)
		return l.ackFor(cmd, models.AckAccepted, "", "lighting on")
	case models.ActionLightOff:
		l.setLighting(false, l.lightPct)
		return l.ackFor(cmd, models.AckAccepted, "", "lighting off")
	case models.ActionLightSet:
		l.setLighting(true, cmd.ValueOr(l.lightPct, 0, 100))
		return l.ackFor(cmd, models.AckAccepted, "", "lighting adjusted")

	case models.ActionSnapshot:
		if _, err := l.CaptureStill(); err != nil {
			return l.reject(cmd, err)
		}
		return l.ackFor(cmd, models.AckAccepted, "", "snapshot captured")

	case models.ActionPing:
		return l.ackFor(cmd, models.AckAccepted, "", "pong")

	case models.ActionFenceClear:
		l.supervisor.ClearGeofence()
		// the fence re-trips instantly on a stale odometer, so zero it
		l.odometry.Reset()
		return l.ackFor(cmd, models.AckAccepted, "", "geofence override acknowledged")

	case models.ActionResetOdom:
		if l.supervisor.Status().GeofenceBreached {
			return l.ackFor(cmd, models.AckRejected, utils.FaultGeofence,
				"geofence breached; use geofence_override")
		}
		l.odometry.Reset()
		return l.ackFor(cmd, models.AckAccepted, "", "odometry reset")
	}

	return l.ackFor(cmd, models.AckRejected, utils.FaultValidation, "unknown action")
}

// motionAck distinguishes accepted from accepted-but-inert: a motion command
// under an active override is suppressed, never silently dropped.
func (l *Loop) motionAck(cmd models.MotionCommand) models.CommandAck {
	if class, overridden := l.supervisor.Override(); overridden {
		return l.ackFor(cmd, models.AckSuppressed, class,
			"command accepted but motion is suppressed by an active safety override")
	}
	return l.ackFor(cmd, models.AckAccepted, "", "")
}

func (l *Loop) reject(cmd models.MotionCommand, err error) models.CommandAck {
	return l.ackFor(cmd, models.AckRejected, utils.ClassOf(err), err.Error())
}

func (l *Loop) ackFor(cmd models.MotionCommand, status models.AckStatus, reason utils.FaultClass, msg string) models.CommandAck {
	return models.CommandAck{
		Action:    cmd.Action,
		Status:    status,
		Reason:    reason,
		Message:   msg,
		Mode:      l.machine.Mode(),
		Setpoint:  l.machine.Setpoint(),
		Timestamp: time.Now(),
	}
}

func (l *Loop) setLighting(on bool, pct float64) {
	l.lightOn = on
	l.lightPct = pct
	if on {
		l.leds.SetLighting(pct)
	} else {
		l.leds.SetLighting(0)
	}
}

func (l *Loop) buildSnapshot(now time.Time) models.TelemetrySnapshot {
	st := l.supervisor.Status()
	readings := l.monitor.Latest()
	dl, dr := l.driver.Duty()

	return models.TelemetrySnapshot{
		Timestamp:        now,
		Pose:             l.odometry.Pose(),
		Mode:             l.machine.Mode(),
		SpeedSetpoint:    l.machine.Setpoint(),
		DutyLeft:         dl,
		DutyRight:        dr,
		DistanceTraveled: l.odometry.DistanceM(),
		BatterySOC:       readings.BatterySOC,
		SensorDistances: models.SensorDistance{
			Front: readings.FrontCM,
			Rear:  readings.RearCM,
			Left:  readings.LeftCM,
		},
		SensorsStale:     readings.Stale,
		EStopLatched:     st.EStopLatched,
		ConnectionAlive:  st.ConnectionAlive,
		GeofenceBreached: st.GeofenceBreached,
		LightPct:         l.lightPct,
		LightOn:          l.lightOn,
	}
}

func (l *Loop) updateLeds() {
	pattern := "ready"
	st := l.supervisor.Status()
	switch {
	case st.EStopLatched:
		pattern = "emergency"
	case st.GeofenceBreached, !st.ConnectionAlive:
		pattern = "warning"
	case l.machine.Mode() == models.ModePaused:
		pattern = "paused"
	case !l.machine.Intent().Zero():
		pattern = "moving"
	}
	if pattern != l.ledPattern {
		l.ledPattern = pattern
		l.leds.SetPattern(pattern)
	}
}

func speedMsg(v float64) string {
	return fmt.Sprintf("speed setpoint %.0f%%", v)
}
