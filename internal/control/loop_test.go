package control

import (
	"testing"
	"time"

	"inspection-robot/internal/drive"
	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/nav"
	"inspection-robot/internal/safety"
	"inspection-robot/internal/sensors"
	"inspection-robot/internal/utils"
)

const (
	testTick     = 20 * time.Millisecond
	testWatchdog = 15 * time.Second
	testPitLen   = 200.0
)

// fixture drives the loop tick by tick with a controlled clock; Run is never
// started, so every state change below is deterministic.
type fixture struct {
	loop    *Loop
	rig     *hardware.SimRig
	machine *nav.Machine
	odo     *drive.Odometry
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rig := hardware.NewSimRig()
	now := time.Now()

	machine := nav.NewMachine(60, 10)
	supervisor := safety.NewSupervisor(rig, testWatchdog, testPitLen, now)
	driver := drive.NewDriver(rig.Left(), rig.Right(), drive.Params{
		RampStepPct:    5,
		TurnFactor:     0.7,
		PivotFactor:    0.6,
		MinDutyPct:     20,
		BrakePulseTick: 3,
	})
	odo := drive.NewOdometry(120, 450, 360)
	monitor := sensors.NewMonitor(rig, 100*time.Millisecond)

	loop := NewLoop(Deps{
		Machine:    machine,
		Supervisor: supervisor,
		Driver:     driver,
		Odometry:   odo,
		Encoder:    rig,
		Monitor:    monitor,
		Camera:     rig,
		Leds:       rig,
		EStopLine:  rig,
		Tick:       testTick,
		LightPct:   80,
	})

	return &fixture{loop: loop, rig: rig, machine: machine, odo: odo, now: now}
}

func (f *fixture) step() {
	f.now = f.now.Add(testTick)
	f.loop.step(f.now)
}

func (f *fixture) steps(n int) {
	for i := 0; i < n; i++ {
		f.step()
	}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.loop.step(f.now)
}

// submit queues a command and processes it on the next tick.
func (f *fixture) submit(t *testing.T, action models.Action, value *float64) models.CommandAck {
	t.Helper()
	req := request{
		cmd:   models.MotionCommand{Action: action, Value: value, Source: "test"},
		reply: make(chan models.CommandAck, 1),
	}
	f.loop.commands <- req
	f.step()
	return <-req.reply
}

func fptr(v float64) *float64 { return &v }

func TestLoopManualDriveRampsUp(t *testing.T) {
	f := newFixture(t)

	ack := f.submit(t, models.ActionForward, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("forward: %+v", ack)
	}
	if ack.Mode != models.ModeManual {
		t.Fatalf("forward should enter manual, got %s", ack.Mode)
	}

	f.steps(15)
	snap := f.loop.Snapshot()
	if snap.DutyLeft != 60 || snap.DutyRight != 60 {
		t.Fatalf("duty should settle at the setpoint, got %v / %v", snap.DutyLeft, snap.DutyRight)
	}
	if snap.DistanceTraveled <= 0 {
		t.Fatal("odometer should accumulate while driving")
	}
}

func TestLoopEStopCutsDutyImmediately(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionForward, nil)
	f.steps(15)

	ack := f.submit(t, models.ActionEStop, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModeEStopped {
		t.Fatalf("estop: %+v", ack)
	}

	snap := f.loop.Snapshot()
	if snap.DutyLeft != 0 || snap.DutyRight != 0 {
		t.Fatalf("estop must cut duty on the same tick, got %v / %v", snap.DutyLeft, snap.DutyRight)
	}
	if !snap.EStopLatched {
		t.Fatal("snapshot should report the latch")
	}
	if f.rig.LastPattern() != "emergency" {
		t.Fatalf("led pattern = %q, want emergency", f.rig.LastPattern())
	}

	// drive is rejected while latched, and no duty leaks out
	ack = f.submit(t, models.ActionForward, nil)
	if ack.Status != models.AckRejected {
		t.Fatalf("forward while estopped: %+v", ack)
	}
	f.steps(5)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 {
		t.Fatalf("duty leaked while latched: %v", snap.DutyLeft)
	}
}

func TestLoopEStopReleaseNeedsHardwareClear(t *testing.T) {
	f := newFixture(t)
	f.rig.PressEStop()
	f.step() // edge event latches

	if !f.loop.Snapshot().EStopLatched {
		t.Fatal("hardware press should latch via the edge event")
	}

	ack := f.submit(t, models.ActionEStopClear, nil)
	if ack.Status != models.AckRejected || ack.Reason != utils.FaultEStopLatched {
		t.Fatalf("release with the line pressed: %+v", ack)
	}

	f.rig.ReleaseEStop()
	ack = f.submit(t, models.ActionEStopClear, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModeIdle {
		t.Fatalf("release with the line clear: %+v", ack)
	}

	// the driver re-arms
	f.submit(t, models.ActionForward, nil)
	f.steps(15)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 60 {
		t.Fatalf("drive after release should ramp normally, got %v", snap.DutyLeft)
	}
}

func TestLoopForceEStopPreemptsQueuedMotion(t *testing.T) {
	f := newFixture(t)

	// motion is already waiting in the queue when the force-latch lands
	req := request{
		cmd:   models.MotionCommand{Action: models.ActionForward, Source: "test"},
		reply: make(chan models.CommandAck, 1),
	}
	f.loop.commands <- req

	ack := f.loop.ForceEStop()
	if ack.Status != models.AckAccepted {
		t.Fatalf("force estop: %+v", ack)
	}

	f.step()
	fwd := <-req.reply
	if fwd.Status == models.AckAccepted {
		t.Fatalf("queued motion must not execute past the latch: %+v", fwd)
	}
	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 || !snap.EStopLatched {
		t.Fatalf("latch did not hold: %+v", snap)
	}
}

func TestLoopWatchdogSelfHeals(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionInspStart, nil)
	f.steps(15)

	if f.loop.Snapshot().Mode != models.ModeInspecting {
		t.Fatal("inspection should be running")
	}

	// command silence past the watchdog
	f.advance(testWatchdog + time.Second)
	snap := f.loop.Snapshot()
	if snap.ConnectionAlive {
		t.Fatal("watchdog should mark the link dead")
	}
	if snap.Mode != models.ModeIdle {
		t.Fatalf("watchdog should force idle, got %s", snap.Mode)
	}
	f.steps(15)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 {
		t.Fatalf("duty should ramp to zero after the trip, got %v", snap.DutyLeft)
	}

	// the very next valid command heals the link; no operator reset step
	ack := f.submit(t, models.ActionPing, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("ping: %+v", ack)
	}
	if !f.loop.Snapshot().ConnectionAlive {
		t.Fatal("link should heal on the first command")
	}

	ack = f.submit(t, models.ActionForward, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("drive after heal: %+v", ack)
	}
}

func TestLoopGeofenceStickyUntilOverride(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionForward, nil)
	f.steps(15)

	// push the odometer past the pit length
	f.odo.Integrate(200000, 200000)
	f.step()

	snap := f.loop.Snapshot()
	if !snap.GeofenceBreached {
		t.Fatal("fence should trip at the pit length")
	}
	f.steps(15)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 {
		t.Fatalf("breach should ramp duty to zero, got %v", snap.DutyLeft)
	}

	// forward is accepted but inert: suppressed, not rejected
	ack := f.submit(t, models.ActionForward, nil)
	if ack.Status != models.AckSuppressed || ack.Reason != utils.FaultGeofence {
		t.Fatalf("forward under breach: %+v", ack)
	}
	f.steps(5)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 {
		t.Fatalf("suppressed command leaked duty: %v", snap.DutyLeft)
	}

	// plain odometer reset is refused while breached
	ack = f.submit(t, models.ActionResetOdom, nil)
	if ack.Status != models.AckRejected || ack.Reason != utils.FaultGeofence {
		t.Fatalf("reset_odometry under breach: %+v", ack)
	}

	ack = f.submit(t, models.ActionFenceClear, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("override: %+v", ack)
	}
	snap = f.loop.Snapshot()
	if snap.GeofenceBreached {
		t.Fatal("override should clear the breach")
	}
	if snap.DistanceTraveled != 0 {
		t.Fatalf("override should zero the odometer, got %v", snap.DistanceTraveled)
	}

	ack = f.submit(t, models.ActionForward, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("drive after override: %+v", ack)
	}
}

func TestLoopInspectionLifecycle(t *testing.T) {
	f := newFixture(t)

	ack := f.submit(t, models.ActionInspStart, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModeInspecting {
		t.Fatalf("inspect_start: %+v", ack)
	}
	if f.rig.LightingDuty() != 80 {
		t.Fatalf("inspection should switch the lighting on, got %v", f.rig.LightingDuty())
	}
	if f.loop.Snapshot().DistanceTraveled != 0 {
		t.Fatal("inspect_start should zero the odometer")
	}

	f.steps(15)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 60 {
		t.Fatalf("inspection should drive at the setpoint, got %v", snap.DutyLeft)
	}

	ack = f.submit(t, models.ActionInspPause, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModePaused {
		t.Fatalf("pause: %+v", ack)
	}
	f.steps(15)
	snap := f.loop.Snapshot()
	if snap.DutyLeft != 0 {
		t.Fatalf("pause should ramp to zero, got %v", snap.DutyLeft)
	}
	if snap.SpeedSetpoint != 60 {
		t.Fatalf("pause must preserve the setpoint, got %v", snap.SpeedSetpoint)
	}
	distAtPause := snap.DistanceTraveled

	ack = f.submit(t, models.ActionInspResume, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModeInspecting {
		t.Fatalf("resume: %+v", ack)
	}
	if f.loop.Snapshot().DistanceTraveled != distAtPause {
		t.Fatal("resume must not reset the odometer")
	}

	ack = f.submit(t, models.ActionInspStop, nil)
	if ack.Status != models.AckAccepted || ack.Mode != models.ModeIdle {
		t.Fatalf("stop: %+v", ack)
	}
	if f.rig.LightingDuty() != 0 {
		t.Fatalf("stop should switch the lighting off, got %v", f.rig.LightingDuty())
	}
}

func TestLoopSetSpeedMidMotion(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionForward, nil)
	f.steps(15)

	ack := f.submit(t, models.ActionSetSpeed, fptr(40))
	if ack.Status != models.AckAccepted || ack.Setpoint != 40 {
		t.Fatalf("set_speed: %+v", ack)
	}
	f.steps(10)
	if snap := f.loop.Snapshot(); snap.DutyLeft != 40 {
		t.Fatalf("duty should converge on the new setpoint, got %v", snap.DutyLeft)
	}

	// idempotent: repeating the same setpoint changes nothing
	before := f.loop.Snapshot()
	f.submit(t, models.ActionSetSpeed, fptr(40))
	f.steps(2)
	after := f.loop.Snapshot()
	if before.DutyLeft != after.DutyLeft || before.SpeedSetpoint != after.SpeedSetpoint {
		t.Fatalf("repeated set_speed oscillated: %v -> %v", before.DutyLeft, after.DutyLeft)
	}

	// out-of-range clamps rather than rejects
	ack = f.submit(t, models.ActionSetSpeed, fptr(250))
	if ack.Status != models.AckAccepted || ack.Setpoint != 100 {
		t.Fatalf("set_speed 250: %+v", ack)
	}
}

func TestLoopBrakePulse(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionForward, nil)
	f.steps(4)

	ack := f.submit(t, models.ActionBrake, nil)
	if ack.Status != models.AckAccepted {
		t.Fatalf("brake: %+v", ack)
	}
	f.steps(4)

	if snap := f.loop.Snapshot(); snap.DutyLeft != 0 || snap.DutyRight != 0 {
		t.Fatalf("brake should end at zero duty, got %v / %v", snap.DutyLeft, snap.DutyRight)
	}
	left := f.rig.Left().(*hardware.SimActuator)
	if !left.Braked() {
		t.Fatal("actuators should end braked")
	}
}

func TestLoopLighting(t *testing.T) {
	f := newFixture(t)

	f.submit(t, models.ActionLightSet, fptr(50))
	if f.rig.LightingDuty() != 50 {
		t.Fatalf("light_set 50: duty %v", f.rig.LightingDuty())
	}
	if snap := f.loop.Snapshot(); !snap.LightOn || snap.LightPct != 50 {
		t.Fatalf("snapshot lighting: %+v", snap)
	}

	f.submit(t, models.ActionLightOff, nil)
	if f.rig.LightingDuty() != 0 {
		t.Fatalf("light_off: duty %v", f.rig.LightingDuty())
	}
}

func TestLoopUnknownActionRejected(t *testing.T) {
	f := newFixture(t)
	ack := f.submit(t, models.Action("warp"), nil)
	if ack.Status != models.AckRejected || ack.Reason != utils.FaultValidation {
		t.Fatalf("unknown action: %+v", ack)
	}
}

func TestLoopCaptureStill(t *testing.T) {
	f := newFixture(t)
	frame, err := f.loop.CaptureStill()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(frame) == 0 {
		t.Fatal("capture returned an empty frame")
	}
}

func TestLoopSnapshotIsConsistent(t *testing.T) {
	f := newFixture(t)
	f.submit(t, models.ActionForward, nil)
	f.steps(3)

	snap := f.loop.Snapshot()
	if snap.Mode != models.ModeManual {
		t.Fatalf("mode = %s", snap.Mode)
	}
	if snap.Timestamp != f.now {
		t.Fatal("snapshot should carry the tick timestamp")
	}
	if snap.SpeedSetpoint != 60 {
		t.Fatalf("setpoint = %v", snap.SpeedSetpoint)
	}
	if !snap.ConnectionAlive || snap.EStopLatched || snap.GeofenceBreached {
		t.Fatalf("safety flags: %+v", snap)
	}
}
