// Package drive converts post-veto motion intent into ramp-limited actuator
// output and integrates encoder ticks into the odometric pose.
package drive

import (
	"math"

	"inspection-robot/internal/hardware"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// Params are the drive constants, loaded from config at wiring time.
type Params struct {
	RampStepPct    float64
	TurnFactor     float64
	PivotFactor    float64
	MinDutyPct     float64
	BrakePulseTick int
}

// Driver owns the two traction actuators. It is tick-driven: the control loop
// calls Apply/Brake/ForceStop to change targets and Tick once per control
// period to move the applied duty. Not safe for concurrent use; the control
// tick is the single caller.
type Driver struct {
	left, right hardware.MotorActuator
	p           Params

	targetLeft, targetRight   float64
	currentLeft, currentRight float64

	brakeTicks int
	brakeLeft  float64
	brakeRight float64
	estopped   bool
}

func NewDriver(left, right hardware.MotorActuator, p Params) *Driver {
	return &Driver{left: left, right: right, p: p}
}

// Apply sets the ramp targets from a motion intent. The intent must already
// have passed the safety veto.
func (d *Driver) Apply(intent models.MotionIntent) {
	if d.estopped {
		return
	}
	if intent.Zero() {
		// plain ramp-down; an in-flight brake pulse keeps running
		d.targetLeft, d.targetRight = 0, 0
		return
	}
	d.brakeTicks = 0
	l, r := d.mix(intent)
	d.targetLeft = clamp(l, -100, 100)
	d.targetRight = clamp(r, -100, 100)
}

// mix maps (linear, turn bias, pivot) onto left/right duty targets.
func (d *Driver) mix(in models.MotionIntent) (float64, float64) {
	if in.Pivot {
		s := math.Abs(in.LinearPct) * d.p.PivotFactor
		return floor(in.TurnBias*s, d.p.MinDutyPct), floor(-in.TurnBias*s, d.p.MinDutyPct)
	}
	l, r := in.LinearPct, in.LinearPct
	if in.TurnBias < 0 {
		l *= d.p.TurnFactor
	} else if in.TurnBias > 0 {
		r *= d.p.TurnFactor
	}
	return floor(l, d.p.MinDutyPct), floor(r, d.p.MinDutyPct)
}

// Brake requests active deceleration: a bounded opposite-sign pulse, then
// zero. Stronger than Stop (which just ramps the targets down).
func (d *Driver) Brake() {
	if d.estopped {
		return
	}
	d.targetLeft, d.targetRight = 0, 0
	d.brakeLeft = -0.5 * d.currentLeft
	d.brakeRight = -0.5 * d.currentRight
	d.brakeTicks = d.p.BrakePulseTick
}

// Stop ramps both sides to zero without a counter-pulse.
func (d *Driver) Stop() {
	if d.estopped {
		return
	}
	d.targetLeft, d.targetRight = 0, 0
}

// ForceStop is the emergency path: output drops to zero on this very tick and
// the actuators coast. Further Apply calls are ignored until Release.
func (d *Driver) ForceStop() {
	d.estopped = true
	d.targetLeft, d.targetRight = 0, 0
	d.currentLeft, d.currentRight = 0, 0
	d.brakeTicks = 0
	if err := d.left.Coast(); err != nil {
		utils.Logger.Errorf("left actuator coast failed: %v", err)
	}
	if err := d.right.Coast(); err != nil {
		utils.Logger.Errorf("right actuator coast failed: %v", err)
	}
}

// Release re-arms the driver after an emergency stop.
func (d *Driver) Release() {
	d.estopped = false
}

// Tick advances the applied duty toward the targets by at most RampStepPct per
// side and pushes it to the actuators. Returns the applied left/right duty.
func (d *Driver) Tick() (float64, float64) {
	if d.estopped {
		return 0, 0
	}

	if d.brakeTicks > 0 {
		d.brakeTicks--
		d.currentLeft = rampToward(d.currentLeft, d.brakeLeft, d.p.RampStepPct*2)
		d.currentRight = rampToward(d.currentRight, d.brakeRight, d.p.RampStepPct*2)
		if d.brakeTicks == 0 {
			d.currentLeft, d.currentRight = 0, 0
			if err := d.left.Brake(); err != nil {
				utils.Logger.Errorf("left actuator brake failed: %v", err)
			}
			if err := d.right.Brake(); err != nil {
				utils.Logger.Errorf("right actuator brake failed: %v", err)
			}
			return 0, 0
		}
	} else {
		d.currentLeft = rampToward(d.currentLeft, d.targetLeft, d.p.RampStepPct)
		d.currentRight = rampToward(d.currentRight, d.targetRight, d.p.RampStepPct)
	}

	if err := d.left.SetDuty(d.currentLeft); err != nil {
		utils.Logger.Errorf("left actuator write failed: %v", err)
	}
	if err := d.right.SetDuty(d.currentRight); err != nil {
		utils.Logger.Errorf("right actuator write failed: %v", err)
	}
	return d.currentLeft, d.currentRight
}

// Duty returns the currently applied left/right duty without side effects.
func (d *Driver) Duty() (float64, float64) {
	return d.currentLeft, d.currentRight
}

func rampToward(current, target, step float64) float64 {
	if math.Abs(current-target) < step {
		return target
	}
	if current < target {
		return current + step
	}
	return current - step
}

// floor lifts a nonzero target above the anti-stall threshold, keeping sign.
func floor(v, min float64) float64 {
	if v == 0 {
		return 0
	}
	if math.Abs(v) < min {
		return math.Copysign(min, v)
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
