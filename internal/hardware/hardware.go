// Package hardware defines the external-collaborator contracts consumed by the
// kernel (H-bridge actuators, wheel encoders, e-stop line, range/battery
// sensors, camera, LED panel) plus simulated implementations used off-robot
// and in tests. Real GPIO/I2C wiring lives outside this module.
package hardware

import "time"

// MotorActuator drives one side of the differential pair. Duty is signed,
// -100..100; Brake shorts the coil, Coast cuts power.
type MotorActuator interface {
	SetDuty(duty float64) error
	Brake() error
	Coast() error
}

// EncoderSource yields accumulated signed ticks since the previous call.
type EncoderSource interface {
	TakeTicks() (left, right int)
}

// EStopLine is the physical emergency-stop input. Edge presses arrive on
// Events; Pressed reads the current line level.
type EStopLine interface {
	Events() <-chan struct{}
	Pressed() bool
}

// SensorReader polls the range/battery hardware in one shot.
type SensorReader interface {
	Read() (front, rear, left, batterySOC float64, err error)
}

// Camera provides the latest encoded frame for snapshots and the MJPEG stream.
type Camera interface {
	LatestFrame() ([]byte, error)
}

// LedPanel receives fire-and-forget signaling patterns and lighting duty.
type LedPanel interface {
	SetPattern(name string)
	SetLighting(dutyPct float64)
}

// heartbeat of the simulated encoder: ticks proportional to applied duty
const simTickScale = 0.4

// SimRig is an all-in-one simulated hardware set for development and tests.
// Applied duty feeds back into encoder ticks so odometry moves.
type SimRig struct {
	left, right   *SimActuator
	estopEvents   chan struct{}
	estopPressed  bool
	sensorFront   float64
	sensorRear    float64
	sensorLeft    float64
	batterySOC    float64
	sensorErr     error
	frame         []byte
	lastPattern   string
	lightingDuty  float64
	frameErr      error
	lastFrameTime time.Time
}

func NewSimRig() *SimRig {
	return &SimRig{
		left:        &SimActuator{},
		right:       &SimActuator{},
		estopEvents: make(chan struct{}, 4),
		sensorFront: 999, sensorRear: 999, sensorLeft: 999,
		batterySOC: 100,
		frame:      []byte{0xff, 0xd8, 0xff, 0xd9}, // minimal JPEG marker pair
	}
}

func (r *SimRig) Left() MotorActuator   { return r.left }
func (r *SimRig) Right() MotorActuator  { return r.right }
func (r *SimRig) Events() <-chan struct{} { return r.estopEvents }
func (r *SimRig) Pressed() bool           { return r.estopPressed }

// PressEStop simulates the physical button: latches the line and emits an edge.
func (r *SimRig) PressEStop() {
	r.estopPressed = true
	select {
	case r.estopEvents <- struct{}{}:
	default:
	}
}

// ReleaseEStop releases the physical line (no edge event on release).
func (r *SimRig) ReleaseEStop() {
	r.estopPressed = false
}

func (r *SimRig) Read() (front, rear, left, batterySOC float64, err error) {
	if r.sensorErr != nil {
		return 0, 0, 0, 0, r.sensorErr
	}
	return r.sensorFront, r.sensorRear, r.sensorLeft, r.batterySOC, nil
}

func (r *SimRig) SetSensorValues(front, rear, left, soc float64) {
	r.sensorFront, r.sensorRear, r.sensorLeft, r.batterySOC = front, rear, left, soc
}

func (r *SimRig) FailSensors(err error) { r.sensorErr = err }

// TakeTicks converts the duty applied since the last call into encoder ticks.
func (r *SimRig) TakeTicks() (left, right int) {
	return r.left.takeTicks(), r.right.takeTicks()
}

func (r *SimRig) LatestFrame() ([]byte, error) {
	if r.frameErr != nil {
		return nil, r.frameErr
	}
	r.lastFrameTime = time.Now()
	return r.frame, nil
}

func (r *SimRig) SetPattern(name string)      { r.lastPattern = name }
func (r *SimRig) SetLighting(dutyPct float64) { r.lightingDuty = dutyPct }
func (r *SimRig) LastPattern() string         { return r.lastPattern }
func (r *SimRig) LightingDuty() float64       { return r.lightingDuty }

// SimActuator records applied duty and synthesizes encoder ticks from it.
type SimActuator struct {
	duty    float64
	braked  bool
	coasted bool
	pending float64
}

func (a *SimActuator) SetDuty(duty float64) error {
	a.duty = duty
	if duty != 0 {
		// only a live duty releases the brake/coast state
		a.braked, a.coasted = false, false
	}
	a.pending += duty * simTickScale
	return nil
}

func (a *SimActuator) Brake() error {
	a.duty = 0
	a.braked = true
	return nil
}

func (a *SimActuator) Coast() error {
	a.duty = 0
	a.coasted = true
	return nil
}

func (a *SimActuator) Duty() float64 { return a.duty }
func (a *SimActuator) Braked() bool  { return a.braked }

func (a *SimActuator) takeTicks() int {
	t := int(a.pending)
	a.pending -= float64(t)
	return t
}
