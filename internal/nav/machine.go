// Package nav interprets operator commands into mode transitions and motion
// intent. The mode machine is the single authority on which commands are valid
// in which mode; the safety supervisor can still veto any intent it produces.
package nav

import (
	"context"

	"github.com/looplab/fsm"

	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// fsm event names
const (
	evDrive        = "drive"
	evInspStart    = "inspect_start"
	evInspPause    = "inspect_pause"
	evInspResume   = "inspect_resume"
	evInspStop     = "inspect_stop"
	evEStop        = "estop"
	evEStopRelease = "estop_release"
	evHalt         = "halt"
)

// Machine holds the navigation mode, the commanded drive direction and the
// speed setpoint. It runs on the control goroutine only.
type Machine struct {
	fsm *fsm.FSM

	// commanded direction, unit-scaled; intent = direction x setpoint
	linDir   float64 // -1, 0, +1
	turnBias float64 // -1 left, 0 straight, +1 right
	pivot    bool

	setpoint  float64
	speedStep float64
}

func NewMachine(defaultSpeed, speedStep float64) *Machine {
	m := &Machine{
		setpoint:  clampPct(defaultSpeed),
		speedStep: speedStep,
	}

	m.fsm = fsm.NewFSM(
		string(models.ModeIdle),
		fsm.Events{
			{Name: evDrive, Src: []string{string(models.ModeIdle), string(models.ModeManual)}, Dst: string(models.ModeManual)},
			{Name: evInspStart, Src: []string{string(models.ModeIdle), string(models.ModeManual)}, Dst: string(models.ModeInspecting)},
			{Name: evInspPause, Src: []string{string(models.ModeInspecting)}, Dst: string(models.ModePaused)},
			{Name: evInspResume, Src: []string{string(models.ModePaused)}, Dst: string(models.ModeInspecting)},
			{Name: evInspStop, Src: []string{string(models.ModeInspecting), string(models.ModePaused)}, Dst: string(models.ModeIdle)},
			{Name: evEStop, Src: []string{
				string(models.ModeIdle), string(models.ModeManual), string(models.ModeInspecting),
				string(models.ModePaused), string(models.ModeEStopped),
			}, Dst: string(models.ModeEStopped)},
			{Name: evEStopRelease, Src: []string{string(models.ModeEStopped)}, Dst: string(models.ModeIdle)},
			{Name: evHalt, Src: []string{
				string(models.ModeManual), string(models.ModeInspecting), string(models.ModePaused),
			}, Dst: string(models.ModeIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if e.Src != e.Dst {
					utils.Logger.Infof("mode %s -> %s (%s)", e.Src, e.Dst, e.Event)
				}
			},
		},
	)
	return m
}

func (m *Machine) Mode() models.Mode {
	return models.Mode(m.fsm.Current())
}

// Intent returns the current motion intent scaled by the setpoint.
func (m *Machine) Intent() models.MotionIntent {
	if m.linDir == 0 && !m.pivot {
		return models.MotionIntent{}
	}
	return models.MotionIntent{
		LinearPct: m.linDir * m.setpoint,
		TurnBias:  m.turnBias,
		Pivot:     m.pivot,
	}
}

func (m *Machine) Setpoint() float64 { return m.setpoint }

// SetSpeed clamps into [0,100] and updates the setpoint. Valid in any mode;
// never changes mode. Idempotent by construction: intent is derived from the
// setpoint on read, so repeated calls converge with no oscillation.
func (m *Machine) SetSpeed(v float64) float64 {
	m.setpoint = clampPct(v)
	return m.setpoint
}

func (m *Machine) SpeedUp() float64   { return m.SetSpeed(m.setpoint + m.speedStep) }
func (m *Machine) SpeedDown() float64 { return m.SetSpeed(m.setpoint - m.speedStep) }

// Drive applies a movement command. Valid from Idle, Manual and
// InspectionRunning; the first drive command moves Idle to Manual.
func (m *Machine) Drive(action models.Action) error {
	switch m.Mode() {
	case models.ModeIdle, models.ModeManual:
		if err := m.fsm.Event(context.Background(), evDrive); err != nil {
			return utils.NewValidationError("%s not allowed in mode %s", action, m.Mode())
		}
	case models.ModeInspecting:
		// steering corrections during an inspection run keep the mode
	default:
		return utils.NewValidationError("%s not allowed in mode %s", action, m.Mode())
	}

	switch action {
	case models.ActionForward:
		m.linDir, m.turnBias, m.pivot = 1, 0, false
	case models.ActionBackward:
		m.linDir, m.turnBias, m.pivot = -1, 0, false
	case models.ActionTurnLeft:
		m.linDir, m.turnBias, m.pivot = 1, -1, false
	case models.ActionTurnRight:
		m.linDir, m.turnBias, m.pivot = 1, 1, false
	case models.ActionPivotLeft:
		m.linDir, m.turnBias, m.pivot = 1, -1, true
	case models.ActionPivotRight:
		m.linDir, m.turnBias, m.pivot = 1, 1, true
	case models.ActionStop, models.ActionBrake:
		m.clearIntent()
	default:
		return utils.NewValidationError("%s is not a drive action", action)
	}
	return nil
}

// StartInspection begins the forward inspection profile at the setpoint.
func (m *Machine) StartInspection() error {
	if err := m.fsm.Event(context.Background(), evInspStart); err != nil {
		return utils.NewValidationError("inspect_start not allowed in mode %s", m.Mode())
	}
	m.linDir, m.turnBias, m.pivot = 1, 0, false
	return nil
}

// PauseInspection zeroes intent but preserves pose and setpoint for resume.
func (m *Machine) PauseInspection() error {
	if err := m.fsm.Event(context.Background(), evInspPause); err != nil {
		return utils.NewValidationError("inspect_pause not allowed in mode %s", m.Mode())
	}
	m.clearIntent()
	return nil
}

func (m *Machine) ResumeInspection() error {
	if err := m.fsm.Event(context.Background(), evInspResume); err != nil {
		return utils.NewValidationError("inspect_resume not allowed in mode %s", m.Mode())
	}
	m.linDir, m.turnBias, m.pivot = 1, 0, false
	return nil
}

func (m *Machine) StopInspection() error {
	if err := m.fsm.Event(context.Background(), evInspStop); err != nil {
		return utils.NewValidationError("inspect_stop not allowed in mode %s", m.Mode())
	}
	m.clearIntent()
	return nil
}

// EStop moves to EmergencyStopped from any mode and zeroes intent. Idempotent.
func (m *Machine) EStop() {
	m.clearIntent()
	_ = m.fsm.Event(context.Background(), evEStop)
}

// ReleaseEStop leaves EmergencyStopped. The caller must already have cleared
// the supervisor latch (hardware-confirmed); this only moves the mode.
func (m *Machine) ReleaseEStop() error {
	if err := m.fsm.Event(context.Background(), evEStopRelease); err != nil {
		return utils.NewValidationError("estop_release not allowed in mode %s", m.Mode())
	}
	return nil
}

// Halt is the watchdog's forced stop: zero intent and back to Idle from any
// moving mode. A no-op in Idle and EmergencyStopped.
func (m *Machine) Halt() {
	m.clearIntent()
	_ = m.fsm.Event(context.Background(), evHalt)
}

func (m *Machine) clearIntent() {
	m.linDir, m.turnBias, m.pivot = 0, 0, false
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
