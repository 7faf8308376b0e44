package models

import (
	"encoding/json"
	"time"

	"inspection-robot/internal/utils"
)

// Action is the closed command vocabulary accepted over WebSocket, REST and
// MQTT. Anything outside this set is rejected at parse time.
type Action string

const (
	ActionForward     Action = "forward"
	ActionBackward    Action = "backward"
	ActionTurnLeft    Action = "turn_left"
	ActionTurnRight   Action = "turn_right"
	ActionPivotLeft   Action = "pivot_left"
	ActionPivotRight  Action = "pivot_right"
	ActionStop        Action = "stop"
	ActionBrake       Action = "brake"
	ActionSpeedUp     Action = "speed_up"
	ActionSpeedDown   Action = "speed_down"
	ActionSetSpeed    Action = "set_speed"
	ActionInspStart   Action = "inspect_start"
	ActionInspStop    Action = "inspect_stop"
	ActionInspPause   Action = "inspect_pause"
	ActionInspResume  Action = "inspect_resume"
	ActionEStop       Action = "estop"
	ActionEStopClear  Action = "estop_release"
	ActionLightOn     Action = "light_on"
	ActionLightOff    Action = "light_off"
	ActionLightSet    Action = "light_set"
	ActionSnapshot    Action = "snapshot"
	ActionPing        Action = "ping"
	ActionFenceClear  Action = "geofence_override"
	ActionResetOdom   Action = "reset_odometry"
)

var validActions = map[Action]struct{}{
	ActionForward: {}, ActionBackward: {}, ActionTurnLeft: {}, ActionTurnRight: {},
	ActionPivotLeft: {}, ActionPivotRight: {}, ActionStop: {}, ActionBrake: {},
	ActionSpeedUp: {}, ActionSpeedDown: {}, ActionSetSpeed: {},
	ActionInspStart: {}, ActionInspStop: {}, ActionInspPause: {}, ActionInspResume: {},
	ActionEStop: {}, ActionEStopClear: {},
	ActionLightOn: {}, ActionLightOff: {}, ActionLightSet: {},
	ActionSnapshot: {}, ActionPing: {}, ActionFenceClear: {}, ActionResetOdom: {},
}

// IsMotion reports whether the action can change motion intent or mode. Motion
// actions require command authority; the rest are side-effecting or read-only.
func (a Action) IsMotion() bool {
	switch a {
	case ActionForward, ActionBackward, ActionTurnLeft, ActionTurnRight,
		ActionPivotLeft, ActionPivotRight, ActionStop, ActionBrake,
		ActionInspStart, ActionInspStop, ActionInspPause, ActionInspResume,
		ActionFenceClear:
		return true
	}
	return false
}

// MotionCommand is one operator command with its optional numeric payload.
type MotionCommand struct {
	Action Action   `json:"action"`
	Value  *float64 `json:"value,omitempty"`
	Source string   `json:"source,omitempty"` // ws / rest / mqtt
}

// ValueOr returns the payload clamped to [min,max], or def when absent.
// Out-of-range payloads clamp rather than reject.
func (c MotionCommand) ValueOr(def, min, max float64) float64 {
	v := def
	if c.Value != nil {
		v = *c.Value
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

// ParseCommand decodes a raw JSON command and validates the action name.
func ParseCommand(raw []byte) (MotionCommand, error) {
	var cmd MotionCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return MotionCommand{}, utils.NewValidationError("invalid command JSON: %v", err)
	}
	if _, ok := validActions[cmd.Action]; !ok {
		return MotionCommand{}, utils.NewValidationError("unknown action %q", cmd.Action)
	}
	return cmd, nil
}

// AckStatus distinguishes the three possible command outcomes.
type AckStatus string

const (
	AckAccepted   AckStatus = "accepted"
	AckRejected   AckStatus = "rejected"
	AckSuppressed AckStatus = "suppressed" // accepted but inert under a safety override
)

// CommandAck is returned to the sender for every submitted command.
type CommandAck struct {
	Action    Action           `json:"action"`
	Status    AckStatus        `json:"status"`
	Reason    utils.FaultClass `json:"reason,omitempty"`
	Message   string           `json:"message,omitempty"`
	Mode      Mode             `json:"mode"`
	Setpoint  float64          `json:"speed_setpoint"`
	Timestamp time.Time        `json:"timestamp"`
}
