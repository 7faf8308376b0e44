package utils

import "fmt"

// FaultClass labels why a command was rejected or suppressed. The class travels
// inside the acknowledgment so the operator can tell "rejected" apart from
// "accepted but inert".
type FaultClass string

const (
	FaultValidation     FaultClass = "validation_error"
	FaultSafetyOverride FaultClass = "safety_override"
	FaultHardware       FaultClass = "hardware_fault"
	FaultConnectionLoss FaultClass = "connection_loss"
	FaultGeofence       FaultClass = "geofence_breach"
	FaultEStopLatched   FaultClass = "estop_latched"
)

// CommandError is a classified command-processing error.
type CommandError struct {
	Class   FaultClass
	Message string
	cause   error
}

func (e *CommandError) Error() string {
	return e.Message
}

func (e *CommandError) Unwrap() error {
	return e.cause
}

func NewValidationError(format string, args ...interface{}) *CommandError {
	return &CommandError{Class: FaultValidation, Message: fmt.Sprintf(format, args...)}
}

func NewSafetyOverrideError(class FaultClass, format string, args ...interface{}) *CommandError {
	return &CommandError{Class: class, Message: fmt.Sprintf(format, args...)}
}

func NewHardwareFault(message string, cause error) *CommandError {
	return &CommandError{Class: FaultHardware, Message: message, cause: cause}
}

// ClassOf extracts the fault class from an error, defaulting to validation.
func ClassOf(err error) FaultClass {
	if ce, ok := err.(*CommandError); ok {
		return ce.Class
	}
	return FaultValidation
}
