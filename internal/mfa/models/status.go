package models

import "fmt"

// Status is the tri-state outcome carried by every AuthStatus.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IsTerminal reports whether no further transitions are valid after s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Step is the progress indicator shown by the UI stepper.
type Step int

const (
	// StepConnectionFailed denotes a failure before any phase was reached.
	StepConnectionFailed Step = iota
	StepConnecting
	StepRequestSent
	StepAwaitingBiometric
	StepPushDelivered
	StepBiometricPending
	StepVerifying
	// StepComplete is only ever paired with StatusSuccess.
	StepComplete
)

// MaxPendingStep is the highest step a pending status may carry.
const MaxPendingStep = StepVerifying

func (s Step) IsValid() bool {
	return s >= StepConnectionFailed && s <= StepComplete
}

func (s Step) String() string {
	switch s {
	case StepConnectionFailed:
		return "connection_failed"
	case StepConnecting:
		return "connecting"
	case StepRequestSent:
		return "request_sent"
	case StepAwaitingBiometric:
		return "awaiting_biometric"
	case StepPushDelivered:
		return "push_delivered"
	case StepBiometricPending:
		return "biometric_pending"
	case StepVerifying:
		return "verifying"
	case StepComplete:
		return "complete"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// User-facing messages. The UI renders them verbatim.
const (
	MessageConnecting         = "Connecting to iVALT gateway"
	MessageRequestSent        = "Authentication request sent"
	MessageAwaitingBiometric  = "Awaiting biometric verification on your device"
	MessagePushDelivered      = "Push notification delivered to your device"
	MessageBiometricPending   = "Push delivered, complete the biometric scan on your device"
	MessageVerifying          = "Verifying biometric identity"
	MessageApproved           = "Authentication approved"
	MessageRejected           = "Biometric verification failed"
	MessageGatewayUnreachable = "iVALT gateway unreachable"
	MessageUplinkExpired      = "Uplink expired: biometric verification timed out"
)

// AuthStatus is one immutable emission of the handshake.
type AuthStatus struct {
	Step      Step   `json:"step"`
	Message   string `json:"message"`
	Status    Status `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

func (a AuthStatus) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// Validate checks the pairing invariants between Step and Status.
func (a AuthStatus) Validate() error {
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid status %q", a.Status)
	}
	if !a.Step.IsValid() {
		return fmt.Errorf("invalid step %d", a.Step)
	}
	if a.Status == StatusSuccess && a.Step != StepComplete {
		return fmt.Errorf("success status requires step %d, got %d", StepComplete, a.Step)
	}
	if a.Status == StatusPending && a.Step > MaxPendingStep {
		return fmt.Errorf("pending status cannot carry step %d", a.Step)
	}
	if a.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

func Pending(step Step, message, requestID string) AuthStatus {
	return AuthStatus{Step: step, Message: message, Status: StatusPending, RequestID: requestID}
}

func Success(requestID string) AuthStatus {
	return AuthStatus{Step: StepComplete, Message: MessageApproved, Status: StatusSuccess, RequestID: requestID}
}

// Failure builds a step-0 terminal error. An empty message falls back to the
// generic rejection text.
func Failure(message, requestID string) AuthStatus {
	if message == "" {
		message = MessageRejected
	}
	return AuthStatus{Step: StepConnectionFailed, Message: message, Status: StatusError, RequestID: requestID}
}

func Expired(requestID string) AuthStatus {
	return Failure(MessageUplinkExpired, requestID)
}
