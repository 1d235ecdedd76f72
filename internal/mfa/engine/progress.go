package engine

import (
	"context"
	"time"

	"pushauth/internal/mfa/models"
)

// DefaultSimulatedCeiling keeps simulated progress below the steps that only
// the authority can report.
const DefaultSimulatedCeiling = models.StepPushDelivered

var simulatedMessages = map[models.Step]string{
	models.StepConnecting:        models.MessageConnecting,
	models.StepRequestSent:       models.MessageRequestSent,
	models.StepAwaitingBiometric: models.MessageAwaitingBiometric,
	models.StepPushDelivered:     models.MessagePushDelivered,
}

// ProgressSimulator advances the UI stepper on a fixed cadence while the
// network is quiet. It runs independently of the polling loop; both feed
// the same latch, which lets network updates win.
type ProgressSimulator struct {
	Interval time.Duration
	Ceiling  models.Step
}

func NewProgressSimulator(interval time.Duration) ProgressSimulator {
	return ProgressSimulator{Interval: interval, Ceiling: DefaultSimulatedCeiling}
}

// Run emits StepConnecting immediately, then one step per interval up to
// Ceiling. It returns when the ceiling is reached or ctx is done.
func (p ProgressSimulator) Run(ctx context.Context, requestID string, emit func(models.AuthStatus)) {
	if p.Interval <= 0 || emit == nil {
		return
	}
	ceiling := p.Ceiling
	if ceiling <= models.StepConnectionFailed || ceiling > DefaultSimulatedCeiling {
		ceiling = DefaultSimulatedCeiling
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for step := models.StepConnecting; step <= ceiling; step++ {
		if step > models.StepConnecting {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		emit(models.Pending(step, simulatedMessages[step], requestID))
	}
}
