package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pushauth/internal/mfa/latch"
	"pushauth/internal/mfa/models"
)

const demoRequestPrefix = "demo-"

type demoStep struct {
	step    models.Step
	message string
}

// demoProgression is the fixed script replayed by every demo poll.
var demoProgression = []demoStep{
	{models.StepConnecting, models.MessageConnecting},
	{models.StepRequestSent, models.MessageRequestSent},
	{models.StepAwaitingBiometric, models.MessageAwaitingBiometric},
	{models.StepPushDelivered, models.MessagePushDelivered},
	{models.StepBiometricPending, models.MessageBiometricPending},
	{models.StepVerifying, models.MessageVerifying},
}

// DemoStrategy simulates a successful handshake without any network I/O.
type DemoStrategy struct {
	interval    time.Duration
	countryCode string
}

func NewDemoStrategy(opts Options) *DemoStrategy {
	opts = opts.withDefaults()
	return &DemoStrategy{interval: opts.DemoStepInterval, countryCode: opts.CountryCode}
}

// Start validates mobile and returns a fresh local request id.
func (s *DemoStrategy) Start(_ context.Context, mobile string) (string, error) {
	if _, err := models.NormalizeMobile(mobile, s.countryCode); err != nil {
		return "", err
	}
	return demoRequestPrefix + uuid.NewString(), nil
}

// Poll emits one pending status per interval for each scripted step and
// then a single success.
func (s *DemoStrategy) Poll(requestID, _ string, onUpdate UpdateFunc) CancelFunc {
	l := latch.New()
	ctx, cancel := context.WithCancel(context.Background())
	go s.run(ctx, l, requestID, onUpdate)
	return newCancelFunc(cancel, l)
}

func (s *DemoStrategy) run(ctx context.Context, l *latch.Latch, requestID string, onUpdate UpdateFunc) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; i <= len(demoProgression); i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := models.Success(requestID)
		if i < len(demoProgression) {
			status = models.Pending(demoProgression[i].step, demoProgression[i].message, requestID)
		}
		if !l.Deliver(latch.Network(status), onUpdate) {
			return
		}
	}
}

// DemoSequenceLength is the number of updates a demo poll delivers.
func DemoSequenceLength() int {
	return len(demoProgression) + 1
}
