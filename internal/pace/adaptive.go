package pace

import (
	"github.com/previewd/previewd/internal/logger"
)

const (
	// MinAdaptiveFPS is the floor the adaptive scheduler degrades to.
	MinAdaptiveFPS = 10.0

	// overBudgetTolerance degrades only when the smoothed cost exceeds
	// the frame budget by 5%, so borderline frames don't flap the rate.
	overBudgetTolerance = 1.05

	// recoverThreshold restores the rate once the smoothed cost drops
	// below 90% of the budget.
	recoverThreshold = 0.90

	// ewmaAlpha weighs new cost samples at 30%, history at 70%, so a
	// single outlier frame does not swing the rate.
	ewmaAlpha = 0.3

	// warmupSamples is the number of cost samples required before the
	// rate is adjusted at all.
	warmupSamples = 3
)

// AdaptiveScheduler extends Scheduler with a degradation policy: when the
// observed per-frame processing cost cannot sustain the requested rate,
// the effective rate is smoothly lowered (never below MinAdaptiveFPS) and
// recovers toward the original target once headroom returns.
type AdaptiveScheduler struct {
	*Scheduler

	requestedFPS float64
	smoothedCost float64 // seconds
	samples      int
}

// NewAdaptiveScheduler returns an adaptive scheduler targeting the given
// frames per second.
func NewAdaptiveScheduler(targetFPS float64) *AdaptiveScheduler {
	if targetFPS <= 0 {
		targetFPS = 1
	}
	return &AdaptiveScheduler{
		Scheduler:    NewScheduler(targetFPS),
		requestedFPS: targetFPS,
	}
}

// RequestedFPS returns the original caller-supplied target rate.
func (a *AdaptiveScheduler) RequestedFPS() float64 {
	return a.requestedFPS
}

// EndFrame records the frame cost and adjusts the effective rate.
func (a *AdaptiveScheduler) EndFrame(tok Token) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cost := a.now().Sub(tok.start)
	a.record(tok.start, cost)

	a.samples++
	sample := cost.Seconds()
	if a.samples == 1 {
		a.smoothedCost = sample
	} else {
		a.smoothedCost = ewmaAlpha*sample + (1-ewmaAlpha)*a.smoothedCost
	}
	if a.samples < warmupSamples {
		return
	}

	budget := 1.0 / a.requestedFPS
	current := a.fps
	desired := current

	switch {
	case a.smoothedCost > budget*overBudgetTolerance:
		// The consumer can't keep up. Aim for the rate its measured
		// cost can sustain.
		sustainable := 1.0 / a.smoothedCost
		desired = ewmaAlpha*sustainable + (1-ewmaAlpha)*current
	case a.smoothedCost < budget*recoverThreshold:
		desired = ewmaAlpha*a.requestedFPS + (1-ewmaAlpha)*current
	default:
		return
	}

	if desired > a.requestedFPS {
		desired = a.requestedFPS
	}
	floor := MinAdaptiveFPS
	if a.requestedFPS < floor {
		floor = a.requestedFPS
	}
	if desired < floor {
		desired = floor
	}

	// Ignore sub-1% moves to keep the interval stable.
	if diff := desired - current; diff < current*0.01 && diff > -current*0.01 {
		return
	}

	a.setRate(desired)
	logger.WithComponent("frame-scheduler").Debug().
		Float64("fps", desired).
		Float64("prev", current).
		Float64("smoothed_cost_ms", a.smoothedCost*1000).
		Msg("Adjusted effective frame rate")
}
