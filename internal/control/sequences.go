package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"bioreactor-controller/internal/config"
	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/serial"
	"bioreactor-controller/internal/state"
)

// OD sequence step labels shown on the dashboard.
const (
	stepStirring   = "Stirring"
	stepSettling   = "Settling"
	stepMeasuring  = "Taking measurement..."
	stepFinalizing = "Finalizing..."
)

// ComputeOD returns -log10(l2/l1) rounded to four decimals. ok is false
// unless both intensities are present and strictly positive.
func ComputeOD(l1, l2 *int) (od float64, ok bool) {
	if l1 == nil || l2 == nil || *l1 <= 0 || *l2 <= 0 {
		return 0, false
	}
	od = -math.Log10(float64(*l2) / float64(*l1))
	return math.Round(od*1e4) / 1e4, true
}

// PumpRunTime is how long each pump runs during one dilution event.
func PumpRunTime(dilutionPercent float64, r config.Reactor) time.Duration {
	if r.DilutionsPerCycle <= 0 || r.PumpFlowRateMLMin <= 0 {
		return 0
	}
	dailyL := dilutionPercent / 100 * r.ContainerVolumeL
	perEventL := dailyL / float64(r.DilutionsPerCycle)
	if perEventL <= 0 {
		return 0
	}
	secs := perEventL * 1000 / (r.PumpFlowRateMLMin / 60)
	return time.Duration(math.Round(secs * float64(time.Second)))
}

func (c *Controller) runOD(ctx context.Context) {
	logger.Info("Starting OD reading sequence.")
	initialLights := c.effective(model.Lights)
	initialAerator := c.effective(model.Aerator)
	defer c.finishOD(initialLights, initialAerator)

	c.set(model.Stir, 1)
	if !c.countdown(ctx, stepStirring, c.reactor.ODStirSeconds) {
		logger.Warn("OD sequence aborted while stirring.")
		c.set(model.Stir, 0)
		return
	}
	c.set(model.Stir, 0)
	c.set(model.Lights, 0)
	c.set(model.Aerator, 0)
	if !c.countdown(ctx, stepSettling, c.reactor.ODSettleSeconds) {
		logger.Warn("OD sequence aborted while settling.")
		return
	}

	c.store.SetODStep(stepMeasuring)
	l1, l2, err := c.measure()
	if err != nil {
		logger.Error("OD measurement failed: %v", err)
		c.reportFatal(err)
		return
	}

	c.store.SetODStep(stepFinalizing)
	c.recordOD(l1, l2)
}

// measure switches the IR emitter on and reads the very next packet, holding
// the link for both so no other packet can be taken in between.
func (c *Controller) measure() (l1, l2 *int, err error) {
	pkt, err := c.dev.Exchange(serial.Command{Actuator: model.IRLED, Value: 1}, c.readTimeout)
	var decErr *serial.DecodeError
	if errors.As(err, &decErr) {
		c.store.SetActuator(model.IRLED, 1)
		logger.Warn("OD reading: received bad JSON from device: %s", decErr.Line)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("device exchange: %w", err)
	}
	c.store.SetActuator(model.IRLED, 1)
	c.metrics.CommandSent(model.IRLED, 1)
	if pkt == nil {
		return nil, nil, nil
	}
	return pkt.L1.Value, pkt.L2.Value, nil
}

func (c *Controller) recordOD(l1, l2 *int) {
	od, ok := ComputeOD(l1, l2)
	if !ok {
		c.metrics.ODFailures.Inc()
		logger.Warn("OD reading failed: no valid sensor data. Got l1=%s, l2=%s", fmtInt(l1), fmtInt(l2))
		c.alert("OD measurement failed (l1=%s, l2=%s)", fmtInt(l1), fmtInt(l2))
		c.store.Write(func(d *state.Data) { d.Readings.PendingOD = nil })
		return
	}

	now := c.now()
	c.store.Write(func(d *state.Data) {
		d.Readings.OD = &od
		d.Readings.PendingOD = &od
		d.Readings.L1 = l1
		d.Readings.L2 = l2
		d.Schedule.LastODMeasurement = &now
	})
	c.history.OD.Append(history.At(now, od))
	c.metrics.OpticalDensity.Set(od)
	logger.Info("OD reading taken: %.4f (l1=%d, l2=%d)", od, *l1, *l2)
}

// finishOD runs on every exit path of the OD sequence.
func (c *Controller) finishOD(initialLights, initialAerator int) {
	c.set(model.IRLED, 0)
	if !c.store.Overridden(model.Lights) {
		c.set(model.Lights, initialLights)
	}
	if !c.store.Overridden(model.Aerator) {
		c.set(model.Aerator, initialAerator)
	}
	c.store.SetODStep("")
}

// countdown shows "<label>... Ns" once per second. It returns false if ctx
// is cancelled first.
func (c *Controller) countdown(ctx context.Context, label string, seconds int) bool {
	for i := seconds; i > 0; i-- {
		c.store.SetODStep(fmt.Sprintf("%s... %ds", label, i))
		if err := c.sleep(ctx, time.Second); err != nil {
			return false
		}
	}
	return true
}

func (c *Controller) runDilution(ctx context.Context) {
	runTime := PumpRunTime(c.store.Setpoints().DilutionPercent, c.reactor)
	if runTime <= 0 {
		logger.Info("Dilution skipped: dilution rate is zero.")
		return
	}

	logger.Info("Starting dilution event (%.1fs per pump)...", runTime.Seconds())
	if !c.runActuatorFor(ctx, model.Pump2, runTime) {
		logger.Warn("Dilution aborted during waste pump run.")
		return
	}
	if err := c.sleep(ctx, c.reactor.PumpInterDelay); err != nil {
		logger.Warn("Dilution aborted between pumps.")
		return
	}
	if !c.runActuatorFor(ctx, model.Pump1, runTime) {
		logger.Warn("Dilution aborted during feed pump run.")
		return
	}
	logger.Info("Dilution event finished.")
}

func (c *Controller) runAeration(ctx context.Context) {
	logger.Info("Starting aeration cycle for %v...", c.reactor.AeratorOnDuration)
	if !c.runActuatorFor(ctx, model.Aerator, c.reactor.AeratorOnDuration) {
		logger.Warn("Aeration aborted.")
		return
	}
	logger.Info("Aeration cycle finished.")
}

// runActuatorFor switches a on for d and then off again. An overridden
// actuator is left alone, but the time still elapses. The off command is
// queued even when ctx is cancelled.
func (c *Controller) runActuatorFor(ctx context.Context, a model.Actuator, d time.Duration) bool {
	if !c.store.Overridden(a) {
		c.set(a, 1)
	}
	err := c.sleep(ctx, d)
	if !c.store.Overridden(a) {
		c.set(a, 0)
	}
	return err == nil
}

func fmtInt(p *int) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *p)
}
