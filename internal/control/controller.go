// Package control runs the reactor: a fixed-period tick that talks to the
// device and evaluates the continuous rules and schedules, plus the exclusive
// sequences it launches.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bioreactor-controller/internal/config"
	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/metrics"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
	"bioreactor-controller/internal/serial"
	"bioreactor-controller/internal/state"
)

// Device is the serial link as seen by the controller.
type Device interface {
	ReadPacket(timeout time.Duration) (*serial.Packet, error)
	WriteCommand(cmd serial.Command) error
	Exchange(cmd serial.Command, timeout time.Duration) (*serial.Packet, error)
}

// Recorder receives every ingested packet (CSV log, database, MQTT).
type Recorder interface {
	Record(s model.Sample)
}

// Alerter is told about conditions an operator should know about.
type Alerter interface {
	Alert(msg string)
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	Reactor         config.Reactor
	Setpoints       model.Setpoints
	ReadTimeout     time.Duration // OD exchange
	TickReadTimeout time.Duration // periodic inbound read
	HistoryCapacity int
	Metrics         *metrics.Metrics
	Recorders       []Recorder
	Alerter         Alerter

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Controller owns the shared state and everything that drives the hardware.
type Controller struct {
	reactor         config.Reactor
	readTimeout     time.Duration
	tickReadTimeout time.Duration

	dev     Device
	store   *state.Store
	history *history.Set
	queue   *serial.CommandQueue
	seq     *sequencer.Supervisor
	metrics *metrics.Metrics

	recorders []Recorder
	alerter   Alerter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	fatal chan error
}

// New wires a controller around an open device.
func New(dev Device, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = history.DefaultCapacity
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.TickReadTimeout <= 0 {
		opts.TickReadTimeout = 50 * time.Millisecond
	}
	if opts.Reactor.TickInterval <= 0 {
		opts.Reactor.TickInterval = 100 * time.Millisecond
	}

	return &Controller{
		reactor:         opts.Reactor,
		readTimeout:     opts.ReadTimeout,
		tickReadTimeout: opts.TickReadTimeout,
		dev:             dev,
		store:           state.New(opts.Setpoints, opts.Now()),
		history:         history.NewSet(opts.HistoryCapacity),
		queue:           serial.NewCommandQueue(),
		seq:             sequencer.NewSupervisor(context.Background(), opts.Metrics),
		metrics:         opts.Metrics,
		recorders:       opts.Recorders,
		alerter:         opts.Alerter,
		now:             opts.Now,
		sleep:           opts.Sleep,
		fatal:           make(chan error, 1),
	}
}

// Run ticks until ctx is done or the device link fails.
func (c *Controller) Run(ctx context.Context) error {
	logger.Info("Control loop started (tick %v).", c.reactor.TickInterval)
	ticker := time.NewTicker(c.reactor.TickInterval)
	defer ticker.Stop()

	for {
		if err := c.Tick(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			logger.Info("Control loop stopped.")
			return nil
		case err := <-c.fatal:
			return err
		case <-ticker.C:
		}
	}
}

// Tick performs one control period: inbound packet, one outbound command,
// temperature and light rules, schedule triggers, status strings.
func (c *Controller) Tick() error {
	start := time.Now()
	defer func() { c.metrics.TickDurationSecs.Observe(time.Since(start).Seconds()) }()

	if err := c.processInbound(); err != nil {
		return err
	}
	if err := c.processOutbound(); err != nil {
		return err
	}

	now := c.now()
	c.handleTemperature()
	c.handleLightCycle(now)
	c.handleDilutionSchedule(now)
	c.handleODSchedule(now)
	c.handleAeratorSchedule(now)
	c.updateStatus(now)
	return nil
}

// Shutdown cancels running sequences, lets them queue their restoration
// commands and writes everything still queued to the device.
func (c *Controller) Shutdown() {
	logger.Info("Stopping running sequences...")
	c.seq.Shutdown()
	c.Flush()
}

// Flush writes every queued command. Write errors are logged, not returned.
func (c *Controller) Flush() {
	for _, cmd := range c.queue.Drain() {
		if err := c.dev.WriteCommand(cmd); err != nil {
			logger.Error("Failed to flush command %s: %v", cmd, err)
			return
		}
		c.store.SetActuator(cmd.Actuator, cmd.Value)
		c.metrics.CommandSent(cmd.Actuator, cmd.Value)
	}
}

func (c *Controller) processInbound() error {
	pkt, err := c.dev.ReadPacket(c.tickReadTimeout)
	var decErr *serial.DecodeError
	if errors.As(err, &decErr) {
		logger.Warn("Discarding malformed packet from device: %s", decErr.Line)
		c.metrics.DecodeErrors.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("device read failed: %w", err)
	}
	if pkt == nil {
		return nil
	}
	c.ingest(pkt)
	return nil
}

// ingest merges a packet into the readings. Photodiode values are dropped:
// they only mean something as the result of an OD measurement.
func (c *Controller) ingest(pkt *serial.Packet) {
	ts := c.now()
	var sample model.Sample

	c.store.Write(func(d *state.Data) {
		r := &d.Readings
		if pkt.T1.Present {
			r.T1 = pkt.T1.Value
		}
		if pkt.T2.Present {
			r.T2 = pkt.T2.Value
		}
		for a, v := range pkt.Actuators {
			r.Actuators[a] = v
		}

		snap := r.Clone()
		sample = model.Sample{
			Time:      ts,
			T1:        snap.T1,
			T2:        snap.T2,
			L1:        snap.L1,
			L2:        snap.L2,
			OD:        snap.PendingOD,
			Actuators: snap.Actuators,
		}
		r.PendingOD = nil
	})

	if pkt.T1.Value != nil {
		c.history.T1.Append(history.At(ts, *pkt.T1.Value))
	}
	if pkt.T2.Value != nil {
		c.history.T2.Append(history.At(ts, *pkt.T2.Value))
	}

	c.metrics.PacketsReceived.Inc()
	c.metrics.ObserveSample(sample)
	for _, rec := range c.recorders {
		rec.Record(sample)
	}
}

func (c *Controller) processOutbound() error {
	cmd, ok := c.queue.TryPop()
	if !ok {
		return nil
	}
	if err := c.dev.WriteCommand(cmd); err != nil {
		return fmt.Errorf("device write failed: %w", err)
	}
	c.store.SetActuator(cmd.Actuator, cmd.Value)
	c.metrics.CommandSent(cmd.Actuator, cmd.Value)
	return nil
}

// set queues a command for the link writer.
func (c *Controller) set(a model.Actuator, v int) {
	logger.Debug("Queueing %s=%d", a, v)
	c.queue.Set(a, v)
}

// effective is the state a will have once queued commands are written.
func (c *Controller) effective(a model.Actuator) int {
	if v, ok := c.queue.Pending(a); ok {
		return v
	}
	return c.store.Actuator(a)
}

func (c *Controller) alert(format string, v ...interface{}) {
	if c.alerter != nil {
		c.alerter.Alert(fmt.Sprintf(format, v...))
	}
}

// reportFatal hands a link failure from a sequence to Run.
func (c *Controller) reportFatal(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
