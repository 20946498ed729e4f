package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joyline/joycore/device"
	"github.com/joyline/joycore/internal/log"
	"github.com/joyline/joycore/manager"
	"github.com/joyline/joycore/report"
)

// deviceRumblePulse is the short greeting buzz played on connect.
var deviceRumblePulse = report.Resonant(160, 0.5)

// Monitor opens every attached controller and streams decoded state until
// interrupted. It is the reference consumer: an engine bridge replaces this
// loop with its own scheduler and keeps the same manager surface.
type Monitor struct {
	Deadzone        float64       `help:"Stick deadzone fraction around center" default:"0.1" env:"JOYCORE_DEADZONE"`
	ReadTimeout     time.Duration `help:"Transport read timeout per report" default:"200ms" env:"JOYCORE_READ_TIMEOUT"`
	RescanInterval  time.Duration `help:"How often to look for newly attached controllers" default:"2s" env:"JOYCORE_RESCAN_INTERVAL"`
	StatusInterval  time.Duration `help:"How often to log a state summary per controller (0 disables)" default:"5s" env:"JOYCORE_STATUS_INTERVAL"`
	NoIMU           bool          `help:"Leave the inertial sensor disabled" env:"JOYCORE_NO_IMU"`
	RumbleOnConnect bool          `help:"Play a short rumble pulse when a controller connects" env:"JOYCORE_RUMBLE_ON_CONNECT"`
}

// Run is called by kong when the monitor command is executed.
func (m *Monitor) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return m.Monitor(ctx, logger, rawLogger)
}

func (m *Monitor) Monitor(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	mgr := manager.New(manager.Options{
		Device: device.Options{
			Deadzone:    m.Deadzone,
			ReadTimeout: m.ReadTimeout,
			DisableIMU:  m.NoIMU,
		},
		Logger: logger,
		Raw:    rawLogger,
	})
	defer mgr.Close()

	if opened, err := mgr.Rescan(); err != nil {
		return err
	} else if opened == 0 {
		logger.Info("no controllers attached yet, waiting for hotplug")
	}

	rescan := time.NewTicker(m.RescanInterval)
	defer rescan.Stop()

	statusInterval := m.StatusInterval
	if statusInterval == 0 {
		// Ticker needs a positive period; status logging stays off via the
		// enabled flag.
		statusInterval = time.Hour
	}
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case <-rescan.C:
			if _, err := mgr.Rescan(); err != nil {
				logger.Warn("rescan failed", "error", err)
			}

		case <-status.C:
			if m.StatusInterval == 0 {
				continue
			}
			for _, dev := range mgr.Devices() {
				s := dev.Snapshot()
				logger.Info("controller",
					"serial", s.Serial,
					"state", dev.State().String(),
					"battery", s.Battery,
					"charging", s.Charging,
					"buttons", s.Buttons.String(),
					"lx", s.LeftX, "ly", s.LeftY,
					"rx", s.RightX, "ry", s.RightY,
					"dropped", dev.MalformedReports(),
				)
			}

		case ev, ok := <-mgr.Events():
			if !ok {
				return nil
			}
			m.handleEvent(mgr, logger, ev)
		}
	}
}

func (m *Monitor) handleEvent(mgr *manager.Manager, logger *slog.Logger, ev device.Event) {
	switch ev.Type {
	case device.EventConnected:
		logger.Info("controller connected", "serial", ev.Serial, "kind", ev.Kind.String())
		if m.RumbleOnConnect {
			path := ev.Path
			if err := mgr.SendCommand(path, device.SetRumble{
				Left:  deviceRumblePulse,
				Right: deviceRumblePulse,
			}); err != nil {
				logger.Warn("rumble on connect", "error", err)
				return
			}
			time.AfterFunc(250*time.Millisecond, func() {
				_ = mgr.SendCommand(path, device.SetRumble{
					Left:  report.VibrationNeutral,
					Right: report.VibrationNeutral,
				})
			})
		}
	case device.EventDisconnected:
		if ev.Err != nil {
			logger.Warn("controller disconnected", "serial", ev.Serial, "error", ev.Err)
		} else {
			logger.Info("controller disconnected", "serial", ev.Serial)
		}
	case device.EventError:
		logger.Error("controller error", "serial", ev.Serial, "error", ev.Err)
	}
}
