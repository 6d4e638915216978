package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bioreactor-controller/internal/config"
	"bioreactor-controller/internal/control"
	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/logstream"
	"bioreactor-controller/internal/metrics"
	"bioreactor-controller/internal/mqtt"
	"bioreactor-controller/internal/serial"
	"bioreactor-controller/internal/server"
	"bioreactor-controller/internal/telemetry"
)

// AppVersion is set at build time with -ldflags "-X main.AppVersion=...".
var AppVersion = "dev"

const logBacklog = 200

func main() {
	configPath := flag.String("config", config.DefaultFile, "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(AppVersion)
		return
	}

	logs := logstream.NewHub(logBacklog)

	// Load configuration as early as possible to apply settings like LogLevel.
	if err := config.Load(*configPath); err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	conf := config.Get()

	if err := logger.Setup(logger.Options{File: conf.LogFile, Color: true, Extra: logs}); err != nil {
		logger.Fatal("Failed to set up logging: %v", err)
	}
	logger.SetLevelFromString(conf.LogLevel)

	logger.Info("===========================================================")
	logger.Info("==              Bioreactor Controller %-18s ==", AppVersion)
	logger.Info("===========================================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link := openLink(conf)

	csvLog, err := telemetry.NewCSVLogger(conf.LogDir, conf.HistoryRetentionDays)
	if err != nil {
		logger.Fatal("Failed to initialize CSV telemetry: %v", err)
	}
	recorders := []control.Recorder{csvLog}

	var db *database.DB
	if conf.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(conf.DatabasePath), 0755); err != nil {
			logger.Fatal("Failed to create database directory: %v", err)
		}
		db, err = database.Open(conf.DatabasePath)
		if err != nil {
			logger.Fatal("Failed to open telemetry database: %v", err)
		}
		recorders = append(recorders, telemetry.NewDBRecorder(db, conf.HistoryRetentionDays))
	}

	maintenance, err := telemetry.StartMaintenance(conf.MaintenanceSchedule, conf.LogDir, db, conf.HistoryRetentionDays)
	if err != nil {
		logger.Warn("Telemetry maintenance disabled: %v", err)
	}

	var publisher *mqtt.Publisher
	var alerter control.Alerter
	if conf.MQTT.Broker != "" {
		publisher = mqtt.New(mqtt.Config{
			Broker:      conf.MQTT.Broker,
			ClientID:    conf.MQTT.ClientID,
			TopicPrefix: conf.MQTT.TopicPrefix,
		})
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := publisher.Connect(connectCtx); err != nil {
			logger.Warn("MQTT broker not reachable yet (%v). Retrying in the background.", err)
		}
		cancel()
		recorders = append(recorders, publisher)
		alerter = publisher
	}

	m := metrics.New()
	ctrl := control.New(link, control.Options{
		Reactor:         conf.Reactor,
		Setpoints:       conf.Setpoints,
		ReadTimeout:     conf.ReadTimeout,
		TickReadTimeout: conf.TickReadTimeout,
		Metrics:         m,
		Recorders:       recorders,
		Alerter:         alerter,
	})

	srv := server.New(server.Options{
		Controller: ctrl,
		CSV:        csvLog,
		DB:         db,
		Metrics:    m,
		Logs:       logs,
	})
	if err := srv.Start(ctx, conf.ListenAddr()); err != nil {
		logger.Fatal("Could not bind to address '%s' (reason: %v). Please check your configuration.", conf.ListenAddr(), err)
	}

	if publisher != nil {
		go publishState(ctx, publisher, ctrl)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed: %v", err)
	} else if ok {
		logger.Debug("Notified systemd that the controller is ready.")
	}

	runErr := ctrl.Run(ctx)

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	cancel()

	// A dead link cannot take the final commands.
	if runErr == nil {
		ctrl.Shutdown()
	}
	if err := link.Close(); err != nil {
		logger.Warn("Closing serial port: %v", err)
	}
	if maintenance != nil {
		maintenance.Stop()
	}
	if err := csvLog.Close(); err != nil {
		logger.Warn("Closing CSV log: %v", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("Closing database: %v", err)
		}
	}
	if publisher != nil {
		publisher.Close()
	}
	logs.Close()

	if runErr != nil {
		logger.Fatal("Device link failed: %v", runErr)
	}
	logger.Info("Exiting application.")
	logger.Close()
}

// openLink opens the configured port, or the first USB port that streams JSON.
func openLink(conf *config.Config) *serial.Link {
	portName := conf.SerialPortName
	if portName == "" {
		logger.Info("No serial port configured. Starting auto-detection...")
		found, err := serial.FindPort(conf.BaudRate)
		if err != nil {
			logger.Fatal("Auto-detection failed: %v", err)
		}
		logger.Info("Auto-detection found device on port %s.", found)
		portName = found
	}
	link, err := serial.Open(portName, conf.BaudRate)
	if err != nil {
		logger.Fatal("Could not open device link: %v", err)
	}
	return link
}

// publishState sends the retained readings record every few seconds.
func publishState(ctx context.Context, p *mqtt.Publisher, ctrl *control.Controller) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PublishReadings(ctrl.Readings())
		}
	}
}
