package server

import (
	"context"
	"embed"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/form/v4"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"bioreactor-controller/internal/control"
	"bioreactor-controller/internal/database"
	"bioreactor-controller/internal/handlers"
	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/logstream"
	"bioreactor-controller/internal/metrics"
	"bioreactor-controller/internal/model"
	"bioreactor-controller/internal/sequencer"
	"bioreactor-controller/internal/telemetry"
)

//go:embed ui
var uiFS embed.FS

// Controller is the part of the control loop the dashboard uses.
type Controller interface {
	Readings() model.Readings
	Setpoints() model.Setpoints
	Overrides() map[model.Actuator]bool
	History() history.Snapshot
	Busy() (sequencer.Kind, bool)
	Toggle(key string) error
	SetManualOverride(a model.Actuator, v int)
	SetAutomation(s control.AutomationSettings)
	ResumeAutomation()
	TriggerOD() bool
}

// Options wires the server to the rest of the process. Only Controller is required.
type Options struct {
	Controller     Controller
	CSV            *telemetry.CSVLogger
	DB             *database.DB
	Metrics        *metrics.Metrics
	Logs           *logstream.Hub
	StreamInterval time.Duration
}

// Server is the dashboard HTTP surface.
type Server struct {
	ctrl        Controller
	csv         *telemetry.CSVLogger
	db          *database.DB
	metrics     *metrics.Metrics
	logs        *logstream.Hub
	stream      *logstream.Hub
	interval    time.Duration
	formDecoder *form.Decoder
	srv         *http.Server
}

// New builds a server. Call Handler for tests or Start to listen.
func New(opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 200 * time.Millisecond
	}
	return &Server{
		ctrl:        opts.Controller,
		csv:         opts.CSV,
		db:          opts.DB,
		metrics:     opts.Metrics,
		logs:        opts.Logs,
		stream:      logstream.NewHub(0),
		interval:    opts.StreamInterval,
		formDecoder: form.NewDecoder(),
	}
}

// Handler returns the routed handler wrapped in the standard middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods("GET")

	// Dashboard form actions redirect back to the page.
	r.HandleFunc("/toggle/{actuator}", s.handleToggle).Methods("POST")
	r.HandleFunc("/set_automation", s.handleSetAutomation).Methods("POST")
	r.HandleFunc("/resume_automation", s.handleResumeAutomation).Methods("POST")
	r.HandleFunc("/trigger_od", s.handleTriggerOD).Methods("POST")
	r.HandleFunc("/history", s.handleHistory).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/readings", s.handleReadings).Methods("GET")
	api.HandleFunc("/setpoints", s.handleSetpoints).Methods("GET")
	api.HandleFunc("/overrides", s.handleOverrides).Methods("GET")
	api.HandleFunc("/override/{actuator}", s.handleOverride).Methods("POST")
	api.HandleFunc("/settings", handlers.HandleGetSettings).Methods("GET")
	api.HandleFunc("/settings", handlers.HandlePostSettings).Methods("POST")

	if s.csv != nil {
		r.HandleFunc("/download", s.csv.HandleDownloadCSV).Methods("GET")
		api.HandleFunc("/telemetry/history", s.csv.HandleGetHistory).Methods("GET")
		api.HandleFunc("/telemetry/dates", s.csv.HandleGetLogDates).Methods("GET")
		api.HandleFunc("/telemetry/download", s.csv.HandleDownloadCSV).Methods("GET")
	}
	if s.db != nil {
		api.HandleFunc("/telemetry/range", telemetry.HandleGetRange(s.db)).Methods("GET")
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// --- WebSocket ---
	r.HandleFunc("/ws/stream", s.stream.ServeWs)
	if s.logs != nil {
		r.HandleFunc("/ws/logs", s.logs.ServeWs)
	}

	standard := alice.New(s.recoverPanic, s.logRequest)
	return standard.Then(r)
}

// Start binds addr, serves in the background and pushes live readings until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting dashboard server on %s...", addr)
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
		}
	}()
	go s.StreamReadings(ctx)
	return nil
}

// Shutdown stops accepting requests and disconnects the stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
