package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bioreactor-controller/internal/control"
	"bioreactor-controller/internal/logger"
	"bioreactor-controller/internal/model"
)

// automationForm is the dashboard settings form. Fields are kept as strings;
// the controller ignores values it cannot parse.
type automationForm struct {
	Temperature          string `form:"temperature"`
	LightCycleHours      string `form:"light_cycle_hours"`
	DilutionPercent      string `form:"dilution_percent"`
	ODIntervalHours      string `form:"od_interval_hours"`
	AeratorIntervalHours string `form:"aerator_interval_hours"`
}

func (f automationForm) settings() control.AutomationSettings {
	return control.AutomationSettings{
		Temperature:          f.Temperature,
		LightCycleHours:      f.LightCycleHours,
		DilutionPercent:      f.DilutionPercent,
		ODIntervalHours:      f.ODIntervalHours,
		AeratorIntervalHours: f.AeratorIntervalHours,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, uiFS, "ui/index.html")
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Readings())
}

func (s *Server) handleSetpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Setpoints())
}

func (s *Server) handleOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.Overrides())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.History())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["actuator"]
	if err := s.ctrl.Toggle(key); err != nil {
		if errors.Is(err, control.ErrUnknownActuator) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	redirectHome(w, r)
}

// handleOverride sets one actuator to the "value" form field (0 or 1).
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	a, ok := model.ParseActuator(mux.Vars(r)["actuator"])
	if !ok {
		http.Error(w, control.ErrUnknownActuator.Error(), http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	v, err := strconv.Atoi(r.PostForm.Get("value"))
	if err != nil || (v != 0 && v != 1) {
		http.Error(w, "value must be 0 or 1", http.StatusBadRequest)
		return
	}
	s.ctrl.SetManualOverride(a, v)
	writeJSON(w, s.ctrl.Readings())
}

func (s *Server) handleSetAutomation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	var f automationForm
	if err := s.formDecoder.Decode(&f, r.PostForm); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	s.ctrl.SetAutomation(f.settings())
	redirectHome(w, r)
}

func (s *Server) handleResumeAutomation(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ResumeAutomation()
	redirectHome(w, r)
}

func (s *Server) handleTriggerOD(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.TriggerOD() {
		kind, _ := s.ctrl.Busy()
		logger.Info("Manual OD request ignored: %s sequence running.", kind)
	}
	redirectHome(w, r)
}

// StreamReadings broadcasts the readings as JSON every interval while clients are connected.
func (s *Server) StreamReadings(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.stream.Clients() == 0 {
				continue
			}
			data, err := json.Marshal(s.ctrl.Readings())
			if err != nil {
				logger.Error("Failed to encode readings for stream: %v", err)
				continue
			}
			s.stream.Broadcast(data)
		}
	}
}
