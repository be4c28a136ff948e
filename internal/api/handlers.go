package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/telemetry"
)

type startRequest struct {
	FlightName string `json:"flightName"`
	Port       string `json:"port"`
	BaudRate   int    `json:"baudRate"`
}

type startResponse struct {
	Success    bool   `json:"success"`
	FlightID   int64  `json:"flightId"`
	FlightName string `json:"flightName"`
}

type stopResponse struct {
	Success  bool  `json:"success"`
	FlightID int64 `json:"flightId"`
}

type injectRequest struct {
	Line     string `json:"line"`
	FlightID int64  `json:"flightId"`
}

type injectResponse struct {
	Success bool              `json:"success"`
	Latest  *telemetry.Update `json:"latest"`
}

type serialStatus struct {
	IsReading       bool   `json:"isReading"`
	CurrentFlightID *int64 `json:"currentFlightId"`
	Port            string `json:"port,omitempty"`
}

type deletedNotice struct {
	ID int64 `json:"id"`
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New().WithMessage(errors.ErrInvalidArgument, "Malformed request body")
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	if req.Port == "" {
		req.Port = s.cfg.Port
	}
	if req.BaudRate <= 0 {
		req.BaudRate = s.cfg.BaudRate
	}

	flight, err := s.sessions.Start(r.Context(), req.FlightName, req.Port, req.BaudRate)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, startResponse{
		Success:    true,
		FlightID:   flight.ID,
		FlightName: flight.Name,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.Stop(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stopResponse{Success: true, FlightID: id})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Line == "" {
		s.respondError(w, errors.New().WithMessage(errors.ErrInvalidArgument, "Line is required"))
		return
	}

	// A request without a flight id targets the active flight.
	if req.FlightID == 0 {
		if st := s.sessions.Status(); st.Active {
			req.FlightID = st.FlightID
		}
	}

	if err := s.sessions.InjectTestLine(r.Context(), req.FlightID, req.Line); err != nil {
		s.respondError(w, err)
		return
	}

	resp := injectResponse{Success: true}
	latest, err := s.store.LatestTelemetry(r.Context(), req.FlightID)
	switch {
	case err == nil:
		update := latest.Update()
		resp.Latest = &update
	case !errors.HasCode(err, errors.ErrNotFound):
		s.logger.Warn().Err(err).Int64("flight_id", req.FlightID).Msg("Failed reading latest telemetry")
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSerialStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.sessions.Status()

	resp := serialStatus{IsReading: st.Active}
	if st.Active {
		id := st.FlightID
		resp.CurrentFlightID = &id
		resp.Port = st.Addr
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, errFactory.WithMessage(errors.ErrInvalidArgument, "Invalid flight id"))
		return
	}

	if st := s.sessions.Status(); st.Active && st.FlightID == id {
		s.respondError(w, errFactory.WithMessage(errors.ErrSessionActive, "Stop the flight before deleting it"))
		return
	}

	if err := s.store.DeleteFlight(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}

	s.hub.Broadcast(fanout.EventFlightDeleted, deletedNotice{ID: id})
	s.logger.Info().Int64("flight_id", id).Msg("Flight deleted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.sessions.Status()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"flying":      st.Active,
		"subscribers": s.hub.Subscribers(),
	})
}
