package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"github.com/google/uuid"
)

// handleStream bridges a hub subscription to Server-Sent Events. The first
// event carries the subscriber id used by the room endpoints. The optional
// flight query parameter joins that flight's room at connect; lifecycle
// announcements are delivered regardless.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, errors.New().WithMessage(errors.ErrInternal, "Streaming unsupported"))
		return
	}

	var flightID int64
	if v := r.URL.Query().Get("flight"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			s.respondError(w, errors.New().WithMessage(errors.ErrInvalidArgument, "Invalid flight id"))
			return
		}
		flightID = id
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, fanout.EventSubscribed, fanout.Subscribed{SubscriberID: sub.ID}); err != nil {
		return
	}
	flusher.Flush()

	if flightID > 0 {
		s.hub.Join(sub, flightID)
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case msg, ok := <-sub.C:
			if !ok {
				return
			}

			data, err := json.Marshal(msg.Data)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", msg.Event).Msg("Failed encoding stream message")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// handleJoinRoom adds a live stream to the room of a flight.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	sub, flightID, err := s.roomRequest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.hub.Join(sub, flightID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	sub, flightID, err := s.roomRequest(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.hub.Leave(sub, flightID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) roomRequest(r *http.Request) (*fanout.Subscription, int64, error) {
	errFactory := errors.New()

	id, err := uuid.Parse(r.PathValue("subscriber"))
	if err != nil {
		return nil, 0, errFactory.WithMessage(errors.ErrInvalidArgument, "Invalid subscriber id")
	}
	flightID, err := strconv.ParseInt(r.PathValue("flight"), 10, 64)
	if err != nil || flightID <= 0 {
		return nil, 0, errFactory.WithMessage(errors.ErrInvalidArgument, "Invalid flight id")
	}

	sub, ok := s.hub.Lookup(id)
	if !ok {
		return nil, 0, errFactory.WithData(errors.ErrNotFound, id.String()).WithMessage("Subscriber not connected")
	}

	return sub, flightID, nil
}
