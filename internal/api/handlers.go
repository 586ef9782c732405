package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/tracker"
)

var validate = validator.New()

type deltaRequest struct {
	Delta *int `json:"delta" validate:"required"`
}

type capacityRequest struct {
	Status bus.Capacity `json:"status" validate:"required,oneof=AVAILABLE STANDING FULL OVERLOADED"`
}

type trafficRequest struct {
	Status bus.Traffic `json:"status" validate:"required,oneof=SMOOTH HEAVY BLOCK"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type languageRequest struct {
	Language bus.Language `json:"language" validate:"required,oneof=en hi"`
}

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

type predictResponse struct {
	Prediction string     `json:"prediction"`
	EtaMins    int        `json:"etaMins"`
	Language   string     `json:"language"`
	Bus        bus.Record `json:"bus"`
}

func busID(r *http.Request) string {
	return httprouter.ParamsFromContext(r.Context()).ByName("id")
}

// bind decodes and validates a request body, writing a 400 on failure.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		s.errorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		s.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) listBusesHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, r, http.StatusOK, map[string]any{"list": s.svc.Buses()})
}

func (s *Server) busHandler(w http.ResponseWriter, r *http.Request) {
	id := busID(r)
	rec, ok := s.svc.Bus(id)
	if !ok {
		s.errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("unknown bus id: %q", id))
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) patchBusHandler(w http.ResponseWriter, r *http.Request) {
	var patch bus.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.errorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	rec, err := s.svc.UpdateBus(r.Context(), busID(r), patch)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) seatsHandler(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if !s.bind(w, r, &req) {
		return
	}
	rec, err := s.svc.AdjustSeats(r.Context(), busID(r), *req.Delta)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) capacityHandler(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if !s.bind(w, r, &req) {
		return
	}
	rec, err := s.svc.SetCapacity(r.Context(), busID(r), req.Status)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) etaHandler(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if !s.bind(w, r, &req) {
		return
	}
	rec, err := s.svc.AdjustETA(r.Context(), busID(r), *req.Delta)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) trafficHandler(w http.ResponseWriter, r *http.Request) {
	var req trafficRequest
	if !s.bind(w, r, &req) {
		return
	}
	rec, err := s.svc.SetTraffic(r.Context(), busID(r), req.Status)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) locationHandler(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if !s.bind(w, r, &req) {
		return
	}
	rec, err := s.svc.UpdateLocation(r.Context(), busID(r), *req.Lat, *req.Lng)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, rec)
}

func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	lang := languageParam(r)
	if !lang.Valid() {
		lang = s.svc.Language()
	}
	res, rec, err := s.svc.Predict(r.Context(), busID(r), lang)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, predictResponse{
		Prediction: res.Message(lang),
		EtaMins:    res.EtaMins,
		Language:   string(lang),
		Bus:        rec,
	})
}

func (s *Server) announceHandler(w http.ResponseWriter, r *http.Request) {
	lang := languageParam(r)
	if !lang.Valid() {
		lang = s.svc.Language()
	}
	text, err := s.svc.Announce(busID(r), lang)
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, map[string]string{"text": text, "locale": lang.Locale()})
}

func (s *Server) stopsHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, r, http.StatusOK, map[string]any{"list": s.svc.Stops()})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, r, http.StatusOK, s.svc.Status())
}

func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, r, http.StatusOK, map[string]any{"list": s.svc.Pending()})
}

func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Flush(r.Context())
	if err != nil {
		s.mutationError(w, r, err)
		return
	}
	s.sendResponse(w, r, http.StatusOK, res)
}

func (s *Server) languageHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, r, http.StatusOK, languageRequest{Language: s.svc.Language()})
}

func (s *Server) setLanguageHandler(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !s.bind(w, r, &req) {
		return
	}
	if err := s.svc.SetLanguage(r.Context(), req.Language); err != nil {
		s.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.sendResponse(w, r, http.StatusOK, req)
}

func (s *Server) connectivityHandler(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		s.errorResponse(w, r, http.StatusConflict, "connectivity is managed by the NATS connection")
		return
	}
	var req connectivityRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.manual.Set(*req.Online)
	s.sendResponse(w, r, http.StatusOK, s.svc.Status())
}

// eventsHandler streams tracker events as server-sent events, starting with
// the current snapshot.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := s.svc.Subscribe(32)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, tracker.Event{Kind: "snapshot", Snapshot: s.svc.Snapshot()}); err != nil {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, ev); err != nil {
				s.log.Debug("event stream closed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev tracker.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, b); err != nil {
		return err
	}
	return rc.Flush()
}
