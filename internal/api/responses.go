package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"graminbus/internal/bus"
	"graminbus/internal/queue"
	"graminbus/internal/registry"
	"graminbus/internal/tracker"
)

// ResponseModel is the envelope for every JSON response.
type ResponseModel struct {
	Code        int    `json:"code"`
	CurrentTime int64  `json:"currentTime"`
	Text        string `json:"text"`
	Data        any    `json:"data,omitempty"`
}

func (s *Server) sendResponse(w http.ResponseWriter, r *http.Request, status int, data any) {
	response := ResponseModel{
		Code:        status,
		CurrentTime: s.now().UnixMilli(),
		Text:        http.StatusText(status),
		Data:        data,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("failed to encode response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, text string) {
	response := ResponseModel{
		Code:        status,
		CurrentTime: s.now().UnixMilli(),
		Text:        text,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("failed to encode error response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

func (s *Server) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	s.errorResponse(w, r, http.StatusInternalServerError, "internal server error")
}

// mutationError maps tracker errors onto HTTP status codes.
func (s *Server) mutationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, registry.ErrUnknownBus):
		s.errorResponse(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, bus.ErrEmptyPatch), errors.Is(err, bus.ErrInvalidPatch), errors.As(err, &verrs):
		s.errorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrOffline):
		s.errorResponse(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrDelivery):
		s.errorResponse(w, r, http.StatusBadGateway, err.Error())
	default:
		s.serverErrorResponse(w, r, err)
	}
}

const maxBodyBytes = 1 << 16

// decodeJSON reads a single JSON object from the body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body must not be empty")
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func languageParam(r *http.Request) bus.Language {
	return bus.Language(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lang"))))
}
