package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"graminbus/internal/connectivity"
	"graminbus/internal/logging"
	"graminbus/internal/tracker"
)

// Server exposes the tracker over HTTP.
type Server struct {
	svc    *tracker.Service
	manual *connectivity.ManualSource
	log    *zap.Logger
	now    func() time.Time
}

// New builds a server. manual may be nil when connectivity comes from NATS,
// in which case the connectivity toggle is rejected.
func New(svc *tracker.Service, manual *connectivity.ManualSource, log *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		manual: manual,
		log:    logging.OrNop(log).Named("api"),
		now:    time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/api/buses", s.listBusesHandler)
	router.HandlerFunc(http.MethodGet, "/api/buses/:id", s.busHandler)
	router.HandlerFunc(http.MethodPatch, "/api/buses/:id", s.patchBusHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/seats", s.seatsHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/capacity", s.capacityHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/eta", s.etaHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/traffic", s.trafficHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/location", s.locationHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/predict", s.predictHandler)
	router.HandlerFunc(http.MethodPost, "/api/buses/:id/announce", s.announceHandler)

	router.HandlerFunc(http.MethodGet, "/api/stops", s.stopsHandler)
	router.HandlerFunc(http.MethodGet, "/api/status", s.statusHandler)
	router.HandlerFunc(http.MethodGet, "/api/queue", s.queueHandler)
	router.HandlerFunc(http.MethodPost, "/api/sync", s.syncHandler)
	router.HandlerFunc(http.MethodGet, "/api/language", s.languageHandler)
	router.HandlerFunc(http.MethodPut, "/api/language", s.setLanguageHandler)
	router.HandlerFunc(http.MethodPost, "/api/connectivity", s.connectivityHandler)
	router.HandlerFunc(http.MethodGet, "/api/events", s.eventsHandler)

	router.HandlerFunc(http.MethodGet, "/gtfs-rt/vehicle-positions", s.vehiclePositionsHandler)

	return router
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
