package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"provider-directory/feed"
	"provider-directory/models"
	"provider-directory/services"
	"provider-directory/snapshot"
	"provider-directory/storage"
)

// Server is the thin HTTP surface over the directory and the refresh
// pipeline.
type Server struct {
	updater   *services.Updater
	directory *services.Directory
	gate      *snapshot.Gate
	metrics   http.Handler
	logger    logrus.FieldLogger

	http *http.Server
}

// New builds the HTTP server on addr.
func New(addr string, updater *services.Updater, directory *services.Directory,
	gate *snapshot.Gate, metricsHandler http.Handler, logger logrus.FieldLogger) *Server {
	s := &Server{
		updater:   updater,
		directory: directory,
		gate:      gate,
		metrics:   metricsHandler,
		logger:    logger.WithField("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/providers/{locationID}/{institutionID}", s.handleDetail)
	mux.HandleFunc("POST /api/providers/batch", s.handleDetails)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.Handle("GET /metrics", s.metrics)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           cors.Default().Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r.PathValue("locationID"), r.PathValue("institutionID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "ids must be integers")
		return
	}

	provider, err := s.directory.Detail(r.Context(), key)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	var keys []models.ProviderKey
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON array of keys")
		return
	}

	providers, err := s.directory.Details(r.Context(), keys)
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.gate.CurrentPath()
	if err != nil {
		s.writeMapped(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, path)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.updater.Status(r.Context())
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	msg, err := s.updater.Run(r.Context())
	if err != nil {
		s.writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// writeMapped translates pipeline errors to the structured wire form.
// Internal detail never leaves the process; callers get the kind and a
// human-readable message.
func (s *Server) writeMapped(w http.ResponseWriter, err error) {
	var fetchErr *feed.FetchError
	var parseErr *feed.ParseError
	var persistErr *storage.PersistenceError
	var writeErr *snapshot.WriteError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no provider with that id")
	case errors.Is(err, snapshot.ErrUpdateInProgress):
		writeError(w, http.StatusConflict, "update_in_progress", "an update is running, retry later")
	case errors.Is(err, snapshot.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, "no_snapshot", "no snapshot has been published yet")
	case errors.Is(err, services.ErrEmptyDataset):
		writeError(w, http.StatusUnprocessableEntity, "empty_dataset", "upstream feed contained no providers")
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusUnprocessableEntity, "fetch_failed", "could not download the upstream feed")
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "parse_failed", "upstream feed was malformed")
	case errors.As(err, &persistErr):
		writeError(w, http.StatusUnprocessableEntity, "persistence_failed", "could not persist the provider set")
	case errors.As(err, &writeErr):
		writeError(w, http.StatusUnprocessableEntity, "snapshot_failed", "could not build the snapshot archive")
	default:
		s.logger.WithError(err).Error("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func parseKey(locationID, institutionID string) (models.ProviderKey, bool) {
	loc, err := strconv.ParseInt(locationID, 10, 64)
	if err != nil {
		return models.ProviderKey{}, false
	}
	inst, err := strconv.ParseInt(institutionID, 10, 64)
	if err != nil {
		return models.ProviderKey{}, false
	}
	return models.ProviderKey{LocationID: loc, InstitutionID: inst}, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
