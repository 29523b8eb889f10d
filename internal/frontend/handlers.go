// Package frontend provides the server-rendered dashboard of the sensor hub.
package frontend

import (
	"errors"
	"net/http"
	"strconv"
)

// handleIndex serves the zones dashboard.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling index request")

	zones, err := s.hub.zones(r.Context())
	if err != nil && !errors.Is(err, errNotFound) {
		s.backendError(w, err, "Failed to fetch zones")
		return
	}

	setHTML(w)
	if err := renderZones(r.Context(), w, zones, s.now(), s.metrics); err != nil {
		s.logger.Error("failed to render zones", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleZone serves the latest reading of one device.
func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	s.logger.Debug("handling zone request", "mac_address", mac)

	activity, err := s.hub.latest(r.Context(), mac)
	if err != nil {
		if errors.Is(err, errNotFound) {
			http.Error(w, "Zone not found", http.StatusNotFound)
			return
		}
		s.backendError(w, err, "Failed to fetch latest reading")
		return
	}

	setHTML(w)
	if err := renderZone(r.Context(), w, activity, s.metrics); err != nil {
		s.logger.Error("failed to render zone", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHistory serves one page of readings, newest first. Pages start at 1.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}
	s.logger.Debug("handling history request", "page", page)

	size := s.pageSize()
	activities, err := s.hub.activities(r.Context(), (page-1)*size, size)
	if err != nil && !errors.Is(err, errNotFound) {
		s.backendError(w, err, "Failed to fetch readings")
		return
	}

	setHTML(w)
	if err := renderHistory(r.Context(), w, activities, page, len(activities) == size, s.metrics); err != nil {
		s.logger.Error("failed to render history", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

func (s *Server) backendError(w http.ResponseWriter, err error, message string) {
	if unavailable(err) {
		s.logger.Warn("backend unavailable", "error", err)
		http.Error(w, "Backend unavailable", http.StatusServiceUnavailable)
		return
	}
	s.logger.Error(message, "error", err)
	http.Error(w, message, http.StatusInternalServerError)
}

func setHTML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}
