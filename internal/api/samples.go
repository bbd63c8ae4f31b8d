package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/beamworks/pvgate/internal/archive"
)

// handleListSamples returns archived samples for one device field.
//
// Query parameters:
//   - device: device group name (required)
//   - field: field name (required)
//   - since, until: RFC 3339 time bounds (optional)
//   - limit: maximum rows (optional)
func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		writeUnavailable(w, "sample archive not enabled")
		return
	}

	q := archive.Query{
		Device: r.URL.Query().Get("device"),
		Field:  r.URL.Query().Get("field"),
	}

	var err error
	if q.Since, err = parseTimeParam(r, "since"); err != nil {
		writeBadRequest(w, "since: "+err.Error())
		return
	}
	if q.Until, err = parseTimeParam(r, "until"); err != nil {
		writeBadRequest(w, "until: "+err.Error())
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}

	samples, err := s.samples.Samples(r.Context(), q)
	if err != nil {
		if errors.Is(err, archive.ErrInvalidQuery) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to query samples")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

// handleLatestSample returns the most recent archived sample for one field.
func (s *Server) handleLatestSample(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		writeUnavailable(w, "sample archive not enabled")
		return
	}

	device := r.URL.Query().Get("device")
	field := r.URL.Query().Get("field")

	sample, err := s.samples.Latest(r.Context(), device, field)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidQuery):
			writeBadRequest(w, err.Error())
		case errors.Is(err, archive.ErrNoSamples):
			writeNotFound(w, err.Error())
		default:
			writeInternalError(w, "failed to query samples")
		}
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// parseTimeParam reads an optional RFC 3339 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
