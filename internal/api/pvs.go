package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beamworks/pvgate/internal/pv"
)

// deviceSummary is the list-view rendering of one device group.
type deviceSummary struct {
	Device     string   `json:"device"`
	Fields     []string `json:"fields"`
	StatusWord uint32   `json:"status_word"`
}

// fieldReading is one field's live value in the device detail view.
type fieldReading struct {
	Field string `json:"field"`
	Tag   string `json:"tag,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleListDevices returns every registered device group.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := make([]deviceSummary, 0, len(s.order))
	for _, name := range s.order {
		g := s.groups[name]
		devices = append(devices, deviceSummary{
			Device:     g.Device(),
			Fields:     g.Fields(),
			StatusWord: g.Status(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device group with a live read of every field.
// Reads are best effort: a failed field carries its error instead of a value.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(chi.URLParam(r, "device"))
	if !ok {
		writeNotFound(w, "device not configured")
		return
	}

	fields := g.Fields()
	readings := make([]fieldReading, 0, len(fields))
	for _, field := range fields {
		v, err := g.ReadPVValue(field)
		if err != nil {
			readings = append(readings, fieldReading{Field: field, Error: err.Error()})
			continue
		}
		readings = append(readings, fieldReading{
			Field: field,
			Tag:   v.Kind().Tag(),
			Value: v.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":      g.Device(),
		"status_word": g.Status(),
		"readings":    readings,
	})
}

// handleReadPV reads one field from the live gateway session.
//
// Query parameters:
//   - tag: read as this kind instead of the live remote kind
//   - as_text: with tag, render the result as canonical decimal text
func (s *Server) handleReadPV(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(chi.URLParam(r, "device"))
	if !ok {
		writeNotFound(w, "device not configured")
		return
	}
	field := chi.URLParam(r, "field")

	var (
		v   pv.Value
		err error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		asText := r.URL.Query().Get("as_text") == "true"
		v, err = g.ReadPVTagged(field, tag, asText)
	} else {
		v, err = g.ReadPVValue(field)
	}
	if err != nil {
		writePVError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":      g.Device(),
		"field":       field,
		"tag":         v.Kind().Tag(),
		"value":       v.String(),
		"status_word": g.Status(),
		"read_at":     time.Now().UTC(),
	})
}

// writeRequest is the body of a PUT to a PV.
type writeRequest struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// handleWritePV parses the body's value as the tagged kind and writes it.
// A successful write returns 202: the confirmed value arrives through the
// field's monitor, not the HTTP response.
func (s *Server) handleWritePV(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(chi.URLParam(r, "device"))
	if !ok {
		writeNotFound(w, "device not configured")
		return
	}
	field := chi.URLParam(r, "field")

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Tag == "" {
		writeBadRequest(w, "tag field is required")
		return
	}

	kind, err := pv.ResolveKind(req.Tag)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	v, err := pv.ParseValue(kind, req.Value)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := g.WritePVTagged(field, req.Tag, v); err != nil {
		writePVError(w, err)
		return
	}

	s.logger.Info("pv write accepted",
		"device", g.Device(), "field", field, "tag", req.Tag)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device": g.Device(),
		"field":  field,
		"tag":    req.Tag,
		"value":  req.Value,
		"status": "accepted",
	})
}

// handleSystem reports gateway liveness and registered devices.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"devices":           len(s.groups),
		"session_connected": s.session != nil && s.session.IsConnected(),
	})
}

// writePVError maps a proxy or channel error onto an HTTP status. Caller
// mistakes (unknown field, bad tag, kind mismatch) are 4xx; everything else
// is a gateway-side failure.
func writePVError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pv.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, pv.ErrUnsupportedType),
		errors.Is(err, pv.ErrEncodingMismatch),
		errors.Is(err, pv.ErrElementCount):
		writeBadRequest(w, err.Error())
	default:
		writeBadGateway(w, err.Error())
	}
}
