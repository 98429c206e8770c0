package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nicholastmosher/easycom-sub000/internal/device"
)

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	Name string `json:"name"`
}

// handleListDevices returns all devices with their connections.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.ListDevices()
	records := make([]device.Record, len(devices))
	for i, d := range devices {
		records[i] = d.Record()
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": records, "count": len(records)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Record())
}

// handleCreateDevice creates an empty device. Connections are added with
// POST /connections.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.CreateDevice(req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Record())
}

// handleUpdateDevice renames a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil {
		writeBadRequest(w, "name is required")
		return
	}

	d, err := s.devices.RenameDevice(chi.URLParam(r, "id"), *req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Record())
}

// handleDeleteDevice disconnects every connection of a device, then
// deletes it.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetDevice(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	for _, c := range d.Connections() {
		done, err := s.service.Disconnect(c.ID())
		if err != nil {
			s.logger.Warn("disconnect before device delete failed", "connection_id", c.ID(), "error", err)
			continue
		}
		if err := s.await(r.Context(), done); err != nil {
			s.logger.Warn("disconnect before device delete failed", "connection_id", c.ID(), "error", err)
		}
	}

	if _, err := s.devices.DeleteDevice(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns device and connection counts.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.devices.GetStats()

	byKind := make(map[string]int, len(stats.ByKind))
	for k, n := range stats.ByKind {
		byKind[string(k)] = n
	}
	byStatus := make(map[string]int, len(stats.ByStatus))
	for st, n := range stats.ByStatus {
		byStatus[string(st)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     stats.Devices,
		"connections": stats.Connections,
		"adopted":     stats.Adopted,
		"by_kind":     byKind,
		"by_status":   byStatus,
	})
}
