package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nicholastmosher/easycom-sub000/internal/connection"
	"github.com/nicholastmosher/easycom-sub000/internal/history"
	"github.com/nicholastmosher/easycom-sub000/internal/service"
)

// createConnectionRequest is the body of POST /connections. It mirrors a
// discovery candidate plus an optional owning device.
type createConnectionRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Kind     string `json:"kind"`
	DeviceID string `json:"device_id,omitempty"`
}

// renameRequest is the body of PATCH /connections/{id} and PATCH /devices/{id}.
type renameRequest struct {
	Name *string `json:"name"`
}

// sendRequest is the body of POST /connections/{id}/send. Exactly one of
// Data (base64) or Text must be set.
type sendRequest struct {
	Data string `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// commandResponse acknowledges an accepted connect or disconnect.
type commandResponse struct {
	ConnectionID string            `json:"connection_id"`
	Command      string            `json:"command"`
	Status       connection.Status `json:"status"`
}

// handleListConnections returns every registered connection.
//
// Query parameters:
//   - kind: filter by transport kind (tcp_ip, bluetooth, ...)
//   - status: filter by status (connected, disconnected, ...)
//   - device_id: filter by owning device; "none" selects adopted connections
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var kind connection.Kind
	if v := q.Get("kind"); v != "" {
		k, err := connection.ParseKind(v)
		if err != nil {
			writeBadRequest(w, "unknown kind: "+v)
			return
		}
		kind = k
	}
	status := connection.Status(q.Get("status"))
	deviceID := q.Get("device_id")

	infos := []connection.Info{}
	for _, c := range s.registry.Snapshot() {
		info := c.Info()
		if kind != "" && info.Kind != kind {
			continue
		}
		if status != "" && info.Status != status {
			continue
		}
		switch deviceID {
		case "":
		case "none":
			if info.DeviceID != "" {
				continue
			}
		default:
			if info.DeviceID != deviceID {
				continue
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ID < infos[j].ID
	})

	writeJSON(w, http.StatusOK, map[string]any{"connections": infos, "count": len(infos)})
}

// handleCreateConnection turns a discovery candidate into a connection,
// either on an existing device or adopted on its own.
func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	kind, err := connection.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown kind: "+req.Kind)
		return
	}

	c, err := s.devices.AddCandidate(req.DeviceID, connection.Candidate{
		Name:    req.Name,
		Address: req.Address,
		Kind:    kind,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("connection created",
		"connection_id", c.ID(),
		"kind", string(c.Kind()),
		"device_id", req.DeviceID,
	)
	writeJSON(w, http.StatusCreated, c.Info())
}

// handleGetConnection returns one connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

// handleRenameConnection changes a connection's label.
func (s *Server) handleRenameConnection(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil {
		writeBadRequest(w, "name is required")
		return
	}

	c, err := s.devices.RenameConnection(chi.URLParam(r, "id"), *req.Name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

// handleDeleteConnection disconnects a connection and removes it from its
// device (or from the adopted set).
func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	done, err := s.service.Disconnect(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.await(r.Context(), done); err != nil {
		// The close failed or timed out; the connection is dropped anyway.
		s.logger.Warn("disconnect before delete failed", "connection_id", id, "error", err)
	}

	if err := s.devices.Forget(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("connection deleted", "connection_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect starts a connect cycle. The outcome is published on the
// status bus; the response only acknowledges the command.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.service.Connect(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeAccepted(w, id, "connect")
}

// handleDisconnect closes a connection or cancels an in-flight connect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.service.Disconnect(id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeAccepted(w, id, "disconnect")
}

func (s *Server) writeAccepted(w http.ResponseWriter, id, command string) {
	status, err := s.service.Status(id)
	if err != nil {
		// Unregistered between the command and this lookup.
		status = connection.StatusDisconnected
	}
	writeJSON(w, http.StatusAccepted, commandResponse{
		ConnectionID: id,
		Command:      command,
		Status:       status,
	})
}

// handleSend writes a payload to a Connected connection and waits for the
// local write result.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	payload, err := req.payload()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	done, err := s.service.Send(id, payload)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.await(r.Context(), done); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": id,
		"bytes":         len(payload),
	})
}

// payload decodes the request into bytes.
func (req sendRequest) payload() ([]byte, error) {
	switch {
	case req.Data != "" && req.Text != "":
		return nil, errors.New("set either data or text, not both")
	case req.Data != "":
		b, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, errors.New("data must be base64")
		}
		return b, nil
	case req.Text != "":
		return []byte(req.Text), nil
	default:
		return nil, errors.New("data or text is required")
	}
}

// await waits for a command's local result, bounded by the send timeout.
func (s *Server) await(ctx context.Context, done *service.Completion) error {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return done.Wait(ctx)
}

// handleConnectionEvents returns the lifecycle history of one connection.
// The connection does not need to be registered any more.
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter.ConnectionID = chi.URLParam(r, "id")
	s.listEvents(w, r, filter)
}

// handleListEvents returns lifecycle history across all connections.
//
// Query parameters:
//   - connection_id: one connection's history
//   - transition: e.g. connect_failed
//   - since: RFC 3339 timestamp
//   - limit, offset: pagination (default 50, max 500)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter.ConnectionID = r.URL.Query().Get("connection_id")
	s.listEvents(w, r, filter)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request, filter history.Filter) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history is disabled")
		return
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseHistoryFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	filter := history.Filter{
		Transition: strings.TrimSpace(q.Get("transition")),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
