package crud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/illmade-knight/go-crudcache/pkg/cache"
	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/illmade-knight/go-crudcache/pkg/resource"
	"github.com/illmade-knight/go-crudcache/pkg/types"
	"github.com/rs/zerolog"
)

// APIPrefix is where collection routes are mounted.
const APIPrefix = "/api/"

const maxBodyBytes = 1 << 20

// snapshotResponse is returned by a peek on a collection that is not Ready.
type snapshotResponse[R any] struct {
	State   string `json:"state"`
	Loading bool   `json:"loading"`
	Records []R    `json:"records"`
	Error   string `json:"error,omitempty"`
	Version uint64 `json:"version"`
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes mounts the collection's routes on mux:
//
//	GET    /api/{c}        list (?peek=1 answers from the cache without loading,
//	                       ?userId=N style filters go to the source)
//	GET    /api/{c}/{id}   get
//	POST   /api/{c}        create
//	PUT    /api/{c}/{id}   update, merged over the cached record when present
//	DELETE /api/{c}/{id}   delete
func RegisterRoutes[R types.Record](mux *http.ServeMux, svc *Service[R], logger zerolog.Logger) {
	h := &handler[R]{
		svc:    svc,
		logger: logger.With().Str("component", "CrudHandler").Str("collection", svc.Collection()).Logger(),
	}
	base := APIPrefix + svc.Collection()
	mux.HandleFunc("GET "+base, h.list)
	mux.HandleFunc("POST "+base, h.create)
	mux.HandleFunc("GET "+base+"/{id}", h.get)
	mux.HandleFunc("PUT "+base+"/{id}", h.update)
	mux.HandleFunc("DELETE "+base+"/{id}", h.delete)
}

// RegisterNotificationRoutes mounts GET /api/notifications, returning the
// newest notifications first (?limit=N, default 20).
func RegisterNotificationRoutes(mux *http.ServeMux, recent *notify.InMemoryNotifier) {
	mux.HandleFunc("GET "+APIPrefix+"notifications", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, recent.Recent(limit))
	})
}

type handler[R types.Record] struct {
	svc    *Service[R]
	logger zerolog.Logger
}

func (h *handler[R]) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	peek := query.Get("peek") == "1"
	query.Del("peek")

	if len(query) > 0 {
		records, err := h.svc.ListWhere(r.Context(), query)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	if peek {
		snap, err := h.svc.Peek()
		if err != nil {
			h.writeError(w, err)
			return
		}
		if snap.State != cache.StateReady {
			resp := snapshotResponse[R]{
				State:   snap.State.String(),
				Loading: snap.Loading,
				Records: snap.Records,
				Version: snap.Version,
			}
			if snap.Err != nil {
				resp.Error = snap.Err.Error()
			}
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		writeJSON(w, http.StatusOK, snap.Records)
		return
	}

	records, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler[R]) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	record, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler[R]) create(w http.ResponseWriter, r *http.Request) {
	var record R
	if err := decodeBody(r, &record); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	created, err := h.svc.Create(r.Context(), record)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler[R]) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	// Fields not present in the body keep the values of the record being edited.
	var record R
	if cached, ok := h.svc.Lookup(id); ok {
		// Decode into a deep copy; cached records share nested pointers with the cache.
		if err := copyRecord(cached, &record); err != nil {
			h.logger.Warn().Err(err).Int("record_id", id).Msg("Failed to copy cached record, updating from the request body alone.")
			var zero R
			record = zero
		}
	}
	if err := decodeBody(r, &record); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if record.GetID() != 0 && record.GetID() != id {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("body id %d does not match path id %d", record.GetID(), id)})
		return
	}
	updated, err := h.svc.Update(r.Context(), id, record)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler[R]) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler[R]) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid id %q", r.PathValue("id"))})
		return 0, false
	}
	return id, true
}

// writeError maps the resource error taxonomy onto HTTP statuses.
func (h *handler[R]) writeError(w http.ResponseWriter, err error) {
	var (
		netErr    *resource.NetworkError
		serverErr *resource.ServerError
		status    int
	)
	switch {
	case errors.Is(err, types.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, resource.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &netErr), errors.As(err, &serverErr):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("Request failed.")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// copyRecord deep-copies src into dst through JSON.
func copyRecord[R any](src R, dst *R) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal cached record: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal cached record: %w", err)
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
