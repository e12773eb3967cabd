package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solo125812/st-voyageai-memory/internal/engine"
	"github.com/solo125812/st-voyageai-memory/internal/logging"
	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 64 << 20
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string        `json:"error"`
	Code   string        `json:"code"`
	Notice engine.Notice `json:"notice"`
}

type hookRequest struct {
	Entity engine.EntityContext `json:"entity"`
	Turn   engine.ChatTurn      `json:"turn"`
	Query  string               `json:"query"`
}

type memoryResponse struct {
	Memory *types.MemoryRecord `json:"memory"`
	Notice *engine.Notice      `json:"notice,omitempty"`
}

type searchRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
	Debug     bool     `json:"debug"`
}

type storeRequest struct {
	Text       string            `json:"text"`
	Role       string            `json:"role"`
	EntityName string            `json:"entity_name"`
	UserName   string            `json:"user_name"`
	ChatID     string            `json:"chat_id"`
	History    []engine.ChatTurn `json:"history"`
}

type storeChatRequest struct {
	EntityName string            `json:"entity_name"`
	UserName   string            `json:"user_name"`
	ChatID     string            `json:"chat_id"`
	Chat       []engine.ChatTurn `json:"chat"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.Clients()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"busy":       s.engine.Busy(),
		"ws_clients": clients,
	})
}

func (s *Server) turnReceived(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.hooks.OnTurnReceived(r.Context(), req.Turn, req.Entity)
	s.respondTurn(w, r, rec, err)
}

func (s *Server) turnSent(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.hooks.OnTurnSent(r.Context(), req.Turn, req.Entity)
	s.respondTurn(w, r, rec, err)
}

func (s *Server) respondTurn(w http.ResponseWriter, r *http.Request, rec *types.MemoryRecord, err error) {
	if err != nil {
		respondFailure(w, r, "Store", err)
		return
	}
	resp := memoryResponse{Memory: rec}
	if rec != nil {
		n := engine.Successf("Memory stored.")
		resp.Notice = &n
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) entityChanged(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.hooks.OnEntityChanged(r.Context(), req.Entity); err != nil {
		respondFailure(w, r, "Entity change", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) beforeGeneration(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inj, err := s.hooks.OnBeforeGeneration(r.Context(), req.Query, req.Entity)
	if err != nil {
		respondFailure(w, r, "Retrieval", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"injection": inj})
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.Entities(r.Context())
	if err != nil {
		respondFailure(w, r, "Listing characters", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entities": ids})
}

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	memories := s.engine.Memories(r.Context(), chi.URLParam(r, "entity"))
	if memories == nil {
		memories = []types.MemoryRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) clearMemories(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ClearMemories(r.Context(), chi.URLParam(r, "entity"))
	if err != nil {
		respondFailure(w, r, "Clear", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"removed": n,
		"notice":  engine.Successf("Cleared %d %s.", n, plural(n)),
	})
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	ok, err := s.engine.DeleteMemory(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, r, "Delete", err)
		return
	}
	notice := engine.Successf("Memory deleted.")
	if !ok {
		notice = engine.Infof("Memory was already gone.")
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": ok, "notice": notice})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Stats(r.Context(), chi.URLParam(r, "entity")))
}

func (s *Server) exportMemories(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	data, err := s.engine.ExportMemories(r.Context(), entity)
	if err != nil {
		respondFailure(w, r, "Export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entity+"_memories.json"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) importMemories(w http.ResponseWriter, r *http.Request) {
	merge := true
	if v := r.URL.Query().Get("merge"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid merge parameter", engine.Infof("merge must be true or false."))
			return
		}
		merge = b
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "import payload too large", engine.Failure("Import", err))
		return
	}

	n, err := s.engine.ImportMemories(r.Context(), chi.URLParam(r, "entity"), payload, merge)
	if err != nil {
		respondFailure(w, r, "Import", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"imported": n,
		"notice":   engine.Successf("Imported %d %s.", n, plural(n)),
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.Search(r.Context(), chi.URLParam(r, "entity"), req.Query, req.TopK, req.Threshold, req.Debug)
	if err != nil {
		respondFailure(w, r, "Search", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) storeMessage(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ec := engine.EntityContext{
		EntityID:   chi.URLParam(r, "entity"),
		EntityName: req.EntityName,
		UserName:   req.UserName,
		ChatID:     req.ChatID,
		History:    req.History,
	}
	rec, err := s.engine.ProcessAndStore(r.Context(), req.Text, types.ParseRole(req.Role), ec)
	if err != nil {
		respondFailure(w, r, "Store", err)
		return
	}
	n := engine.Successf("Memory stored.")
	respondJSON(w, http.StatusCreated, memoryResponse{Memory: &rec, Notice: &n})
}

func (s *Server) storeChat(w http.ResponseWriter, r *http.Request) {
	var req storeChatRequest
	if !decodeBodyLimit(w, r, &req, maxImportBytes) {
		return
	}
	ec := engine.EntityContext{
		EntityID:   chi.URLParam(r, "entity"),
		EntityName: req.EntityName,
		UserName:   req.UserName,
		ChatID:     req.ChatID,
	}
	report, err := s.engine.StoreChat(r.Context(), ec, req.Chat)
	if err != nil && report.Processed+report.Failed == 0 {
		respondFailure(w, r, "Batch store", err)
		return
	}
	resp := map[string]any{"report": report, "notice": report.Notice()}
	if err != nil {
		resp["notice"] = engine.Failure("Batch store", err)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	n := s.engine.TestConnection(r.Context())
	status := http.StatusOK
	if n.Level == engine.LevelError {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, map[string]any{"ok": status == http.StatusOK, "notice": n})
}

func plural(n int) string {
	if n == 1 {
		return "memory"
	}
	return "memories"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBodyLimit(w, r, v, maxBodyBytes)
}

func decodeBodyLimit(w http.ResponseWriter, r *http.Request, v any, limit int64) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", engine.Notice{
			Level:   engine.LevelError,
			Message: "The request body is not valid JSON.",
		})
		return false
	}
	return true
}

// statusFor maps engine and storage errors onto HTTP status codes.
func statusFor(err error) int {
	var up *types.UpstreamError
	switch {
	case errors.Is(err, engine.ErrWriteInFlight), errors.Is(err, storage.ErrDimensionMismatch), errors.Is(err, engine.ErrSettingsReadOnly):
		return http.StatusConflict
	case errors.Is(err, engine.ErrTextTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoEntity), errors.Is(err, storage.ErrEmptyEntity), errors.Is(err, types.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConfig):
		return http.StatusServiceUnavailable
	case errors.As(err, &up), errors.Is(err, types.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondFailure(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.With("server").Error("request failed",
			"action", action,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	respondError(w, status, err.Error(), engine.Failure(action, err))
}

func respondError(w http.ResponseWriter, status int, message string, notice engine.Notice) {
	respondJSON(w, status, ErrorResponse{
		Error:  message,
		Code:   http.StatusText(status),
		Notice: notice,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.With("server").Warn("failed to encode response", "error", err)
	}
}
