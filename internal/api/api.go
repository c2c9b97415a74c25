// Package api exposes the daemon's operations over a small local REST
// surface. The CLI talks to it for anything that touches live browser state,
// since only the daemon holds the extension connection.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tabstash/tabstash/internal/bookmarks"
	"github.com/tabstash/tabstash/internal/bridge"
	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/history"
	"github.com/tabstash/tabstash/internal/reconcile"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/stash"
	"github.com/tabstash/tabstash/internal/workspace"
)

// Server wires the engine services behind HTTP handlers.
type Server struct {
	contexts   *workspace.Store
	reconciler *reconcile.Reconciler
	stasher    *stash.Stasher
	folders    *bookmarks.Manager
	history    *history.Service
	connected  func() bool
	log        *slog.Logger
}

// NewServer creates an API server. connected reports whether the extension
// bridge is attached; nil means always true.
func NewServer(contexts *workspace.Store, rec *reconcile.Reconciler, st *stash.Stasher, folders *bookmarks.Manager, hist *history.Service, connected func() bool, logger *slog.Logger) *Server {
	if connected == nil {
		connected = func() bool { return true }
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Server{
		contexts:   contexts,
		reconciler: rec,
		stasher:    st,
		folders:    folders,
		history:    hist,
		connected:  connected,
		log:        logger,
	}
}

// Routes mounts the v1 API onto a fresh router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/contexts", s.handleListContexts).Methods(http.MethodGet)
	v1.HandleFunc("/contexts/{id}/open", s.handleOpenContext).Methods(http.MethodPost)
	v1.HandleFunc("/contexts/{id}/close", s.handleCloseContext).Methods(http.MethodPost)
	v1.HandleFunc("/contexts/{id}/persist", s.handlePersistContext).Methods(http.MethodPost)
	v1.HandleFunc("/contexts/{id}/move", s.handleMoveContext).Methods(http.MethodPost)
	v1.HandleFunc("/contexts/{id}/folder", s.handleRemoveFolder).Methods(http.MethodDelete)
	v1.HandleFunc("/groups/{id:[0-9]+}/close", s.handleCloseGroup).Methods(http.MethodPost)
	v1.HandleFunc("/stash", s.handleStash).Methods(http.MethodPost)
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	v1.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	v1.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]bool{"connected": s.connected()})
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := s.contexts.List(r.Context(), nil)
	if err != nil {
		s.fail(w, err)
		return
	}
	if contexts == nil {
		contexts = []*workspace.Context{}
	}
	s.respond(w, http.StatusOK, contexts)
}

func (s *Server) handleOpenContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WindowID int `json:"windowId"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	c, err := s.reconciler.Open(r.Context(), mux.Vars(r)["id"], body.WindowID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handleCloseContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.contexts.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		s.respondError(w, http.StatusNotFound, "unknown context")
		return
	}

	if c.Live != nil {
		if err := s.reconciler.CloseTabGroup(ctx, c.Live.GroupID); err != nil {
			s.fail(w, err)
			return
		}
		c, err = s.contexts.Get(ctx, c.ID)
		if err != nil {
			s.fail(w, err)
			return
		}
	}
	s.respond(w, http.StatusOK, c)
}

func (s *Server) handlePersistContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.contexts.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		s.respondError(w, http.StatusNotFound, "unknown context")
		return
	}

	result, err := s.folders.PersistContext(ctx, c)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"saved":            result.Saved,
		"permissionDenied": result.PermissionDenied,
	})
}

func (s *Server) handleMoveContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.contexts.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		s.respondError(w, http.StatusNotFound, "unknown context")
		return
	}

	if err := s.reconciler.MoveToNewWindow(ctx, c); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.contexts.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if c == nil {
		s.respondError(w, http.StatusNotFound, "unknown context")
		return
	}

	if err := s.folders.RemoveContextFolder(ctx, c); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	if err := s.reconciler.CloseTabGroup(r.Context(), groupID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WindowID   int  `json:"windowId"`
		KeepWindow bool `json:"keepWindow"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.WindowID == 0 {
		s.respondError(w, http.StatusBadRequest, "windowId is required")
		return
	}

	session, err := s.stasher.StashWindow(r.Context(), body.WindowID, body.KeepWindow)
	if err != nil {
		s.fail(w, err)
		return
	}
	if session == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respond(w, http.StatusOK, session)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WindowID int `json:"windowId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.WindowID == 0 {
		s.respondError(w, http.StatusBadRequest, "windowId is required")
		return
	}

	snapshot, err := s.stasher.SnapshotWindow(r.Context(), body.WindowID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if snapshot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.respond(w, http.StatusOK, snapshot)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	moved, err := s.stasher.Sweep(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int{"moved": moved})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []browser.HistoryItem{}
	}
	s.respond(w, http.StatusOK, items)
}

// decode reads a JSON body, tolerating an empty one.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrUnknownContext):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reconcile.ErrNotOpen):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, browser.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, browser.ErrPermissionDenied):
		s.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, bridge.ErrNoExtension):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]string{"error": message})
}
