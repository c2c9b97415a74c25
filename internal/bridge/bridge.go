// Package bridge implements the live browser boundary over a WebSocket
// connection to the companion extension. The extension dials in, the daemon
// issues JSON request frames correlated by id, and the extension answers with
// a result or a coded error. At most one extension is connected at a time; a
// new connection replaces the old one.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/slogger"
)

// ErrNoExtension is returned when a call is made with no extension connected.
var ErrNoExtension = errors.New("no extension connected")

// DefaultCallTimeout bounds how long a single extension call may take.
const DefaultCallTimeout = 10 * time.Second

// Error codes the extension may answer with.
const (
	codeNotFound         = "not_found"
	codePermissionDenied = "permission_denied"
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *callError      `json:"error,omitempty"`
}

type callError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Server accepts the extension's WebSocket connection and exposes it as a
// browser.Browser. It is an http.Handler; mount it on the bridge endpoint.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]chan response
}

// NewServer creates a bridge server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		timeout: DefaultCallTimeout,
		pending: make(map[string]chan response),
	}
}

// ServeHTTP upgrades the extension connection and pumps responses until it
// drops. A second connection bumps the first.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("bridge upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.log.Info("replacing extension connection", "remote", r.RemoteAddr)
		s.conn.Close() //nolint:errcheck // best-effort bump of the old connection
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("extension connected", "remote", r.RemoteAddr)
	s.readLoop(conn)
}

// Connected reports whether an extension is currently attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		// Wake every in-flight caller; the connection is gone.
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()
		conn.Close() //nolint:errcheck // already tearing down
		s.log.Info("extension disconnected")
	}()

	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if !ok {
			s.log.Debug("dropping unmatched response", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// call performs one request/response round trip. A nil out discards the
// result.
func (s *Server) call(ctx context.Context, method string, params, out any) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrNoExtension)
	}
	id := uuid.NewString()
	ch := make(chan response, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	s.writeMu.Lock()
	err := conn.WriteJSON(request{ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		return fmt.Errorf("%s: write: %w", method, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.forget(id)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-timer.C:
		s.forget(id)
		return fmt.Errorf("%s: timed out after %s", method, s.timeout)
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrNoExtension)
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, decodeError(resp.Error))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func decodeError(ce *callError) error {
	switch ce.Code {
	case codeNotFound:
		return browser.ErrNotFound
	case codePermissionDenied:
		return browser.ErrPermissionDenied
	}
	if ce.Message != "" {
		return errors.New(ce.Message)
	}
	return errors.New("extension error")
}

type idParam struct {
	ID int `json:"id"`
}

type stringIDParam struct {
	ID string `json:"id"`
}

func (s *Server) GetWindow(ctx context.Context, id int) (*browser.Window, error) {
	var w browser.Window
	if err := s.call(ctx, "windows.get", idParam{ID: id}, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Server) CreateWindow(ctx context.Context, opts browser.CreateWindowOptions) (*browser.Window, error) {
	var w browser.Window
	if err := s.call(ctx, "windows.create", opts, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Server) QueryTabs(ctx context.Context, q browser.TabQuery) ([]browser.Tab, error) {
	var tabs []browser.Tab
	if err := s.call(ctx, "tabs.query", q, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

func (s *Server) CreateTab(ctx context.Context, opts browser.CreateTabOptions) (*browser.Tab, error) {
	var t browser.Tab
	if err := s.call(ctx, "tabs.create", opts, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) UpdateTab(ctx context.Context, id int, u browser.TabUpdate) (*browser.Tab, error) {
	params := struct {
		ID int `json:"id"`
		browser.TabUpdate
	}{ID: id, TabUpdate: u}
	var t browser.Tab
	if err := s.call(ctx, "tabs.update", params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) RemoveTabs(ctx context.Context, ids ...int) error {
	params := struct {
		IDs []int `json:"ids"`
	}{IDs: ids}
	return s.call(ctx, "tabs.remove", params, nil)
}

func (s *Server) ActiveTab(ctx context.Context) (*browser.Tab, error) {
	var t browser.Tab
	if err := s.call(ctx, "tabs.active", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) GroupTabs(ctx context.Context, opts browser.GroupOptions) (int, error) {
	var result struct {
		GroupID int `json:"groupId"`
	}
	if err := s.call(ctx, "tabs.group", opts, &result); err != nil {
		return 0, err
	}
	return result.GroupID, nil
}

func (s *Server) GetTabGroup(ctx context.Context, id int) (*browser.TabGroup, error) {
	var g browser.TabGroup
	if err := s.call(ctx, "tabGroups.get", idParam{ID: id}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Server) UpdateTabGroup(ctx context.Context, id int, u browser.TabGroupUpdate) (*browser.TabGroup, error) {
	params := struct {
		ID int `json:"id"`
		browser.TabGroupUpdate
	}{ID: id, TabGroupUpdate: u}
	var g browser.TabGroup
	if err := s.call(ctx, "tabGroups.update", params, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Server) MoveTabGroup(ctx context.Context, id, windowID, index int) error {
	params := struct {
		ID       int `json:"id"`
		WindowID int `json:"windowId"`
		Index    int `json:"index"`
	}{ID: id, WindowID: windowID, Index: index}
	return s.call(ctx, "tabGroups.move", params, nil)
}

func (s *Server) CreateBookmark(ctx context.Context, b browser.BookmarkCreate) (*browser.Bookmark, error) {
	var bm browser.Bookmark
	if err := s.call(ctx, "bookmarks.create", b, &bm); err != nil {
		return nil, err
	}
	return &bm, nil
}

func (s *Server) GetBookmark(ctx context.Context, id string) (*browser.Bookmark, error) {
	var bm browser.Bookmark
	if err := s.call(ctx, "bookmarks.get", stringIDParam{ID: id}, &bm); err != nil {
		return nil, err
	}
	return &bm, nil
}

func (s *Server) GetBookmarkChildren(ctx context.Context, id string) ([]browser.Bookmark, error) {
	var children []browser.Bookmark
	if err := s.call(ctx, "bookmarks.children", stringIDParam{ID: id}, &children); err != nil {
		return nil, err
	}
	return children, nil
}

func (s *Server) SearchBookmarks(ctx context.Context, title string) ([]browser.Bookmark, error) {
	params := struct {
		Title string `json:"title"`
	}{Title: title}
	var matches []browser.Bookmark
	if err := s.call(ctx, "bookmarks.search", params, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Server) UpdateBookmark(ctx context.Context, id string, u browser.BookmarkUpdate) (*browser.Bookmark, error) {
	params := struct {
		ID string `json:"id"`
		browser.BookmarkUpdate
	}{ID: id, BookmarkUpdate: u}
	var bm browser.Bookmark
	if err := s.call(ctx, "bookmarks.update", params, &bm); err != nil {
		return nil, err
	}
	return &bm, nil
}

func (s *Server) RemoveBookmarkTree(ctx context.Context, id string) error {
	return s.call(ctx, "bookmarks.removeTree", stringIDParam{ID: id}, nil)
}

func (s *Server) HasPermission(ctx context.Context, name string) (bool, error) {
	return s.permissionCall(ctx, "permissions.contains", name)
}

func (s *Server) RequestPermission(ctx context.Context, name string) (bool, error) {
	return s.permissionCall(ctx, "permissions.request", name)
}

func (s *Server) permissionCall(ctx context.Context, method, name string) (bool, error) {
	params := struct {
		Name string `json:"name"`
	}{Name: name}
	var result struct {
		Granted bool `json:"granted"`
	}
	if err := s.call(ctx, method, params, &result); err != nil {
		return false, err
	}
	return result.Granted, nil
}

func (s *Server) SearchHistory(ctx context.Context, q browser.HistoryQuery) ([]browser.HistoryItem, error) {
	var items []browser.HistoryItem
	if err := s.call(ctx, "history.search", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

var _ browser.Browser = (*Server)(nil)
