package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstash/tabstash/internal/bookmarks"
	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/history"
	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/reconcile"
	"github.com/tabstash/tabstash/internal/stash"
	"github.com/tabstash/tabstash/internal/tabinfo"
	"github.com/tabstash/tabstash/internal/workspace"
)

type fixture struct {
	api      *Server
	srv      *httptest.Server
	browser  *browser.Fake
	contexts *workspace.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := browser.NewFake()
	store := kv.NewMemory()
	contexts := workspace.NewStore(store, nil)
	folders := bookmarks.NewManager(fake, store, contexts, "", nil)
	rec := reconcile.New(fake, contexts, folders, reconcile.Options{CloseDelay: 1}, nil)
	st := stash.New(fake, store, contexts, rec, stash.Options{}, nil)
	hist := history.New(fake, history.Options{}, nil)

	api := NewServer(contexts, rec, st, folders, hist, nil, nil)
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &fixture{api: api, srv: srv, browser: fake, contexts: contexts}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck // test teardown
	return resp
}

func (f *fixture) del(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck // test teardown
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck // test teardown
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Status(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[map[string]bool](t, resp)
	assert.True(t, status["connected"])
}

func TestServer_ListContexts(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/v1/contexts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]*workspace.Context](t, resp))

	_, err := f.contexts.Create(context.Background(), workspace.Context{Title: "one"}, true)
	require.NoError(t, err)

	resp = f.get(t, "/v1/contexts")
	listed := decode[[]*workspace.Context](t, resp)
	require.Len(t, listed, 1)
	assert.Equal(t, "one", listed[0].Title)
}

func TestServer_OpenContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown context is 404", func(t *testing.T) {
		resp := f.post(t, "/v1/contexts/nope/open", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("opens and returns the live context", func(t *testing.T) {
		c, err := f.contexts.Create(ctx, workspace.Context{
			Title: "research",
			Tabs:  []tabinfo.Tab{{URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/open", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		opened := decode[workspace.Context](t, resp)
		require.NotNil(t, opened.Live)

		tabs, err := f.browser.QueryTabs(ctx, browser.TabQuery{GroupID: opened.Live.GroupID})
		require.NoError(t, err)
		assert.Len(t, tabs, 1)
	})
}

func TestServer_CloseContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown context is 404", func(t *testing.T) {
		resp := f.post(t, "/v1/contexts/nope/close", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("closes the live group and returns the record", func(t *testing.T) {
		c, err := f.contexts.Create(ctx, workspace.Context{
			Title: "work",
			Tabs:  []tabinfo.Tab{{URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/open", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.post(t, fmt.Sprintf("/v1/contexts/%s/close", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		closed := decode[workspace.Context](t, resp)
		assert.Nil(t, closed.Live)
		assert.NotZero(t, closed.Closed)
	})

	t.Run("closing an unopened context is idempotent", func(t *testing.T) {
		c, err := f.contexts.Create(ctx, workspace.Context{Title: "idle"}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/close", c.ID), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_PersistContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown context is 404", func(t *testing.T) {
		resp := f.post(t, "/v1/contexts/nope/persist", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("reports a denied permission", func(t *testing.T) {
		c, err := f.contexts.Create(ctx, workspace.Context{
			Title: "denied",
			Tabs:  []tabinfo.Tab{{URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/persist", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[map[string]any](t, resp)
		assert.Equal(t, true, result["permissionDenied"])
	})

	t.Run("saves stored tabs into the tab folder", func(t *testing.T) {
		f.browser.GrantPermission(browser.PermissionBookmarks)
		c, err := f.contexts.Create(ctx, workspace.Context{
			Title: "notes",
			Tabs: []tabinfo.Tab{
				{URL: "https://a.example/", Title: "A"},
				{URL: "https://b.example/", Title: "B"},
			},
		}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/persist", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[map[string]any](t, resp)
		assert.EqualValues(t, 2, result["saved"])
	})
}

func TestServer_RemoveFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown context is 404", func(t *testing.T) {
		resp := f.del(t, "/v1/contexts/nope/folder")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("deletes the folder and clears the reference", func(t *testing.T) {
		f.browser.GrantPermission(browser.PermissionBookmarks)
		c, err := f.contexts.Create(ctx, workspace.Context{
			Title: "done",
			Tabs:  []tabinfo.Tab{{URL: "https://a.example/", Title: "A"}},
		}, true)
		require.NoError(t, err)

		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/persist", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = f.del(t, fmt.Sprintf("/v1/contexts/%s/folder", c.ID))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		stored, err := f.contexts.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.FolderID)
	})
}

func TestServer_MoveContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.contexts.Create(ctx, workspace.Context{
		Title: "mobile",
		Tabs:  []tabinfo.Tab{{URL: "https://a.example/"}},
	}, true)
	require.NoError(t, err)

	t.Run("unopened context is 409", func(t *testing.T) {
		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/move", c.ID), nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("moves the open group to a fresh window", func(t *testing.T) {
		resp := f.post(t, fmt.Sprintf("/v1/contexts/%s/open", c.ID), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		opened := decode[workspace.Context](t, resp)

		resp = f.post(t, fmt.Sprintf("/v1/contexts/%s/move", c.ID), nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		group := f.browser.Group(opened.Live.GroupID)
		require.NotNil(t, group)
		tabs, err := f.browser.QueryTabs(ctx, browser.TabQuery{WindowID: group.WindowID})
		require.NoError(t, err)
		assert.Len(t, tabs, 1)
	})
}

func TestServer_CloseGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	win := f.browser.AddWindow(false)
	a := f.browser.AddTab(win.ID, browser.Tab{URL: "https://a.example/"})
	group := f.browser.AddGroup(win.ID, "", "", a.ID)

	resp := f.post(t, fmt.Sprintf("/v1/groups/%d/close", group.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	tabs, err := f.browser.QueryTabs(ctx, browser.TabQuery{GroupID: group.ID})
	require.NoError(t, err)
	assert.Empty(t, tabs)
}

func TestServer_Stash(t *testing.T) {
	f := newFixture(t)

	t.Run("requires a window id", func(t *testing.T) {
		resp := f.post(t, "/v1/stash", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("stashes the window", func(t *testing.T) {
		win := f.browser.AddWindow(false)
		f.browser.AddTab(win.ID, browser.Tab{URL: "https://a.example/"})

		resp := f.post(t, "/v1/stash", map[string]any{"windowId": win.ID})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		session := decode[stash.Session](t, resp)
		assert.Equal(t, win.ID, session.WindowID)
		assert.Len(t, session.Entries, 1)
	})

	t.Run("empty window is 204", func(t *testing.T) {
		win := f.browser.AddWindow(false)
		resp := f.post(t, "/v1/stash", map[string]any{"windowId": win.ID})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestServer_Snapshot(t *testing.T) {
	f := newFixture(t)

	win := f.browser.AddWindow(false)
	a := f.browser.AddTab(win.ID, browser.Tab{URL: "https://a.example/"})
	f.browser.SetActiveTab(a.ID)

	resp := f.post(t, "/v1/snapshot", map[string]any{"windowId": win.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snapshot := decode[stash.Snapshot](t, resp)
	require.Len(t, snapshot.Tabs, 1)
	assert.Equal(t, "https://a.example/", snapshot.Tabs[0].URL)
}

func TestServer_History(t *testing.T) {
	f := newFixture(t)

	t.Run("empty without the history permission", func(t *testing.T) {
		resp := f.get(t, "/v1/history")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]browser.HistoryItem](t, resp))
	})

	t.Run("returns recent items with a limit", func(t *testing.T) {
		f.browser.GrantPermission(browser.PermissionHistory)
		visited := time.Now().UnixMilli()
		f.browser.AddHistory(
			browser.HistoryItem{URL: "https://a.example/", Title: "A", LastVisitTime: visited},
			browser.HistoryItem{URL: "https://b.example/", Title: "B", LastVisitTime: visited},
		)

		resp := f.get(t, "/v1/history?limit=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[[]browser.HistoryItem](t, resp), 1)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		resp := f.get(t, "/v1/history?limit=x")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Sweep(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[map[string]int](t, resp)
	assert.Zero(t, moved["moved"])
}
