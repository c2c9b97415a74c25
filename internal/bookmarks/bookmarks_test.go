package bookmarks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/tabinfo"
	"github.com/tabstash/tabstash/internal/workspace"
)

func newTestManager(t *testing.T) (*Manager, *browser.Fake, *workspace.Store, kv.Store) {
	t.Helper()
	fake := browser.NewFake()
	store := kv.NewMemory()
	contexts := workspace.NewStore(store, nil)
	m := NewManager(fake, store, contexts, "", nil)
	return m, fake, contexts, store
}

func TestManager_RootFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and records the root folder on first use", func(t *testing.T) {
		m, fake, _, store := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)

		root, err := m.RootFolder(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultRootTitle, root.Title)
		assert.True(t, root.IsFolder())

		values, err := store.Get(ctx, "folderId")
		require.NoError(t, err)
		var id string
		require.NoError(t, json.Unmarshal(values["folderId"], &id))
		assert.Equal(t, root.ID, id)

		// Second call resolves the same folder instead of creating another.
		again, err := m.RootFolder(ctx)
		require.NoError(t, err)
		assert.Equal(t, root.ID, again.ID)
	})

	t.Run("recreates when the stored id is stale", func(t *testing.T) {
		m, fake, _, store := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)
		require.NoError(t, store.Set(ctx, map[string]any{"folderId": "gone"}))

		root, err := m.RootFolder(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, "gone", root.ID)
	})

	t.Run("fails without the bookmarks permission", func(t *testing.T) {
		m, _, _, _ := newTestManager(t)

		_, err := m.RootFolder(ctx)
		require.ErrorIs(t, err, browser.ErrPermissionDenied)
	})
}

func TestManager_ContextFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates under the root and writes the id back", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)

		c, err := contexts.Create(ctx, workspace.Context{Title: "research"}, true)
		require.NoError(t, err)

		folder, err := m.ContextFolder(ctx, c, true)
		require.NoError(t, err)
		require.NotNil(t, folder)
		assert.Equal(t, "research", folder.Title)
		assert.Equal(t, folder.ID, c.FolderID)

		reloaded, err := contexts.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, folder.ID, reloaded.FolderID)

		root, err := m.RootFolder(ctx)
		require.NoError(t, err)
		assert.Equal(t, root.ID, folder.ParentID)
	})

	t.Run("recovers a stale id by unique title match", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)

		c, err := contexts.Create(ctx, workspace.Context{Title: "reading"}, true)
		require.NoError(t, err)
		folder, err := m.ContextFolder(ctx, c, true)
		require.NoError(t, err)

		c.FolderID = "stale"
		require.NoError(t, contexts.Save(ctx, c, false))

		found, err := m.ContextFolder(ctx, c, false)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, folder.ID, found.ID)
		assert.Equal(t, folder.ID, c.FolderID)
	})

	t.Run("ambiguous title match is not trusted", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)

		c, err := contexts.Create(ctx, workspace.Context{Title: "dup"}, true)
		require.NoError(t, err)
		_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{Title: "dup"})
		require.NoError(t, err)
		_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{Title: "dup"})
		require.NoError(t, err)

		found, err := m.ContextFolder(ctx, c, false)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("missing folder without create is nil, not an error", func(t *testing.T) {
		m, _, contexts, _ := newTestManager(t)

		c, err := contexts.Create(ctx, workspace.Context{Title: "nowhere"}, true)
		require.NoError(t, err)

		found, err := m.ContextFolder(ctx, c, false)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestManager_ReservedFolders(t *testing.T) {
	ctx := context.Background()
	m, fake, contexts, _ := newTestManager(t)
	fake.GrantPermission(browser.PermissionBookmarks)

	c, err := contexts.Create(ctx, workspace.Context{Title: "work"}, true)
	require.NoError(t, err)
	_, err = m.ContextFolder(ctx, c, true)
	require.NoError(t, err)

	tabs, err := m.TabFolder(ctx, c, true)
	require.NoError(t, err)
	require.NotNil(t, tabs)
	assert.Equal(t, TabFolderTitle, tabs.Title)
	assert.Equal(t, c.FolderID, tabs.ParentID)

	queue, err := m.QueueFolder(ctx, c, true)
	require.NoError(t, err)
	assert.Equal(t, QueueFolderTitle, queue.Title)

	// Already-present folders are found, not recreated.
	again, err := m.TabFolder(ctx, c, true)
	require.NoError(t, err)
	assert.Equal(t, tabs.ID, again.ID)

	// The reserved folders never show up as user folders.
	user, err := m.UserFolders(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, user)

	_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{ParentID: c.FolderID, Title: "papers"})
	require.NoError(t, err)
	user, err = m.UserFolders(ctx, c)
	require.NoError(t, err)
	require.Len(t, user, 1)
	assert.Equal(t, "papers", user[0].Title)
}

func TestManager_ContextTabs(t *testing.T) {
	ctx := context.Background()
	m, fake, contexts, _ := newTestManager(t)
	fake.GrantPermission(browser.PermissionBookmarks)

	c, err := contexts.Create(ctx, workspace.Context{Title: "reading"}, true)
	require.NoError(t, err)

	t.Run("nil when no tab folder exists", func(t *testing.T) {
		tabs, err := m.ContextTabs(ctx, c)
		require.NoError(t, err)
		assert.Nil(t, tabs)
	})

	t.Run("reads bookmarks in folder order, skipping sub-folders", func(t *testing.T) {
		_, err := m.ContextFolder(ctx, c, true)
		require.NoError(t, err)
		folder, err := m.TabFolder(ctx, c, true)
		require.NoError(t, err)

		_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{ParentID: folder.ID, Title: "first", URL: "https://a.example/"})
		require.NoError(t, err)
		_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{ParentID: folder.ID, Title: "nested"})
		require.NoError(t, err)
		_, err = fake.CreateBookmark(ctx, browser.BookmarkCreate{ParentID: folder.ID, Title: "second", URL: "https://b.example/"})
		require.NoError(t, err)

		tabs, err := m.ContextTabs(ctx, c)
		require.NoError(t, err)
		require.Len(t, tabs, 2)
		assert.Equal(t, "https://a.example/", tabs[0].URL)
		assert.Equal(t, "https://b.example/", tabs[1].URL)
	})
}

func TestManager_SaveTabToFolder(t *testing.T) {
	ctx := context.Background()
	m, fake, _, _ := newTestManager(t)
	fake.GrantPermission(browser.PermissionBookmarks)

	folder, err := fake.CreateBookmark(ctx, browser.BookmarkCreate{Title: "queue"})
	require.NoError(t, err)

	tab := tabinfo.Tab{Title: "Example", URL: "https://example.com/"}
	require.NoError(t, m.SaveTabToFolder(ctx, tab, folder.ID))

	other := tabinfo.Tab{Title: "Other", URL: "https://other.example/"}
	require.NoError(t, m.SaveTabToFolder(ctx, other, folder.ID))

	// Saving the same URL again moves it to the front instead of duplicating.
	require.NoError(t, m.SaveTabToFolder(ctx, tab, folder.ID))

	children, err := fake.GetBookmarkChildren(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "https://example.com/", children[0].URL)
}

func TestManager_TrySaveTab(t *testing.T) {
	ctx := context.Background()
	tab := tabinfo.Tab{Title: "Example", URL: "https://example.com/"}

	t.Run("saves directly when permitted", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{Title: "work"}, true)
		require.NoError(t, err)

		result, err := m.TrySaveTab(ctx, tab, c)
		require.NoError(t, err)
		assert.False(t, result.PermissionDenied)
		require.NotNil(t, result.Bookmark)
		assert.Equal(t, "https://example.com/", result.Bookmark.URL)
	})

	t.Run("requests the permission and retries once", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantOnRequest(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{Title: "work"}, true)
		require.NoError(t, err)

		result, err := m.TrySaveTab(ctx, tab, c)
		require.NoError(t, err)
		assert.False(t, result.PermissionDenied)
		require.NotNil(t, result.Bookmark)
	})

	t.Run("denied permission is a result, not an error", func(t *testing.T) {
		m, _, contexts, _ := newTestManager(t)
		c, err := contexts.Create(ctx, workspace.Context{Title: "work"}, true)
		require.NoError(t, err)

		result, err := m.TrySaveTab(ctx, tab, c)
		require.NoError(t, err)
		assert.True(t, result.PermissionDenied)
		assert.Nil(t, result.Bookmark)
	})
}

func TestManager_PersistContext(t *testing.T) {
	ctx := context.Background()

	t.Run("writes stored tabs into the tab folder in order", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{
			Title: "reading",
			Tabs: []tabinfo.Tab{
				{Title: "A", URL: "https://a.example/"},
				{Title: "B", URL: "https://b.example/"},
			},
		}, true)
		require.NoError(t, err)

		result, err := m.PersistContext(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Saved)
		assert.False(t, result.PermissionDenied)

		saved, err := m.ContextTabs(ctx, c)
		require.NoError(t, err)
		require.Len(t, saved, 2)
		assert.Equal(t, "https://a.example/", saved[0].URL)
		assert.Equal(t, "https://b.example/", saved[1].URL)
	})

	t.Run("repeated persist does not duplicate bookmarks", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{
			Title: "reading",
			Tabs:  []tabinfo.Tab{{Title: "A", URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		_, err = m.PersistContext(ctx, c)
		require.NoError(t, err)
		_, err = m.PersistContext(ctx, c)
		require.NoError(t, err)

		saved, err := m.ContextTabs(ctx, c)
		require.NoError(t, err)
		assert.Len(t, saved, 1)
	})

	t.Run("requests the permission and retries once", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantOnRequest(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{
			Title: "reading",
			Tabs:  []tabinfo.Tab{{Title: "A", URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		result, err := m.PersistContext(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Saved)
	})

	t.Run("denied permission is a result, not an error", func(t *testing.T) {
		m, _, contexts, _ := newTestManager(t)
		c, err := contexts.Create(ctx, workspace.Context{
			Title: "reading",
			Tabs:  []tabinfo.Tab{{Title: "A", URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)

		result, err := m.PersistContext(ctx, c)
		require.NoError(t, err)
		assert.True(t, result.PermissionDenied)
		assert.Zero(t, result.Saved)
	})
}

func TestManager_RemoveContextFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the folder tree and clears the stored id", func(t *testing.T) {
		m, fake, contexts, _ := newTestManager(t)
		fake.GrantPermission(browser.PermissionBookmarks)
		c, err := contexts.Create(ctx, workspace.Context{
			Title: "reading",
			Tabs:  []tabinfo.Tab{{Title: "A", URL: "https://a.example/"}},
		}, true)
		require.NoError(t, err)
		_, err = m.PersistContext(ctx, c)
		require.NoError(t, err)
		require.NotEmpty(t, c.FolderID)
		folderID := c.FolderID

		require.NoError(t, m.RemoveContextFolder(ctx, c))
		assert.Empty(t, c.FolderID)
		_, err = fake.GetBookmark(ctx, folderID)
		assert.ErrorIs(t, err, browser.ErrNotFound)

		stored, err := contexts.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.FolderID)
	})

	t.Run("no folder is a no-op", func(t *testing.T) {
		m, _, contexts, _ := newTestManager(t)
		c, err := contexts.Create(ctx, workspace.Context{Title: "bare"}, true)
		require.NoError(t, err)

		require.NoError(t, m.RemoveContextFolder(ctx, c))
	})
}
