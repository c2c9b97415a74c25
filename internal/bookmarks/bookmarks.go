// Package bookmarks maps contexts onto the durable bookmark-folder
// hierarchy: a root folder holds one sub-folder per context, each of which
// may contain the reserved "_Tabs_" and "_Queue_" sub-folders. Folder
// ownership is deliberately decoupled from context lifetime; removing a
// context never removes its folder.
package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tabstash/tabstash/internal/browser"
	"github.com/tabstash/tabstash/internal/kv"
	"github.com/tabstash/tabstash/internal/slogger"
	"github.com/tabstash/tabstash/internal/tabinfo"
	"github.com/tabstash/tabstash/internal/workspace"
)

// Reserved sub-folder titles. These are excluded from any user-facing
// folder listing.
const (
	TabFolderTitle   = "_Tabs_"
	QueueFolderTitle = "_Queue_"
)

// HiddenFolderTitles lists the reserved titles.
var HiddenFolderTitles = []string{QueueFolderTitle, TabFolderTitle}

// DefaultRootTitle is the title of the root folder when none is configured.
const DefaultRootTitle = "Stash"

// keyRootFolder is the storage key holding the root bookmark folder id.
const keyRootFolder = "folderId"

// SaveResult reports the outcome of a best-effort bookmark save. When
// PermissionDenied is set the bookmark was not created and no further retry
// will happen; the caller decides whether that matters.
type SaveResult struct {
	Bookmark         *browser.Bookmark
	PermissionDenied bool
}

// Manager resolves and maintains the bookmark folder conventions.
type Manager struct {
	browser   browser.Browser
	kv        kv.Store
	contexts  *workspace.Store
	rootTitle string
	log       *slog.Logger
}

// NewManager creates a bookmark folder manager. rootTitle defaults to
// DefaultRootTitle when empty.
func NewManager(b browser.Browser, store kv.Store, contexts *workspace.Store, rootTitle string, logger *slog.Logger) *Manager {
	if rootTitle == "" {
		rootTitle = DefaultRootTitle
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Manager{
		browser:   b,
		kv:        store,
		contexts:  contexts,
		rootTitle: rootTitle,
		log:       logger,
	}
}

// RootFolder returns the root folder for all persisted contexts, creating it
// (and recording its id under the folderId key) on first use.
func (m *Manager) RootFolder(ctx context.Context) (*browser.Bookmark, error) {
	var folderID string
	values, err := m.kv.Get(ctx, keyRootFolder)
	if err != nil {
		return nil, fmt.Errorf("get root folder id: %w", err)
	}
	if raw, ok := values[keyRootFolder]; ok {
		// The id is stored as a JSON string; junk falls through to recreate.
		_ = json.Unmarshal(raw, &folderID) //nolint:errcheck // stale id handled below
	}

	if folder := m.tryGetBookmark(ctx, folderID); folder != nil {
		return folder, nil
	}

	index := 0
	folder, err := m.browser.CreateBookmark(ctx, browser.BookmarkCreate{
		Title: m.rootTitle,
		Index: &index,
	})
	if err != nil {
		return nil, fmt.Errorf("create root folder: %w", err)
	}
	if err := m.kv.Set(ctx, map[string]any{keyRootFolder: folder.ID}); err != nil {
		return nil, fmt.Errorf("record root folder id: %w", err)
	}
	return folder, nil
}

// ContextFolder resolves the bookmark folder for a context: by stored id
// first, then by title when the id is stale, creating it under the root
// folder when create is set. A changed folder id is written back onto the
// context. Returns nil (no error) when the folder does not exist and create
// is unset.
func (m *Manager) ContextFolder(ctx context.Context, c *workspace.Context, create bool) (*browser.Bookmark, error) {
	if c == nil {
		return nil, nil
	}

	folder := m.tryGetBookmark(ctx, c.FolderID)

	if folder == nil && c.Title != "" {
		matches, err := m.browser.SearchBookmarks(ctx, c.Title)
		if err == nil && len(matches) == 1 && matches[0].IsFolder() {
			match := matches[0]
			folder = &match
		}
	}

	if folder == nil && create {
		root, err := m.RootFolder(ctx)
		if err != nil {
			return nil, err
		}
		folder, err = m.browser.CreateBookmark(ctx, browser.BookmarkCreate{
			Title:    c.Title,
			ParentID: root.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("create context folder: %w", err)
		}
	}

	if folder != nil && folder.ID != c.FolderID {
		c.FolderID = folder.ID
		if err := m.contexts.Save(ctx, c, true); err != nil {
			return nil, err
		}
	}

	return folder, nil
}

// TabFolder returns the reserved "_Tabs_" sub-folder of a context's folder.
func (m *Manager) TabFolder(ctx context.Context, c *workspace.Context, create bool) (*browser.Bookmark, error) {
	return m.reservedFolder(ctx, c, TabFolderTitle, create)
}

// QueueFolder returns the reserved "_Queue_" sub-folder of a context's folder.
func (m *Manager) QueueFolder(ctx context.Context, c *workspace.Context, create bool) (*browser.Bookmark, error) {
	return m.reservedFolder(ctx, c, QueueFolderTitle, create)
}

func (m *Manager) reservedFolder(ctx context.Context, c *workspace.Context, title string, create bool) (*browser.Bookmark, error) {
	if c == nil || c.FolderID == "" {
		return nil, nil
	}

	for _, child := range m.tryGetChildren(ctx, c.FolderID) {
		if child.IsFolder() && child.Title == title {
			folder := child
			return &folder, nil
		}
	}

	if !create {
		return nil, nil
	}

	folder, err := m.browser.CreateBookmark(ctx, browser.BookmarkCreate{
		Title:    title,
		ParentID: c.FolderID,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s folder: %w", title, err)
	}
	return folder, nil
}

// ContextTabs reads the tab bookmarks persisted in a context's "_Tabs_"
// folder as storage projections, in folder order. Returns nil when the
// context has no folder or no tab folder.
func (m *Manager) ContextTabs(ctx context.Context, c *workspace.Context) ([]tabinfo.Tab, error) {
	folder, err := m.TabFolder(ctx, c, false)
	if err != nil || folder == nil {
		return nil, err
	}

	var tabs []tabinfo.Tab
	for _, child := range m.tryGetChildren(ctx, folder.ID) {
		if child.IsFolder() {
			continue
		}
		tabs = append(tabs, tabinfo.FromBookmark(child))
	}
	return tabs, nil
}

// UserFolders lists the sub-folders of a context's folder excluding the
// reserved titles.
func (m *Manager) UserFolders(ctx context.Context, c *workspace.Context) ([]browser.Bookmark, error) {
	if c == nil || c.FolderID == "" {
		return nil, nil
	}

	var folders []browser.Bookmark
	for _, child := range m.tryGetChildren(ctx, c.FolderID) {
		if !child.IsFolder() || hidden(child.Title) {
			continue
		}
		folders = append(folders, child)
	}
	return folders, nil
}

// SaveTabToFolder persists a tab into a folder, deduplicating by URL: an
// existing bookmark with the same URL is moved to the front instead of
// duplicated.
func (m *Manager) SaveTabToFolder(ctx context.Context, tab tabinfo.Tab, folderID string) error {
	children, err := m.browser.GetBookmarkChildren(ctx, folderID)
	if err != nil {
		return fmt.Errorf("list folder children: %w", err)
	}

	front := 0
	for _, child := range children {
		if child.URL == tab.URL {
			if _, err := m.browser.UpdateBookmark(ctx, child.ID, browser.BookmarkUpdate{Index: &front}); err != nil {
				return fmt.Errorf("move existing bookmark: %w", err)
			}
			return nil
		}
	}

	if _, err := m.browser.CreateBookmark(ctx, browser.BookmarkCreate{
		ParentID: folderID,
		Index:    &front,
		Title:    tab.Title,
		URL:      tab.URL,
	}); err != nil {
		return fmt.Errorf("create bookmark: %w", err)
	}
	return nil
}

// PersistResult reports how a context's stored tabs were persisted.
type PersistResult struct {
	Saved            int
	PermissionDenied bool
}

// PersistContext writes every stored tab of the context into its reserved
// tab folder, deduplicating by URL. The folders are created on demand. A
// denied bookmarks permission is reported through the result after one
// request-and-retry, like TrySaveTab.
func (m *Manager) PersistContext(ctx context.Context, c *workspace.Context) (PersistResult, error) {
	folder, err := m.tabFolderForWrite(ctx, c)
	if err != nil {
		granted, reqErr := m.browser.RequestPermission(ctx, browser.PermissionBookmarks)
		if reqErr != nil || !granted {
			m.log.Warn("tabs not persisted: permission denied", "context", c.ID)
			return PersistResult{PermissionDenied: true}, nil
		}
		folder, err = m.tabFolderForWrite(ctx, c)
		if err != nil {
			return PersistResult{}, fmt.Errorf("persist after permission grant: %w", err)
		}
	}

	// SaveTabToFolder fronts each write, so walking the stored order in
	// reverse leaves the folder in stored order.
	saved := 0
	for i := len(c.Tabs) - 1; i >= 0; i-- {
		if err := m.SaveTabToFolder(ctx, c.Tabs[i], folder.ID); err != nil {
			return PersistResult{Saved: saved}, err
		}
		saved++
	}
	return PersistResult{Saved: saved}, nil
}

func (m *Manager) tabFolderForWrite(ctx context.Context, c *workspace.Context) (*browser.Bookmark, error) {
	if _, err := m.ContextFolder(ctx, c, true); err != nil {
		return nil, err
	}
	return m.TabFolder(ctx, c, true)
}

// TrySaveTab saves a tab bookmark into the context's folder, requesting the
// bookmarks permission and retrying exactly once if the first attempt fails.
// A denied permission is reported through the result, not an error, so the
// caller can observe that persistence did not happen.
func (m *Manager) TrySaveTab(ctx context.Context, tab tabinfo.Tab, c *workspace.Context) (SaveResult, error) {
	bm, err := m.saveTab(ctx, tab, c)
	if err == nil {
		return SaveResult{Bookmark: bm}, nil
	}

	granted, reqErr := m.browser.RequestPermission(ctx, browser.PermissionBookmarks)
	if reqErr != nil || !granted {
		m.log.Warn("bookmark not saved: permission denied", "context", c.ID, "url", tab.URL)
		return SaveResult{PermissionDenied: true}, nil
	}

	bm, err = m.saveTab(ctx, tab, c)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save bookmark after permission grant: %w", err)
	}
	return SaveResult{Bookmark: bm}, nil
}

func (m *Manager) saveTab(ctx context.Context, tab tabinfo.Tab, c *workspace.Context) (*browser.Bookmark, error) {
	folder, err := m.ContextFolder(ctx, c, true)
	if err != nil {
		return nil, err
	}

	bm, err := m.browser.CreateBookmark(ctx, browser.BookmarkCreate{
		ParentID: folder.ID,
		Title:    tab.Title,
		URL:      tab.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("create bookmark: %w", err)
	}
	return bm, nil
}

// RemoveContextFolder deletes a context's bookmark folder and everything
// under it, clearing the stored folder id. A context without a folder is a
// no-op.
func (m *Manager) RemoveContextFolder(ctx context.Context, c *workspace.Context) error {
	folder, err := m.ContextFolder(ctx, c, false)
	if err != nil || folder == nil {
		return err
	}

	if err := m.browser.RemoveBookmarkTree(ctx, folder.ID); err != nil {
		return fmt.Errorf("remove context folder: %w", err)
	}

	c.FolderID = ""
	return m.contexts.Save(ctx, c, true)
}

// tryGetBookmark resolves a bookmark id defensively: any failure, including
// a stale id, is treated as "not found".
func (m *Manager) tryGetBookmark(ctx context.Context, id string) *browser.Bookmark {
	if id == "" {
		return nil
	}
	bm, err := m.browser.GetBookmark(ctx, id)
	if err != nil {
		return nil
	}
	return bm
}

func (m *Manager) tryGetChildren(ctx context.Context, id string) []browser.Bookmark {
	if id == "" {
		return nil
	}
	children, err := m.browser.GetBookmarkChildren(ctx, id)
	if err != nil {
		return nil
	}
	return children
}

func hidden(title string) bool {
	for _, t := range HiddenFolderTitles {
		if t == title {
			return true
		}
	}
	return false
}
