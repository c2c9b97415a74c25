// Package browser defines the boundary to the live browser: windows, tabs,
// tab-groups, bookmarks, permissions, and history. Every call is independently
// fallible and may race with user actions; callers that can tolerate a missing
// resource should treat ErrNotFound as an absent optional value.
package browser

import (
	"context"
	"errors"
)

// Sentinel errors for browser operations.
var (
	ErrNotFound         = errors.New("browser resource not found")
	ErrPermissionDenied = errors.New("browser permission denied")
)

// NoGroup is the group id of an ungrouped tab.
const NoGroup = -1

// Well-known permission names.
const (
	PermissionBookmarks = "bookmarks"
	PermissionHistory   = "history"
)

// Window is a live browser window.
type Window struct {
	ID        int    `json:"id"`
	Incognito bool   `json:"incognito,omitempty"`
	Focused   bool   `json:"focused,omitempty"`
	State     string `json:"state,omitempty"`
}

// Tab is a live browser tab. Timestamps are milliseconds since the epoch.
type Tab struct {
	ID                 int    `json:"id"`
	WindowID           int    `json:"windowId"`
	GroupID            int    `json:"groupId"`
	Index              int    `json:"index"`
	Title              string `json:"title,omitempty"`
	URL                string `json:"url,omitempty"`
	PendingURL         string `json:"pendingUrl,omitempty"`
	FavIconURL         string `json:"favIconUrl,omitempty"`
	Active             bool   `json:"active,omitempty"`
	Pinned             bool   `json:"pinned,omitempty"`
	Audible            bool   `json:"audible,omitempty"`
	Muted              bool   `json:"muted,omitempty"`
	Discarded          bool   `json:"discarded,omitempty"`
	OpenedInBackground bool   `json:"openedInBackground,omitempty"`
	Status             string `json:"status,omitempty"`
	SessionID          string `json:"sessionId,omitempty"`
	LastAccessed       int64  `json:"lastAccessed,omitempty"`
	Created            int64  `json:"created,omitempty"`
	Updated            int64  `json:"updated,omitempty"`
}

// TabGroup is a live tab-group.
type TabGroup struct {
	ID        int    `json:"id"`
	WindowID  int    `json:"windowId"`
	Title     string `json:"title,omitempty"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Bookmark is a bookmark node. A node with an empty URL is a folder.
type Bookmark struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Index    int    `json:"index"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IsFolder reports whether the node is a folder rather than a leaf bookmark.
func (b Bookmark) IsFolder() bool { return b.URL == "" }

// HistoryItem is a visited page from browser history.
type HistoryItem struct {
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
	LastVisitTime int64  `json:"lastVisitTime,omitempty"`
	VisitCount    int    `json:"visitCount,omitempty"`
}

// CreateWindowOptions configures window creation.
type CreateWindowOptions struct {
	Incognito bool   `json:"incognito,omitempty"`
	Focused   bool   `json:"focused,omitempty"`
	State     string `json:"state,omitempty"`
}

// TabQuery filters tab queries. Zero fields are ignored; GroupID uses
// NoGroup to match ungrouped tabs explicitly.
type TabQuery struct {
	WindowID int  `json:"windowId,omitempty"`
	GroupID  int  `json:"groupId,omitempty"`
	Active   bool `json:"active,omitempty"`
}

// CreateTabOptions configures tab creation.
type CreateTabOptions struct {
	URL      string `json:"url,omitempty"`
	WindowID int    `json:"windowId,omitempty"`
	Index    int    `json:"index,omitempty"`
	Active   bool   `json:"active,omitempty"`
}

// TabUpdate mutates a live tab. Nil fields are left untouched.
type TabUpdate struct {
	URL    *string `json:"url,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// GroupOptions configures grouping tabs into a new or existing group.
type GroupOptions struct {
	TabIDs   []int `json:"tabIds"`
	WindowID int   `json:"windowId,omitempty"`
	GroupID  int   `json:"groupId,omitempty"` // join this group instead of creating one
}

// TabGroupUpdate mutates a live tab-group. Nil fields are left untouched.
type TabGroupUpdate struct {
	Title     *string `json:"title,omitempty"`
	Color     *string `json:"color,omitempty"`
	Collapsed *bool   `json:"collapsed,omitempty"`
}

// BookmarkCreate configures bookmark creation. An empty URL creates a folder.
type BookmarkCreate struct {
	ParentID string `json:"parentId,omitempty"`
	Index    *int   `json:"index,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

// BookmarkUpdate mutates a bookmark node.
type BookmarkUpdate struct {
	Title *string `json:"title,omitempty"`
	URL   *string `json:"url,omitempty"`
	Index *int    `json:"index,omitempty"`
}

// HistoryQuery filters history searches.
type HistoryQuery struct {
	Text       string `json:"text"`
	StartTime  int64  `json:"startTime,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// Browser is the full live-state surface consumed by the engine. The bridge
// implements it against a companion extension; Fake implements it in memory.
type Browser interface {
	GetWindow(ctx context.Context, id int) (*Window, error)
	CreateWindow(ctx context.Context, opts CreateWindowOptions) (*Window, error)

	QueryTabs(ctx context.Context, q TabQuery) ([]Tab, error)
	CreateTab(ctx context.Context, opts CreateTabOptions) (*Tab, error)
	UpdateTab(ctx context.Context, id int, u TabUpdate) (*Tab, error)
	RemoveTabs(ctx context.Context, ids ...int) error
	ActiveTab(ctx context.Context) (*Tab, error)

	GroupTabs(ctx context.Context, opts GroupOptions) (int, error)
	GetTabGroup(ctx context.Context, id int) (*TabGroup, error)
	UpdateTabGroup(ctx context.Context, id int, u TabGroupUpdate) (*TabGroup, error)
	MoveTabGroup(ctx context.Context, id, windowID, index int) error

	CreateBookmark(ctx context.Context, b BookmarkCreate) (*Bookmark, error)
	GetBookmark(ctx context.Context, id string) (*Bookmark, error)
	GetBookmarkChildren(ctx context.Context, id string) ([]Bookmark, error)
	SearchBookmarks(ctx context.Context, title string) ([]Bookmark, error)
	UpdateBookmark(ctx context.Context, id string, u BookmarkUpdate) (*Bookmark, error)
	RemoveBookmarkTree(ctx context.Context, id string) error

	HasPermission(ctx context.Context, name string) (bool, error)
	RequestPermission(ctx context.Context, name string) (bool, error)

	SearchHistory(ctx context.Context, q HistoryQuery) ([]HistoryItem, error)
}
