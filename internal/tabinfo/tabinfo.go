// Package tabinfo produces the canonical, storage-safe projection of a live
// browser tab. It is the single choke point between live state and persisted
// state: no live-only handle reaches storage unless explicitly requested, and
// absent fields are omitted rather than stored as zero values.
package tabinfo

import "github.com/tabstash/tabstash/internal/browser"

// Tab is the persisted projection of a live tab. Timestamps are milliseconds
// since the epoch. The live-only fields below the marker are populated only
// when Normalize is asked to include them.
type Tab struct {
	ID                 int    `json:"id,omitempty"`
	Title              string `json:"title,omitempty"`
	URL                string `json:"url,omitempty"`
	FavIconURL         string `json:"favIconUrl,omitempty"`
	LastAccessed       int64  `json:"lastAccessed,omitempty"`
	Created            int64  `json:"created,omitempty"`
	Updated            int64  `json:"updated,omitempty"`
	OpenedInBackground bool   `json:"openedInBackground,omitempty"`

	// Live-only fields.
	GroupID   int    `json:"groupId,omitempty"`
	Index     int    `json:"index,omitempty"`
	Pinned    bool   `json:"pinned,omitempty"`
	Audible   bool   `json:"audible,omitempty"`
	Muted     bool   `json:"muted,omitempty"`
	Status    string `json:"status,omitempty"`
	WindowID  int    `json:"windowId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Discarded bool   `json:"discarded,omitempty"`
}

// Normalize projects a live tab onto its storage-safe form. If the tab's URL
// is empty the pending (still navigating) URL is substituted. With includeLive
// set, the live-only fields are carried along as well; they are needed for
// whole-window stashing but never for per-context persistence.
func Normalize(t *browser.Tab, includeLive bool) Tab {
	if t == nil {
		return Tab{}
	}

	info := Tab{
		ID:                 t.ID,
		Title:              t.Title,
		URL:                t.URL,
		FavIconURL:         t.FavIconURL,
		LastAccessed:       t.LastAccessed,
		Created:            t.Created,
		Updated:            t.Updated,
		OpenedInBackground: t.OpenedInBackground,
	}

	if info.URL == "" {
		info.URL = t.PendingURL
	}

	if includeLive {
		info.GroupID = t.GroupID
		info.Index = t.Index
		info.Pinned = t.Pinned
		info.Audible = t.Audible
		info.Muted = t.Muted
		info.Status = t.Status
		info.WindowID = t.WindowID
		info.SessionID = t.SessionID
		info.Discarded = t.Discarded
	}

	return info
}

// FromBookmark builds a minimal projection from a bookmarked tab, used when a
// context's tabs are restored from its bookmark folder.
func FromBookmark(b browser.Bookmark) Tab {
	return Tab{Title: b.Title, URL: b.URL}
}
